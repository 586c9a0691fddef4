// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package pileup

import (
	"github.com/biogo/hts/sam"
	"github.com/grailbio/pbr/interval"
)

// Common pileup components.

// PosType is the integer type used to represent genomic positions.
type PosType = interval.PosType

// PosTypeMax is the maximum value that can be represented by a PosType.
const PosTypeMax = interval.PosTypeMax

const (
	// BaseA represents an A base.
	BaseA byte = iota
	// BaseC represents an C base.
	BaseC
	// BaseG represents an G base.
	BaseG
	// BaseT represents an T base.
	BaseT
	// BaseX is a catch-all.
	BaseX
)

const (
	// NBase is the number of regular base types.
	NBase = 4
	// NBaseEnum counts BaseX as well as the regular base types.
	NBaseEnum = 5
)

// Seq8ToEnumTable is the .bam seq nibble -> A/C/G/T/X enum mapping.
var Seq8ToEnumTable = [...]byte{BaseX, BaseA, BaseC, BaseX, BaseG, BaseX, BaseX, BaseX, BaseT, BaseX, BaseX, BaseX, BaseX, BaseX, BaseX, BaseX}

// EnumToASCIITable is the A/C/G/T/X -> ASCII mapping, with X rendered as 'N'.
var EnumToASCIITable = [...]byte{'A', 'C', 'G', 'T', 'N'}

// Seq8ToASCIITable is the .bam seq nibble -> ASCII mapping.
var Seq8ToASCIITable = [...]byte{'=', 'A', 'C', 'M', 'G', 'R', 'S', 'V', 'T', 'W', 'Y', 'H', 'K', 'D', 'B', 'N'}

// Seq8At returns the .bam seq nibble of the read base at query offset qpos.
// Offsets outside the stored sequence map to the N nibble.
func Seq8At(samr *sam.Record, qpos int) byte {
	if qpos < 0 || qpos >= samr.Seq.Length {
		return 15
	}
	nib := byte(samr.Seq.Seq[qpos>>1])
	if qpos&1 == 0 {
		nib >>= 4
	}
	return nib & 15
}

// BaseAt returns the A/C/G/T/X enum of the read base at query offset qpos.
func BaseAt(samr *sam.Record, qpos int) byte {
	return Seq8ToEnumTable[Seq8At(samr, qpos)]
}

// StrandType describes which strand a read is aligned to.
type StrandType int

const (
	// StrandNone means the flags match neither the forward nor the reverse
	// pattern.
	StrandNone StrandType = iota
	// StrandFwd is the forward strand.
	StrandFwd
	// StrandRev is the reverse strand.
	StrandRev
)

// StrandTypeToASCIITable is the StrandType -> ASCII mapping.
var StrandTypeToASCIITable = [...]byte{'.', '+', '-'}

// Sign returns 1 for StrandFwd, -1 for StrandRev and 0 otherwise.
func (s StrandType) Sign() int {
	switch s {
	case StrandFwd:
		return 1
	case StrandRev:
		return -1
	}
	return 0
}

const (
	fwdRead1Flags = sam.Paired | sam.ProperPair | sam.MateReverse | sam.Read1 // 99
	fwdRead2Flags = sam.Paired | sam.ProperPair | sam.Reverse | sam.Read2     // 147
	revRead1Flags = sam.Paired | sam.ProperPair | sam.Reverse | sam.Read1     // 83
	revRead2Flags = sam.Paired | sam.ProperPair | sam.MateReverse | sam.Read2 // 163
)

// ReadStrand classifies a read's strand from its flags alone. An unpaired
// read follows its reverse bit. A paired read is forward only when it matches
// the 99 or 147 flag pattern and reverse only when it matches 83 or 163.
func ReadStrand(flags sam.Flags) StrandType {
	if flags&sam.Paired == 0 {
		if flags&sam.Reverse == 0 {
			return StrandFwd
		}
		return StrandRev
	}
	if flags&fwdRead1Flags == fwdRead1Flags || flags&fwdRead2Flags == fwdRead2Flags {
		return StrandFwd
	}
	if flags&revRead1Flags == revRead1Flags || flags&revRead2Flags == revRead2Flags {
		return StrandRev
	}
	return StrandNone
}
