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
	"strings"
)

// SequenceSource fetches reference text over the 0-based inclusive range
// [start, end]. *fasta.Cache implements it.
type SequenceSource interface {
	FetchString(chrom string, start, end int) (string, error)
}

// FlankWindow returns the 2*flank+1 reference bases centered on pos. Bases
// before the contig start, past its end, or that could not be fetched are
// rendered as '.'. With flank == 0 it returns the single base at pos, or "."
// on failure.
func FlankWindow(src SequenceSource, chrom string, pos, flank int) string {
	if flank == 0 {
		s, err := src.FetchString(chrom, pos, pos)
		if err != nil || len(s) == 0 {
			return "."
		}
		return s
	}
	width := 2*flank + 1
	start := pos - flank
	leftPad := 0
	if start < 0 {
		leftPad = -start
		start = 0
	}
	seq, err := src.FetchString(chrom, start, pos+flank)
	if err != nil {
		seq = ""
	}
	var b strings.Builder
	b.Grow(width)
	for i := 0; i < leftPad; i++ {
		b.WriteByte('.')
	}
	if len(seq) > width-leftPad {
		seq = seq[:width-leftPad]
	}
	b.WriteString(seq)
	for b.Len() < width {
		b.WriteByte('.')
	}
	return b.String()
}
