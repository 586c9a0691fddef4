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
)

// Position holds the per-base counts for one pileup column.
type Position struct {
	RefName string
	// Pos is 0-based.
	Pos PosType

	Depth   int
	A       int
	C       int
	G       int
	T       int
	N       int
	Ins     int
	Del     int
	RefSkip int
	Fail    int

	// NearMaxDepth is set when the column reached 99% of the depth cap, in
	// which case the counts may be truncated.
	NearMaxDepth bool

	// RefBase is the reference base at Pos, or 0 when no reference is
	// configured.
	RefBase byte
	// Flank is the reference window centered on Pos, or "" when no reference
	// is configured.
	Flank string
}

// ReadFilter decides whether a read contributes to a column. qpos is the
// read's query offset at the column, -1 if it has no base there.
type ReadFilter interface {
	EvalRead(rec *sam.Record, qpos int) bool
}

func passes(filter ReadFilter, aln *Alignment) bool {
	return filter == nil || filter.EvalRead(aln.Record, aln.QPos)
}

func nearMaxDepth(total, maxDepth int) bool {
	return maxDepth > 0 && int64(total)*100 >= int64(maxDepth)*99
}

// add counts an alignment that passed the filter.
func (p *Position) add(aln *Alignment) {
	switch {
	case aln.IsDel:
		p.Del++
	case aln.IsRefSkip:
		p.RefSkip++
		p.Depth--
	default:
		switch BaseAt(aln.Record, aln.QPos) {
		case BaseA:
			p.A++
		case BaseC:
			p.C++
		case BaseG:
			p.G++
		case BaseT:
			p.T++
		default:
			p.N++
		}
	}
	if aln.InsLen > 0 {
		p.Ins++
	}
}

func newPosition(col *Column, refName string, maxDepth int) Position {
	return Position{
		RefName:      refName,
		Pos:          col.Pos,
		Depth:        len(col.Alignments),
		NearMaxDepth: nearMaxDepth(col.Total, maxDepth),
	}
}

// Tally counts the bases of col, passing every read through filter first. A
// nil filter accepts all reads.
func Tally(col *Column, refName string, filter ReadFilter, maxDepth int) Position {
	p := newPosition(col, refName, maxDepth)
	for i := range col.Alignments {
		aln := &col.Alignments[i]
		if !passes(filter, aln) {
			p.Depth--
			p.Fail++
			continue
		}
		p.add(aln)
	}
	return p
}

// better reports whether a should be preferred over b as the representative
// of a read pair: higher MAPQ first, then read 1.
func better(a, b *Alignment) bool {
	if a.Record.MapQ != b.Record.MapQ {
		return a.Record.MapQ > b.Record.MapQ
	}
	return a.Record.Flags&sam.Read1 != 0 && b.Record.Flags&sam.Read1 == 0
}

// TallyMateAware is like Tally, but counts each read name at most once, so
// that overlapping mates do not inflate the counts. Reads rejected by the
// filter count toward Fail. Of the remaining reads sharing a name, the one
// with the highest MAPQ is counted (read 1 on ties, then the first seen), and
// the others are dropped from Depth.
func TallyMateAware(col *Column, refName string, filter ReadFilter, maxDepth int) Position {
	p := newPosition(col, refName, maxDepth)
	// best[name] indexes col.Alignments; names keeps first-seen order.
	best := make(map[string]int, len(col.Alignments))
	names := make([]string, 0, len(col.Alignments))
	for i := range col.Alignments {
		aln := &col.Alignments[i]
		if !passes(filter, aln) {
			p.Depth--
			p.Fail++
			continue
		}
		name := aln.Record.Name
		j, ok := best[name]
		if !ok {
			best[name] = i
			names = append(names, name)
			continue
		}
		p.Depth--
		if better(aln, &col.Alignments[j]) {
			best[name] = i
		}
	}
	for _, name := range names {
		p.add(&col.Alignments[best[name]])
	}
	return p
}
