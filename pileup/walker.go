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
	"fmt"

	"github.com/biogo/hts/sam"
	"github.com/grailbio/pbr/encoding/bamprovider"
)

// DefaultFlagExclude skips unmapped, secondary, QC-fail and duplicate reads.
const DefaultFlagExclude = sam.Unmapped | sam.Secondary | sam.QCFail | sam.Duplicate

// Alignment is one read's contribution to a pileup column.
type Alignment struct {
	Record *sam.Record
	// QPos is the query offset of the read base aligned to the column, or -1
	// when the read has no base there.
	QPos      int
	IsDel     bool
	IsRefSkip bool
	// InsLen is the length of an insertion immediately following this
	// reference base, 0 if there is none.
	InsLen int
}

// Column is the set of alignments covering a single reference position.
type Column struct {
	RefID int
	Pos   PosType
	// Alignments is capped at WalkerOpts.MaxDepth entries.
	Alignments []Alignment
	// Total is the number of reads covering Pos, including the ones dropped by
	// the depth cap.
	Total int
}

// WalkerOpts configures a Walker.
type WalkerOpts struct {
	// RefID, Start and End define the half-open region whose columns are
	// emitted.
	RefID      int
	Start, End PosType
	// MaxDepth caps the number of alignments stored per column. <= 0 means no
	// cap.
	MaxDepth int
	// FlagExclude drops reads with any of these flag bits set.
	FlagExclude sam.Flags
}

// readCursor walks a single read's CIGAR in reference order.
type readCursor struct {
	rec *sam.Record
	// opIdx is the current CIGAR op; refPos and qpos are the reference and
	// query positions at its start.
	opIdx  int
	refPos PosType
	qpos   int
}

func consumesRef(t sam.CigarOpType) bool {
	switch t {
	case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch, sam.CigarDeletion, sam.CigarSkipped:
		return true
	}
	return false
}

// at returns the alignment of the read at reference position pos, which
// must not precede any position previously passed. done is set once the
// read ends at or before pos.
func (c *readCursor) at(pos PosType) (aln Alignment, done bool, err error) {
	cigar := c.rec.Cigar
	for c.opIdx < len(cigar) {
		op := cigar[c.opIdx]
		opLen := op.Len()
		switch op.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch, sam.CigarDeletion, sam.CigarSkipped:
			if pos < c.refPos+PosType(opLen) {
				return c.alignment(op, pos), false, nil
			}
			c.refPos += PosType(opLen)
			if op.Type() != sam.CigarDeletion && op.Type() != sam.CigarSkipped {
				c.qpos += opLen
			}
		case sam.CigarInsertion, sam.CigarSoftClipped:
			c.qpos += opLen
		case sam.CigarHardClipped, sam.CigarPadded:
		default:
			return Alignment{}, true, fmt.Errorf("pileup: read %s: unexpected CIGAR op %v", c.rec.Name, op)
		}
		c.opIdx++
	}
	return Alignment{}, true, nil
}

func (c *readCursor) alignment(op sam.CigarOp, pos PosType) Alignment {
	aln := Alignment{Record: c.rec, QPos: -1}
	switch op.Type() {
	case sam.CigarDeletion:
		aln.IsDel = true
		return aln
	case sam.CigarSkipped:
		aln.IsRefSkip = true
		return aln
	}
	offset := int(pos - c.refPos)
	aln.QPos = c.qpos + offset
	if offset == op.Len()-1 {
		// Look past padding for an insertion following this base.
		cigar := c.rec.Cigar
		for i := c.opIdx + 1; i < len(cigar); i++ {
			t := cigar[i].Type()
			if t == sam.CigarPadded {
				continue
			}
			if t == sam.CigarInsertion {
				aln.InsLen = cigar[i].Len()
			}
			break
		}
	}
	return aln
}

// Walker turns a coordinate-sorted stream of reads into pileup columns.
//
// Usage:
//
//	w := pileup.NewWalker(iter, opts)
//	for w.Scan() {
//	  col := w.Column()
//	  ...
//	}
//	if err := w.Err(); err != nil { ... }
//
// The walker does not close iter.
type Walker struct {
	iter bamprovider.Iterator
	opts WalkerOpts

	// pending is the next read not yet added to active.
	pending *sam.Record
	active  []*readCursor
	pos     PosType
	started bool

	col Column
	err error
}

// NewWalker creates a Walker over the reads yielded by iter.
func NewWalker(iter bamprovider.Iterator, opts WalkerOpts) *Walker {
	return &Walker{iter: iter, opts: opts, pos: opts.Start}
}

// advance loads the next usable read into w.pending, or sets it to nil at the
// end of the stream.
func (w *Walker) advance() {
	w.pending = nil
	for w.iter.Scan() {
		rec := w.iter.Record()
		if rec.Flags&w.opts.FlagExclude != 0 || len(rec.Cigar) == 0 || rec.Pos < 0 || rec.Ref.ID() != w.opts.RefID {
			continue
		}
		if PosType(rec.Pos) >= w.opts.End {
			// Reads arrive sorted, so nothing later can overlap the region.
			return
		}
		w.pending = rec
		return
	}
	if err := w.iter.Err(); err != nil {
		w.err = err
	}
}

// Scan advances to the next column with at least one alignment. It returns
// false at the end of the region or on error.
func (w *Walker) Scan() bool {
	if !w.started {
		w.started = true
		w.advance()
	}
	for w.err == nil {
		if len(w.active) == 0 {
			if w.pending == nil {
				return false
			}
			if p := PosType(w.pending.Pos); p > w.pos {
				w.pos = p
			}
		}
		if w.pos >= w.opts.End {
			return false
		}
		for w.pending != nil && PosType(w.pending.Pos) <= w.pos {
			w.active = append(w.active, &readCursor{rec: w.pending, refPos: PosType(w.pending.Pos)})
			w.advance()
		}
		if w.err != nil {
			return false
		}
		pos := w.pos
		w.pos++
		if w.fillColumn(pos) {
			return w.err == nil
		}
	}
	return false
}

// fillColumn builds the column at pos and drops reads that end before it.
// It returns whether the column should be emitted.
func (w *Walker) fillColumn(pos PosType) bool {
	w.col.RefID = w.opts.RefID
	w.col.Pos = pos
	w.col.Alignments = w.col.Alignments[:0]
	w.col.Total = 0
	live := w.active[:0]
	for _, c := range w.active {
		aln, done, err := c.at(pos)
		if err != nil {
			w.err = err
			return false
		}
		if done {
			continue
		}
		live = append(live, c)
		w.col.Total++
		if w.opts.MaxDepth <= 0 || len(w.col.Alignments) < w.opts.MaxDepth {
			w.col.Alignments = append(w.col.Alignments, aln)
		}
	}
	for i := len(live); i < len(w.active); i++ {
		w.active[i] = nil
	}
	w.active = live
	return w.col.Total > 0 && pos >= w.opts.Start
}

// Column returns the current column. It is valid until the next call to Scan.
func (w *Walker) Column() *Column {
	return &w.col
}

// Err returns the first error encountered while walking.
func (w *Walker) Err() error {
	return w.err
}
