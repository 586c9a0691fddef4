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
package pileup_test

import (
	"testing"

	"github.com/biogo/hts/sam"
	gbam "github.com/grailbio/pbr/encoding/bam"
	"github.com/grailbio/pbr/encoding/bamprovider"
	"github.com/grailbio/pbr/pileup"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

var chr1 = func() *sam.Reference {
	ref, err := sam.NewReference("chr1", "", "", 1000, nil, nil)
	if err != nil {
		panic(err)
	}
	return ref
}()

var testHeader = func() *sam.Header {
	h, err := sam.NewHeader(nil, []*sam.Reference{chr1})
	if err != nil {
		panic(err)
	}
	return h
}()

func newRecord(t *testing.T, name string, pos int, cigar, seq string) *sam.Record {
	c, err := sam.ParseCigar([]byte(cigar))
	assert.NoError(t, err)
	return &sam.Record{
		Name:    name,
		Ref:     chr1,
		Pos:     pos,
		MapQ:    60,
		Cigar:   c,
		Seq:     sam.NewSeq([]byte(seq)),
		Qual:    make([]byte, len(seq)),
		MateRef: chr1,
		MatePos: -1,
	}
}

// colSummary is a copy of a Column that outlives the next Scan call.
type colSummary struct {
	pos   pileup.PosType
	alns  []pileup.Alignment
	total int
}

func walk(t *testing.T, recs []*sam.Record, opts pileup.WalkerOpts) ([]colSummary, error) {
	p := bamprovider.NewFakeProvider(testHeader, recs)
	iter := p.NewIterator(gbam.Shard{Ref: chr1, Start: int(opts.Start), End: int(opts.End)})
	defer iter.Close()
	w := pileup.NewWalker(iter, opts)
	var cols []colSummary
	for w.Scan() {
		col := w.Column()
		expect.EQ(t, col.RefID, 0)
		alns := append([]pileup.Alignment(nil), col.Alignments...)
		cols = append(cols, colSummary{pos: col.Pos, alns: alns, total: col.Total})
	}
	return cols, w.Err()
}

func TestWalkerCigar(t *testing.T) {
	r1 := newRecord(t, "r1", 10, "2S3M2I2M1D2M3N2M", "TTACGGGCATGCA")
	r2 := newRecord(t, "r2", 12, "5M", "GCATG")
	cols, err := walk(t, []*sam.Record{r1, r2}, pileup.WalkerOpts{RefID: 0, Start: 0, End: 100})
	assert.NoError(t, err)

	var positions []pileup.PosType
	for _, c := range cols {
		positions = append(positions, c.pos)
	}
	expect.EQ(t, positions, []pileup.PosType{10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22})

	byPos := map[pileup.PosType]colSummary{}
	for _, c := range cols {
		byPos[c.pos] = c
	}
	expect.EQ(t, byPos[10].alns, []pileup.Alignment{{Record: r1, QPos: 2}})
	expect.EQ(t, byPos[12].alns, []pileup.Alignment{
		{Record: r1, QPos: 4, InsLen: 2},
		{Record: r2, QPos: 0},
	})
	expect.EQ(t, byPos[13].alns[0], pileup.Alignment{Record: r1, QPos: 7})
	expect.EQ(t, byPos[15].alns, []pileup.Alignment{
		{Record: r1, QPos: -1, IsDel: true},
		{Record: r2, QPos: 3},
	})
	expect.EQ(t, byPos[17].alns, []pileup.Alignment{{Record: r1, QPos: 10}})
	expect.EQ(t, byPos[19].alns, []pileup.Alignment{{Record: r1, QPos: -1, IsRefSkip: true}})
	expect.EQ(t, byPos[22].alns, []pileup.Alignment{{Record: r1, QPos: 12}})
}

func TestWalkerRegion(t *testing.T) {
	r1 := newRecord(t, "r1", 10, "10M", "ACGTACGTAC")
	r2 := newRecord(t, "r2", 30, "10M", "ACGTACGTAC")
	cols, err := walk(t, []*sam.Record{r1, r2}, pileup.WalkerOpts{RefID: 0, Start: 15, End: 33})
	assert.NoError(t, err)
	var positions []pileup.PosType
	for _, c := range cols {
		positions = append(positions, c.pos)
	}
	// No columns are emitted for the gap between the reads.
	expect.EQ(t, positions, []pileup.PosType{15, 16, 17, 18, 19, 30, 31, 32})
	expect.EQ(t, cols[0].alns[0].QPos, 5)
}

func TestWalkerMaxDepthAndFlags(t *testing.T) {
	var recs []*sam.Record
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		recs = append(recs, newRecord(t, name, 0, "3M", "ACG"))
	}
	dup := newRecord(t, "dup", 0, "3M", "ACG")
	dup.Flags |= sam.Duplicate
	recs = append(recs, dup)

	cols, err := walk(t, recs, pileup.WalkerOpts{RefID: 0, Start: 0, End: 10, MaxDepth: 2, FlagExclude: pileup.DefaultFlagExclude})
	assert.NoError(t, err)
	expect.EQ(t, len(cols), 3)
	for _, c := range cols {
		expect.EQ(t, len(c.alns), 2)
		expect.EQ(t, c.total, 5)
	}

	cols, err = walk(t, recs, pileup.WalkerOpts{RefID: 0, Start: 0, End: 10})
	assert.NoError(t, err)
	expect.EQ(t, cols[0].total, 6)
	expect.EQ(t, len(cols[0].alns), 6)
}

func TestWalkerBadCigar(t *testing.T) {
	r := newRecord(t, "bad", 5, "3M", "ACGTA")
	r.Cigar = []sam.CigarOp{
		sam.NewCigarOp(sam.CigarMatch, 3),
		sam.NewCigarOp(sam.CigarBack, 1),
		sam.NewCigarOp(sam.CigarMatch, 2),
	}
	_, err := walk(t, []*sam.Record{r}, pileup.WalkerOpts{RefID: 0, Start: 0, End: 100})
	expect.Regexp(t, err, "unexpected CIGAR op")
}
