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
package luafilter_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/biogo/hts/sam"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/pbr/pileup"
	"github.com/grailbio/pbr/pileup/luafilter"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

func newTestRecord(t *testing.T, flags sam.Flags) *sam.Record {
	chr1, err := sam.NewReference("chr1", "", "", 1000, nil, nil)
	assert.NoError(t, err)
	_, err = sam.NewHeader(nil, []*sam.Reference{chr1})
	assert.NoError(t, err)
	cigar, err := sam.ParseCigar([]byte("2S6M1I1M3S"))
	assert.NoError(t, err)
	seq := "NNACGTACGTNNN"
	qual := make([]byte, len(seq))
	for i := range qual {
		qual[i] = 30
	}
	qual[4] = 20
	return &sam.Record{
		Name:    "r1",
		Ref:     chr1,
		Pos:     100,
		MapQ:    42,
		Flags:   flags,
		Cigar:   cigar,
		MateRef: chr1,
		MatePos: 300,
		TempLen: 250,
		Seq:     sam.NewSeq([]byte(seq)),
		Qual:    qual,
	}
}

func newBridge(t *testing.T, readExpr, posExpr string) *luafilter.Bridge {
	b, err := luafilter.NewBridge(readExpr, posExpr)
	require.NoError(t, err)
	return b
}

func TestReadFields(t *testing.T) {
	fwd := newTestRecord(t, 99)
	rev := newTestRecord(t, 83)
	tests := []struct {
		rec  *sam.Record
		qpos int
		expr string
	}{
		{fwd, 4, "return read.mapping_quality == 42"},
		{fwd, 4, "return read.flags == 99"},
		{fwd, 4, "return read.tid == 0"},
		{fwd, 4, "return read.start == 100"},
		{fwd, 4, "return read.stop == 107"},
		{fwd, 4, "return read.length == 13"},
		{fwd, 4, "return read.insert_size == 250"},
		{fwd, 4, `return read.qname == "r1"`},
		{fwd, 4, `return read.sequence == "NNACGTACGTNNN"`},
		{fwd, 4, "return read.strand == 1"},
		{rev, 4, "return read.strand == -1"},
		{fwd, 4, "return read.qpos == 4"},
		{fwd, 4, "return read.bq == 20"},
		{fwd, 5, "return read.bq == 30"},
		{fwd, 4, "return read.distance_from_5prime == 4"},
		{fwd, 4, "return read.distance_from_3prime == 9"},
		{rev, 4, "return read.distance_from_5prime == 9"},
		{rev, 4, "return read.distance_from_3prime == 4"},
		{fwd, -1, "return read.qpos == -1 and read.bq == -1"},
		{fwd, -1, "return read.distance_from_5prime == -1 and read.distance_from_3prime == -1"},
		{fwd, 4, "return read.indel_count == 1"},
		{fwd, 4, "return read.soft_clips_5_prime == 2 and read.soft_clips_3_prime == 3"},
		{rev, 4, "return read.soft_clips_5_prime == 3 and read.soft_clips_3_prime == 2"},
		{fwd, 4, "return math.abs(read.average_base_quality - 380/13) < 1e-9"},
		{fwd, 4, "return read:n_proportion_5_prime(4) == 0.5"},
		{fwd, 4, "return read:n_proportion_3_prime(4) == 0.75"},
		{rev, 4, "return read:n_proportion_5_prime(4) == 0.75"},
		{rev, 4, "return read:n_proportion_3_prime(4) == 0.5"},
		{fwd, 4, "return read:n_proportion_3_prime(100) == 5/13"},
		{fwd, 4, "return read:n_proportion_3_prime(0) == 0"},
		{fwd, 4, `return string_count(read.sequence, "N") == 5`},
		{fwd, 0, "return read.bq > 0 and read.distance_from_5prime == 0 and read.distance_from_3prime > 0"},
	}
	for _, test := range tests {
		b := newBridge(t, test.expr, "")
		expect.True(t, b.EvalRead(test.rec, test.qpos), "expr %s, qpos %d", test.expr, test.qpos)
		expect.EQ(t, b.Stats(), luafilter.Stats{ReadsEvaluated: 1})
		b.Close()
	}
}

func TestReadFilterRejects(t *testing.T) {
	rec := newTestRecord(t, 0)
	b := newBridge(t, "return read.mapping_quality > 50", "")
	defer b.Close()
	expect.False(t, b.EvalRead(rec, 0))
	rec.MapQ = 60
	expect.True(t, b.EvalRead(rec, 0))
	expect.EQ(t, b.Stats(), luafilter.Stats{ReadsEvaluated: 2, ReadsFiltered: 1})
}

func TestReadExpressionErrors(t *testing.T) {
	rec := newTestRecord(t, 0)
	for _, expr := range []string{
		"return read.no_such_field > 1",
		`return read:tag("X") == nil`,
		`return string_count(read.sequence, "NN") == 0`,
		`error("boom")`,
	} {
		b := newBridge(t, expr, "")
		expect.False(t, b.EvalRead(rec, 0), expr)
		expect.EQ(t, b.Stats(), luafilter.Stats{ReadsEvaluated: 1, ReadsFiltered: 1, ReadErrors: 1})
		b.Close()
	}
}

func TestCompileError(t *testing.T) {
	_, err := luafilter.NewBridge("return read.", "")
	require.Error(t, err)
	expect.True(t, errors.Is(errors.Invalid, err))
	expect.Regexp(t, err, "return read\\.")

	_, err = luafilter.NewBridge("", "return ((")
	expect.True(t, errors.Is(errors.Invalid, err))
}

func TestEmptyExpressions(t *testing.T) {
	b := newBridge(t, "", "")
	defer b.Close()
	expect.True(t, b.EvalRead(newTestRecord(t, 0), 0))
	ok, err := b.EvalPosition(&pileup.Position{})
	expect.NoError(t, err)
	expect.True(t, ok)
	expect.EQ(t, b.Stats(), luafilter.Stats{})
}

func TestPositionFields(t *testing.T) {
	p := &pileup.Position{
		RefName: "chr2", Pos: 7,
		Depth: 10, A: 4, C: 3, G: 2, T: 1, N: 5,
		Ins: 6, Del: 7, RefSkip: 8, Fail: 9,
		NearMaxDepth: true,
		RefBase:      'A',
		Flank:        "CAT",
	}
	for _, expr := range []string{
		"return pile.depth == 10 and pile.a == 4 and pile.c == 3 and pile.g == 2 and pile.t == 1 and pile.n == 5",
		"return pile.ins == 6 and pile.del == 7 and pile.ref_skip == 8 and pile.fail == 9",
		`return pile.pos == 7 and pile.ref_seq == "chr2" and pile.near_max_depth`,
		`return pile.ref_base == "A" and pile.flank == "CAT"`,
		`return string_count(pile.flank, "A") == 1`,
	} {
		b := newBridge(t, "", expr)
		ok, err := b.EvalPosition(p)
		expect.NoError(t, err)
		expect.True(t, ok, expr)
		b.Close()
	}

	b := newBridge(t, "", "return pile.ref_base == nil and pile.flank == nil")
	defer b.Close()
	ok, err := b.EvalPosition(&pileup.Position{RefName: "chr1"})
	expect.NoError(t, err)
	expect.True(t, ok)
}

func TestPositionExpressionError(t *testing.T) {
	b := newBridge(t, "", "return pile.depth > nil")
	defer b.Close()
	_, err := b.EvalPosition(&pileup.Position{RefName: "chr1", Pos: 3})
	require.Error(t, err)
	expect.True(t, errors.Is(errors.Invalid, err))
	expect.Regexp(t, err, "chr1:3")
}

func TestDetachedRead(t *testing.T) {
	b := newBridge(t, "saved = read; return true", "return saved.mapping_quality > 0")
	defer b.Close()
	expect.True(t, b.EvalRead(newTestRecord(t, 0), 0))
	_, err := b.EvalPosition(&pileup.Position{})
	expect.Regexp(t, err, "only accessible while")
}

func aux(tag string, typ byte, val []byte) sam.Aux {
	return sam.Aux(append([]byte{tag[0], tag[1], typ}, val...))
}

func le16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func array(sub byte, elems ...[]byte) []byte {
	b := append([]byte{sub}, le32(uint32(len(elems)))...)
	for _, e := range elems {
		b = append(b, e...)
	}
	return b
}

func TestTags(t *testing.T) {
	neg300 := int16(-300)
	neg70000 := int32(-70000)
	rec := newTestRecord(t, 0)
	rec.AuxFields = sam.AuxFields{
		aux("XA", 'A', []byte("x")),
		aux("Xc", 'c', []byte{0xff}),
		aux("XC", 'C', []byte{200}),
		aux("Xs", 's', le16(uint16(neg300))),
		aux("XS", 'S', le16(60000)),
		aux("Xi", 'i', le32(uint32(neg70000))),
		aux("XI", 'I', le32(3000000000)),
		aux("Xf", 'f', le32(math.Float32bits(1.5))),
		aux("XZ", 'Z', []byte("hello")),
		aux("XH", 'H', []byte("1AE3")),
		aux("Ba", 'B', array('c', []byte{0xff}, []byte{7})),
		aux("Bb", 'B', array('C', []byte{255})),
		aux("Bc", 'B', array('s', le16(uint16(neg300)), le16(2))),
		aux("Bd", 'B', array('S', le16(65535))),
		aux("Be", 'B', array('i', le32(uint32(neg70000)), le32(5), le32(6))),
		aux("Bf", 'B', array('I', le32(4000000000))),
		aux("Bg", 'B', array('f', le32(math.Float32bits(0.5)), le32(math.Float32bits(2.5)))),
		aux("Bh", 'B', array('s')),
	}
	for _, expr := range []string{
		`return read:tag("XA") == "x"`,
		`return read:tag("Xc") == -1`,
		`return read:tag("XC") == 200`,
		`return read:tag("Xs") == -300`,
		`return read:tag("XS") == 60000`,
		`return read:tag("Xi") == -70000`,
		`return read:tag("XI") == 3000000000`,
		`return read:tag("Xf") == 1.5`,
		`return read:tag("XZ") == "hello"`,
		`return read:tag("XH") == "1AE3"`,
		`return read:tag("ZZ") == nil`,
		`local a = read:tag("Ba"); return #a == 2 and a[1] == -1 and a[2] == 7`,
		`local a = read:tag("Bb"); return #a == 1 and a[1] == 255`,
		`local a = read:tag("Bc"); return #a == 2 and a[1] == -300 and a[2] == 2`,
		`local a = read:tag("Bd"); return #a == 1 and a[1] == 65535`,
		`local a = read:tag("Be"); return #a == 3 and a[1] == -70000 and a[3] == 6`,
		`local a = read:tag("Bf"); return a[1] == 4000000000`,
		`local a = read:tag("Bg"); return #a == 2 and a[1] == 0.5 and a[2] == 2.5`,
		`local a = read:tag("Bh"); return type(a) == "table" and #a == 0`,
	} {
		b := newBridge(t, expr, "")
		expect.True(t, b.EvalRead(rec, 0), expr)
		expect.EQ(t, b.Stats().ReadErrors, int64(0), expr)
		b.Close()
	}

	// Truncated array.
	rec.AuxFields = sam.AuxFields{aux("Bx", 'B', array('i', le16(1)))}
	b := newBridge(t, `return read:tag("Bx") ~= nil`, "")
	defer b.Close()
	expect.False(t, b.EvalRead(rec, 0))
	expect.EQ(t, b.Stats().ReadErrors, int64(1))
}
