package bamprovider_test

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/biogo/hts/sam"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/vcontext"
	gbam "github.com/grailbio/pbr/encoding/bam"
	"github.com/grailbio/pbr/encoding/bamprovider"
	"github.com/grailbio/pbr/interval"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	shutdown := grail.Init()
	status := m.Run()
	shutdown()
	os.Exit(status)
}

type testBAM struct {
	path   string
	header *sam.Header
	recs   []*sam.Record
}

// newTestBAM writes a BAM with n reads of length 50 scattered over two
// references, plus two unmapped reads at the end.
func newTestBAM(t *testing.T, dir string, n int, seed int64) testBAM {
	chr1, err := sam.NewReference("chr1", "", "", 20000, nil, nil)
	require.NoError(t, err)
	chr2, err := sam.NewReference("chr2", "", "", 5000, nil, nil)
	require.NoError(t, err)
	header, err := sam.NewHeader(nil, []*sam.Reference{chr1, chr2})
	require.NoError(t, err)
	header.SortOrder = sam.Coordinate

	r := rand.New(rand.NewSource(seed))
	seq := []byte("ACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTAC")
	var recs []*sam.Record
	for i, ref := range []*sam.Reference{chr1, chr2} {
		pos := 0
		for j := 0; j < n; j++ {
			pos += r.Intn(3 * ref.Len() / (2 * n))
			if pos+len(seq) > ref.Len() {
				break
			}
			recs = append(recs, &sam.Record{
				Name:    fmt.Sprintf("r%d_%d", i, j),
				Ref:     ref,
				Pos:     pos,
				MapQ:    60,
				Cigar:   []sam.CigarOp{sam.NewCigarOp(sam.CigarMatch, len(seq))},
				Seq:     sam.NewSeq(seq),
				Qual:    make([]byte, len(seq)),
				MatePos: -1,
			})
		}
	}
	for _, name := range []string{"unmapped0", "unmapped1"} {
		recs = append(recs, &sam.Record{
			Name:    name,
			Pos:     -1,
			MatePos: -1,
			Flags:   sam.Unmapped,
			Seq:     sam.NewSeq(seq),
		})
	}
	path := filepath.Join(dir, fmt.Sprintf("test%d.bam", seed))
	require.NoError(t, gbam.WriteIndexedBAM(vcontext.Background(), path, header, recs))
	return testBAM{path: path, header: header, recs: recs}
}

// expectedNames brute-forces the names of the records overlapping [start, end)
// on refID.
func (b testBAM) expectedNames(refID, start, end int) []string {
	names := []string{}
	for _, rec := range b.recs {
		if rec.Ref.ID() == refID && rec.Pos < end && rec.End() > start {
			names = append(names, rec.Name)
		}
	}
	return names
}

func readNames(t *testing.T, p bamprovider.Provider, shard gbam.Shard) []string {
	names := []string{}
	iter := p.NewIterator(shard)
	for iter.Scan() {
		names = append(names, iter.Record().Name)
	}
	require.NoError(t, iter.Err())
	require.NoError(t, iter.Close())
	return names
}

func TestBAMShards(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "bamprovider")
	defer testutil.NoCleanupOnError(t, cleanup, tmpDir)
	b := newTestBAM(t, tmpDir, 200, 0)

	p := bamprovider.NewProvider(b.path)
	shards, err := p.GenerateShards(bamprovider.GenerateShardsOpts{ShardSize: 3000})
	require.NoError(t, err)
	require.Equal(t, 7+2, len(shards))

	// Repeat the test to exercise the iterator-reuse code path.
	for i := 0; i < 3; i++ {
		for _, shard := range shards {
			require.Equal(t,
				b.expectedNames(shard.Ref.ID(), shard.Start, shard.End),
				readNames(t, p, shard), "shard %v", shard.String())
		}
	}
	require.NoError(t, p.Close())
}

func TestBAMRandomRanges(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "bamprovider")
	defer testutil.NoCleanupOnError(t, cleanup, tmpDir)

	for seed := int64(1); seed <= 3; seed++ {
		b := newTestBAM(t, tmpDir, 500, seed)
		p := bamprovider.NewProvider(b.path, bamprovider.ProviderOpts{Index: gbam.IndexPath(b.path)})
		header, err := p.GetHeader()
		require.NoError(t, err)
		r := rand.New(rand.NewSource(seed))
		for i := 0; i < 50; i++ {
			ref := header.Refs()[r.Intn(2)]
			start := r.Intn(ref.Len())
			end := start + 1 + r.Intn(ref.Len()-start)
			shard := gbam.Shard{Ref: ref, Start: start, End: end}
			require.Equal(t, b.expectedNames(ref.ID(), start, end), readNames(t, p, shard),
				"range %s:%d-%d", ref.Name(), start, end)
		}
		require.NoError(t, p.Close())
	}
}

func TestError(t *testing.T) {
	p := bamprovider.NewProvider("nonexistent.bam")
	_, err := p.GenerateShards(bamprovider.GenerateShardsOpts{})
	require.Regexp(t, "no such file", err.Error())

	ref, err := sam.NewReference("chr1", "", "", 100, nil, nil)
	require.NoError(t, err)
	iter := p.NewIterator(gbam.Shard{Ref: ref, Start: 0, End: 1})
	require.False(t, iter.Scan())
	require.Regexp(t, "no such file", iter.Close())
	require.Regexp(t, "no such file", p.Close().Error())
}

func TestFakeProvider(t *testing.T) {
	chr1, err := sam.NewReference("chr1", "", "", 1000, nil, nil)
	require.NoError(t, err)
	header, err := sam.NewHeader(nil, []*sam.Reference{chr1})
	require.NoError(t, err)
	newRec := func(name string, pos, n int) *sam.Record {
		return &sam.Record{Name: name, Ref: chr1, Pos: pos,
			Cigar: []sam.CigarOp{sam.NewCigarOp(sam.CigarMatch, n)}}
	}
	p := bamprovider.NewFakeProvider(header, []*sam.Record{
		newRec("a", 0, 10), newRec("b", 95, 10), newRec("c", 100, 10), newRec("d", 500, 10)})
	shards, err := p.GenerateShards(bamprovider.GenerateShardsOpts{ShardSize: 100})
	require.NoError(t, err)
	require.Equal(t, 10, len(shards))
	require.Equal(t, []string{"a", "b"}, readNames(t, p, shards[0]))
	require.Equal(t, []string{"b", "c"}, readNames(t, p, shards[1]))
	require.Equal(t, []string{}, readNames(t, p, shards[2]))
	require.Equal(t, []string{"d"}, readNames(t, p, shards[5]))

	include, err := interval.NewBEDUnion([]interval.Entry{
		{ChrName: "chr1", Start0: 90, End: 150},
		{ChrName: "chr1", Start0: 480, End: 490},
	}, header)
	require.NoError(t, err)
	shards, err = p.GenerateShards(bamprovider.GenerateShardsOpts{ShardSize: 40, Intervals: &include})
	require.NoError(t, err)
	require.Equal(t, 3, len(shards))
	require.Equal(t, []int{90, 130, 150}, []int{shards[0].Start, shards[1].Start, shards[1].End})
	require.Equal(t, []string{"b", "c"}, readNames(t, p, shards[0]))
	require.Equal(t, []string{}, readNames(t, p, shards[2]))
	require.NoError(t, p.Close())
}

func TestErrorIterator(t *testing.T) {
	iter := bamprovider.NewErrorIterator(fmt.Errorf("boom"))
	require.False(t, iter.Scan())
	require.EqualError(t, iter.Err(), "boom")
	require.EqualError(t, iter.Close(), "boom")

	tmpDir, cleanup := testutil.TempDir(t, "", "bamprovider")
	defer testutil.NoCleanupOnError(t, cleanup, tmpDir)
	b := newTestBAM(t, tmpDir, 10, 1)
	p := bamprovider.NewProvider(b.path)
	iter = p.NewIterator(gbam.Shard{Ref: b.header.Refs()[0], Start: 10, End: 10})
	require.False(t, iter.Scan())
	require.Error(t, iter.Close())
	require.NoError(t, p.Close())
}
