package bamprovider

import (
	"github.com/biogo/hts/sam"
	gbam "github.com/grailbio/pbr/encoding/bam"
	"github.com/grailbio/pbr/interval"
)

// DefaultShardSize is the default value for GenerateShardsOpts.ShardSize.
const DefaultShardSize = 1000000

// ProviderOpts defines options for NewProvider.
type ProviderOpts struct {
	// Index specifies the name of the BAM index file. If Index=="", it defaults
	// to path + ".bai".
	Index string
}

// GenerateShardsOpts defines behavior of Provider.GenerateShards.
type GenerateShardsOpts struct {
	// ShardSize is the maximum number of bases covered by one shard.  If <= 0,
	// DefaultShardSize is used.
	ShardSize int

	// Intervals restricts the shards to the given interval union.  If nil, the
	// shards cover every reference in the header end to end.
	Intervals *interval.BEDUnion
}

// Provider allows reading a BAM file in parallel. Thread safe.
type Provider interface {
	// GetHeader returns the header for the provided BAM data.  The callee
	// must not modify the returned header object.
	//
	// REQUIRES: Close has not been called.
	GetHeader() (*sam.Header, error)

	// GenerateShards splits the genome into contiguous, non-overlapping
	// intervals, ordered by (refid, position).  Use NewIterator to read the
	// records of a shard.
	//
	// REQUIRES: Close has not been called.
	GenerateShards(opts GenerateShardsOpts) ([]gbam.Shard, error)

	// NewIterator returns an iterator over the records whose alignment overlaps
	// the shard.  The shard is usually produced by GenerateShards, but the
	// caller may also construct it manually.
	//
	// REQUIRES: Close has not been called.
	NewIterator(shard gbam.Shard) Iterator

	// Close must be called exactly once. It returns any error encountered
	// by the provider, or any iterator created by the provider.
	//
	// REQUIRES: All the iterators created by NewIterator have been closed.
	Close() error
}

// Iterator iterates over sam.Records in a particular genomic range, in
// coordinate order. Thread compatible.
type Iterator interface {
	// Scan returns where there are any records remaining in the iterator,
	// and if so, advances the iterator to the next record. If the iterator
	// reaches the end of its range, Scan() returns false.  If an error
	// occurs, Scan() returns false and the error can be retrieved by
	// calling Err().
	//
	// REQUIRES: Close has not been called.
	Scan() bool

	// Record returns the current record in the iterator. This must be
	// called only after a call to Scan() returns true.
	//
	// REQUIRES: Close has not been called.
	Record() *sam.Record

	// Err returns the error encountered during iteration, or nil if no error
	// occurred.  An io.EOF error will be translated to nil.
	Err() error

	// Close must be called exactly once. It returns the value of Err().
	Close() error
}

func mergeOpts(optList []ProviderOpts) ProviderOpts {
	opts := ProviderOpts{}
	for _, o := range optList {
		if o.Index != "" {
			opts.Index = o.Index
		}
	}
	return opts
}

// NewProvider creates a Provider for the BAM file at path.
func NewProvider(path string, optList ...ProviderOpts) Provider {
	opts := mergeOpts(optList)
	return &BAMProvider{Path: path, Index: opts.Index}
}

func generateShards(header *sam.Header, opts GenerateShardsOpts) ([]gbam.Shard, error) {
	shardSize := opts.ShardSize
	if shardSize <= 0 {
		shardSize = DefaultShardSize
	}
	if opts.Intervals != nil {
		return gbam.GetIntervalShards(header, opts.Intervals, shardSize)
	}
	return gbam.GetPositionBasedShards(header, shardSize)
}

// overlaps reports whether rec's alignment overlaps [start, end) on ref.
func overlaps(rec *sam.Record, ref *sam.Reference, start, end int) bool {
	return rec.Ref.ID() == ref.ID() && rec.Pos < end && rec.End() > start
}
