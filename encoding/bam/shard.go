// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bam

import (
	"fmt"

	"github.com/biogo/hts/sam"
	"github.com/grailbio/pbr/interval"
	"v.io/x/lib/vlog"
)

// Shard is a half-open, 0-based genomic interval [Start, End) on a single
// reference.  An iterator for a shard returns every record whose alignment
// overlaps the interval, so a pileup over [Start, End) sees full depth at the
// shard edges without any padding.
//
// Shards are ordered according to the order of the BAM header references.
// ShardIdx is an index into that ordering: the first Shard has index 0, and
// subsequent shards increment the ShardIdx by one each.
type Shard struct {
	Ref      *sam.Reference
	Start    int
	End      int
	ShardIdx int
}

// Len returns the number of positions in the shard.
func (s *Shard) Len() int {
	return s.End - s.Start
}

// String returns a debug string for s.
func (s *Shard) String() string {
	return fmt.Sprintf("%d:%s[%d]:%d-%d", s.ShardIdx, s.Ref.Name(), s.Ref.ID(), s.Start, s.End)
}

func min(x, y int) int {
	if y < x {
		return y
	}
	return x
}

// GetPositionBasedShards returns a list of shards that cover every reference
// in the header, each at most shardSize bases long.
func GetPositionBasedShards(header *sam.Header, shardSize int) ([]Shard, error) {
	if shardSize <= 0 {
		return nil, fmt.Errorf("bam.GetPositionBasedShards: shard size must be positive, got %d", shardSize)
	}
	var shards []Shard
	shardIdx := 0
	for _, ref := range header.Refs() {
		for start := 0; start < ref.Len(); start += shardSize {
			shards = append(shards, Shard{
				Ref:      ref,
				Start:    start,
				End:      min(start+shardSize, ref.Len()),
				ShardIdx: shardIdx,
			})
			shardIdx++
		}
	}
	ValidateShardList(header, shards)
	return shards, nil
}

// GetIntervalShards returns shards covering exactly the positions of the
// given interval union, in header order.  Each interval is split into pieces
// of at most shardSize bases.  Intervals are clamped to the reference length.
func GetIntervalShards(header *sam.Header, u *interval.BEDUnion, shardSize int) ([]Shard, error) {
	if shardSize <= 0 {
		return nil, fmt.Errorf("bam.GetIntervalShards: shard size must be positive, got %d", shardSize)
	}
	var shards []Shard
	for _, ref := range header.Refs() {
		endpoints := u.Intervals(ref.ID())
		if len(endpoints) == 0 {
			continue
		}
		refLen := interval.PosType(ref.Len())
		us := interval.NewUnionScanner(endpoints)
		var start, end interval.PosType
		for us.Scan(&start, &end, refLen) {
			for s := start; s < end; s += interval.PosType(shardSize) {
				shards = append(shards, Shard{
					Ref:      ref,
					Start:    int(s),
					End:      min(int(s)+shardSize, int(end)),
					ShardIdx: len(shards),
				})
			}
		}
	}
	ValidateShardList(header, shards)
	return shards, nil
}

// ValidateShardList panics if the shards are not ordered, non-empty and
// non-overlapping, or if any shard lies outside its reference.
func ValidateShardList(header *sam.Header, shardList []Shard) {
	nRefs := len(header.Refs())
	for i, shard := range shardList {
		if shard.Ref == nil || shard.Ref.ID() < 0 || shard.Ref.ID() >= nRefs {
			vlog.Panicf("Shard %d has no valid reference", i)
		}
		if shard.ShardIdx != i {
			vlog.Panicf("Shard %d has index %d", i, shard.ShardIdx)
		}
		if shard.Start < 0 || shard.Start >= shard.End || shard.End > shard.Ref.Len() {
			vlog.Panicf("Shard start must precede end within ref %s: %d, %d", shard.Ref.Name(), shard.Start, shard.End)
		}
		if i == 0 {
			continue
		}
		prev := shardList[i-1]
		if prev.Ref.ID() > shard.Ref.ID() || (prev.Ref == shard.Ref && prev.End > shard.Start) {
			vlog.Panicf("Shards out of order: %s then %s", prev.String(), shard.String())
		}
	}
}
