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
package pbr

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync/atomic"

	"github.com/biogo/hts/sam"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	gbam "github.com/grailbio/pbr/encoding/bam"
	"github.com/grailbio/pbr/encoding/bamprovider"
	"github.com/grailbio/pbr/encoding/fasta"
	"github.com/grailbio/pbr/interval"
)

// generateShards splits the walk into work units. Without -bed or -region
// the whole genome is covered in ShardSize pieces; otherwise the included
// intervals are.
func generateShards(ctx context.Context, opts *Opts, provider bamprovider.Provider, header *sam.Header) ([]gbam.Shard, error) {
	var (
		include interval.BEDUnion
		err     error
	)
	switch {
	case opts.Region != "":
		var entry interval.Entry
		if entry, err = interval.ParseRegionString(opts.Region); err != nil {
			return nil, err
		}
		if include, err = interval.NewBEDUnion([]interval.Entry{entry}, header); err != nil {
			return nil, err
		}
	case opts.BedPath != "":
		if include, err = interval.NewBEDUnionFromPath(ctx, opts.BedPath, header); err != nil {
			return nil, err
		}
	default:
		return provider.GenerateShards(bamprovider.GenerateShardsOpts{ShardSize: opts.ShardSize})
	}
	return provider.GenerateShards(bamprovider.GenerateShardsOpts{
		ShardSize: opts.ShardSize,
		Intervals: &include,
	})
}

// checkReference compares the contigs of the FASTA index against the BAM
// header. A BAM contig absent from the FASTA only loses its ref_base column,
// but a length mismatch means the two files describe different assemblies.
func checkReference(ctx context.Context, opts *Opts, header *sam.Header) (err error) {
	indexPath := opts.FastaIndexPath
	if indexPath == "" {
		indexPath = opts.FastaPath + ".fai"
	}
	in, err := file.Open(ctx, indexPath)
	if err != nil {
		return err
	}
	defer func() {
		if e := in.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	lengths, err := fasta.FaiToReferenceLengths(in.Reader(ctx))
	if err != nil {
		return errors.E(errors.Invalid, fmt.Sprintf("pbr: read FASTA index %s", indexPath), err)
	}
	for _, ref := range header.Refs() {
		n, ok := lengths[ref.Name()]
		if !ok {
			log.Error.Printf("pbr: contig %s is not in %s", ref.Name(), opts.FastaPath)
			continue
		}
		if int(n) != ref.Len() {
			return errors.E(errors.Invalid, fmt.Sprintf("pbr: contig %s has length %d in %s but %d in %s",
				ref.Name(), n, opts.FastaPath, ref.Len(), opts.BAMPath))
		}
	}
	return nil
}

// openOutput returns the destination for the TSV and a function that closes
// it.
func openOutput(ctx context.Context, path string) (io.Writer, func() error, error) {
	if path == "-" || path == "" {
		return os.Stdout, func() error { return nil }, nil
	}
	out, err := file.Create(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	return out.Writer(ctx), func() error { return out.Close(ctx) }, nil
}

// Run computes the filtered pileup of opts.BAMPath and writes it as TSV to
// opts.OutPath. Shards are processed in parallel, but rows are written in
// genome coordinate order.
func Run(ctx context.Context, opts Opts) (err error) {
	if err = opts.validate(); err != nil {
		return err
	}
	provider := bamprovider.NewProvider(opts.BAMPath, bamprovider.ProviderOpts{Index: opts.IndexPath})
	defer func() {
		if e := provider.Close(); e != nil && err == nil {
			err = e
		}
	}()
	header, err := provider.GetHeader()
	if err != nil {
		return err
	}
	if opts.FastaPath != "" {
		if err = checkReference(ctx, &opts, header); err != nil {
			return err
		}
	}
	shards, err := generateShards(ctx, &opts, provider, header)
	if err != nil {
		return err
	}
	var exclude *interval.BEDUnion
	if opts.ExcludePath != "" {
		u, err := interval.NewBEDUnionFromPath(ctx, opts.ExcludePath, header)
		if err != nil {
			return err
		}
		exclude = &u
	}

	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	if parallelism > len(shards) {
		parallelism = len(shards)
	}
	queueSize := opts.QueueSize
	if queueSize < 2*parallelism {
		queueSize = 2 * parallelism
	}
	if queueSize == 0 {
		queueSize = 1
	}

	w, closeOut, err := openOutput(ctx, opts.OutPath)
	if err != nil {
		return err
	}
	defer func() {
		if e := closeOut(); e != nil && err == nil {
			err = e
		}
	}()
	sw, err := newShardWriter(w, queueSize)
	if err != nil {
		return err
	}

	log.Printf("pbr: processing %d shards (%d jobs)", len(shards), parallelism)
	// Jobs claim shards in index order, so the shard the writer is waiting
	// for is always being worked on. traverse.Limit would give each job a
	// contiguous block instead, and the writer could wait on a block's first
	// shard while every job blocks on a full queue.
	var nextShard int64
	err = traverse.Each(parallelism, func(jobIdx int) error {
		for {
			shardIdx := int(atomic.AddInt64(&nextShard, 1) - 1)
			if shardIdx >= len(shards) {
				return nil
			}
			worker := newRegionWorker(&opts, shards[shardIdx], provider, exclude)
			rows, err := worker.process(ctx)
			if err != nil {
				// Unblock the jobs waiting on the writer for this shard.
				sw.abort(err)
				return err
			}
			if err = sw.addShard(shardIdx, rows); err != nil {
				return err
			}
		}
	})
	if e := sw.Close(err); e != nil && err == nil {
		err = e
	}
	if err != nil {
		return err
	}
	log.Printf("pbr: wrote %d positions", sw.nRows)
	if opts.MetricsPath != "" {
		err = WriteMetrics(opts.MetricsPath)
	}
	return err
}
