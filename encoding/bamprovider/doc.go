// Package bamprovider provides utilities for scanning an indexed BAM file in
// parallel.
//
// The Provider is an interface for reading a BAM file in parallel: it splits
// the genome into shards, and hands out an Iterator over the records whose
// alignments overlap each shard.
package bamprovider
