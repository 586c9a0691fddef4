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
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/pbr/encoding/fasta"
	"github.com/grailbio/pbr/pileup/pbr"
)

var (
	configPath     = flag.String("config", "", "YAML file with default options; explicitly set flags override it")
	indexPath      = flag.String("index", pbr.DefaultOpts.IndexPath, "Input BAM index path. Defaults to bampath + .bai")
	threads        = flag.Int("threads", pbr.DefaultOpts.Parallelism, "Maximum number of shards processed at once; 0 = runtime.NumCPU()")
	maxDepth       = flag.Int("max-depth", pbr.DefaultOpts.MaxDepth, "Maximum number of reads kept per pileup column")
	bedPath        = flag.String("bed", pbr.DefaultOpts.BedPath, "Only report positions inside these BED intervals; can't be combined with -region")
	region         = flag.String("region", pbr.DefaultOpts.Region, "Only report positions in <contig>:<1-based first pos>-<last pos>, <contig>:<1-based pos>, or <contig>")
	excludePath    = flag.String("exclude", pbr.DefaultOpts.ExcludePath, "Skip positions inside these BED intervals")
	fastaPath      = flag.String("fasta", pbr.DefaultOpts.FastaPath, "Indexed reference FASTA; fills the ref_base column")
	fastaIndexPath = flag.String("fasta-index", pbr.DefaultOpts.FastaIndexPath, "FASTA index path. Defaults to fasta + .fai")
	fastaIndexGen  = flag.Bool("fasta-index-gen", false, "Write the FASTA index before running")
	mateFix        = flag.Bool("mate-fix", pbr.DefaultOpts.MateFix, "Count overlapping read pairs once per position")
	pileExpression = flag.String("pile-expression", pbr.DefaultOpts.PileExpression, "Lua expression evaluated on each position as 'pile'; positions for which it is false are dropped")
	flank          = flag.Int("flank", pbr.DefaultOpts.Flank, "Number of reference bases reported on each side of a position; requires -fasta")
	flagExclude    = flag.Int("flag-exclude", pbr.DefaultOpts.FlagExclude, "Reads with a FLAG bit intersecting this value are skipped")
	shardSize      = flag.Int("shard-size", pbr.DefaultOpts.ShardSize, "Number of reference bases per work unit")
	outPath        = flag.String("out", pbr.DefaultOpts.OutPath, "Output TSV path; '-' for stdout")
	metricsPath    = flag.String("metrics-out", pbr.DefaultOpts.MetricsPath, "Write Prometheus counters to this local file at exit")
)

func bioPBRUsage() {
	fmt.Printf("Usage: %s [OPTIONS] bampath expression\n", os.Args[0])
	fmt.Printf("The expression is Lua code run on each read as 'read', e.g. 'return read.mapping_quality > 20'.\n")
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

// checkExpression rejects expressions that can never produce a value.
func checkExpression(name, expr string) error {
	if expr != "" && !strings.Contains(expr, "return") {
		return errors.E(errors.Invalid, fmt.Sprintf("%s %q must contain 'return'", name, expr))
	}
	return nil
}

// buildOpts layers the config file, then the explicitly set flags, over
// pbr.DefaultOpts.
func buildOpts(ctx context.Context, bamPath, expression string) (pbr.Opts, error) {
	opts := pbr.DefaultOpts
	if *configPath != "" {
		if err := pbr.LoadOptsFile(ctx, *configPath, &opts); err != nil {
			return opts, err
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "index":
			opts.IndexPath = *indexPath
		case "threads":
			opts.Parallelism = *threads
		case "max-depth":
			opts.MaxDepth = *maxDepth
		case "bed":
			opts.BedPath = *bedPath
		case "region":
			opts.Region = *region
		case "exclude":
			opts.ExcludePath = *excludePath
		case "fasta":
			opts.FastaPath = *fastaPath
		case "fasta-index":
			opts.FastaIndexPath = *fastaIndexPath
		case "mate-fix":
			opts.MateFix = *mateFix
		case "pile-expression":
			opts.PileExpression = *pileExpression
		case "flank":
			opts.Flank = *flank
		case "flag-exclude":
			opts.FlagExclude = *flagExclude
		case "shard-size":
			opts.ShardSize = *shardSize
		case "out":
			opts.OutPath = *outPath
		case "metrics-out":
			opts.MetricsPath = *metricsPath
		}
	})
	opts.BAMPath = bamPath
	if expression != "" {
		opts.Expression = expression
	}
	if err := checkExpression("expression", opts.Expression); err != nil {
		return opts, err
	}
	if err := checkExpression("pile-expression", opts.PileExpression); err != nil {
		return opts, err
	}
	return opts, nil
}

// generateFastaIndex writes the .fai for opts.FastaPath.
func generateFastaIndex(ctx context.Context, opts *pbr.Opts) (err error) {
	if opts.FastaPath == "" {
		return errors.E(errors.Invalid, "-fasta-index-gen requires -fasta")
	}
	faiPath := opts.FastaIndexPath
	if faiPath == "" {
		faiPath = opts.FastaPath + ".fai"
	}
	in, err := file.Open(ctx, opts.FastaPath)
	if err != nil {
		return err
	}
	defer func() {
		if e := in.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	out, err := file.Create(ctx, faiPath)
	if err != nil {
		return err
	}
	if err = fasta.GenerateIndex(out.Writer(ctx), in.Reader(ctx)); err != nil {
		out.Close(ctx) // nolint: errcheck
		return err
	}
	log.Printf("bio-pbr: wrote %s", faiPath)
	return out.Close(ctx)
}

func main() {
	flag.Usage = bioPBRUsage
	shutdown := grail.Init()
	defer shutdown()

	positionalArgs := flag.Args()
	if len(positionalArgs) < 1 || len(positionalArgs) > 2 {
		log.Fatalf("Expected bampath and expression; please check flag syntax: '%s'", strings.Join(positionalArgs, " "))
	}
	var expression string
	if len(positionalArgs) == 2 {
		expression = positionalArgs[1]
	}
	ctx := vcontext.Background()
	opts, err := buildOpts(ctx, positionalArgs[0], expression)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if *fastaIndexGen {
		if err = generateFastaIndex(ctx, &opts); err != nil {
			log.Fatalf("%v", err)
		}
	}
	if err = pbr.Run(ctx, opts); err != nil {
		log.Fatalf("%v", err)
	}
	log.Debug.Printf("exiting")
}
