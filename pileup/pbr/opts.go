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
	"io/ioutil"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/pbr/encoding/bamprovider"
	"github.com/grailbio/pbr/pileup"
	"gopkg.in/yaml.v3"
)

// Opts configures a Run. The yaml keys match the bio-pbr flag names.
type Opts struct {
	BAMPath        string `yaml:"bam"`
	IndexPath      string `yaml:"index"`
	FastaPath      string `yaml:"fasta"`
	FastaIndexPath string `yaml:"fasta-index"`
	// BedPath and Region restrict the walk to a set of intervals. At most one
	// may be set.
	BedPath     string `yaml:"bed"`
	Region      string `yaml:"region"`
	ExcludePath string `yaml:"exclude"`

	// Expression filters reads, PileExpression filters output positions.
	Expression     string `yaml:"expression"`
	PileExpression string `yaml:"pile-expression"`

	Parallelism int  `yaml:"threads"`
	MaxDepth    int  `yaml:"max-depth"`
	FlagExclude int  `yaml:"flag-exclude"`
	MateFix     bool `yaml:"mate-fix"`
	// Flank is the number of reference bases reported on each side of a
	// position. Requires FastaPath.
	Flank int `yaml:"flank"`

	ShardSize int `yaml:"shard-size"`
	// QueueSize bounds the number of finished shards buffered ahead of the
	// writer. It is raised to at least 2*Parallelism.
	QueueSize int `yaml:"queue-size"`

	// OutPath is the TSV destination, "-" for stdout.
	OutPath     string `yaml:"out"`
	MetricsPath string `yaml:"metrics-out"`
}

// DefaultOpts holds the default settings.
var DefaultOpts = Opts{
	Parallelism: 0,
	MaxDepth:    100000,
	FlagExclude: int(pileup.DefaultFlagExclude),
	MateFix:     false,
	Flank:       0,
	ShardSize:   bamprovider.DefaultShardSize,
	QueueSize:   0,
	OutPath:     "-",
}

// LoadOptsFile overlays the settings in the YAML file at path onto opts.
// Keys absent from the file leave opts unchanged.
func LoadOptsFile(ctx context.Context, path string, opts *Opts) (err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return err
	}
	defer func() {
		if e := in.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	data, err := ioutil.ReadAll(in.Reader(ctx))
	if err != nil {
		return err
	}
	if err = yaml.Unmarshal(data, opts); err != nil {
		return errors.E(errors.Invalid, fmt.Sprintf("pbr: parse config %s", path), err)
	}
	return nil
}

// MaxFlank is the largest accepted Opts.Flank. A window never spans more
// than a contig of maximal length.
const MaxFlank = pileup.PosTypeMax / 2

func (o *Opts) validate() error {
	switch {
	case o.BAMPath == "":
		return errors.E(errors.Invalid, "pbr: BAM path required")
	case o.BedPath != "" && o.Region != "":
		return errors.E(errors.Invalid, "pbr: -bed and -region can't be used together")
	case o.MaxDepth <= 0:
		return errors.E(errors.Invalid, fmt.Sprintf("pbr: max-depth must be positive, got %d", o.MaxDepth))
	case o.Flank < 0 || o.Flank > MaxFlank:
		return errors.E(errors.Invalid, fmt.Sprintf("pbr: flank must be in [0, %d], got %d", MaxFlank, o.Flank))
	case o.ShardSize <= 0:
		return errors.E(errors.Invalid, fmt.Sprintf("pbr: shard-size must be positive, got %d", o.ShardSize))
	}
	return nil
}
