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

	"github.com/biogo/hts/sam"
	"github.com/grailbio/base/log"
	gbam "github.com/grailbio/pbr/encoding/bam"
	"github.com/grailbio/pbr/encoding/bamprovider"
	"github.com/grailbio/pbr/encoding/fasta"
	"github.com/grailbio/pbr/interval"
	"github.com/grailbio/pbr/pileup"
	"github.com/grailbio/pbr/pileup/luafilter"
)

type workerState int

const (
	stateInit workerState = iota
	stateBuildIndices
	stateScan
	stateDone
)

// regionWorker computes the filtered pileup of one shard. It owns its
// exclusion cursor, reference cache and Lua state, so distinct workers can run
// concurrently. A worker processes exactly one shard.
type regionWorker struct {
	opts     *Opts
	shard    gbam.Shard
	provider bamprovider.Provider
	// excludeTemplate is shared by all workers and only read through clones.
	excludeTemplate *interval.BEDUnion

	state   workerState
	exclude *interval.BEDUnion
	fa      fasta.Fasta
	faClose func() error
	cache   *fasta.Cache
	bridge  *luafilter.Bridge
}

func newRegionWorker(opts *Opts, shard gbam.Shard, provider bamprovider.Provider, exclude *interval.BEDUnion) *regionWorker {
	return &regionWorker{
		opts:            opts,
		shard:           shard,
		provider:        provider,
		excludeTemplate: exclude,
	}
}

func (w *regionWorker) buildIndices(ctx context.Context) (err error) {
	if w.excludeTemplate != nil {
		u := w.excludeTemplate.Clone()
		w.exclude = &u
	}
	if w.opts.FastaPath != "" {
		if w.fa, w.faClose, err = fasta.OpenIndexed(ctx, w.opts.FastaPath, w.opts.FastaIndexPath); err != nil {
			return err
		}
		w.cache = fasta.NewCache(w.fa)
	}
	w.bridge, err = luafilter.NewBridge(w.opts.Expression, w.opts.PileExpression)
	return err
}

func (w *regionWorker) close() error {
	if w.bridge != nil {
		w.bridge.Close()
		w.bridge = nil
	}
	var err error
	if w.faClose != nil {
		err = w.faClose()
		w.faClose = nil
	}
	return err
}

// process returns the shard's output rows in position order. It either
// returns every row or an error.
func (w *regionWorker) process(ctx context.Context) (rows []pileup.Position, err error) {
	if w.state != stateInit {
		log.Panicf("pbr: shard %v processed twice", w.shard.String())
	}
	w.state = stateBuildIndices
	defer func() {
		if e := w.close(); e != nil && err == nil {
			err = e
		}
		w.state = stateDone
		if err != nil {
			rows = nil
		}
	}()
	if err = w.buildIndices(ctx); err != nil {
		return nil, err
	}
	w.state = stateScan
	iter := w.provider.NewIterator(w.shard)
	defer func() {
		if e := iter.Close(); e != nil && err == nil {
			err = e
		}
	}()
	if rows, err = w.scan(iter); err != nil {
		return nil, err
	}
	w.recordMetrics(len(rows))
	log.Debug.Printf("pbr: shard %v: %d rows", w.shard.String(), len(rows))
	return rows, nil
}

func (w *regionWorker) scan(iter bamprovider.Iterator) ([]pileup.Position, error) {
	ref := w.shard.Ref
	walker := pileup.NewWalker(iter, pileup.WalkerOpts{
		RefID:       ref.ID(),
		Start:       pileup.PosType(w.shard.Start),
		End:         pileup.PosType(w.shard.End),
		MaxDepth:    w.opts.MaxDepth,
		FlagExclude: sam.Flags(w.opts.FlagExclude),
	})
	tally := pileup.Tally
	if w.opts.MateFix {
		tally = pileup.TallyMateAware
	}
	refName := ref.Name()
	var rows []pileup.Position
	for walker.Scan() {
		col := walker.Column()
		if w.exclude != nil && w.exclude.ContainsByID(col.RefID, col.Pos) {
			positionsExcluded.Inc()
			continue
		}
		p := tally(col, refName, w.bridge, w.opts.MaxDepth)
		if w.cache != nil {
			p.Flank = pileup.FlankWindow(w.cache, refName, int(p.Pos), w.opts.Flank)
			if base := p.Flank[w.opts.Flank]; base != '.' {
				p.RefBase = base
			}
		}
		if p.Depth <= 0 {
			continue
		}
		ok, err := w.bridge.EvalPosition(&p)
		if err != nil {
			return nil, err
		}
		if ok {
			rows = append(rows, p)
		}
	}
	return rows, walker.Err()
}

func (w *regionWorker) recordMetrics(nRows int) {
	stats := w.bridge.Stats()
	readsEvaluated.Add(float64(stats.ReadsEvaluated))
	readsFiltered.Add(float64(stats.ReadsFiltered))
	readExpressionErrors.Add(float64(stats.ReadErrors))
	if w.cache != nil {
		referenceCacheMisses.Add(float64(w.cache.Stats().Misses))
	}
	positionsEmitted.Add(float64(nRows))
	regionsProcessed.Inc()
}
