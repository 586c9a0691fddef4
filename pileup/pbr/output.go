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
	"io"
	"sync"

	"github.com/grailbio/base/syncqueue"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/pbr/pileup"
)

// Header is the first line of the output TSV.
const Header = "#chrom\tpos0\tref_base\tdepth\ta\tc\tg\tt\tn"

// writeRow appends one output line. The ref_base column holds the flank
// window, which is a single base when no flank was requested, or "." without
// a reference.
func writeRow(w *tsv.Writer, p *pileup.Position) error {
	w.WriteString(p.RefName)
	w.WriteUint32(uint32(p.Pos))
	if p.Flank != "" {
		w.WriteString(p.Flank)
	} else {
		w.WriteByte('.')
	}
	w.WriteUint32(uint32(p.Depth))
	w.WriteUint32(uint32(p.A))
	w.WriteUint32(uint32(p.C))
	w.WriteUint32(uint32(p.G))
	w.WriteUint32(uint32(p.T))
	w.WriteUint32(uint32(p.N))
	return w.EndLine()
}

// shardWriter writes the rows of each shard in shard-index order, regardless
// of the order in which the shards finish.
type shardWriter struct {
	w         *tsv.Writer
	queue     *syncqueue.OrderedQueue
	waitGroup sync.WaitGroup
	nRows     int
	err       error
}

// newShardWriter writes the header to w and starts the consumer. Shards must
// be numbered sequentially from 0.
func newShardWriter(w io.Writer, queueSize int) (*shardWriter, error) {
	sw := &shardWriter{
		w:     tsv.NewWriter(w),
		queue: syncqueue.NewOrderedQueue(queueSize),
	}
	sw.w.WriteString(Header)
	if err := sw.w.EndLine(); err != nil {
		return nil, err
	}
	sw.waitGroup.Add(1)
	go func() {
		defer sw.waitGroup.Done()
		sw.writeShards()
	}()
	return sw, nil
}

// addShard hands the rows of shard shardIdx to the writer. It blocks while
// the shard is too far ahead of the next one to be written.
func (sw *shardWriter) addShard(shardIdx int, rows []pileup.Position) error {
	return sw.queue.Insert(shardIdx, rows)
}

func (sw *shardWriter) writeShards() {
	for {
		entry, ok, err := sw.queue.Next()
		if err != nil {
			sw.err = err
			return
		}
		if !ok {
			return
		}
		rows := entry.([]pileup.Position)
		for i := range rows {
			if err = writeRow(sw.w, &rows[i]); err != nil {
				sw.err = err
				sw.queue.Close(err)
				return
			}
		}
		sw.nRows += len(rows)
	}
}

// abort stops the writer without waiting for pending shards.
func (sw *shardWriter) abort(err error) {
	sw.queue.Close(err)
}

// Close waits for the queued shards to be written and flushes the output. A
// non-nil err aborts the writer, discarding unwritten shards, and is
// returned.
func (sw *shardWriter) Close(err error) error {
	qerr := sw.queue.Close(err)
	sw.waitGroup.Wait()
	if sw.err != nil {
		return sw.err
	}
	if qerr != nil {
		return qerr
	}
	return sw.w.Flush()
}
