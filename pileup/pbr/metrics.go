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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	readsEvaluated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pbr_reads_evaluated_total",
		Help: "Number of read expression evaluations.",
	})
	readsFiltered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pbr_reads_filtered_total",
		Help: "Number of reads rejected by the read expression.",
	})
	readExpressionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pbr_read_expression_errors_total",
		Help: "Number of read expression evaluations that raised an error.",
	})
	positionsExcluded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pbr_positions_excluded_total",
		Help: "Number of pileup positions skipped by the exclusion BED.",
	})
	positionsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pbr_positions_emitted_total",
		Help: "Number of positions written to the output.",
	})
	referenceCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pbr_reference_cache_misses_total",
		Help: "Number of reference fetches that went to the FASTA.",
	})
	regionsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pbr_regions_processed_total",
		Help: "Number of shards processed.",
	})
)

// WriteMetrics dumps the counters in the Prometheus text format to the local
// file at path.
func WriteMetrics(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
