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

/*
Given an indexed BAM and a Lua expression, bio-pbr reports per-position base
counts computed only from the reads for which the expression returns true.

The expression sees the current read as 'read' (see package
github.com/grailbio/pbr/pileup/luafilter for its fields), e.g.

  return read.mapping_quality > 20 and read.bq >= 30 and read.distance_from_5prime > 3

An optional -pile-expression sees each aggregated position as 'pile' and
drops the positions for which it is false.

Output is a TSV with the columns

  #chrom pos0 ref_base depth a c g t n

in genome order.  ref_base is "." unless -fasta is given; with -flank k it
holds the 2k+1 reference bases centered on the position.

Options may also be read from a YAML file with -config; the keys are the flag
names.  Flags given on the command line override the file.

Sample usage:
bio-pbr \
    -fasta ref.fa \
    -exclude blacklist.bed \
    -threads 8 \
    -out out.tsv \
    my.bam \
    'return read.mapping_quality > 10'
*/
package main
