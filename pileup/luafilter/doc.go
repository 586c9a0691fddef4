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
Package luafilter evaluates user-supplied Lua expressions against reads and
pileup positions.

A read expression sees the global `read`, with these fields:

  mapping_quality, flags, tid, start, stop, length, insert_size, qname,
  sequence, strand (1, -1 or 0), qpos, bq, distance_from_5prime,
  distance_from_3prime, indel_count, soft_clips_3_prime, soft_clips_5_prime,
  average_base_quality

and these methods:

  read:n_proportion_3_prime(n), read:n_proportion_5_prime(n), read:tag("NM")

qpos, bq and the distances are -1 when the read has no base at the current
column (e.g. it is deleted there). tag returns nil when the read lacks the tag.

A position expression sees the global `pile`, with the fields depth, a, c, g,
t, n, fail, ins, del, ref_skip, pos, ref_seq, near_max_depth, ref_base and
flank. ref_base and flank are nil unless a reference was supplied.

Both expressions may call string_count(haystack, needle), which counts the
occurrences of a single character:

  return string_count(read.sequence, "N") < 3
*/
package luafilter
