/*Package interval implements interval-union operations in a manner optimized
  for sets of genomic coordinates represented by BED files.
  (Note the 'union'.  Overlapping intervals are merged, not tracked
  separately.)
  It assumes every position fits in a PosType, which is int32 since that's
  what BAM files are limited to.

  ReadBED and ParseRegionString turn BED files and region strings into Entry
  values; NewBEDUnion resolves them against a BAM header and answers
  point-membership queries, which is how excluded positions are skipped.
*/
package interval
