// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package bam augments github.com/biogo/hts/bam with work-unit sharding of
// the reference coordinate space and helpers for writing indexed BAM files.
package bam
