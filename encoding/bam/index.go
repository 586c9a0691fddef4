// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bam

import (
	"context"
	"io"

	biogobam "github.com/biogo/hts/bam"
	"github.com/biogo/hts/sam"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
)

// IndexPath returns the conventional .bai path for bamPath.
func IndexPath(bamPath string) string {
	return bamPath + ".bai"
}

// BuildIndex reads the coordinate-sorted BAM file at bamPath and writes its
// .bai index to indexPath.
func BuildIndex(ctx context.Context, bamPath, indexPath string) (err error) {
	var in, out file.File
	if in, err = file.Open(ctx, bamPath); err != nil {
		return errors.E(err, "bam.BuildIndex: open", bamPath)
	}
	defer func() {
		if e := in.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	var r *biogobam.Reader
	if r, err = biogobam.NewReader(in.Reader(ctx), 1); err != nil {
		return errors.E(err, "bam.BuildIndex: read header", bamPath)
	}
	defer func() {
		if e := r.Close(); e != nil && err == nil {
			err = e
		}
	}()
	var idx biogobam.Index
	for {
		var rec *sam.Record
		rec, err = r.Read()
		if err == io.EOF {
			err = nil
			break
		}
		if err != nil {
			return errors.E(err, "bam.BuildIndex: read", bamPath)
		}
		if err = idx.Add(rec, r.LastChunk()); err != nil {
			return errors.E(err, "bam.BuildIndex: index", rec.Name)
		}
	}
	if out, err = file.Create(ctx, indexPath); err != nil {
		return errors.E(err, "bam.BuildIndex: create", indexPath)
	}
	if err = biogobam.WriteIndex(out.Writer(ctx), &idx); err != nil {
		_ = out.Close(ctx)
		return errors.E(err, "bam.BuildIndex: write", indexPath)
	}
	return out.Close(ctx)
}

// WriteIndexedBAM writes records, which must be coordinate-sorted, to a BAM
// file at bamPath and indexes it at IndexPath(bamPath).
func WriteIndexedBAM(ctx context.Context, bamPath string, header *sam.Header, records []*sam.Record) (err error) {
	var out file.File
	if out, err = file.Create(ctx, bamPath); err != nil {
		return errors.E(err, "bam.WriteIndexedBAM: create", bamPath)
	}
	w, err := biogobam.NewWriter(out.Writer(ctx), header, 1)
	if err != nil {
		_ = out.Close(ctx)
		return errors.E(err, "bam.WriteIndexedBAM", bamPath)
	}
	for _, rec := range records {
		if err = w.Write(rec); err != nil {
			_ = w.Close()
			_ = out.Close(ctx)
			return errors.E(err, "bam.WriteIndexedBAM: write", rec.Name)
		}
	}
	if err = w.Close(); err != nil {
		_ = out.Close(ctx)
		return errors.E(err, "bam.WriteIndexedBAM: close", bamPath)
	}
	if err = out.Close(ctx); err != nil {
		return err
	}
	return BuildIndex(ctx, bamPath, IndexPath(bamPath))
}
