// Package fasta provides random access to reference sequences stored in
// FASTA files, either fully in memory or through a samtools-style .fai index.
// See http://www.htslib.org/doc/faidx.html.  Briefly, FASTA files consist of a
// number of named sequences that may be interrupted by newlines.  For example:
//
// >chr7
// ACGTAC
// GAGGAC
// GCG
// >chr8
// ACGT
//
// Sequence names are the stretch of characters after '>' up to the first
// space, so '>chr1 A viral sequence' becomes 'chr1'.
//
// Cache layers a forward-sliding window on top of any Fasta, for callers that
// visit positions of one contig in nondecreasing order.
package fasta

import (
	"bufio"
	"context"
	"io"
	"regexp"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/pkg/errors"
)

const (
	bufferInitSize = 1024 * 1024 * 300 // 300 MB
)

// Index files consist of one tab-separated line per sequence in the associated
// FASTA file.  The format is: "<sequence name>\t<length>\t<byte
// offset>\t<bases per line>\t<bytes per line>".
// For example: "chr3\t12345\t9000\t80\t81".
var indexRegExp = regexp.MustCompile(`^(\S+)\t(\d+)\t(\d+)\t(\d+)\t(\d+)`)

// Fasta represents FASTA-formatted data, consisting of a set of named
// sequences.
type Fasta interface {
	// Get returns a substring of the given sequence name at the given
	// coordinates, which are treated as a 0-based half-open interval
	// [start, end). Get is thread-safe.
	Get(seqName string, start, end uint64) (string, error)

	// Len returns the length of the given sequence.
	Len(seqName string) (uint64, error)

	// SeqNames returns the names of all sequences, in the order of appearance in
	// the FASTA file.
	SeqNames() []string
}

type memFasta struct {
	seqs     map[string]string
	seqNames []string
}

// New creates a new Fasta that holds all the FASTA data from the given reader
// in memory.
func New(r io.Reader) (Fasta, error) {
	f := &memFasta{seqs: make(map[string]string)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, bufferInitSize)
	var (
		seqName string
		seq     strings.Builder
		inSeq   bool
	)
	flush := func() error {
		if !inSeq {
			if seq.Len() != 0 {
				return errors.Errorf("malformed FASTA file: sequence data before first header")
			}
			return nil
		}
		f.seqs[seqName] = seq.String()
		f.seqNames = append(f.seqNames, seqName)
		seq.Reset()
		return nil
	}
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			if err := flush(); err != nil {
				return nil, err
			}
			seqName = strings.Split(line[1:], " ")[0]
			inSeq = true
			continue
		}
		seq.WriteString(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "couldn't read FASTA data")
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return f, nil
}

// Get implements Fasta.Get().
func (f *memFasta) Get(seqName string, start, end uint64) (string, error) {
	s, ok := f.seqs[seqName]
	if !ok {
		return "", errors.Errorf("sequence not found: %s", seqName)
	}
	if end <= start {
		return "", errors.Errorf("start must be less than end")
	}
	if end > uint64(len(s)) {
		return "", errors.Errorf("end is past end of sequence %s: %d", seqName, len(s))
	}
	return s[start:end], nil
}

// Len implements Fasta.Len().
func (f *memFasta) Len(seqName string) (uint64, error) {
	s, ok := f.seqs[seqName]
	if !ok {
		return 0, errors.Errorf("sequence not found: %s", seqName)
	}
	return uint64(len(s)), nil
}

// SeqNames implements Fasta.SeqNames().
func (f *memFasta) SeqNames() []string {
	return f.seqNames
}

// OpenIndexed opens the FASTA file at path for random access through its .fai
// index.  indexPath defaults to path + ".fai".  The returned function closes
// the underlying files and must be called once the Fasta is no longer used.
func OpenIndexed(ctx context.Context, path, indexPath string) (fa Fasta, closer func() error, err error) {
	if indexPath == "" {
		indexPath = path + ".fai"
	}
	var in, idxIn file.File
	if in, err = file.Open(ctx, path); err != nil {
		return nil, nil, errors.Wrapf(err, "open reference %s", path)
	}
	if idxIn, err = file.Open(ctx, indexPath); err != nil {
		_ = in.Close(ctx)
		return nil, nil, errors.Wrapf(err, "open reference index %s", indexPath)
	}
	defer func() {
		if e := idxIn.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	if fa, err = NewIndexed(in.Reader(ctx), idxIn.Reader(ctx)); err != nil {
		_ = in.Close(ctx)
		return nil, nil, err
	}
	return fa, func() error { return in.Close(ctx) }, nil
}
