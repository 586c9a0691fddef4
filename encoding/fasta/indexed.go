package fasta

import (
	"bufio"
	"io"
	"sort"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

type indexEntry struct {
	length    uint64
	offset    uint64
	lineBase  uint64
	lineWidth uint64
}

type indexedFasta struct {
	seqs      map[string]indexEntry
	seqNames  []string // returned by SeqNames()
	reader    io.ReadSeeker
	bufOff    int64
	buf       []byte // caches file contents starting at bufOff.
	resultBuf []byte // temp for concatenating multi-line sequences.
	mutex     sync.Mutex
}

// NewIndexed creates a new Fasta that can perform efficient random lookups
// using the provided index, without reading the data into memory.
func NewIndexed(fasta io.ReadSeeker, index io.Reader) (Fasta, error) {
	f := &indexedFasta{seqs: make(map[string]indexEntry), reader: fasta}
	scanner := bufio.NewScanner(index)
	lineIdx := 0
	for scanner.Scan() {
		lineIdx++
		line := scanner.Text()
		if line == "" {
			continue
		}
		matches := indexRegExp.FindStringSubmatch(line)
		if len(matches) != 6 {
			return nil, errors.Errorf("invalid index line %d: %s", lineIdx, line)
		}
		var (
			ent indexEntry
			err error
		)
		fields := []*uint64{&ent.length, &ent.offset, &ent.lineBase, &ent.lineWidth}
		for i, dst := range fields {
			if *dst, err = strconv.ParseUint(matches[i+2], 10, 64); err != nil {
				return nil, errors.Wrapf(err, "index line %d", lineIdx)
			}
		}
		if ent.lineBase == 0 || ent.lineWidth < ent.lineBase {
			return nil, errors.Errorf("invalid line geometry on index line %d: %s", lineIdx, line)
		}
		f.seqs[matches[1]] = ent
		f.seqNames = append(f.seqNames, matches[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "couldn't read FASTA index")
	}
	sort.SliceStable(f.seqNames, func(i, j int) bool {
		return f.seqs[f.seqNames[i]].offset < f.seqs[f.seqNames[j]].offset
	})
	return f, nil
}

// FaiToReferenceLengths reads in a fasta fai file and returns a map of
// reference name to reference length. This doesn't require reading in the fasta
// itself.
func FaiToReferenceLengths(index io.Reader) (map[string]uint64, error) {
	idx, err := NewIndexed(nil, index)
	if err != nil {
		return nil, err
	}
	lengths := make(map[string]uint64)
	for _, name := range idx.SeqNames() {
		n, err := idx.Len(name)
		if err != nil {
			return nil, err
		}
		lengths[name] = n
	}
	return lengths, nil
}

// Len implements Fasta.Len().
func (f *indexedFasta) Len(seqName string) (uint64, error) {
	ent, ok := f.seqs[seqName]
	if !ok {
		return 0, errors.Errorf("sequence not found in index: %s", seqName)
	}
	return ent.length, nil
}

// Read range [off, off+n) from the underlying fasta file.
func (f *indexedFasta) read(off int64, n int) ([]byte, error) {
	limit := off + int64(n)
	if off >= f.bufOff && limit <= f.bufOff+int64(len(f.buf)) {
		return f.buf[off-f.bufOff : limit-f.bufOff], nil
	}
	if newOffset, err := f.reader.Seek(off, io.SeekStart); err != nil || newOffset != off {
		return nil, errors.Errorf("failed to seek to offset %d: %d, %v", off, newOffset, err)
	}
	bufSize := 8192
	if bufSize < n {
		bufSize = n
	}
	resizeBuf(&f.buf, bufSize)
	bytesRead, err := io.ReadAtLeast(f.reader, f.buf, n)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	if bytesRead < n {
		return nil, errors.Errorf("encountered unexpected end of file at offset %d (bad index? file doesn't end in newline?)", off)
	}
	f.bufOff = off
	f.buf = f.buf[:bytesRead]
	return f.buf[:n], nil
}

func resizeBuf(buf *[]byte, n int) {
	if cap(*buf) < n {
		*buf = make([]byte, n)
	} else {
		*buf = (*buf)[0:n]
	}
}

// Get implements Fasta.Get().
func (f *indexedFasta) Get(seqName string, start uint64, end uint64) (string, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if end <= start {
		return "", errors.Errorf("start must be less than end")
	}
	ent, ok := f.seqs[seqName]
	if !ok {
		return "", errors.Errorf("sequence not found in index: %s", seqName)
	}
	if end > ent.length {
		return "", errors.Errorf("end is past end of sequence %s: %d", seqName, ent.length)
	}

	// The byte offset of start accounts for the newline characters of all
	// preceding lines.
	charsPerNewline := ent.lineWidth - ent.lineBase
	offset := ent.offset + start + charsPerNewline*(start/ent.lineBase)

	firstLineBases := ent.lineBase - (start % ent.lineBase)
	newlinesToRead := uint64(0)
	if end-start > firstLineBases {
		newlinesToRead = 1 + (end-start-firstLineBases)/ent.lineBase
	}
	capacity := end - start + newlinesToRead*charsPerNewline
	// The last line of a file may lack its terminator.
	if tail := ent.offset + ent.length + charsPerNewline*((ent.length-1)/ent.lineBase); offset+capacity > tail {
		capacity = tail - offset
	}

	buffer, err := f.read(int64(offset), int(capacity))
	if err != nil {
		return "", err
	}

	// Copy the non-newline characters to the result.
	resizeBuf(&f.resultBuf, int(end-start))
	linePos := (offset - ent.offset) % ent.lineWidth
	resultPos := 0
	for i := range buffer {
		if linePos < ent.lineBase && resultPos < len(f.resultBuf) {
			f.resultBuf[resultPos] = buffer[i]
			resultPos++
		}
		linePos++
		if linePos == ent.lineWidth {
			linePos = 0
		}
	}
	if resultPos != len(f.resultBuf) {
		return "", errors.Errorf("short read for %s:%d-%d: got %d bases", seqName, start, end, resultPos)
	}
	return string(f.resultBuf), nil
}

// SeqNames implements Fasta.SeqNames().
func (f *indexedFasta) SeqNames() []string {
	return f.seqNames
}
