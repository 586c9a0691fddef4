package fasta

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/tsv"
)

// faiRecord accumulates the .fai columns of one sequence while the FASTA
// text is scanned.
type faiRecord struct {
	name      string
	length    int64
	offset    int64
	lineBases int64
	lineWidth int64
}

func (r *faiRecord) write(w *tsv.Writer) error {
	w.WriteString(r.name)
	w.WriteInt64(r.length)
	w.WriteInt64(r.offset)
	w.WriteInt64(r.lineBases)
	w.WriteInt64(r.lineWidth)
	return w.EndLine()
}

// GenerateIndex generates an index (*.fai) from FASTA.  The index can be later
// passed to NewIndexed() to random-access the FASTA file quickly.
//
// The index format is defined by "samtool faidx"
// (http://www.htslib.org/doc/faidx.html).
func GenerateIndex(out io.Writer, in io.Reader) (err error) {
	var (
		w       = tsv.NewWriter(out)
		r       = bufio.NewReader(in)
		cur     faiRecord
		started bool
		cumByte int64
	)
	setErr := func(e error) {
		if e != nil && err == nil {
			err = e
		}
	}
	for eof := false; !eof && err == nil; {
		fullLine, e := r.ReadBytes('\n')
		if e == io.EOF {
			eof = true
		} else if e != nil {
			setErr(e)
		}
		cumByte += int64(len(fullLine))
		line := bytes.TrimRight(fullLine, "\r\n")
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			if started {
				setErr(cur.write(w))
			}
			started = true
			cur = faiRecord{
				name:   strings.Split(string(line[1:]), " ")[0],
				offset: cumByte,
			}
			continue
		}
		if !started {
			setErr(errors.E("malformed FASTA file: sequence data before first header"))
			break
		}
		if cur.lineWidth == 0 {
			cur.lineWidth = int64(len(fullLine))
			cur.lineBases = int64(len(line))
		}
		cur.length += int64(len(line))
	}
	if cumByte == 0 {
		setErr(errors.E("empty FASTA file"))
		return
	}
	if started {
		setErr(cur.write(w))
	}
	setErr(w.Flush())
	return
}
