package interval

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/klauspost/compress/gzip"
)

// Entry represents a single interval, with 0-based half-open coordinates.
type Entry struct {
	ChrName string
	Start0  PosType
	End     PosType
}

// getTokens identifies up to the first len(tokens) tokens from curLine,
// returning the number of tokens saved.  Any (group of) characters <= ' ' is
// treated as a delimiter.
func getTokens(tokens [][]byte, curLine []byte) int {
	posEnd := 0
	lineLen := len(curLine)
	for tokenIdx := range tokens {
		pos := posEnd
		for ; pos != lineLen; pos++ {
			if curLine[pos] > ' ' {
				break
			}
		}
		if pos == lineLen {
			return tokenIdx
		}
		posEnd = pos
		for ; posEnd != lineLen; posEnd++ {
			if curLine[posEnd] <= ' ' {
				break
			}
		}
		tokens[tokenIdx] = curLine[pos:posEnd]
	}
	return len(tokens)
}

var (
	trackPrefix   = []byte("track")
	browserPrefix = []byte("browser")
)

func parseCoord(token []byte, lineIdx int) (PosType, error) {
	// gunsafe.BytesToString is fine here since the string does not outlive
	// the Atoi call.
	v, err := strconv.Atoi(gunsafe.BytesToString(token))
	if err != nil {
		return 0, errors.E(errors.Invalid, fmt.Sprintf("interval.ReadBED: line %d: bad coordinate %q", lineIdx, token), err)
	}
	if v < 0 || v >= PosTypeMax {
		return 0, errors.E(errors.Invalid, fmt.Sprintf("interval.ReadBED: line %d: coordinate %d out of range", lineIdx, v))
	}
	return PosType(v), nil
}

// ReadBED reads the first three columns of every interval line in a BED file.
// Blank lines, comments and track/browser lines are skipped.  Entries are
// returned in file order; they need not be sorted.
func ReadBED(r io.Reader) ([]Entry, error) {
	var (
		entries []Entry
		tokens  [3][]byte
		lineIdx int
	)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineIdx++
		curLine := scanner.Bytes()
		nToken := getTokens(tokens[:], curLine)
		if nToken == 0 {
			continue
		}
		if tokens[0][0] == '#' || bytes.Equal(tokens[0], trackPrefix) || bytes.Equal(tokens[0], browserPrefix) {
			continue
		}
		if nToken != 3 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("interval.ReadBED: line %d has fewer tokens than expected", lineIdx))
		}
		start, err := parseCoord(tokens[1], lineIdx)
		if err != nil {
			return nil, err
		}
		end, err := parseCoord(tokens[2], lineIdx)
		if err != nil {
			return nil, err
		}
		// tokens alias the scanner's buffer, so the name must be copied.
		entries = append(entries, Entry{ChrName: string(tokens[0]), Start0: start, End: end})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.E("interval.ReadBED", err)
	}
	return entries, nil
}

// ReadBEDFromPath is a wrapper for ReadBED that takes a path instead of an
// io.Reader.  Gzipped files (*.gz) are decompressed transparently.
func ReadBEDFromPath(ctx context.Context, path string) (entries []Entry, err error) {
	var infile file.File
	if infile, err = file.Open(ctx, path); err != nil {
		return
	}
	defer func() {
		if cerr := infile.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	reader := io.Reader(infile.Reader(ctx))
	switch fileio.DetermineType(path) {
	case fileio.Gzip:
		var gz *gzip.Reader
		if gz, err = gzip.NewReader(reader); err != nil {
			return
		}
		defer func() {
			if cerr := gz.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		reader = gz
	}
	if entries, err = ReadBED(reader); err != nil {
		err = errors.E(err, path)
	}
	return
}

// ParseRegionString parses a region string of one of the forms
//   [contig ID]:[1-based first pos]-[last pos]
//   [contig ID]:[1-based pos]
//   [contig ID]
// returning a contig ID and 0-based interval boundaries.  The interval
// [0, PosTypeMax - 1) is returned if there is no positional restriction.
func ParseRegionString(region string) (result Entry, err error) {
	if len(region) == 0 {
		err = errors.E(errors.Invalid, "interval.ParseRegionString: empty region string")
		return
	}
	colonPos := strings.LastIndexByte(region, ':')
	if colonPos == -1 {
		result.ChrName = region
		result.End = PosTypeMax - 1
		return
	}
	if colonPos == 0 {
		err = errors.E(errors.Invalid, "interval.ParseRegionString: empty contig ID")
		return
	}
	result.ChrName = region[:colonPos]
	rangeStr := strings.Replace(region[colonPos+1:], ",", "", -1)
	dashPos := strings.IndexByte(rangeStr, '-')
	if dashPos == -1 {
		var pos1 int
		if pos1, err = strconv.Atoi(rangeStr); err != nil {
			err = errors.E(errors.Invalid, "interval.ParseRegionString", region, err)
			return
		}
		if pos1 <= 0 || pos1 >= PosTypeMax {
			err = errors.E(errors.Invalid, fmt.Sprintf("interval.ParseRegionString: position %v in region string out of range", rangeStr))
			return
		}
		result.Start0 = PosType(pos1 - 1)
		result.End = PosType(pos1)
		return
	}
	var start1, end int
	if start1, err = strconv.Atoi(rangeStr[:dashPos]); err != nil {
		err = errors.E(errors.Invalid, "interval.ParseRegionString", region, err)
		return
	}
	if start1 <= 0 {
		err = errors.E(errors.Invalid, fmt.Sprintf("interval.ParseRegionString: position %v in region string out of range", rangeStr[:dashPos]))
		return
	}
	if end, err = strconv.Atoi(rangeStr[dashPos+1:]); err != nil {
		err = errors.E(errors.Invalid, "interval.ParseRegionString", region, err)
		return
	}
	if end < start1 || end >= PosTypeMax {
		err = errors.E(errors.Invalid, fmt.Sprintf("interval.ParseRegionString: invalid range string %v", rangeStr))
		return
	}
	result.Start0 = PosType(start1 - 1)
	result.End = PosType(end)
	return
}
