package fasta

import (
	"fmt"
	"unicode/utf8"

	"github.com/grailbio/base/errors"
)

// DefaultPrefetch is the default number of bases Cache loads past the start
// of a request on a miss.
const DefaultPrefetch = 1000

// CacheStats counts how Cache requests were served.
type CacheStats struct {
	// Hits is the number of requests answered from the loaded window.
	Hits int
	// Misses is the number of requests that refilled the window from the
	// underlying Fasta.
	Misses int
}

// Cache is a single-contig, forward-sliding window over a Fasta.  Requests
// for positions at or after the window start are served from memory when
// they fit; anything else reloads the window.
//
// Cache is not thread-safe; each goroutine should own its own.
type Cache struct {
	store    Fasta
	prefetch int

	// chrom is "" when no window is loaded.  Otherwise window holds the bases
	// of chrom starting at windowStart, with no gaps.
	chrom       string
	chromLen    int
	windowStart int
	window      []byte

	stats CacheStats
}

// CacheOpt configures NewCache.
type CacheOpt func(*Cache)

// CachePrefetch sets the minimum window size loaded on a miss.
func CachePrefetch(n int) CacheOpt {
	return func(c *Cache) {
		if n > 0 {
			c.prefetch = n
		}
	}
}

// NewCache creates a Cache reading from store.
func NewCache(store Fasta, opts ...CacheOpt) *Cache {
	c := &Cache{store: store, prefetch: DefaultPrefetch}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns the bases of chrom in the 0-based inclusive range [start,
// end].  If end lies past the end of the contig, the result is truncated at
// the contig end.  The returned slice aliases the cache window; it is only
// valid until the next Fetch call.
func (c *Cache) Fetch(chrom string, start, end int) ([]byte, error) {
	if start < 0 || end < start {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("fasta.Cache: invalid range %s:%d-%d", chrom, start, end))
	}
	if chrom == c.chrom && start >= c.windowStart && end < c.windowStart+len(c.window) {
		c.stats.Hits++
		off := start - c.windowStart
		return c.window[off : off+end-start+1], nil
	}
	if err := c.refill(chrom, start, end); err != nil {
		return nil, err
	}
	// end-start+1 overflows for end near the maximum int.
	if end-start >= len(c.window) {
		return c.window, nil
	}
	return c.window[:end-start+1], nil
}

// FetchString is like Fetch, but returns a copy of the bases as a string.  It
// fails if the bases are not valid text.
func (c *Cache) FetchString(chrom string, start, end int) (string, error) {
	b, err := c.Fetch(chrom, start, end)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", errors.E(errors.Invalid, fmt.Sprintf("fasta.Cache: sequence is not valid text at %s:%d-%d", chrom, start, end))
	}
	return string(b), nil
}

// Stats returns the hit and miss counts accumulated so far.
func (c *Cache) Stats() CacheStats {
	return c.stats
}

// refill replaces the window with [start, max(end, start+prefetch)] of chrom,
// truncated at the contig end.
func (c *Cache) refill(chrom string, start, end int) error {
	c.stats.Misses++
	if chrom != c.chrom || c.chrom == "" {
		n, err := c.store.Len(chrom)
		if err != nil {
			c.reset()
			return errors.E(errors.NotExist, fmt.Sprintf("fasta.Cache: unknown sequence %s", chrom), err)
		}
		c.chromLen = int(n)
	}
	if start >= c.chromLen {
		c.reset()
		return errors.E(errors.Invalid, fmt.Sprintf("fasta.Cache: position %d past end of sequence %s (length %d)", start, chrom, c.chromLen))
	}
	limit := start + c.prefetch
	if end > limit {
		limit = end
	}
	// limit is inclusive; Fasta.Get takes a half-open range.
	if limit >= c.chromLen {
		limit = c.chromLen - 1
	}
	seq, err := c.store.Get(chrom, uint64(start), uint64(limit+1))
	if err != nil {
		c.reset()
		return errors.E(errors.Invalid, fmt.Sprintf("fasta.Cache: fetch %s:%d-%d", chrom, start, limit+1), err)
	}
	c.chrom = chrom
	c.windowStart = start
	c.window = append(c.window[:0], seq...)
	return nil
}

func (c *Cache) reset() {
	c.chrom = ""
	c.chromLen = 0
	c.windowStart = 0
	c.window = c.window[:0]
}
