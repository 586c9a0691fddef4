package interval

import (
	"context"
	"fmt"
	"sort"

	"github.com/biogo/hts/sam"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// BEDUnion is a collection of per-reference endpoint slices (see
// endpoint_index.go), indexed by sam.Header reference ID.  Within one
// reference, the intervals are sorted and disjoint; overlapping and touching
// input intervals are merged.
//
// The interval set is immutable once built.  The lookup cursor is not, so a
// BEDUnion must not be queried from multiple goroutines; use Clone to give
// each goroutine its own cursor over the shared intervals.
type BEDUnion struct {
	// idMap[refID] holds the endpoints for that reference, or nil.
	idMap      [][]PosType
	totalBases int64

	// lastRefID and lastPos are the arguments of the previous ContainsByID
	// call, and lastIdx is NewEndpointIndex(lastPos, idMap[lastRefID]).
	// Queries at nondecreasing positions reuse lastIdx.
	lastRefID int
	lastPos   PosType
	lastIdx   EndpointIndex
}

type span struct {
	start, end PosType
}

// NewBEDUnion builds a BEDUnion from entries, resolving contig names through
// header.  Entries may be in any order.  Entries on contigs absent from the
// header are skipped with a warning (logged once per contig).  An entry whose
// end precedes its start is an error of kind errors.Invalid.
func NewBEDUnion(entries []Entry, header *sam.Header) (bedUnion BEDUnion, err error) {
	if header == nil {
		err = errors.E(errors.Invalid, "interval.NewBEDUnion: nil SAM header")
		return
	}
	refs := header.Refs()
	nameToID := make(map[string]int, len(refs))
	for _, ref := range refs {
		nameToID[ref.Name()] = ref.ID()
	}
	spans := make([][]span, len(refs))
	unknown := make(map[string]bool)
	for i, e := range entries {
		if e.Start0 < 0 || e.End < e.Start0 || e.End >= PosTypeMax {
			err = errors.E(errors.Invalid,
				fmt.Sprintf("interval.NewBEDUnion: malformed interval #%d %s:[%d, %d)", i, e.ChrName, e.Start0, e.End))
			return
		}
		refID, ok := nameToID[e.ChrName]
		if !ok {
			if !unknown[e.ChrName] {
				unknown[e.ChrName] = true
				log.Error.Printf("interval.NewBEDUnion: contig %s is not in the BAM header, skipping its intervals", e.ChrName)
			}
			continue
		}
		if e.End == e.Start0 {
			continue
		}
		spans[refID] = append(spans[refID], span{e.Start0, e.End})
	}

	bedUnion.idMap = make([][]PosType, len(refs))
	bedUnion.lastRefID = -1
	for refID, s := range spans {
		if len(s) == 0 {
			continue
		}
		sort.Slice(s, func(i, j int) bool { return s[i].start < s[j].start })
		endpoints := make([]PosType, 0, 2*len(s))
		cur := s[0]
		for _, next := range s[1:] {
			if next.start <= cur.end {
				if next.end > cur.end {
					cur.end = next.end
				}
				continue
			}
			endpoints = append(endpoints, cur.start, cur.end)
			bedUnion.totalBases += int64(cur.end - cur.start)
			cur = next
		}
		endpoints = append(endpoints, cur.start, cur.end)
		bedUnion.totalBases += int64(cur.end - cur.start)
		bedUnion.idMap[refID] = endpoints
	}
	return
}

// NewBEDUnionFromPath is a wrapper for NewBEDUnion that reads the entries
// from the BED file at path.
func NewBEDUnionFromPath(ctx context.Context, path string, header *sam.Header) (bedUnion BEDUnion, err error) {
	var entries []Entry
	if entries, err = ReadBEDFromPath(ctx, path); err != nil {
		return
	}
	if bedUnion, err = NewBEDUnion(entries, header); err != nil {
		err = errors.E(err, path)
		return
	}
	log.Printf("BED %s loaded, %d base(s) covered.", path, bedUnion.totalBases)
	return
}

// ContainsByID checks whether the (0-based) interval [pos, pos+1) is contained
// within the BEDUnion, where the reference is specified by sam.Header ID.
// Unknown reference IDs are never contained.
func (u *BEDUnion) ContainsByID(refID int, pos PosType) bool {
	if refID < 0 || refID >= len(u.idMap) {
		return false
	}
	endpoints := u.idMap[refID]
	if endpoints == nil {
		return false
	}
	if refID == u.lastRefID && pos >= u.lastPos {
		u.lastIdx.Update(pos, endpoints)
	} else {
		u.lastRefID = refID
		u.lastIdx = NewEndpointIndex(pos, endpoints)
	}
	u.lastPos = pos
	return u.lastIdx.Contained()
}

// Intervals returns the sorted, disjoint endpoints for refID: interval k is
// [result[2k], result[2k+1]).  The result must not be modified.
func (u *BEDUnion) Intervals(refID int) []PosType {
	if refID < 0 || refID >= len(u.idMap) {
		return nil
	}
	return u.idMap[refID]
}

// TotalBases returns the number of positions covered by the union.
func (u *BEDUnion) TotalBases() int64 {
	return u.totalBases
}

// Clone returns a new BEDUnion which shares the interval set, but has its own
// search state.
func (u *BEDUnion) Clone() BEDUnion {
	return BEDUnion{
		idMap:      u.idMap,
		totalBases: u.totalBases,
		lastRefID:  -1,
	}
}
