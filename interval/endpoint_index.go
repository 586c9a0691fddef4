package interval

import (
	"math"
	"sort"
)

// An interval-union over one reference is stored as a sorted []PosType of
// endpoints: interval k starts at element [2k] and ends (exclusive) at element
// [2k+1].  For example, [5, 15) U [7, 17) U [20, 25) is stored as
//   {5, 17, 20, 25}.
//
// Searching the endpoints for pos+1 yields an EndpointIndex whose low bit says
// whether pos is inside an interval.  UnionScanner walks the covered positions
// in bounded chunks, which is how include-BED intervals become work units.

// PosType is the type used to represent interval coordinates.  BAM positions
// are int32, so this is too.
type PosType int32

// PosTypeMax is the maximum value that can be represented by a PosType.
const PosTypeMax = math.MaxInt32

// SearchPosTypes returns the index of the first element of a that is >= x, or
// len(a) if there is none.
func SearchPosTypes(a []PosType, x PosType) EndpointIndex {
	return EndpointIndex(sort.Search(len(a), func(i int) bool { return a[i] >= x }))
}

// ExpsearchPosType is SearchPosTypes restricted to a[idx:].  It probes
// a[idx], a[idx+1], a[idx+3], a[idx+7], ... before finishing with a binary
// search, so it is fast when the answer is close to idx, as it is during a
// sequential scan.
func ExpsearchPosType(a []PosType, x PosType, idx EndpointIndex) EndpointIndex {
	nextIncr := EndpointIndex(1)
	startIdx := idx
	endIdx := EndpointIndex(len(a))
	for idx < endIdx {
		if a[idx] >= x {
			endIdx = idx
			break
		}
		startIdx = idx + 1
		idx += nextIncr
		nextIncr *= 2
	}
	for startIdx < endIdx {
		midIdx := EndpointIndex((uint(startIdx) + uint(endIdx)) >> 1)
		if a[midIdx] >= x {
			endIdx = midIdx
		} else {
			startIdx = midIdx + 1
		}
	}
	return startIdx
}

// EndpointIndex is the result of SearchPosTypes(endpoints, pos+1).  Note the
// "+1": it lines the search up with left-closed right-open intervals.
type EndpointIndex uint32

// NewEndpointIndex returns SearchPosTypes(endpoints, pos+1).
func NewEndpointIndex(pos PosType, endpoints []PosType) EndpointIndex {
	return SearchPosTypes(endpoints, pos+1)
}

// Contained returns whether the position is inside an interval.
func (ei EndpointIndex) Contained() bool {
	return ei&1 != 0
}

// Finished returns whether the position is past the last interval.
func (ei EndpointIndex) Finished(endpoints []PosType) bool {
	return ei >= EndpointIndex(len(endpoints))
}

// Update moves the index to newPos, which must not be smaller than the
// position the index currently refers to.
func (ei *EndpointIndex) Update(newPos PosType, endpoints []PosType) {
	*ei = ExpsearchPosType(endpoints, newPos+1, *ei)
}

// UnionScanner iterates over the covered positions of an interval-union.
//
// Invariants:
//   endpointIdx == SearchPosTypes(endpoints, pos+1)
//   pos is either inside an interval, or PosTypeMax
type UnionScanner struct {
	endpoints   []PosType
	pos         PosType
	endpointIdx EndpointIndex
}

// NewUnionScanner returns a UnionScanner positioned at the start of the first
// interval.
func NewUnionScanner(endpoints []PosType) UnionScanner {
	us := UnionScanner{endpoints: endpoints, pos: PosTypeMax}
	if len(endpoints) >= 2 {
		us.pos = endpoints[0]
		us.endpointIdx = 1
	}
	return us
}

// Pos returns the next position to be visited, or PosTypeMax if there is
// none.
func (us *UnionScanner) Pos() PosType {
	return us.pos
}

// Scan sets [*start, *end) to the next covered run of positions below limit.
// A run never crosses an interval boundary or limit.  Typical usage:
//   for us.Scan(&start, &end, limit) {
//     for pos := start; pos < end; pos++ {
//       ...
//     }
//   }
func (us *UnionScanner) Scan(start *PosType, end *PosType, limit PosType) bool {
	if us.pos >= limit {
		return false
	}
	*start = us.pos
	intervalEnd := us.endpoints[us.endpointIdx]
	if intervalEnd > limit {
		us.pos = limit
		*end = limit
		return true
	}
	*end = intervalEnd
	us.endpointIdx++
	if us.endpointIdx.Finished(us.endpoints) {
		us.pos = PosTypeMax
	} else {
		us.pos = us.endpoints[us.endpointIdx]
		us.endpointIdx++
	}
	return true
}
