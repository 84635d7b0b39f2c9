// SPDX-License-Identifier: Apache-2.0

package mempool

import (
	"cmp"
	"fmt"
	"slices"
)

// Stats holds allocator counters. They are reset by Clear only.
type Stats struct {
	AllocCalls     int // block allocations attempted, including those made by Realloc
	ReallocCalls   int
	FreeCalls      int
	BucketHits     int // allocations served whole from a bucket
	OverflowHits   int // allocations served from the overflow list
	Splits         int // overflow nodes carved into two
	WholeReuses    int // overflow nodes handed out unsplit
	FrontierAllocs int // allocations that moved the frontier
	AllocFailures  int

	FrontierReclaims int // frees merged straight into the frontier
	BucketFrees      int
	OverflowFrees    int
	InvalidFrees     int
	DoubleFrees      int

	DefragRuns  int
	AutoDefrags int // defrag runs triggered by the overflow node limit
	Coalesces   int // blocks merged into a neighbour or the frontier
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Stats {
	return p.stats
}

type span struct {
	off, size uintptr
}

// Verify walks every free structure and checks the allocator invariants:
// bucket membership, overflow ordering and links, that no two free blocks
// overlap or reach below the frontier, and that free plus live bytes add
// up to the capacity. It is meant for tests and debugging tools.
func (p *Pool) Verify() error {
	r := &p.region
	c := r.capacity()
	if r.frontier > c {
		return fmt.Errorf("%w: frontier %d beyond capacity %d", ErrCorrupt, r.frontier, c)
	}
	limit := int(c/headerSize) + 1

	var spans []span
	inRange := func(off uintptr) bool {
		return off < c && c-off >= headerSize
	}

	for b, head := range p.buckets.heads {
		for n := head; n != noBlock; n = r.at(n).next {
			if !inRange(n) {
				return fmt.Errorf("%w: bucket %d links to offset %d outside the region", ErrCorrupt, b, n)
			}
			size := r.at(n).size
			if idx, ok := p.buckets.index(size); !ok || idx != b {
				return fmt.Errorf("%w: block %d of size %d stored in bucket %d", ErrCorrupt, n, size, b)
			}
			spans = append(spans, span{n, size})
			if len(spans) > limit {
				return fmt.Errorf("%w: bucket %d does not terminate", ErrCorrupt, b)
			}
		}
	}

	l := &p.overflow
	count, prev := 0, noBlock
	var prevSize uintptr
	for n := l.head; n != noBlock; n = r.at(n).next {
		if !inRange(n) {
			return fmt.Errorf("%w: overflow list links to offset %d outside the region", ErrCorrupt, n)
		}
		h := r.at(n)
		if h.prev != prev {
			return fmt.Errorf("%w: overflow node %d has prev %d, want %d", ErrCorrupt, n, h.prev, prev)
		}
		if prev != noBlock && h.size > prevSize {
			return fmt.Errorf("%w: overflow node %d (size %d) follows a smaller node (size %d)", ErrCorrupt, n, h.size, prevSize)
		}
		spans = append(spans, span{n, h.size})
		prev, prevSize = n, h.size
		if count++; count > limit {
			return fmt.Errorf("%w: overflow list does not terminate", ErrCorrupt)
		}
	}
	if prev != l.tail {
		return fmt.Errorf("%w: overflow tail %d, last node %d", ErrCorrupt, l.tail, prev)
	}
	if count != l.len {
		return fmt.Errorf("%w: overflow length %d, counted %d", ErrCorrupt, l.len, count)
	}

	slices.SortFunc(spans, func(a, b span) int { return cmp.Compare(a.off, b.off) })
	var free uintptr
	for i, s := range spans {
		switch {
		case s.off < r.frontier:
			return fmt.Errorf("%w: free block %d below frontier %d", ErrCorrupt, s.off, r.frontier)
		case s.size < headerSize || s.size%ptrAlign != 0 || s.size > c-s.off:
			return fmt.Errorf("%w: free block %d has bad size %d", ErrCorrupt, s.off, s.size)
		case i > 0 && spans[i-1].off+spans[i-1].size > s.off:
			return fmt.Errorf("%w: free blocks %d and %d overlap", ErrCorrupt, spans[i-1].off, s.off)
		}
		free += s.size
	}

	if r.frontier+free+p.used != c {
		return fmt.Errorf("%w: free %d + frontier %d + live %d != capacity %d",
			ErrCorrupt, free, r.frontier, p.used, c)
	}
	return nil
}
