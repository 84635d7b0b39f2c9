// SPDX-License-Identifier: Apache-2.0

package mempool

import (
	"github.com/sirupsen/logrus"
)

// Defrag folds free blocks that touch the frontier back into it and merges
// address-adjacent overflow nodes. It reports whether the number of free
// nodes went down.
//
// The overflow list is ordered by size, not address, so adjacency is found
// by comparing offsets rather than by walking neighbours.
func (p *Pool) Defrag() bool {
	p.stats.DefragRuns++
	r := &p.region
	if r.mem == nil {
		return false
	}
	before := p.FreeNodes()

	if p.Remaining() == p.Cap() {
		p.buckets.reset()
		p.overflow.reset()
		r.frontier = r.capacity()
		p.log.WithField("nodes", before).Debug("mempool: pool entirely free, reset")
		return before > 0
	}

	for {
		changed := p.foldBuckets()
		if p.coalesceOverflow() {
			changed = true
		}
		if !changed {
			break
		}
	}

	after := p.FreeNodes()
	p.log.WithFields(logrus.Fields{
		"nodes_before": before,
		"nodes_after":  after,
		"remaining":    p.Remaining(),
	}).Debug("mempool: defragmented")
	return after < before
}

// foldBuckets moves bucket blocks sitting exactly at the frontier into it.
func (p *Pool) foldBuckets() bool {
	r := &p.region
	changed := false
	for b := range p.buckets.heads {
		for r.frontier < r.capacity() && p.buckets.remove(r, b, r.frontier) {
			h := r.at(r.frontier)
			r.frontier += h.size
			h.size = 0
			p.stats.Coalesces++
			changed = true
		}
	}
	return changed
}

// coalesceOverflow applies mergeNode until no node changes, restarting from
// the head after each merge because merges re-order the list.
func (p *Pool) coalesceOverflow() bool {
	r := &p.region
	changed := false
	for n := p.overflow.head; n != noBlock; {
		if p.mergeNode(n) {
			changed = true
			n = p.overflow.head
			continue
		}
		n = r.at(n).next
	}
	return changed
}

func (p *Pool) mergeNode(n uintptr) bool {
	r := &p.region
	l := &p.overflow
	h := r.at(n)

	if n == r.frontier {
		l.unlink(r, n)
		r.frontier += h.size
		h.size = 0
		p.stats.Coalesces++
		return true
	}

	end := n + h.size
	if hi, ok := l.find(r, func(off uintptr) bool { return off == end }); ok {
		l.unlink(r, hi)
		l.unlink(r, n)
		hh := r.at(hi)
		h.size += hh.size
		hh.size = 0
		l.insert(r, n)
		p.stats.Coalesces++
		return true
	}

	if lo, ok := l.find(r, func(off uintptr) bool { return off+r.at(off).size == n }); ok {
		l.unlink(r, lo)
		l.unlink(r, n)
		r.at(lo).size += h.size
		h.size = 0
		l.insert(r, lo)
		p.stats.Coalesces++
		return true
	}
	return false
}
