// SPDX-License-Identifier: Apache-2.0

package mempool

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Ptr is the offset of a payload inside a Pool's region. No payload can
// start at offset 0, so the zero Ptr is the nil handle.
type Ptr uintptr

// IsNil reports whether p is the nil handle.
func (p Ptr) IsNil() bool {
	return p == 0
}

// Pool is a fixed-capacity allocator over a single region. Requests are
// served from the size-class buckets first, then from the overflow list,
// then by moving the frontier down.
//
// Pool is not safe for concurrent use. Wrap it with NewLocked if it is
// shared between goroutines.
type Pool struct {
	region   region
	buckets  bucketTable
	overflow freeList

	bucketCount int
	mmap        bool
	log         logrus.FieldLogger

	used  uintptr // bytes held by live blocks, headers included
	peak  uintptr
	stats Stats
}

func newPool(opts []Option) *Pool {
	p := &Pool{
		bucketCount: defaultBucketCount,
		log:         discardLogger(),
	}
	p.overflow.reset()
	for _, opt := range opts {
		opt(p)
	}
	p.buckets = newBucketTable(p.bucketCount)
	return p
}

// New creates a pool that owns a region of capacity bytes, rounded down to
// pointer alignment.
func New(capacity int, opts ...Option) (*Pool, error) {
	if capacity <= 0 || alignDown(uintptr(capacity)) == 0 {
		return nil, ErrInvalidCapacity
	}
	p := newPool(opts)
	r, err := newOwnedRegion(alignDown(uintptr(capacity)), p.mmap)
	if err != nil {
		return nil, fmt.Errorf("mempool: map %d bytes: %w", capacity, err)
	}
	p.region = r
	return p, nil
}

// FromBuffer creates a pool over caller memory. The pool never releases
// buf; the caller must keep it alive and untouched while the pool is used.
// Leading bytes up to pointer alignment and any trailing remainder are
// left unused.
func FromBuffer(buf []byte, opts ...Option) (*Pool, error) {
	r, ok := newBorrowedRegion(buf)
	if !ok {
		return nil, ErrBufferTooSmall
	}
	p := newPool(opts)
	p.region = r
	return p, nil
}

// Clear releases an owned region and resets the pool to empty. Every Ptr
// handed out before is invalid afterwards.
func (p *Pool) Clear() error {
	if p.region.mem == nil {
		return ErrReleased
	}
	if !p.region.owned {
		return ErrBorrowed
	}
	var err error
	if p.region.release != nil {
		err = p.region.release()
	}
	p.region = region{}
	p.buckets.reset()
	p.overflow.reset()
	p.used, p.peak = 0, 0
	p.stats = Stats{}
	p.log.Debug("mempool: region released")
	return err
}

// Reset drops every block and returns the frontier to the top of the
// region without releasing it.
func (p *Pool) Reset() {
	p.region.frontier = p.region.capacity()
	p.buckets.reset()
	p.overflow.reset()
	p.used = 0
}

// Alloc returns a zeroed payload of at least size bytes.
func (p *Pool) Alloc(size int) (Ptr, error) {
	if size <= 0 {
		p.stats.AllocCalls++
		p.stats.AllocFailures++
		return 0, ErrInvalidSize
	}
	off, err := p.allocBlock(uintptr(size))
	if err != nil {
		return 0, err
	}
	clear(p.region.payload(off))
	return Ptr(off + headerSize), nil
}

func (p *Pool) allocBlock(size uintptr) (uintptr, error) {
	p.stats.AllocCalls++
	r := &p.region
	if size > r.capacity() || alignUp(size+headerSize) > r.capacity() {
		p.stats.AllocFailures++
		return 0, ErrNoSpace
	}
	need := alignUp(size + headerSize)

	off, ok := p.buckets.pop(r, need)
	if ok {
		p.stats.BucketHits++
	} else {
		var split bool
		off, split, ok = p.overflow.take(r, need)
		switch {
		case ok && split:
			p.stats.OverflowHits++
			p.stats.Splits++
		case ok:
			p.stats.OverflowHits++
			p.stats.WholeReuses++
		default:
			if off, ok = r.carve(need); !ok {
				p.stats.AllocFailures++
				return 0, ErrNoSpace
			}
			p.stats.FrontierAllocs++
		}
	}

	p.used += r.at(off).size
	if p.used > p.peak {
		p.peak = p.used
	}
	return off, nil
}

// block recovers the header offset behind ptr. The checks are heuristic:
// they reject pointers outside the carved part of the region and headers
// with impossible sizes, but cannot tell a stale or foreign pointer whose
// header bytes happen to look valid from a real one.
func (p *Pool) block(ptr Ptr) (uintptr, bool) {
	r := &p.region
	c := r.capacity()
	if uintptr(ptr) < headerSize || uintptr(ptr) > c {
		return 0, false
	}
	off := uintptr(ptr) - headerSize
	if off%ptrAlign != 0 || off < r.frontier {
		return 0, false
	}
	h := r.at(off)
	if h.size < headerSize || h.size%ptrAlign != 0 || h.size > c-off {
		return 0, false
	}
	return off, true
}

func (p *Pool) isFree(off uintptr) bool {
	return p.buckets.contains(&p.region, off) || p.overflow.contains(&p.region, off)
}

// Free returns the block behind ptr to the pool. On error nothing changes.
func (p *Pool) Free(ptr Ptr) error {
	p.stats.FreeCalls++
	off, ok := p.block(ptr)
	if !ok {
		p.stats.InvalidFrees++
		p.log.WithField("ptr", uintptr(ptr)).Debug("mempool: rejected free of invalid pointer")
		return ErrInvalidPtr
	}
	if p.isFree(off) {
		p.stats.DoubleFrees++
		p.log.WithField("ptr", uintptr(ptr)).Debug("mempool: rejected double free")
		return ErrDoubleFree
	}
	p.release(off)
	return nil
}

func (p *Pool) release(off uintptr) {
	r := &p.region
	h := r.at(off)
	p.used -= h.size

	if off == r.frontier {
		r.frontier += h.size
		h.size = 0
		p.stats.FrontierReclaims++
		return
	}
	if _, ok := p.buckets.index(h.size); ok {
		p.buckets.push(r, off)
		p.stats.BucketFrees++
		return
	}
	p.overflow.insert(r, off)
	p.stats.OverflowFrees++

	l := &p.overflow
	if l.autoDefrag && l.maxNodes > 0 && l.len > l.maxNodes {
		p.stats.AutoDefrags++
		p.log.WithFields(logrus.Fields{
			"nodes":     l.len,
			"max_nodes": l.maxNodes,
		}).Debug("mempool: overflow list over limit, defragmenting")
		p.Defrag()
	}
}

// Cleanup frees *ptr and sets it to nil, whatever the outcome of the free.
func (p *Pool) Cleanup(ptr *Ptr) error {
	if ptr == nil || *ptr == 0 {
		return ErrInvalidPtr
	}
	err := p.Free(*ptr)
	*ptr = 0
	return err
}

// Realloc moves the payload behind ptr into a new block of size bytes,
// copying the common prefix, and frees the old block. A nil ptr behaves
// like Alloc. Size 0 yields a block with an empty payload. On error the
// old block is left untouched.
func (p *Pool) Realloc(ptr Ptr, size int) (Ptr, error) {
	p.stats.ReallocCalls++
	if size < 0 {
		return 0, ErrInvalidSize
	}
	if ptr == 0 {
		return p.Alloc(size)
	}
	old, ok := p.block(ptr)
	if !ok {
		return 0, ErrInvalidPtr
	}
	if p.isFree(old) {
		return 0, ErrDoubleFree
	}

	off, err := p.allocBlock(uintptr(size))
	if err != nil {
		return 0, err
	}
	r := &p.region
	dst, src := r.payload(off), r.payload(old)
	clear(dst)
	copy(dst, src[:min(len(src), size)])
	p.release(old)
	return Ptr(off + headerSize), nil
}

// Bytes returns the payload behind ptr, or nil if ptr fails validation.
// The slice is valid until ptr is freed or reallocated.
func (p *Pool) Bytes(ptr Ptr) []byte {
	off, ok := p.block(ptr)
	if !ok {
		return nil
	}
	return p.region.payload(off)
}

// Remaining returns the frontier slack plus every free block's size.
func (p *Pool) Remaining() int {
	r := &p.region
	return int(r.frontier + p.buckets.bytes(r) + p.overflow.bytes(r))
}

// Cap returns the usable size of the region.
func (p *Pool) Cap() int {
	return int(p.region.capacity())
}

// Len returns the bytes held by live blocks, headers included.
func (p *Pool) Len() int {
	return int(p.used)
}

// Peak returns the highest Len observed since the pool was created or cleared.
func (p *Pool) Peak() int {
	return int(p.peak)
}

// FreeNodes returns the number of free blocks in buckets and the overflow list.
func (p *Pool) FreeNodes() int {
	return p.buckets.count(&p.region) + p.overflow.len
}

// SetMaxNodes sets the overflow-list length that triggers auto-defrag.
func (p *Pool) SetMaxNodes(n int) {
	if n < 0 {
		n = 0
	}
	p.overflow.maxNodes = n
}

// MaxNodes returns the auto-defrag threshold.
func (p *Pool) MaxNodes() int {
	return p.overflow.maxNodes
}

// ToggleAutoDefrag flips auto-defrag on or off.
func (p *Pool) ToggleAutoDefrag() {
	p.overflow.autoDefrag = !p.overflow.autoDefrag
}

// AutoDefrag reports whether auto-defrag is on.
func (p *Pool) AutoDefrag() bool {
	return p.overflow.autoDefrag
}
