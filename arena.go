// SPDX-License-Identifier: Apache-2.0

package mempool

import (
	"errors"
	"math"
	"unsafe"
)

// Arena is an interface that describes a memory allocation arena.
type Arena interface {
	// Alloc allocates memory of the given size and returns a pointer to it.
	// The alignment parameter specifies the alignment of the allocated memory.
	// It returns nil if the request cannot be served.
	Alloc(size, alignment uintptr) unsafe.Pointer

	// Reset resets the arena's state without releasing the underlying memory.
	// After invoking this method any pointer previously returned by Alloc becomes immediately invalid.
	Reset()

	// Release releases the arena's underlying memory.
	// After invoking this method, the arena should not be used for further allocations.
	Release()

	// Len returns the total number of bytes currently allocated in the arena.
	Len() int

	// Cap returns the total capacity (maximum bytes) that can be allocated in the arena.
	Cap() int

	// Peak returns the peak number of bytes that have been allocated in the arena.
	Peak() int
}

// Freer is implemented by arenas that can take back individual allocations.
type Freer interface {
	// Free releases memory previously returned by Alloc on the same arena.
	// It reports false if ptr was not recognised.
	Free(ptr unsafe.Pointer) bool
}

// Allocate allocates memory for a value of type T using the provided Arena.
// If the arena is non-nil, it returns a  *T pointer with memory allocated from the arena.
// If passed arena is nil or out of space, it allocates memory using Go's built-in new function.
//
// Arena memory is not scanned by the garbage collector, so T must not hold
// the only reference to heap objects.
func Allocate[T any](a Arena) *T {
	if a != nil {
		var x T
		if ptr := a.Alloc(unsafe.Sizeof(x), unsafe.Alignof(x)); ptr != nil {
			return (*T)(ptr)
		}
	}
	return new(T)
}

// Arena returns a pointer-based view of the pool. Alignments above pointer
// size are refused.
func (p *Pool) Arena() Arena {
	return &poolArena{p: p}
}

type poolArena struct {
	p *Pool
}

var _ Freer = (*poolArena)(nil)

// Alloc satisfies the Arena interface.
func (a *poolArena) Alloc(size, alignment uintptr) unsafe.Pointer {
	if alignment == 0 {
		alignment = 1
	}
	if alignment > ptrAlign || alignment&(alignment-1) != 0 || size > math.MaxInt {
		return nil
	}
	ptr, err := a.p.Alloc(int(size))
	if err != nil {
		return nil
	}
	return a.p.region.pointer(uintptr(ptr))
}

// Free satisfies the Freer interface.
func (a *poolArena) Free(ptr unsafe.Pointer) bool {
	off, ok := a.p.region.offsetOf(ptr)
	if !ok {
		return false
	}
	return a.p.Free(Ptr(off)) == nil
}

// Reset satisfies the Arena interface.
func (a *poolArena) Reset() {
	a.p.Reset()
}

// Release satisfies the Arena interface. A borrowed region cannot be
// released, so it is reset instead.
func (a *poolArena) Release() {
	if err := a.p.Clear(); errors.Is(err, ErrBorrowed) {
		a.p.Reset()
	}
}

// Len satisfies the Arena interface.
func (a *poolArena) Len() int {
	return a.p.Len()
}

// Cap satisfies the Arena interface.
func (a *poolArena) Cap() int {
	return a.p.Cap()
}

// Peak satisfies the Arena interface.
func (a *poolArena) Peak() int {
	return a.p.Peak()
}
