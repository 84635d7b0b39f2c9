// SPDX-License-Identifier: Apache-2.0

package mempool

import (
	"unsafe"
)

const growThreshold = 256

// AllocateSlice creates a slice of type T with a given length and capacity,
// using the provided Arena for memory allocation.
// If the arena is non-nil and has room, the backing array comes from the arena.
// Otherwise, it returns a slice using Go's built-in make function.
func AllocateSlice[T any](a Arena, len, cap int) []T {
	if a != nil && cap > 0 {
		var x T
		bufSize := int(unsafe.Sizeof(x)) * cap
		if ptr := (*T)(a.Alloc(uintptr(bufSize), unsafe.Alignof(x))); ptr != nil {
			s := unsafe.Slice(ptr, cap)
			return s[:len]
		}
	}
	return make([]T, len, cap)
}

// SliceAppend appends elements to a slice of type T using a provided Arena
// for memory allocation if needed.
//
// When the slice has to move and the arena implements Freer, the old
// backing array is handed back to the arena. s must then be nil, a slice
// from make, or a slice whose first element is the start of an arena
// allocation (as returned by AllocateSlice or SliceAppend); a re-sliced
// s[i:] from the arena would be mistaken for a block header.
func SliceAppend[T any](a Arena, s []T, data ...T) []T {
	if a == nil {
		return append(s, data...)
	}
	s = growSlice(a, s, len(data))
	s = append(s, data...)
	return s
}

func growSlice[T any](a Arena, s []T, dataLen int) []T {
	newLen := len(s) + dataLen
	newCap := cap(s)

	if newCap > 0 {
		for newLen > newCap {
			if newCap < growThreshold {
				newCap *= 2
			} else {
				newCap += newCap / 4
			}
		}
	} else {
		newCap = dataLen
	}
	if newCap == cap(s) {
		return s
	}
	s2 := AllocateSlice[T](a, len(s), newCap)
	copy(s2, s)
	if f, ok := a.(Freer); ok && cap(s) > 0 {
		f.Free(unsafe.Pointer(unsafe.SliceData(s)))
	}
	return s2
}
