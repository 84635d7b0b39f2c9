// SPDX-License-Identifier: Apache-2.0

package mempool

import (
	"unsafe"
)

// region is the backing buffer. Offsets below frontier have never been
// carved into blocks (or have been handed back); blocks live in
// [frontier, len(mem)).
//
// All reinterpretation of region bytes as headers goes through at, which
// bounds-checks the whole header against mem.
type region struct {
	mem      []byte
	frontier uintptr
	owned    bool
	release  func() error
}

func newOwnedRegion(capacity uintptr, mmap bool) (region, error) {
	if mmap {
		mem, release, err := mapAnonymous(int(capacity))
		if err != nil {
			return region{}, err
		}
		return region{mem: mem, frontier: capacity, owned: true, release: release}, nil
	}
	// make zero-fills and the Go allocator aligns it to at least ptrAlign.
	mem := make([]byte, capacity)
	return region{mem: mem, frontier: capacity, owned: true}, nil
}

// newBorrowedRegion trims buf so that both ends sit on pointer alignment.
// It returns ok == false if what is left cannot hold more than one header.
func newBorrowedRegion(buf []byte) (region, bool) {
	if len(buf) == 0 {
		return region{}, false
	}
	base := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	pad := alignUp(base) - base
	if pad >= uintptr(len(buf)) {
		return region{}, false
	}
	capacity := alignDown(uintptr(len(buf)) - pad)
	if capacity <= headerSize {
		return region{}, false
	}
	mem := buf[pad : pad+capacity : pad+capacity]
	return region{mem: mem, frontier: capacity}, true
}

func (r *region) capacity() uintptr {
	return uintptr(len(r.mem))
}

func (r *region) at(off uintptr) *header {
	b := r.mem[off : off+headerSize : off+headerSize]
	return (*header)(unsafe.Pointer(unsafe.SliceData(b)))
}

// payload returns the bytes following the header of the block at off.
func (r *region) payload(off uintptr) []byte {
	end := off + r.at(off).size
	return r.mem[off+headerSize : end : end]
}

// carve moves the frontier down by size and stamps a header there.
func (r *region) carve(size uintptr) (uintptr, bool) {
	if size > r.frontier {
		return 0, false
	}
	r.frontier -= size
	h := r.at(r.frontier)
	h.size = size
	h.next, h.prev = noBlock, noBlock
	return r.frontier, true
}

// base is the address of the first region byte, used to translate between
// raw pointers and offsets.
func (r *region) base() uintptr {
	if len(r.mem) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(r.mem)))
}

// offsetOf translates an address inside the region into an offset.
func (r *region) offsetOf(ptr unsafe.Pointer) (uintptr, bool) {
	addr, base := uintptr(ptr), r.base()
	if base == 0 || addr < base || addr >= base+r.capacity() {
		return 0, false
	}
	return addr - base, true
}

func (r *region) pointer(off uintptr) unsafe.Pointer {
	return unsafe.Pointer(&r.mem[off])
}
