// SPDX-License-Identifier: Apache-2.0

package mempool

import (
	"unsafe"
)

// header prefixes every block in the region. size counts the header itself.
// next and prev are region offsets and only mean something while the block
// is free; a live block keeps them set to noBlock.
type header struct {
	size uintptr
	next uintptr
	prev uintptr
}

const (
	ptrAlign   = unsafe.Sizeof(uintptr(0))
	headerSize = unsafe.Sizeof(header{})

	// noBlock terminates intrusive lists. Offset 0 is a valid block
	// position, so the sentinel is the all-ones offset.
	noBlock = ^uintptr(0)

	// A free node whose surplus over the request is at most this many bytes
	// is handed out whole instead of being split.
	splitThreshold = headerSize

	bucketShift        = ptrAlign >> 1
	defaultBucketCount = 8
)

// Overhead is the number of bytes each block spends on its header.
const Overhead = int(headerSize)

func alignUp(n uintptr) uintptr {
	return (n + ptrAlign - 1) &^ (ptrAlign - 1)
}

func alignDown(n uintptr) uintptr {
	return n &^ (ptrAlign - 1)
}

// BlockSize returns the number of bytes of the region a request for size
// payload bytes consumes, header included.
func BlockSize(size int) int {
	if size < 0 {
		return 0
	}
	return int(alignUp(uintptr(size) + headerSize))
}
