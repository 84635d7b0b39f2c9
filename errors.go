// SPDX-License-Identifier: Apache-2.0

package mempool

import "errors"

var (
	// ErrInvalidCapacity indicates New was asked for a pool that cannot hold a single block.
	ErrInvalidCapacity = errors.New("mempool: invalid capacity")

	// ErrBufferTooSmall indicates a borrowed buffer holds no more than one header after alignment.
	ErrBufferTooSmall = errors.New("mempool: buffer too small")

	// ErrInvalidSize indicates a non-positive (or, for Realloc, negative) request size.
	ErrInvalidSize = errors.New("mempool: invalid size")

	// ErrNoSpace indicates that neither the free lists nor the frontier can satisfy the request.
	ErrNoSpace = errors.New("mempool: no space left")

	// ErrInvalidPtr indicates a pointer that is nil, outside the region, or fails header checks.
	ErrInvalidPtr = errors.New("mempool: invalid pointer")

	// ErrDoubleFree indicates a pointer whose block is already on a free list.
	ErrDoubleFree = errors.New("mempool: double free")

	// ErrBorrowed indicates Clear on a pool whose region belongs to the caller.
	ErrBorrowed = errors.New("mempool: region is borrowed")

	// ErrReleased indicates Clear on a pool that has already been cleared.
	ErrReleased = errors.New("mempool: region already released")

	// ErrCorrupt is wrapped by every invariant violation Verify reports.
	ErrCorrupt = errors.New("mempool: corrupt state")
)
