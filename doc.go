// SPDX-License-Identifier: Apache-2.0

// Package mempool provides a fixed-capacity, general-purpose allocator that
// manages one pre-sized region and hands out and reclaims variable-sized
// blocks without going back to the Go allocator after setup.
//
// # Layout
//
// Every block starts with a header recording its total size (header
// included). Free blocks reuse the rest of the header as list links, so no
// side storage is needed for bookkeeping:
//
//	+-----------+ lowest offset of the block
//	| size      |
//	| next      |  Overhead bytes
//	| prev      |
//	+-----------+ <- Ptr
//	| payload   |
//	+-----------+ highest offset of the block
//
// Fresh blocks are carved downward from the top of the region. The
// boundary between untouched space and carved blocks is the frontier.
//
// # Allocation
//
// A request is rounded up to pointer alignment, header included, and
// served from, in order:
//
//   - the size-class bucket for that size, whose head is reused whole;
//   - the overflow list, kept sorted by descending size: the largest node
//     is handed out whole if it is at most one header larger than the
//     request, and split from its high end otherwise;
//   - the frontier.
//
// Payloads are zeroed before they are returned.
//
// # Release
//
// A freed block that sits at the frontier moves the frontier back up.
// Otherwise it goes to its bucket, or to the overflow list if no bucket
// takes its size. With auto-defrag on, an overflow list longer than
// MaxNodes triggers Defrag.
//
// Defrag folds free blocks at the frontier back into it and merges
// overflow nodes that touch in the address space.
//
// # Handles
//
// Ptr is an offset into the region, not an address. Bytes turns it into a
// payload slice. Arena offers a pointer-based view for code written against
// the Arena interface.
//
// # Limitations
//
// Validation of a Ptr passed to Free or Realloc is heuristic. It rejects
// offsets outside the carved region, headers with impossible sizes and
// blocks already on a free list, but it cannot tell a corrupted header from
// a valid one with the same bytes, nor a pointer this pool never produced
// that happens to pass the range checks.
//
// # Thread Safety
//
// Pool is not safe for concurrent use. Use NewLocked to share one.
package mempool
