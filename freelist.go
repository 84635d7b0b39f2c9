// SPDX-License-Identifier: Apache-2.0

package mempool

// freeList is the overflow list: a doubly-linked list threaded through the
// headers of free blocks that no bucket takes, sorted by non-increasing size.
type freeList struct {
	head, tail uintptr
	len        int
	maxNodes   int
	autoDefrag bool
}

func (l *freeList) reset() {
	l.head, l.tail, l.len = noBlock, noBlock, 0
}

// insert links off in descending-size position.
func (l *freeList) insert(r *region, off uintptr) {
	h := r.at(off)
	h.next, h.prev = noBlock, noBlock

	switch {
	case l.head == noBlock:
		l.head, l.tail = off, off
	case h.size > r.at(l.head).size:
		h.next = l.head
		r.at(l.head).prev = off
		l.head = off
	case h.size <= r.at(l.tail).size:
		h.prev = l.tail
		r.at(l.tail).next = off
		l.tail = off
	default:
		// head is at least as large and tail strictly smaller, so the
		// first strictly smaller node exists and has a predecessor.
		n := l.head
		for r.at(n).size >= h.size {
			n = r.at(n).next
		}
		prev := r.at(n).prev
		h.prev, h.next = prev, n
		r.at(prev).next = off
		r.at(n).prev = off
	}
	l.len++
}

func (l *freeList) unlink(r *region, off uintptr) {
	h := r.at(off)
	if h.next != noBlock {
		r.at(h.next).prev = h.prev
	} else {
		l.tail = h.prev
	}
	if h.prev != noBlock {
		r.at(h.prev).next = h.next
	} else {
		l.head = h.next
	}
	h.next, h.prev = noBlock, noBlock
	l.len--
}

// take serves a request of size bytes from the largest node. A node whose
// surplus is within splitThreshold is handed out whole; otherwise the high
// end is carved off and the shrunken node is re-positioned.
func (l *freeList) take(r *region, size uintptr) (off uintptr, split, ok bool) {
	if l.head == noBlock {
		return 0, false, false
	}
	node := l.head
	h := r.at(node)
	if h.size < size {
		return 0, false, false
	}
	if h.size-size <= splitThreshold {
		l.unlink(r, node)
		return node, false, true
	}

	l.unlink(r, node)
	h.size -= size
	l.insert(r, node)

	off = node + h.size
	carved := r.at(off)
	carved.size = size
	carved.next, carved.prev = noBlock, noBlock
	return off, true, true
}

func (l *freeList) contains(r *region, off uintptr) bool {
	for n := l.head; n != noBlock; n = r.at(n).next {
		if n == off {
			return true
		}
	}
	return false
}

// find returns the first node satisfying match.
func (l *freeList) find(r *region, match func(off uintptr) bool) (uintptr, bool) {
	for n := l.head; n != noBlock; n = r.at(n).next {
		if match(n) {
			return n, true
		}
	}
	return 0, false
}

func (l *freeList) bytes(r *region) uintptr {
	var total uintptr
	for n := l.head; n != noBlock; n = r.at(n).next {
		total += r.at(n).size
	}
	return total
}
