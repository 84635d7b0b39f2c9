// SPDX-License-Identifier: Apache-2.0

package mempool

// bucketTable holds singly-linked free lists, one per size class. Bucket b
// takes blocks whose size satisfies (size >> bucketShift) - 1 == b. Blocks
// in a bucket are reused whole and never split.
type bucketTable struct {
	heads []uintptr
}

func newBucketTable(n int) bucketTable {
	t := bucketTable{heads: make([]uintptr, n)}
	t.reset()
	return t
}

func (t *bucketTable) reset() {
	for i := range t.heads {
		t.heads[i] = noBlock
	}
}

// index returns the bucket for a block size and whether it is in range.
func (t *bucketTable) index(size uintptr) (int, bool) {
	b := int(size>>bucketShift) - 1
	return b, b >= 0 && b < len(t.heads)
}

func (t *bucketTable) push(r *region, off uintptr) {
	h := r.at(off)
	b, _ := t.index(h.size)
	h.next, h.prev = t.heads[b], noBlock
	t.heads[b] = off
}

// pop hands out the head of the request's bucket if it is large enough.
func (t *bucketTable) pop(r *region, size uintptr) (uintptr, bool) {
	b, ok := t.index(size)
	if !ok || t.heads[b] == noBlock {
		return 0, false
	}
	off := t.heads[b]
	h := r.at(off)
	if h.size < size {
		return 0, false
	}
	t.heads[b] = h.next
	h.next, h.prev = noBlock, noBlock
	return off, true
}

func (t *bucketTable) contains(r *region, off uintptr) bool {
	b, ok := t.index(r.at(off).size)
	if !ok {
		return false
	}
	for n := t.heads[b]; n != noBlock; n = r.at(n).next {
		if n == off {
			return true
		}
	}
	return false
}

// remove unlinks off from bucket b. It reports false if off is not there.
func (t *bucketTable) remove(r *region, b int, off uintptr) bool {
	prev := noBlock
	for n := t.heads[b]; n != noBlock; n = r.at(n).next {
		if n != off {
			prev = n
			continue
		}
		next := r.at(n).next
		if prev == noBlock {
			t.heads[b] = next
		} else {
			r.at(prev).next = next
		}
		r.at(n).next = noBlock
		return true
	}
	return false
}

// each calls fn for every block in every bucket until fn returns false.
func (t *bucketTable) each(r *region, fn func(b int, off uintptr) bool) {
	for b, head := range t.heads {
		for n := head; n != noBlock; n = r.at(n).next {
			if !fn(b, n) {
				return
			}
		}
	}
}

func (t *bucketTable) count(r *region) int {
	var n int
	t.each(r, func(int, uintptr) bool {
		n++
		return true
	})
	return n
}

func (t *bucketTable) bytes(r *region) uintptr {
	var total uintptr
	t.each(r, func(_ int, off uintptr) bool {
		total += r.at(off).size
		return true
	})
	return total
}
