// SPDX-License-Identifier: Apache-2.0

package mempool

import (
	"io"
)

const minRead = 512

// Buffer is a bytes.Buffer-like struct whose storage is a single pool
// block. It implements io.Writer, io.Reader, io.WriterTo and io.ReaderFrom.
// Growing the buffer reallocates the block, so slices returned by Bytes are
// only valid until the next write.
type Buffer struct {
	pool *Pool
	ptr  Ptr
	heap []byte // storage when pool is nil
	n    int    // unread bytes at the front of the storage
}

// NewPoolBuffer creates a new Buffer backed by the given pool.
// If pool is nil, it will fall back to standard Go allocation.
func NewPoolBuffer(pool *Pool) *Buffer {
	return &Buffer{pool: pool}
}

func (b *Buffer) storage() []byte {
	if b.pool == nil {
		return b.heap
	}
	if b.ptr.IsNil() {
		return nil
	}
	return b.pool.Bytes(b.ptr)
}

// grow makes room for extra more bytes. A failed grow leaves the contents
// in place.
func (b *Buffer) grow(extra int) error {
	need := b.n + extra
	have := len(b.storage())
	if need <= have {
		return nil
	}
	newCap := have
	if newCap == 0 {
		newCap = need
	}
	for newCap < need {
		if newCap < growThreshold {
			newCap *= 2
		} else {
			newCap += newCap / 4
		}
	}

	if b.pool == nil {
		heap := make([]byte, newCap)
		copy(heap, b.heap[:b.n])
		b.heap = heap
		return nil
	}

	ptr, err := b.pool.Realloc(b.ptr, newCap)
	if err != nil && newCap > need {
		ptr, err = b.pool.Realloc(b.ptr, need)
	}
	if err != nil {
		return err
	}
	b.ptr = ptr
	return nil
}

// Write implements io.Writer interface.
// It writes len(p) bytes from p to the buffer, or none if the pool is full.
func (b *Buffer) Write(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := b.grow(len(p)); err != nil {
		return 0, err
	}
	b.n += copy(b.storage()[b.n:], p)
	return len(p), nil
}

// WriteByte writes a single byte to the buffer.
func (b *Buffer) WriteByte(c byte) error {
	if err := b.grow(1); err != nil {
		return err
	}
	b.storage()[b.n] = c
	b.n++
	return nil
}

// WriteString writes a string to the buffer.
func (b *Buffer) WriteString(s string) (n int, err error) {
	if len(s) == 0 {
		return 0, nil
	}
	if err := b.grow(len(s)); err != nil {
		return 0, err
	}
	b.n += copy(b.storage()[b.n:], s)
	return len(s), nil
}

// WriteTo implements io.WriterTo. Written bytes are removed from the buffer.
func (b *Buffer) WriteTo(w io.Writer) (n int64, err error) {
	if b.n == 0 {
		return 0, nil
	}
	data := b.storage()
	m, err := w.Write(data[:b.n])
	if m > 0 {
		n = int64(m)
		b.consume(data, m)
	}
	return n, err
}

// Read reads up to len(p) bytes from the buffer into p.
// It returns io.EOF once the buffer is empty.
func (b *Buffer) Read(p []byte) (n int, err error) {
	if b.n == 0 {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	data := b.storage()
	n = copy(p, data[:b.n])
	b.consume(data, n)
	return n, nil
}

// ReadByte reads and returns the next byte from the buffer.
// If no byte is available, it returns io.EOF.
func (b *Buffer) ReadByte() (byte, error) {
	if b.n == 0 {
		return 0, io.EOF
	}
	data := b.storage()
	c := data[0]
	b.consume(data, 1)
	return c, nil
}

// consume drops the first m unread bytes by shifting the rest down.
func (b *Buffer) consume(data []byte, m int) {
	copy(data, data[m:b.n])
	b.n -= m
}

// Bytes returns a slice of length b.Len() holding the unread portion of the buffer.
// The slice is valid for use only until the next buffer modification.
func (b *Buffer) Bytes() []byte {
	if b.n == 0 {
		return []byte{}
	}
	return b.storage()[:b.n]
}

// String returns the contents of the unread portion of the buffer as a string.
func (b *Buffer) String() string {
	return string(b.Bytes())
}

// Len returns the number of bytes of the unread portion of the buffer.
func (b *Buffer) Len() int {
	return b.n
}

// Cap returns the number of bytes the buffer can hold without growing.
func (b *Buffer) Cap() int {
	return len(b.storage())
}

// Reset resets the buffer to be empty but keeps its storage.
func (b *Buffer) Reset() {
	b.n = 0
}

// Truncate discards all but the first n unread bytes from the buffer.
// It panics if n is negative or greater than the length of the buffer.
func (b *Buffer) Truncate(n int) {
	if n < 0 || n > b.n {
		panic("mempool: truncation out of range")
	}
	b.n = n
}

// Next returns a copy of the next n bytes from the buffer,
// advancing the buffer as if the bytes had been returned by Read.
func (b *Buffer) Next(n int) []byte {
	if n <= 0 || b.n == 0 {
		return []byte{}
	}
	n = min(n, b.n)
	data := b.storage()
	result := make([]byte, n)
	copy(result, data[:n])
	b.consume(data, n)
	return result
}

// ReadFrom implements io.ReaderFrom interface.
// It reads data from r until EOF or error, growing the buffer as needed.
func (b *Buffer) ReadFrom(r io.Reader) (n int64, err error) {
	for {
		if err := b.grow(minRead); err != nil {
			return n, err
		}
		m, er := r.Read(b.storage()[b.n:])
		if m > 0 {
			b.n += m
			n += int64(m)
		}
		if er == io.EOF {
			return n, nil
		}
		if er != nil {
			return n, er
		}
	}
}

// Release hands the storage back to the pool and empties the buffer.
func (b *Buffer) Release() error {
	b.n = 0
	b.heap = nil
	if b.pool == nil || b.ptr.IsNil() {
		return nil
	}
	return b.pool.Cleanup(&b.ptr)
}
