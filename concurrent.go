// SPDX-License-Identifier: Apache-2.0

package mempool

import (
	"sync"
	"unsafe"
)

// Locked serializes every call on a Pool with a mutex so that it can be
// shared between goroutines.
type Locked struct {
	mtx sync.Mutex
	p   *Pool
}

// NewLocked returns a wrapper around p that is safe to be accessed
// concurrently from multiple goroutines. p must not be used directly
// afterwards.
func NewLocked(p *Pool) *Locked {
	return &Locked{p: p}
}

// Do runs fn with the lock held, for sequences that must not interleave
// with other goroutines.
func (l *Locked) Do(fn func(p *Pool)) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	fn(l.p)
}

// Alloc is Pool.Alloc under the lock.
func (l *Locked) Alloc(size int) (Ptr, error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.p.Alloc(size)
}

// Realloc is Pool.Realloc under the lock.
func (l *Locked) Realloc(ptr Ptr, size int) (Ptr, error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.p.Realloc(ptr, size)
}

// Free is Pool.Free under the lock.
func (l *Locked) Free(ptr Ptr) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.p.Free(ptr)
}

// Cleanup is Pool.Cleanup under the lock.
func (l *Locked) Cleanup(ptr *Ptr) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.p.Cleanup(ptr)
}

// Bytes is Pool.Bytes under the lock. The returned slice belongs to the
// caller's block and may be used without the lock until it is freed.
func (l *Locked) Bytes(ptr Ptr) []byte {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.p.Bytes(ptr)
}

// Defrag is Pool.Defrag under the lock.
func (l *Locked) Defrag() bool {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.p.Defrag()
}

// Remaining is Pool.Remaining under the lock.
func (l *Locked) Remaining() int {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.p.Remaining()
}

// Stats is Pool.Stats under the lock.
func (l *Locked) Stats() Stats {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.p.Stats()
}

// Verify is Pool.Verify under the lock.
func (l *Locked) Verify() error {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.p.Verify()
}

// Arena returns a view of the locked pool that satisfies Arena and Freer.
func (l *Locked) Arena() Arena {
	return &lockedArena{l: l, a: poolArena{p: l.p}}
}

type lockedArena struct {
	l *Locked
	a poolArena
}

// Alloc satisfies the Arena interface.
func (a *lockedArena) Alloc(size, alignment uintptr) unsafe.Pointer {
	a.l.mtx.Lock()
	defer a.l.mtx.Unlock()
	return a.a.Alloc(size, alignment)
}

// Free satisfies the Freer interface.
func (a *lockedArena) Free(ptr unsafe.Pointer) bool {
	a.l.mtx.Lock()
	defer a.l.mtx.Unlock()
	return a.a.Free(ptr)
}

// Reset satisfies the Arena interface.
func (a *lockedArena) Reset() {
	a.l.mtx.Lock()
	defer a.l.mtx.Unlock()
	a.a.Reset()
}

// Release satisfies the Arena interface.
func (a *lockedArena) Release() {
	a.l.mtx.Lock()
	defer a.l.mtx.Unlock()
	a.a.Release()
}

// Len returns the total number of bytes currently allocated in the arena.
func (a *lockedArena) Len() int {
	a.l.mtx.Lock()
	defer a.l.mtx.Unlock()
	return a.a.Len()
}

// Cap returns the total capacity (maximum bytes) that can be allocated in the arena.
func (a *lockedArena) Cap() int {
	a.l.mtx.Lock()
	defer a.l.mtx.Unlock()
	return a.a.Cap()
}

// Peak returns the peak number of bytes that have been allocated in the arena.
func (a *lockedArena) Peak() int {
	a.l.mtx.Lock()
	defer a.l.mtx.Unlock()
	return a.a.Peak()
}
