// SPDX-License-Identifier: Apache-2.0

package mempool

import (
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func mustAlloc(t *testing.T, p *Pool, size int) Ptr {
	t.Helper()
	ptr, err := p.Alloc(size)
	require.NoError(t, err)
	require.False(t, ptr.IsNil())
	return ptr
}

func skipUnless64Bit(t *testing.T) {
	t.Helper()
	if ptrAlign != 8 {
		t.Skip("block layout in this test assumes 8-byte words")
	}
}

func TestPoolScenario(t *testing.T) {
	p, err := New(1000)
	require.NoError(t, err)
	require.Equal(t, 1000, p.Cap())
	require.Equal(t, 1000, p.Remaining())

	ptr := mustAlloc(t, p, 4)
	require.Equal(t, 1000-BlockSize(4), p.Remaining())

	require.NoError(t, p.Free(ptr))
	require.Equal(t, 1000, p.Remaining())

	a := mustAlloc(t, p, 400)
	mustAlloc(t, p, 400)
	frontier := p.region.frontier
	require.NoError(t, p.Free(a))
	before := p.Remaining()

	c := mustAlloc(t, p, 100)
	require.Equal(t, frontier, p.region.frontier, "reuse must not touch the frontier")
	require.Equal(t, before-BlockSize(100), p.Remaining())

	// carved from the high end of a's block
	aOff := uintptr(a) - headerSize
	require.Equal(t, aOff+uintptr(BlockSize(400)-BlockSize(100))+headerSize, uintptr(c))
	require.Equal(t, 1, p.Stats().Splits)
	require.NoError(t, p.Verify())
}

func TestNewCapacity(t *testing.T) {
	_, err := New(0)
	require.ErrorIs(t, err, ErrInvalidCapacity)

	_, err = New(-10)
	require.ErrorIs(t, err, ErrInvalidCapacity)

	_, err = New(int(ptrAlign) - 1)
	require.ErrorIs(t, err, ErrInvalidCapacity)

	p, err := New(1000 + int(ptrAlign) - 1)
	require.NoError(t, err)
	require.Equal(t, 1000, p.Cap())
	require.True(t, p.region.owned)
}

func TestAllocAlignmentAndZeroing(t *testing.T) {
	p, err := New(4096)
	require.NoError(t, err)

	for _, size := range []int{1, 3, 7, 8, 13, 64, 100, 333} {
		ptr := mustAlloc(t, p, size)
		require.Zero(t, uintptr(ptr)%ptrAlign)
		require.Zero(t, uintptr(p.region.pointer(uintptr(ptr)))%ptrAlign)
		b := p.Bytes(ptr)
		require.GreaterOrEqual(t, len(b), size)
		require.Equal(t, BlockSize(size)-Overhead, len(b))
	}

	// a reused block comes back zeroed
	x := mustAlloc(t, p, 48)
	mustAlloc(t, p, 8)
	for i := range p.Bytes(x) {
		p.Bytes(x)[i] = 0xFF
	}
	require.NoError(t, p.Free(x))
	y := mustAlloc(t, p, 48)
	require.Equal(t, x, y)
	for _, c := range p.Bytes(y) {
		require.Zero(t, c)
	}
}

func TestAllocFailures(t *testing.T) {
	p, err := New(1000)
	require.NoError(t, err)

	_, err = p.Alloc(0)
	require.ErrorIs(t, err, ErrInvalidSize)
	_, err = p.Alloc(-1)
	require.ErrorIs(t, err, ErrInvalidSize)

	_, err = p.Alloc(1000)
	require.ErrorIs(t, err, ErrNoSpace)
	require.Equal(t, 1000, p.Remaining())

	ptr := mustAlloc(t, p, 1000-Overhead)
	require.Equal(t, 0, p.Remaining())
	require.Len(t, p.Bytes(ptr), 1000-Overhead)

	_, err = p.Alloc(1)
	require.ErrorIs(t, err, ErrNoSpace)
	require.Equal(t, 0, p.Remaining())
	require.Equal(t, 4, p.Stats().AllocFailures)
	require.NoError(t, p.Verify())
}

func TestBucketRoundTrip(t *testing.T) {
	skipUnless64Bit(t)
	p, err := New(1024)
	require.NoError(t, err)

	x := mustAlloc(t, p, 48) // 72-byte block, bucket 3
	mustAlloc(t, p, 8)       // keeps x off the frontier
	before := p.Remaining()

	require.NoError(t, p.Free(x))
	require.Equal(t, before+BlockSize(48), p.Remaining())
	require.Equal(t, 1, p.Stats().BucketFrees)

	y := mustAlloc(t, p, 40) // 64-byte request, same bucket
	require.Equal(t, x, y)
	require.Equal(t, before, p.Remaining())
	require.Equal(t, 1, p.Stats().BucketHits)
	require.Len(t, p.Bytes(y), BlockSize(48)-Overhead)

	// a bucket head smaller than the request is passed over
	s := mustAlloc(t, p, 40) // 64-byte block, bucket 3
	mustAlloc(t, p, 8)
	require.NoError(t, p.Free(s))
	z := mustAlloc(t, p, 48) // 72 bytes, bucket 3, head too small
	require.NotEqual(t, s, z)
	require.Equal(t, 1, p.buckets.count(&p.region))
	require.NoError(t, p.Verify())
}

func TestOverflowWholeReuse(t *testing.T) {
	skipUnless64Bit(t)
	for _, tc := range []struct {
		name  string
		size  int
		whole bool
	}{
		{name: "exact", size: 400, whole: true},
		{name: "surplus-16", size: 384, whole: true},
		{name: "surplus-at-threshold", size: 376, whole: true},
		{name: "surplus-over-threshold", size: 368, whole: false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p, err := New(2048)
			require.NoError(t, err)
			a := mustAlloc(t, p, 400)
			mustAlloc(t, p, 8)
			require.NoError(t, p.Free(a))
			require.Equal(t, 1, p.overflow.len)
			rem := p.Remaining()

			b := mustAlloc(t, p, tc.size)
			if tc.whole {
				require.Equal(t, a, b)
				require.Len(t, p.Bytes(b), 400)
				require.Equal(t, rem-BlockSize(400), p.Remaining())
				require.Equal(t, 0, p.overflow.len)
				require.Equal(t, 1, p.Stats().WholeReuses)
			} else {
				require.NotEqual(t, a, b)
				require.Equal(t, rem-BlockSize(tc.size), p.Remaining())
				require.Equal(t, 1, p.overflow.len)
				require.Equal(t, 1, p.Stats().Splits)
			}
			require.NoError(t, p.Verify())
		})
	}
}

func TestFreeFrontierReclaim(t *testing.T) {
	p, err := New(1024)
	require.NoError(t, err)

	a := mustAlloc(t, p, 100)
	b := mustAlloc(t, p, 100)
	require.NoError(t, p.Free(b))
	require.Equal(t, 1024-BlockSize(100), p.Remaining())
	require.Equal(t, 0, p.FreeNodes())
	require.NoError(t, p.Free(a))
	require.Equal(t, 1024, p.Remaining())
	require.Equal(t, 2, p.Stats().FrontierReclaims)

	// the reclaimed header is below the frontier now
	require.ErrorIs(t, p.Free(a), ErrInvalidPtr)
}

func TestDoubleFree(t *testing.T) {
	p, err := New(2048)
	require.NoError(t, err)

	small := mustAlloc(t, p, 40)
	large := mustAlloc(t, p, 400)
	mustAlloc(t, p, 8)

	for _, ptr := range []Ptr{small, large} {
		require.NoError(t, p.Free(ptr))
		rem, nodes, frontier := p.Remaining(), p.FreeNodes(), p.region.frontier

		require.ErrorIs(t, p.Free(ptr), ErrDoubleFree)
		require.Equal(t, rem, p.Remaining())
		require.Equal(t, nodes, p.FreeNodes())
		require.Equal(t, frontier, p.region.frontier)
	}
	require.Equal(t, 2, p.Stats().DoubleFrees)
	require.NoError(t, p.Verify())
}

func TestDoubleFreeOfBlockAtFrontier(t *testing.T) {
	p, err := New(1024)
	require.NoError(t, err)

	mustAlloc(t, p, 40)
	a := mustAlloc(t, p, 40)
	b := mustAlloc(t, p, 40)
	require.NoError(t, p.Free(a))
	require.NoError(t, p.Free(b))
	// b went back into the frontier, which now sits on a's free block
	require.Equal(t, uintptr(a)-headerSize, p.region.frontier)

	rem := p.Remaining()
	require.ErrorIs(t, p.Free(a), ErrDoubleFree)
	require.Equal(t, rem, p.Remaining())
	require.NoError(t, p.Verify())
}

func TestFreeInvalidPointers(t *testing.T) {
	p, err := New(1024)
	require.NoError(t, err)
	ptr := mustAlloc(t, p, 64)
	mustAlloc(t, p, 8)
	rem := p.Remaining()

	for _, bad := range []Ptr{
		0,
		Ptr(headerSize - 1),
		Ptr(headerSize),    // header at offset 0, below the frontier
		ptr + 1,            // misaligned
		Ptr(p.Cap() + 64),  // outside the region
		Ptr(p.Cap()) + 100, // far outside
	} {
		require.ErrorIs(t, p.Free(bad), ErrInvalidPtr, "ptr %d", bad)
	}
	require.Equal(t, rem, p.Remaining())
	require.Equal(t, 6, p.Stats().InvalidFrees)

	// a header whose size field has been clobbered
	h := p.region.at(uintptr(ptr) - headerSize)
	saved := h.size
	h.size = 0
	require.ErrorIs(t, p.Free(ptr), ErrInvalidPtr)
	h.size = uintptr(p.Cap()) * 2
	require.ErrorIs(t, p.Free(ptr), ErrInvalidPtr)
	h.size = saved
	require.NoError(t, p.Free(ptr))
	require.NoError(t, p.Verify())
}

func TestCleanup(t *testing.T) {
	p, err := New(1024)
	require.NoError(t, err)

	ptr := mustAlloc(t, p, 16)
	require.NoError(t, p.Cleanup(&ptr))
	require.True(t, ptr.IsNil())
	require.ErrorIs(t, p.Cleanup(&ptr), ErrInvalidPtr)
	require.ErrorIs(t, p.Cleanup(nil), ErrInvalidPtr)

	// the handle is cleared even when the free is rejected
	bogus := Ptr(headerSize)
	require.ErrorIs(t, p.Cleanup(&bogus), ErrInvalidPtr)
	require.True(t, bogus.IsNil())
}

func TestRealloc(t *testing.T) {
	p, err := New(4096)
	require.NoError(t, err)

	ptr := mustAlloc(t, p, 16)
	for i := range p.Bytes(ptr)[:16] {
		p.Bytes(ptr)[i] = byte(i + 1)
	}

	grown, err := p.Realloc(ptr, 200)
	require.NoError(t, err)
	require.NotEqual(t, ptr, grown)
	b := p.Bytes(grown)
	require.GreaterOrEqual(t, len(b), 200)
	for i := range 16 {
		require.Equal(t, byte(i+1), b[i])
	}
	for _, c := range b[16:] {
		require.Zero(t, c)
	}
	// the old block was released by Realloc
	require.Error(t, p.Free(ptr))

	shrunk, err := p.Realloc(grown, 8)
	require.NoError(t, err)
	b = p.Bytes(shrunk)
	for i := range 8 {
		require.Equal(t, byte(i+1), b[i])
	}

	empty, err := p.Realloc(shrunk, 0)
	require.NoError(t, err)
	require.Empty(t, p.Bytes(empty))
	require.NotNil(t, p.Bytes(empty))

	fresh, err := p.Realloc(0, 32)
	require.NoError(t, err)
	require.Len(t, p.Bytes(fresh), BlockSize(32)-Overhead)

	_, err = p.Realloc(0, 0)
	require.ErrorIs(t, err, ErrInvalidSize)
	_, err = p.Realloc(fresh, -1)
	require.ErrorIs(t, err, ErrInvalidSize)
	_, err = p.Realloc(Ptr(headerSize), 8)
	require.ErrorIs(t, err, ErrInvalidPtr)
	require.NoError(t, p.Verify())
}

func TestReallocFailureKeepsOldBlock(t *testing.T) {
	p, err := New(128)
	require.NoError(t, err)

	ptr := mustAlloc(t, p, 40)
	copy(p.Bytes(ptr), "keep me")
	rem := p.Remaining()

	_, err = p.Realloc(ptr, 200)
	require.ErrorIs(t, err, ErrNoSpace)
	_, err = p.Realloc(ptr, 128-BlockSize(40))
	require.ErrorIs(t, err, ErrNoSpace)

	require.Equal(t, rem, p.Remaining())
	require.Equal(t, "keep me", string(p.Bytes(ptr)[:7]))
	require.NoError(t, p.Free(ptr))
	require.Equal(t, 128, p.Remaining())
}

func TestReallocOfFreedBlock(t *testing.T) {
	p, err := New(1024)
	require.NoError(t, err)
	a := mustAlloc(t, p, 40)
	mustAlloc(t, p, 8)
	require.NoError(t, p.Free(a))

	rem := p.Remaining()
	_, err = p.Realloc(a, 100)
	require.ErrorIs(t, err, ErrDoubleFree)
	require.Equal(t, rem, p.Remaining())
}

func TestFromBuffer(t *testing.T) {
	_, err := FromBuffer(nil)
	require.ErrorIs(t, err, ErrBufferTooSmall)
	_, err = FromBuffer(make([]byte, headerSize))
	require.ErrorIs(t, err, ErrBufferTooSmall)

	buf := make([]byte, 1024)
	p, err := FromBuffer(buf[1:])
	require.NoError(t, err)
	require.False(t, p.region.owned)
	require.Zero(t, p.Cap()%int(ptrAlign))
	require.LessOrEqual(t, p.Cap(), 1023)
	require.GreaterOrEqual(t, p.Cap(), 1023-2*int(ptrAlign))
	require.Zero(t, p.region.base()%ptrAlign)

	ptr := mustAlloc(t, p, 10)
	copy(p.Bytes(ptr), "borrowed")
	require.Contains(t, string(buf), "borrowed")

	require.ErrorIs(t, p.Clear(), ErrBorrowed)
	require.Equal(t, "borrowed", string(p.Bytes(ptr)[:8]))
	require.NoError(t, p.Free(ptr))
	require.Equal(t, p.Cap(), p.Remaining())
}

func TestClear(t *testing.T) {
	p, err := New(1024)
	require.NoError(t, err)
	ptr := mustAlloc(t, p, 100)

	require.NoError(t, p.Clear())
	require.Equal(t, 0, p.Cap())
	require.Equal(t, 0, p.Remaining())
	require.Equal(t, 0, p.Len())
	require.Equal(t, Stats{}, p.Stats())
	require.ErrorIs(t, p.Clear(), ErrReleased)

	_, err = p.Alloc(1)
	require.ErrorIs(t, err, ErrNoSpace)
	require.ErrorIs(t, p.Free(ptr), ErrInvalidPtr)
	require.Nil(t, p.Bytes(ptr))
	require.False(t, p.Defrag())
	require.NoError(t, p.Verify())
}

func TestReset(t *testing.T) {
	buf := make([]byte, 512)
	p, err := FromBuffer(buf)
	require.NoError(t, err)

	a := mustAlloc(t, p, 100)
	mustAlloc(t, p, 100)
	require.NoError(t, p.Free(a))
	peak := p.Peak()

	p.Reset()
	require.Equal(t, p.Cap(), p.Remaining())
	require.Equal(t, 0, p.FreeNodes())
	require.Equal(t, 0, p.Len())
	require.Equal(t, peak, p.Peak())
	require.NoError(t, p.Verify())
}

func TestLenAndPeak(t *testing.T) {
	p, err := New(1024)
	require.NoError(t, err)

	a := mustAlloc(t, p, 10)
	b := mustAlloc(t, p, 100)
	require.Equal(t, BlockSize(10)+BlockSize(100), p.Len())
	require.NoError(t, p.Free(b))
	require.NoError(t, p.Free(a))
	require.Equal(t, 0, p.Len())
	require.Equal(t, BlockSize(10)+BlockSize(100), p.Peak())
}

func TestOptions(t *testing.T) {
	p, err := New(1024, WithMaxNodes(3), WithAutoDefrag(true), WithBucketCount(0))
	require.NoError(t, err)
	require.Equal(t, 3, p.MaxNodes())
	require.True(t, p.AutoDefrag())
	require.Empty(t, p.buckets.heads)

	p.ToggleAutoDefrag()
	require.False(t, p.AutoDefrag())
	p.SetMaxNodes(-4)
	require.Equal(t, 0, p.MaxNodes())

	// without buckets small blocks land on the overflow list
	a := mustAlloc(t, p, 8)
	mustAlloc(t, p, 8)
	require.NoError(t, p.Free(a))
	require.Equal(t, 1, p.overflow.len)
	require.Equal(t, 1, p.Stats().OverflowFrees)

	p, err = New(1024, WithBucketCount(-2))
	require.NoError(t, err)
	require.Empty(t, p.buckets.heads)
}

func TestLoggerTracesRejectedFrees(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	p, err := New(1024, WithLogger(logger))
	require.NoError(t, err)
	a := mustAlloc(t, p, 40)
	mustAlloc(t, p, 8)
	require.NoError(t, p.Free(a))
	require.ErrorIs(t, p.Free(a), ErrDoubleFree)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	require.Equal(t, logrus.DebugLevel, entry.Level)
	require.Equal(t, "mempool: rejected double free", entry.Message)
	require.Equal(t, uintptr(a), entry.Data["ptr"])

	require.ErrorIs(t, p.Free(0), ErrInvalidPtr)
	require.Equal(t, "mempool: rejected free of invalid pointer", hook.LastEntry().Message)
}

func TestIndependentPools(t *testing.T) {
	p1, err := New(512)
	require.NoError(t, err)
	p2, err := New(512)
	require.NoError(t, err)

	a := mustAlloc(t, p1, 32)
	require.Equal(t, 512, p2.Remaining())
	b := mustAlloc(t, p2, 32)
	require.Equal(t, a, b, "handles are offsets, equal across pools")

	require.NoError(t, p1.Free(a))
	require.Equal(t, 512-BlockSize(32), p2.Remaining())
}

func BenchmarkPoolAllocFree(b *testing.B) {
	p, err := New(1 << 20)
	require.NoError(b, err)
	ptrs := make([]Ptr, 0, 64)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ptr, err := p.Alloc(16 + i%512)
		if err != nil {
			b.Fatal(err)
		}
		ptrs = append(ptrs, ptr)
		if len(ptrs) == cap(ptrs) {
			for _, ptr := range ptrs {
				_ = p.Free(ptr)
			}
			ptrs = ptrs[:0]
		}
	}
}
