// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"text/tabwriter"
	"time"

	mapset "github.com/deckarep/golang-set"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	mempool "github.com/wundergraph/go-mempool"
)

type config struct {
	capacity    uint64
	ops         int
	seed        uint64
	maxSize     int
	maxNodes    int
	autoDefrag  bool
	buckets     int
	mmap        bool
	verifyEvery int
}

func newConfig(ctx *cli.Context) (config, error) {
	capacity, err := parseCapacity(ctx.String("capacity"))
	if err != nil {
		return config{}, err
	}
	cfg := config{
		capacity:    capacity,
		ops:         ctx.Int("ops"),
		seed:        ctx.Uint64("seed"),
		maxSize:     ctx.Int("max-size"),
		maxNodes:    ctx.Int("max-nodes"),
		autoDefrag:  ctx.Bool("auto-defrag"),
		buckets:     ctx.Int("buckets"),
		mmap:        ctx.Bool("mmap"),
		verifyEvery: ctx.Int("verify-every"),
	}
	return cfg, cfg.validate()
}

func parseCapacity(s string) (uint64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid capacity %q", s)
	}
	if n == 0 || n > math.MaxInt32 {
		return 0, errors.Errorf("capacity %s out of range", humanize.IBytes(n))
	}
	return n, nil
}

func (c config) validate() error {
	switch {
	case c.ops < 0:
		return errors.Errorf("--ops must not be negative, got %d", c.ops)
	case c.maxSize <= 0:
		return errors.Errorf("--max-size must be positive, got %d", c.maxSize)
	case c.maxNodes < 0:
		return errors.Errorf("--max-nodes must not be negative, got %d", c.maxNodes)
	case c.buckets < 0:
		return errors.Errorf("--buckets must not be negative, got %d", c.buckets)
	case c.verifyEvery < 0:
		return errors.Errorf("--verify-every must not be negative, got %d", c.verifyEvery)
	}
	return nil
}

func (c config) options(log logrus.FieldLogger) []mempool.Option {
	opts := []mempool.Option{
		mempool.WithMaxNodes(c.maxNodes),
		mempool.WithAutoDefrag(c.autoDefrag),
		mempool.WithBucketCount(c.buckets),
		mempool.WithLogger(log),
	}
	if c.mmap {
		opts = append(opts, mempool.WithMmap())
	}
	return opts
}

// block is a live allocation and the byte pattern written into it.
type block struct {
	ptr  mempool.Ptr
	size int
	fill byte
}

type report struct {
	Ops        int
	Allocs     int
	Frees      int
	Reallocs   int
	Defrags    int
	NoSpace    int
	Verifies   int
	PeakBlocks int

	Capacity  int
	PeakBytes int
	Reclaimed bool
	Stats     mempool.Stats
	Elapsed   time.Duration
}

type workload struct {
	cfg    config
	pool   *mempool.Pool
	rng    *rand.Rand
	log    logrus.FieldLogger
	live   mapset.Set
	blocks []block
	rep    report
}

func runWorkload(cfg config, log logrus.FieldLogger) (*report, error) {
	pool, err := mempool.New(int(cfg.capacity), cfg.options(log)...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create pool")
	}
	defer func() {
		if err := pool.Clear(); err != nil {
			log.Warnf("Failed to release pool: %v", err)
		}
	}()

	w := &workload{
		cfg:  cfg,
		pool: pool,
		rng:  rand.New(rand.NewPCG(cfg.seed, cfg.seed^0x9e3779b97f4a7c15)),
		log:  log,
		live: mapset.NewSet(),
	}
	w.rep.Capacity = pool.Cap()

	start := time.Now()
	for i := 0; i < cfg.ops; i++ {
		if err := w.step(); err != nil {
			return nil, errors.Wrapf(err, "op %d", i)
		}
		w.rep.Ops++
		if cfg.verifyEvery > 0 && (i+1)%cfg.verifyEvery == 0 {
			if err := w.verify(); err != nil {
				return nil, errors.Wrapf(err, "check after op %d", i+1)
			}
		}
	}
	if err := w.verify(); err != nil {
		return nil, errors.Wrap(err, "final check")
	}
	if err := w.drain(); err != nil {
		return nil, err
	}
	w.rep.Elapsed = time.Since(start)
	w.rep.PeakBytes = pool.Peak()
	w.rep.Stats = pool.Stats()
	return &w.rep, nil
}

func (w *workload) step() error {
	switch op := w.rng.IntN(10); {
	case op < 5 || len(w.blocks) == 0:
		return w.alloc()
	case op < 8:
		return w.free()
	case op < 9:
		return w.realloc()
	default:
		return w.defrag()
	}
}

func (w *workload) size() int {
	return 1 + w.rng.IntN(w.cfg.maxSize)
}

func (w *workload) nextFill() byte {
	return byte(1 + w.rng.IntN(255))
}

func (w *workload) track(b block) error {
	if !w.live.Add(b.ptr) {
		return errors.Errorf("handle %d handed out while still live", b.ptr)
	}
	payload := w.pool.Bytes(b.ptr)
	if len(payload) < b.size {
		return errors.Errorf("handle %d: payload of %d bytes for a %d byte request", b.ptr, len(payload), b.size)
	}
	for i := range payload[:b.size] {
		payload[i] = b.fill
	}
	w.blocks = append(w.blocks, b)
	w.rep.PeakBlocks = max(w.rep.PeakBlocks, len(w.blocks))
	return nil
}

func (w *workload) untrack(k int) block {
	b := w.blocks[k]
	w.live.Remove(b.ptr)
	last := len(w.blocks) - 1
	w.blocks[k] = w.blocks[last]
	w.blocks = w.blocks[:last]
	return b
}

func (w *workload) check(b block) error {
	payload := w.pool.Bytes(b.ptr)
	if len(payload) < b.size {
		return errors.Errorf("handle %d no longer resolves to a %d byte payload", b.ptr, b.size)
	}
	for i, c := range payload[:b.size] {
		if c != b.fill {
			return errors.Errorf("handle %d corrupted at byte %d: %#x, want %#x", b.ptr, i, c, b.fill)
		}
	}
	return nil
}

func (w *workload) alloc() error {
	size := w.size()
	ptr, err := w.pool.Alloc(size)
	if errors.Is(err, mempool.ErrNoSpace) {
		w.rep.NoSpace++
		w.log.WithField("size", size).Debug("Alloc found no space")
		return nil
	}
	if err != nil {
		return err
	}
	w.rep.Allocs++
	return w.track(block{ptr: ptr, size: size, fill: w.nextFill()})
}

func (w *workload) free() error {
	k := w.rng.IntN(len(w.blocks))
	if err := w.check(w.blocks[k]); err != nil {
		return err
	}
	b := w.untrack(k)
	if err := w.pool.Free(b.ptr); err != nil {
		return errors.Wrapf(err, "free of handle %d", b.ptr)
	}
	w.rep.Frees++
	return nil
}

func (w *workload) realloc() error {
	k := w.rng.IntN(len(w.blocks))
	old := w.blocks[k]
	if err := w.check(old); err != nil {
		return err
	}
	size := w.size()
	ptr, err := w.pool.Realloc(old.ptr, size)
	if errors.Is(err, mempool.ErrNoSpace) {
		w.rep.NoSpace++
		return w.check(old)
	}
	if err != nil {
		return errors.Wrapf(err, "realloc of handle %d", old.ptr)
	}
	w.rep.Reallocs++
	w.untrack(k)

	kept := block{ptr: ptr, size: min(old.size, size), fill: old.fill}
	if err := w.check(kept); err != nil {
		return errors.Wrap(err, "realloc lost the payload prefix")
	}
	return w.track(block{ptr: ptr, size: size, fill: w.nextFill()})
}

func (w *workload) defrag() error {
	before := w.pool.Remaining()
	w.pool.Defrag()
	w.rep.Defrags++
	if after := w.pool.Remaining(); after != before {
		return errors.Errorf("defrag changed free space from %d to %d", before, after)
	}
	return nil
}

func (w *workload) verify() error {
	w.rep.Verifies++
	if err := w.pool.Verify(); err != nil {
		return err
	}
	if got := w.pool.Remaining() + w.pool.Len(); got != w.pool.Cap() {
		return errors.Errorf("free %d + live %d != capacity %d", w.pool.Remaining(), w.pool.Len(), w.pool.Cap())
	}
	for _, b := range w.blocks {
		if err := w.check(b); err != nil {
			return err
		}
	}
	return nil
}

// drain frees every live block in random order and checks that the pool
// gets all of its space back.
func (w *workload) drain() error {
	for len(w.blocks) > 0 {
		if err := w.free(); err != nil {
			return errors.Wrap(err, "drain")
		}
	}
	if n := w.live.Cardinality(); n != 0 {
		return errors.Errorf("%d handles still tracked after drain", n)
	}
	w.pool.Defrag()
	if err := w.pool.Verify(); err != nil {
		return errors.Wrap(err, "check after drain")
	}
	w.rep.Reclaimed = w.pool.Remaining() == w.pool.Cap() && w.pool.FreeNodes() == 0
	if !w.rep.Reclaimed {
		return errors.Errorf("pool not fully reclaimed: %d of %d bytes free, %d free nodes",
			w.pool.Remaining(), w.pool.Cap(), w.pool.FreeNodes())
	}
	return nil
}

func (r *report) print(out io.Writer) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	s := r.Stats
	row := func(name, value string) {
		fmt.Fprintf(tw, "%s\t%s\n", name, value)
	}
	count := func(n int) string {
		return humanize.Comma(int64(n))
	}

	row("capacity", humanize.IBytes(uint64(r.Capacity)))
	row("peak in use", humanize.IBytes(uint64(r.PeakBytes)))
	row("ops", count(r.Ops))
	row("elapsed", r.Elapsed.String())
	row("allocs", count(r.Allocs))
	row("frees", count(r.Frees))
	row("reallocs", count(r.Reallocs))
	row("defrags", count(r.Defrags))
	row("out of space", count(r.NoSpace))
	row("peak live blocks", count(r.PeakBlocks))
	row("bucket hits", count(s.BucketHits))
	row("overflow hits", fmt.Sprintf("%s (%s split, %s whole)", count(s.OverflowHits), count(s.Splits), count(s.WholeReuses)))
	row("frontier allocs", count(s.FrontierAllocs))
	row("frontier reclaims", count(s.FrontierReclaims))
	row("auto defrags", count(s.AutoDefrags))
	row("coalesces", count(s.Coalesces))
	row("fully reclaimed", fmt.Sprint(r.Reclaimed))
	_ = tw.Flush()
}
