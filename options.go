// SPDX-License-Identifier: Apache-2.0

package mempool

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Option represents a configuration option for a Pool.
type Option func(*Pool)

// WithMaxNodes sets the overflow-list length above which a free triggers
// defragmentation when auto-defrag is on. Zero means no limit.
func WithMaxNodes(n int) Option {
	return func(p *Pool) {
		p.SetMaxNodes(n)
	}
}

// WithAutoDefrag sets the initial auto-defrag state.
func WithAutoDefrag(on bool) Option {
	return func(p *Pool) {
		p.overflow.autoDefrag = on
	}
}

// WithBucketCount sets the number of size-class buckets. Zero disables
// buckets so every free block goes to the overflow list.
func WithBucketCount(n int) Option {
	return func(p *Pool) {
		if n < 0 {
			n = 0
		}
		p.bucketCount = n
	}
}

// WithMmap backs an owned region with an anonymous memory mapping instead
// of the Go heap. It has no effect on FromBuffer.
func WithMmap() Option {
	return func(p *Pool) {
		p.mmap = true
	}
}

// WithLogger sets the logger used for debug tracing.
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Pool) {
		if l != nil {
			p.log = l
		}
	}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
