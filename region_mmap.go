// SPDX-License-Identifier: Apache-2.0

//go:build linux || darwin || freebsd

package mempool

import (
	"errors"

	"golang.org/x/sys/unix"
)

// mapAnonymous reserves size zeroed bytes outside the Go heap.
func mapAnonymous(size int) ([]byte, func() error, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, err
	}
	release := func() error {
		err := unix.Munmap(mem)
		if errors.Is(err, unix.EINVAL) {
			// already unmapped
			return nil
		}
		return err
	}
	return mem, release, nil
}
