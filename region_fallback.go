// SPDX-License-Identifier: Apache-2.0

//go:build !(linux || darwin || freebsd)

package mempool

// mapAnonymous falls back to the Go heap where anonymous mappings are not
// wired up.
func mapAnonymous(size int) ([]byte, func() error, error) {
	return make([]byte, size), nil, nil
}
