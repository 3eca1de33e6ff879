// Package memzero clears key material from memory once it is no longer
// needed. Clearing is best-effort: the Go runtime may already have copied
// the bytes elsewhere.
package memzero

import (
	"crypto/subtle"
	"runtime"
)

// Zero overwrites b with zeros.
//
//go:noinline
func Zero(b []byte) {
	if len(b) == 0 {
		return
	}
	zero := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zero)
	runtime.KeepAlive(b)
}

// ZeroAll clears every buffer in bufs.
func ZeroAll(bufs ...[]byte) {
	for _, b := range bufs {
		Zero(b)
	}
}
