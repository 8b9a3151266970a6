//go:build !amd64 || !cgo

package kernsync

import "sync/atomic"

// fenceSeq backs the portable fences below: an atomic RMW is a full
// compiler and hardware barrier on every Go-supported architecture, so it
// stands in for the cgo SFENCE/MFENCE on non-amd64 or cgo-disabled builds.
var fenceSeq atomic.Uint64

// StoreFence issues a portable store fence.
func StoreFence() {
	fenceSeq.Add(1)
}

// FullFence issues a portable full fence.
func FullFence() {
	fenceSeq.Add(1)
}
