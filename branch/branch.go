// Package branch maintains the ordered stack of storage branches a union
// filesystem is built from. Branch order is priority order: index 0 is
// the highest-priority branch and shadows everything below it.
package branch

import (
	"sync/atomic"

	"github.com/mwantia/unionfs/backend"
)

// Branch is one layer of the union: a storage backend plus its
// writability. Writability is a branch attribute, not a backend one; the
// same backend type can serve as a read-only lower branch or a writable
// upper branch.
type Branch struct {
	Index    int
	Writable bool
	Storage  backend.ObjectStorage

	pins atomic.Int32
}

// Pinned reports whether any operation currently pins the branch mount.
func (b *Branch) Pinned() bool {
	return b.pins.Load() > 0
}

// SyncMode selects how much cross-thread update detection a pin performs.
// Only UDBANone is used by the special-file paths; the other modes exist
// for branch-management operations that need revalidation.
type SyncMode int

const (
	UDBANone SyncMode = iota
	UDBAReval
	UDBANotify
)

// PinFlags qualify a pin acquisition.
type PinFlags int

const (
	// PinDirLocked asserts the caller already holds the parent directory
	// entry lock, so the pin must not take it again.
	PinDirLocked PinFlags = 1 << iota
	// PinMountWrite additionally holds a write reference on the branch
	// mount for the duration of the pin.
	PinMountWrite
)

// Pin keeps a branch attached for the duration of an operation. Releasing
// is idempotent.
type Pin struct {
	branch   *Branch
	released atomic.Bool
}

// Release drops the pin.
func (p *Pin) Release() {
	if p == nil || !p.released.CompareAndSwap(false, true) {
		return
	}
	p.branch.pins.Add(-1)
}
