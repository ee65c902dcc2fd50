package branch

import (
	"context"
	"sync"

	"github.com/mwantia/unionfs/backend"
	"github.com/mwantia/unionfs/data"
)

// Table is the ordered branch stack. Membership only changes through
// administrative Attach/Detach calls; everything else reads a consistent
// snapshot under the read lock.
type Table struct {
	mu       sync.RWMutex
	branches []*Branch
}

func NewTable() *Table {
	return &Table{}
}

// Attach appends a branch at the lowest priority and runs the backend's
// lifecycle Open. A backend instance can back at most one branch; a
// second attach of the same instance fails. Returns the new branch
// index.
func (t *Table) Attach(ctx context.Context, storage backend.ObjectStorage, writable bool) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, br := range t.branches {
		if br.Storage == storage {
			return -1, data.ErrBranchAttached
		}
	}

	if err := storage.Open(ctx); err != nil {
		return -1, err
	}

	br := &Branch{
		Index:    len(t.branches),
		Writable: writable,
		Storage:  storage,
	}
	t.branches = append(t.branches, br)
	return br.Index, nil
}

// Detach removes the lowest-priority branch. Pinned branches cannot be
// detached; an in-flight copy-up or special open holds them in place.
func (t *Table) Detach(ctx context.Context, index int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if index < 0 || index >= len(t.branches) {
		return data.ErrBranchUnknown
	}
	if index != len(t.branches)-1 {
		return data.ErrInvalid // only the tail branch can be detached
	}

	br := t.branches[index]
	if br.Pinned() {
		return data.ErrBranchBusy
	}

	if err := br.Storage.Close(ctx); err != nil {
		return err
	}
	t.branches = t.branches[:index]
	return nil
}

// Len returns the number of attached branches.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.branches)
}

// At returns the branch at the given priority index.
func (t *Table) At(index int) (*Branch, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if index < 0 || index >= len(t.branches) {
		return nil, data.ErrBranchUnknown
	}
	return t.branches[index], nil
}

// Writable reports whether the branch at index accepts writes. Unknown
// indices report false.
func (t *Table) Writable(index int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if index < 0 || index >= len(t.branches) {
		return false
	}
	return t.branches[index].Writable
}

// Storage returns the backend of the branch at index.
func (t *Table) Storage(index int) (backend.ObjectStorage, error) {
	br, err := t.At(index)
	if err != nil {
		return nil, err
	}
	return br.Storage, nil
}

// Pin takes a mount pin on the branch at index, guaranteeing it stays
// attached until the pin is released. The sync mode and flags describe
// the caller's locking context; the pin itself only needs them to know
// what not to re-acquire.
func (t *Table) Pin(index int, mode SyncMode, flags PinFlags) (*Pin, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if index < 0 || index >= len(t.branches) {
		return nil, data.ErrBranchUnknown
	}

	br := t.branches[index]
	if flags&PinMountWrite != 0 && !br.Writable {
		return nil, data.ErrReadOnly
	}

	br.pins.Add(1)
	return &Pin{branch: br}, nil
}
