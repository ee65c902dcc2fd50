package unionfs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mwantia/unionfs/backend"
	"github.com/mwantia/unionfs/data"
)

// The union layer does not hand a special file's native operation table
// to callers directly: it derives a forwarding table that delegates I/O
// to the native entries and adds union bookkeeping (timestamp updates,
// open-file teardown). Derived tables are built at most once per
// (special kind, access mode) pair, from the first native table seen for
// that pair, and reused for every later open.

const (
	modeReadOnly = iota
	modeWriteOnly
	modeReadWrite
	modeCount
)

// opSlot is one cached per-mode forwarding table with its one-shot
// completion flag and build mutex. Once done is set, table is immutable
// and read without synchronization.
type opSlot struct {
	done atomic.Uint32
	mu   sync.Mutex

	table *backend.OperationTable
}

// kindSlots holds the three per-mode slots of one special kind. The
// classification tier above it is the entry's open hook, installed by
// installInitialCallbacks; this tier only builds dispatch tables.
type kindSlots struct {
	modes [modeCount]opSlot
}

type opTableCache [data.KindCount]kindSlots

// modeIndex maps an access mode to its table slot. Reaching this with an
// access mode that is neither readable nor writable is a contract
// violation; opens validate access before getting here.
func (fs *UnionFS) modeIndex(access data.AccessMode) int {
	switch {
	case access.IsReadOnly():
		return modeReadOnly
	case access.IsWriteOnly():
		return modeWriteOnly
	case access.IsReadWrite():
		return modeReadWrite
	}
	fs.log.Fatal("operation table requested for access mode %#x", int(access))
	return -1
}

// installSpecialTable returns the forwarding table for the kind and
// access mode, building the mode's slot on first use. The build is
// one-shot: a fast done check, then a locked re-check, so concurrent
// first opens race safely and every caller sees the same table.
//
// Forwarding entries are installed only where the native table has the
// operation; a nil native entry stays nil in the derived table.
func (fs *UnionFS) installSpecialTable(kind data.SpecialKind, access data.AccessMode, native *backend.OperationTable) *backend.OperationTable {
	k := int(kind)
	if k < 0 || k >= data.KindCount {
		fs.log.Fatal("operation table requested for unsupported kind %v", kind)
	}

	slot := &fs.fops[k].modes[fs.modeIndex(access)]
	if slot.done.Load() == 0 {
		slot.mu.Lock()
		if slot.done.Load() == 0 {
			slot.table = fs.deriveTable(native)
			slot.done.Store(1)
		}
		slot.mu.Unlock()
	}

	return slot.table
}

func (fs *UnionFS) deriveTable(native *backend.OperationTable) *backend.OperationTable {
	t := native.Clone()
	t.Open = nil // the open handshake already ran by the time the table is installed
	if native.Read != nil {
		t.Read = fs.forwardRead
	}
	if native.Write != nil {
		t.Write = fs.forwardWrite
	}
	t.Release = fs.forwardRelease
	return t
}

// forwardRead delegates to the handle's native read and, when bytes
// moved and the hosting branch is writable, advances the object's access
// time (unless access-time updates are disabled). Writability is
// snapshotted under the superblock lock before the native call, which
// may block indefinitely.
func (fs *UnionFS) forwardRead(ctx context.Context, h *backend.ObjectHandle, p []byte, offset int64) (int, error) {
	sg := fs.lockSuperShared()
	writable := fs.branches.Writable(h.Branch)
	sg.Release()

	n, err := h.Table.Read(ctx, h, p, offset)
	if n > 0 && writable && !fs.noAtime {
		if terr := h.Storage.SetObjectTimes(ctx, h.Key, time.Now(), time.Time{}); terr != nil {
			fs.log.Warn("update atime for %s: %v", h.Key, terr)
		}
	}
	return n, err
}

// forwardWrite is the write-side counterpart: it advances the
// modification time after a successful delegated write on a writable
// branch.
func (fs *UnionFS) forwardWrite(ctx context.Context, h *backend.ObjectHandle, p []byte, offset int64) (int, error) {
	sg := fs.lockSuperShared()
	writable := fs.branches.Writable(h.Branch)
	sg.Release()

	n, err := h.Table.Write(ctx, h, p, offset)
	if n > 0 && writable {
		if terr := h.Storage.SetObjectTimes(ctx, h.Key, time.Time{}, time.Now()); terr != nil {
			fs.log.Warn("update mtime for %s: %v", h.Key, terr)
		}
	}
	return n, err
}

// forwardRelease runs the native release and the union-level teardown,
// both unconditionally; a native release failure does not keep the open
// file registered. The native error is surfaced.
func (fs *UnionFS) forwardRelease(ctx context.Context, h *backend.ObjectHandle) error {
	var err error
	if h.Table.Release != nil {
		err = h.Table.Release(ctx, h)
	}
	if of := fs.openFileByID(h.ID); of != nil {
		fs.genericCloseNondir(of)
	}
	return err
}
