package unionfs

import (
	"context"

	"github.com/mwantia/unionfs/data"
)

// specialOpenHook is the classification-level open entry installed on an
// entry whose node is a special file. The hook owns every guard it is
// handed: it releases all of them (possibly suspending and reacquiring
// around the delegated native open) and holds none on return.
type specialOpenHook func(ctx context.Context, of *OpenFile, sg *SuperGuard, fg *FileGuard, eg *EntryGuard) error

// installInitialCallbacks wires the open hook for a special entry.
// Calling it with a non-special mode is a contract violation.
func (fs *UnionFS) installInitialCallbacks(e *Entry, mode data.FileMode, index int) {
	if !mode.IsSpecial() {
		fs.log.Fatal("special callbacks requested for %s with mode %s", e.path, mode)
	}

	kind := data.ClassifyMode(mode)
	switch kind {
	case data.KindFifo:
		e.specialOpen = fs.openSpecial
	default:
		e.specialOpen = fs.openUnsupportedSpecial
	}

	fs.log.Debug("registered %s hook for %s (branch %d)", kind, e.path, index)
}

// openUnsupportedSpecial is installed for special kinds without an I/O
// path (devices, sockets). Reaching it means a caller opened a node the
// classification already declared unsupported.
func (fs *UnionFS) openUnsupportedSpecial(ctx context.Context, of *OpenFile, sg *SuperGuard, fg *FileGuard, eg *EntryGuard) error {
	fs.log.Fatal("unsupported special file %s reached the open path", of.path)
	return data.ErrNotSupported
}

// openSpecial opens a special file through the hosting backend's native
// machinery:
//
//  1. If the entry's top branch is read-only, pick the first writable
//     branch and copy the node up (upgrading the entry guard for the
//     copy, re-checking after the upgrade so concurrent openers copy at
//     most once).
//  2. Run the generic non-directory open to obtain the native handle.
//  3. Drop every union lock, invoke the native open (which may block
//     indefinitely, e.g. a FIFO reader waiting for a writer), then
//     reacquire the locks.
//  4. On success install the forwarding operation table; on failure tear
//     down the generic open state and surface the native error.
func (fs *UnionFS) openSpecial(ctx context.Context, of *OpenFile, sg *SuperGuard, fg *FileGuard, eg *EntryGuard) error {
	defer func() {
		eg.Release()
		fg.Release()
		sg.Release()
	}()

	e := of.entry
	top := e.topBranch()
	if top < 0 {
		return data.ErrNotExist
	}

	branch := top
	if !fs.branches.Writable(top) {
		bcpup := fs.pickCopyUpBranch()
		if bcpup < 0 {
			return data.ErrReadOnly
		}

		if e.statAt(bcpup) == nil {
			// Upgrade the entry guard for the copy. Another opener may
			// materialize the node between the release and the
			// exclusive acquisition, hence the re-check.
			eg.Release()
			eg = fg.LockEntry(e, true)
			if e.statAt(bcpup) == nil {
				if err := fs.copyUp(ctx, sg, e, bcpup); err != nil {
					return err
				}
			}
			eg.Downgrade()
		}
		branch = bcpup
	}

	of.branch = branch
	if err := fs.genericOpenNondir(ctx, of); err != nil {
		return err
	}

	native := of.handle.Table
	kind := data.ClassifyMode(of.handle.Mode)

	// The delegated open may block arbitrarily long; holding any union
	// lock across it would stall unrelated activity.
	resume := fs.suspendLocks(sg, fg, eg)
	var openErr error
	if native != nil && native.Open != nil {
		openErr = native.Open(ctx, of.handle)
	}
	sg, fg, eg = resume()

	if openErr != nil {
		fs.genericCloseNondir(of)
		return openErr
	}

	of.table = fs.installSpecialTable(kind, of.access, native)
	return nil
}
