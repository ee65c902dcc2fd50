package unionfs

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/mwantia/unionfs/data"
)

// File is the user-facing handle for an open union path. All I/O
// dispatches through the operation table installed at open time: the
// backend's native table for regular files, the forwarding table for
// special files. A nil table entry means the operation is unsupported
// for the object.
type File struct {
	fs *UnionFS
	of *OpenFile

	mu     sync.Mutex
	offset int64
	closed bool
}

// Open opens a union path for I/O, creating missing nodes with mode
// 0o644 when the access mode asks for creation. Special files run their
// full open protocol, including the blocking native handshake (a FIFO
// open for read waits for a writer unless the context is cancelled
// first).
func (fs *UnionFS) Open(ctx context.Context, pathname string, access data.AccessMode) (*File, error) {
	return fs.OpenMode(ctx, pathname, access, 0o644)
}

// OpenMode is Open with explicit permission bits for create-on-open.
// Only the permission bits of perm are used; existing nodes keep their
// mode.
func (fs *UnionFS) OpenMode(ctx context.Context, pathname string, access data.AccessMode, perm data.FileMode) (*File, error) {
	if err := fs.requireBranches(); err != nil {
		return nil, err
	}

	pathname, err := normalizePath(pathname)
	if err != nil {
		return nil, err
	}

	e, err := fs.lookupEntry(ctx, pathname)
	if errors.Is(err, data.ErrNotExist) && access.HasCreate() {
		e, err = fs.makeNode(ctx, pathname, perm.Perm())
	} else if err == nil && access.HasCreate() && access.HasExcl() {
		return nil, data.ErrExist
	}
	if err != nil {
		return nil, err
	}

	of := newOpenFile(e, access)

	sg := fs.lockSuperShared()
	fg := sg.LockFile(of, true)
	eg := fg.LockEntry(e, false)

	if e.specialOpen != nil {
		// The hook owns and releases every guard; the deferred releases
		// below are no-ops after it returns.
		err = e.specialOpen(ctx, of, sg, fg, eg)
	} else {
		err = fs.openRegular(ctx, of, sg, eg)
	}

	eg.Release()
	fg.Release()
	sg.Release()

	if err != nil {
		return nil, err
	}

	if access.HasTrunc() && of.handle.Mode.IsRegular() {
		if terr := of.handle.Storage.TruncateObject(ctx, of.handle.Key, 0); terr != nil {
			_ = fs.closeOpenFile(ctx, of)
			return nil, terr
		}
	}

	return &File{fs: fs, of: of}, nil
}

// openRegular opens a non-special, non-directory node. A write-mode
// open whose top node sits on a read-only branch copies the node up
// first, so writes always land on writable storage.
func (fs *UnionFS) openRegular(ctx context.Context, of *OpenFile, sg *SuperGuard, eg *EntryGuard) error {
	e := of.entry
	if e.topBranch() < 0 {
		return data.ErrNotExist
	}

	if !of.access.IsReadOnly() && !fs.branches.Writable(e.topBranch()) {
		target := fs.pickCopyUpBranch()
		if target < 0 {
			return data.ErrReadOnly
		}
		if e.statAt(target) == nil {
			// Upgrade the entry guard for the copy, re-checking after the
			// exclusive acquisition so concurrent openers copy at most
			// once.
			eg.Release()
			neg := sg.LockEntry(e, true)
			defer neg.Release()
			if e.statAt(target) == nil {
				if err := fs.copyUp(ctx, sg, e, target); err != nil {
					return err
				}
			}
			// Keep the guard, shared, across the open below; the generic
			// open reads the per-branch stats under it.
			neg.Downgrade()
		}
		of.branch = target
	}

	return fs.genericOpenNondir(ctx, of)
}

// Path returns the union path the file was opened at.
func (f *File) Path() string {
	return f.of.path
}

// Branch returns the branch index the open object resides on.
func (f *File) Branch() int {
	return f.of.branch
}

// Read reads up to len(p) bytes at the current offset.
func (f *File) Read(ctx context.Context, p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, data.ErrClosed
	}
	if f.of.table == nil || f.of.table.Read == nil {
		return 0, data.ErrNotSupported
	}

	n, err := f.of.table.Read(ctx, f.of.handle, p, f.offset)
	f.offset += int64(n)
	if n > 0 && errors.Is(err, io.EOF) {
		err = nil
	}
	return n, err
}

// ReadAt reads at an explicit offset without moving the file offset.
func (f *File) ReadAt(ctx context.Context, p []byte, offset int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, data.ErrClosed
	}
	if f.of.table == nil || f.of.table.Read == nil {
		return 0, data.ErrNotSupported
	}
	return f.of.table.Read(ctx, f.of.handle, p, offset)
}

// Write writes p at the current offset.
func (f *File) Write(ctx context.Context, p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, data.ErrClosed
	}
	if f.of.table == nil || f.of.table.Write == nil {
		return 0, data.ErrNotSupported
	}

	n, err := f.of.table.Write(ctx, f.of.handle, p, f.offset)
	f.offset += int64(n)
	return n, err
}

// Close releases the open file. The underlying release and the union
// bookkeeping both run unconditionally; the release error is surfaced.
func (f *File) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return data.ErrClosed
	}
	f.closed = true

	return f.fs.closeOpenFile(ctx, f.of)
}
