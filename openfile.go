package unionfs

import (
	"context"

	"github.com/google/uuid"

	"github.com/mwantia/unionfs/backend"
	"github.com/mwantia/unionfs/data"
)

// OpenFile is one open instance of a union path. It binds the entry to a
// branch-level object handle and to the operation table the union layer
// dispatches I/O through. For regular files the table is the backend's
// native one; for special files it is a derived forwarding table.
type OpenFile struct {
	id     string
	path   string
	entry  *Entry
	access data.AccessMode

	// lock is the open-file tier of the lock hierarchy.
	lock *rwLock

	branch int
	handle *backend.ObjectHandle
	table  *backend.OperationTable

	closed bool
}

// ID returns the open file's identifier.
func (of *OpenFile) ID() string {
	return of.id
}

// Path returns the union path the file was opened at.
func (of *OpenFile) Path() string {
	return of.path
}

// Branch returns the branch index the open object resides on.
func (of *OpenFile) Branch() int {
	return of.branch
}

func newOpenFile(e *Entry, access data.AccessMode) *OpenFile {
	return &OpenFile{
		id:     uuid.NewString(),
		path:   e.path,
		entry:  e,
		access: access,
		lock:   newRWLock(),
		branch: -1,
	}
}

// genericOpenNondir performs the branch-level part of opening a non
// directory: it locates the object on the entry's top branch, obtains a
// handle carrying the backend's native operation table, and registers
// the open file. For special objects the backend's own open machinery
// provides the handle; its blocking Open hook is NOT invoked here.
//
// Caller holds the entry guard. When of.branch is preselected (special
// open after a copy-up), that branch is used; otherwise the entry's top
// branch is.
func (fs *UnionFS) genericOpenNondir(ctx context.Context, of *OpenFile) error {
	index := of.branch
	if index < 0 {
		index = of.entry.topBranch()
	}
	stat := of.entry.statAt(index)
	if stat == nil {
		return data.ErrNotExist
	}
	if stat.Mode.IsDir() {
		return data.ErrIsDirectory
	}

	storage, err := fs.branches.Storage(index)
	if err != nil {
		return err
	}

	key := branchKey(of.path)
	var h *backend.ObjectHandle
	if stat.Mode.IsSpecial() {
		sp, ok := storage.(backend.SpecialObjects)
		if !ok {
			return data.ErrNotSupported
		}
		h, err = sp.OpenSpecial(ctx, key, of.access)
		if err != nil {
			return err
		}
	} else {
		h = backend.NewObjectHandle(key, stat.Mode, of.access, storage)
		h.Table = backend.NewRegularTable(storage)
	}

	h.ID = of.id
	h.Branch = index

	of.branch = index
	of.handle = h
	of.table = h.Table

	fs.openMu.Lock()
	fs.openFiles[of.id] = of
	fs.openMu.Unlock()

	return nil
}

// genericCloseNondir tears down the branch-level open state. It is
// idempotent: the forwarding release path and File.Close both reach it.
func (fs *UnionFS) genericCloseNondir(of *OpenFile) {
	fs.openMu.Lock()
	defer fs.openMu.Unlock()

	if of.closed {
		return
	}
	of.closed = true
	delete(fs.openFiles, of.id)
}

// openFileByID resolves a registered open file from its handle ID.
func (fs *UnionFS) openFileByID(id string) *OpenFile {
	fs.openMu.Lock()
	defer fs.openMu.Unlock()

	return fs.openFiles[id]
}

// closeOpenFile runs the open file's release entry and then the generic
// close, unconditionally. The release error, if any, is surfaced.
func (fs *UnionFS) closeOpenFile(ctx context.Context, of *OpenFile) error {
	var err error
	if of.table != nil && of.table.Release != nil {
		err = of.table.Release(ctx, of.handle)
	}
	fs.genericCloseNondir(of)
	return err
}
