package backend

import (
	"context"

	"github.com/google/uuid"
	"github.com/mwantia/unionfs/data"
)

// Operation table entry signatures. A nil entry means the operation is
// not supported for the object the handle refers to.
type (
	OpenFunc    func(ctx context.Context, h *ObjectHandle) error
	ReadFunc    func(ctx context.Context, h *ObjectHandle, p []byte, offset int64) (int, error)
	WriteFunc   func(ctx context.Context, h *ObjectHandle, p []byte, offset int64) (int, error)
	ReleaseFunc func(ctx context.Context, h *ObjectHandle) error
)

// OperationTable holds the I/O entry points for one object kind. Backends
// provide native tables; the union layer derives forwarding tables from
// them for special files.
type OperationTable struct {
	Open    OpenFunc
	Read    ReadFunc
	Write   WriteFunc
	Release ReleaseFunc
}

// Clone returns a shallow copy of the table.
func (t *OperationTable) Clone() *OperationTable {
	c := *t
	return &c
}

// ObjectHandle represents one open instance of an object on a single
// branch. Once the union layer finished opening it, the handle is never
// swapped or migrated; in-flight reads and writes rely on that.
type ObjectHandle struct {
	// ID keys the handle in the union layer's open table.
	ID string

	// Key is the object's path relative to the backend root.
	Key string

	// Mode is the object's file mode at open time.
	Mode data.FileMode

	// Access is the access mode the handle was opened with.
	Access data.AccessMode

	// Branch is the index of the branch the handle resides on.
	// Assigned by the union layer during open.
	Branch int

	// Storage is the backend holding the object.
	Storage ObjectStorage

	// Table is the native operation table for the object.
	Table *OperationTable

	// Object carries backend-private state (a pipe end, a host file).
	Object any
}

// NewObjectHandle builds a handle with a fresh ID.
func NewObjectHandle(key string, mode data.FileMode, access data.AccessMode, storage ObjectStorage) *ObjectHandle {
	return &ObjectHandle{
		ID:      uuid.NewString(),
		Key:     key,
		Mode:    mode,
		Access:  access,
		Branch:  -1,
		Storage: storage,
	}
}

// NewRegularTable returns the native operation table for regular objects
// on the given storage. Open and Release are no-ops: regular-file state
// lives entirely in the backend store.
func NewRegularTable(s ObjectStorage) *OperationTable {
	return &OperationTable{
		Read: func(ctx context.Context, h *ObjectHandle, p []byte, offset int64) (int, error) {
			return s.ReadObjectAt(ctx, h.Key, offset, p)
		},
		Write: func(ctx context.Context, h *ObjectHandle, p []byte, offset int64) (int, error) {
			return s.WriteObjectAt(ctx, h.Key, offset, p)
		},
		Release: func(ctx context.Context, h *ObjectHandle) error {
			return nil
		},
	}
}
