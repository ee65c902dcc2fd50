package backend

import (
	"context"
	"time"

	"github.com/mwantia/unionfs/data"
)

// ObjectStorage is the storage contract every branch backend implements.
// Keys are slash-separated paths relative to the backend root, without a
// leading slash. Directory keys address directory objects.
type ObjectStorage interface {
	Backend

	// HeadObject returns the stat of a single object.
	// Returns data.ErrNotExist if the key doesn't exist.
	HeadObject(ctx context.Context, key string) (*data.FileStat, error)

	// ListObjects returns the direct children of a directory key.
	// Returns data.ErrNotDirectory if the key is not a directory.
	ListObjects(ctx context.Context, key string) ([]*data.FileStat, error)

	// MakeObject creates a new node of the given mode: a directory, an
	// empty regular file, or a special node (FIFO). Content, if any, is
	// written separately through WriteObjectAt.
	// Returns data.ErrExist if the key already exists.
	MakeObject(ctx context.Context, key string, mode data.FileMode) (*data.FileStat, error)

	// ReadObjectAt reads len(p) bytes from a regular object at offset.
	ReadObjectAt(ctx context.Context, key string, offset int64, p []byte) (int, error)

	// WriteObjectAt writes p to a regular object at offset, extending it
	// as needed. Returns the number of bytes written.
	WriteObjectAt(ctx context.Context, key string, offset int64, p []byte) (int, error)

	// TruncateObject sets the size of a regular object.
	TruncateObject(ctx context.Context, key string, size int64) error

	// DeleteObject removes an object. If force is true and the object is a
	// directory, its children are removed as well.
	DeleteObject(ctx context.Context, key string, force bool) error

	// SetObjectTimes updates an object's access and/or modification time.
	// A zero time leaves the corresponding field unchanged.
	SetObjectTimes(ctx context.Context, key string, atime, mtime time.Time) error
}

// SpecialObjects is implemented by backends that can host special files.
// OpenSpecial locates the underlying object and returns a handle carrying
// the backend's native operation table for the object's kind. It must not
// perform the kind's own open handshake (a FIFO waiting for its peer);
// that is the handle table's Open entry, which the union layer invokes
// with its locks dropped because it may block indefinitely.
type SpecialObjects interface {
	OpenSpecial(ctx context.Context, key string, access data.AccessMode) (*ObjectHandle, error)
}
