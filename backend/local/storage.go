package local

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"syscall"
	"time"

	"github.com/mwantia/unionfs/data"
)

// HeadObject returns the stat of a single object.
func (lb *LocalBackend) HeadObject(ctx context.Context, key string) (*data.FileStat, error) {
	info, err := os.Lstat(lb.resolvePath(key))
	if err != nil {
		return nil, mapPathError(err)
	}
	return toFileStat(key, info), nil
}

// ListObjects returns the direct children of a directory key.
func (lb *LocalBackend) ListObjects(ctx context.Context, key string) ([]*data.FileStat, error) {
	full := lb.resolvePath(key)

	info, err := os.Stat(full)
	if err != nil {
		return nil, mapPathError(err)
	}
	if !info.IsDir() {
		return nil, data.ErrNotDirectory
	}

	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, mapPathError(err)
	}

	stats := make([]*data.FileStat, 0, len(entries))
	for _, entry := range entries {
		entryInfo, err := entry.Info()
		if err != nil {
			continue // entry vanished between ReadDir and Info
		}
		stats = append(stats, toFileStat(path.Join(key, entry.Name()), entryInfo))
	}

	return stats, nil
}

// MakeObject creates a new directory, empty regular file, or FIFO node.
func (lb *LocalBackend) MakeObject(ctx context.Context, key string, mode data.FileMode) (*data.FileStat, error) {
	full := lb.resolvePath(key)

	if _, err := os.Lstat(full); err == nil {
		return nil, data.ErrExist
	}

	perm := os.FileMode(mode.Perm())
	switch {
	case mode.IsDir():
		if err := os.Mkdir(full, perm); err != nil {
			return nil, mapPathError(err)
		}
	case mode.IsNamedPipe():
		if err := syscall.Mkfifo(full, uint32(perm)); err != nil {
			return nil, mapPathError(err)
		}
	case mode.IsRegular():
		f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
		if err != nil {
			return nil, mapPathError(err)
		}
		if err := f.Close(); err != nil {
			return nil, err
		}
	default:
		return nil, data.ErrNotSupported
	}

	return lb.HeadObject(ctx, key)
}

// ReadObjectAt reads from a regular object at offset.
func (lb *LocalBackend) ReadObjectAt(ctx context.Context, key string, offset int64, p []byte) (int, error) {
	f, err := os.Open(lb.resolvePath(key))
	if err != nil {
		return 0, mapPathError(err)
	}
	defer f.Close()

	n, err := f.ReadAt(p, offset)
	if errors.Is(err, io.EOF) {
		err = nil // short reads at end of file are fine
	}
	return n, err
}

// WriteObjectAt writes to a regular object at offset, extending it as needed.
func (lb *LocalBackend) WriteObjectAt(ctx context.Context, key string, offset int64, p []byte) (int, error) {
	f, err := os.OpenFile(lb.resolvePath(key), os.O_WRONLY, 0)
	if err != nil {
		return 0, mapPathError(err)
	}
	defer f.Close()

	return f.WriteAt(p, offset)
}

// TruncateObject sets the size of a regular object.
func (lb *LocalBackend) TruncateObject(ctx context.Context, key string, size int64) error {
	return mapPathError(os.Truncate(lb.resolvePath(key), size))
}

// DeleteObject removes an object, recursively when force is set.
func (lb *LocalBackend) DeleteObject(ctx context.Context, key string, force bool) error {
	full := lb.resolvePath(key)
	if force {
		return mapPathError(os.RemoveAll(full))
	}
	return mapPathError(os.Remove(full))
}

// SetObjectTimes updates access and/or modification times. Zero values
// keep the current on-disk value.
func (lb *LocalBackend) SetObjectTimes(ctx context.Context, key string, atime, mtime time.Time) error {
	full := lb.resolvePath(key)

	if atime.IsZero() || mtime.IsZero() {
		info, err := os.Lstat(full)
		if err != nil {
			return mapPathError(err)
		}
		if mtime.IsZero() {
			mtime = info.ModTime()
		}
		if atime.IsZero() {
			atime = info.ModTime()
		}
	}

	return mapPathError(os.Chtimes(full, atime, mtime))
}
