package local

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mwantia/unionfs/backend"
	"github.com/mwantia/unionfs/data"
)

// LocalBackend exposes a host directory as a branch. Special files are
// passed straight through: a FIFO in the union is a real FIFO on the host
// and keeps the host kernel's pipe semantics.
type LocalBackend struct {
	path string

	fifoTable *backend.OperationTable
}

func NewLocalBackend(path string) *LocalBackend {
	lb := &LocalBackend{
		path: filepath.Clean(path),
	}
	lb.fifoTable = newHostFifoTable()
	return lb
}

// Name returns the identifier name defined for this backend
func (*LocalBackend) Name() string {
	return "local"
}

// Open is part of the lifecycle behaviour and gets called when a branch
// using this backend is attached.
func (lb *LocalBackend) Open(ctx context.Context) error {
	info, err := os.Stat(lb.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return data.ErrMountFailed
		}
		if errors.Is(err, fs.ErrPermission) {
			return data.ErrPermission
		}
		return data.ErrMountFailed
	}

	if !info.IsDir() {
		return data.ErrNotDirectory
	}

	return nil
}

// Close is part of the lifecycle behaviour and gets called when a branch
// using this backend is detached.
func (lb *LocalBackend) Close(ctx context.Context) error {
	// The underlying filesystem persists independently
	return nil
}

// GetCapabilities returns a list of capabilities supported by this backend.
func (lb *LocalBackend) GetCapabilities() *backend.BackendCapabilities {
	return &backend.BackendCapabilities{
		Capabilities: []backend.BackendCapability{
			backend.CapabilityObjectStorage,
			backend.CapabilitySpecialObjects,
		},
		MaxObjectSize: 10737418240, // 10 GB
	}
}

// resolvePath joins the backend root with the relative key.
func (lb *LocalBackend) resolvePath(key string) string {
	return filepath.Join(lb.path, filepath.Clean("/"+key))
}

// toFileStat converts os.FileInfo to a FileStat.
func toFileStat(key string, info os.FileInfo) *data.FileStat {
	mode := data.FileMode(info.Mode().Perm())
	switch {
	case info.IsDir():
		mode |= data.ModeDir
	case info.Mode()&os.ModeNamedPipe != 0:
		mode |= data.ModeNamedPipe
	case info.Mode()&os.ModeSocket != 0:
		mode |= data.ModeSocket
	case info.Mode()&os.ModeCharDevice != 0:
		mode |= data.ModeCharDevice
	case info.Mode()&os.ModeDevice != 0:
		mode |= data.ModeDevice
	case info.Mode()&os.ModeSymlink != 0:
		mode |= data.ModeSymlink
	}

	return &data.FileStat{
		Key:        key,
		Mode:       mode,
		Size:       info.Size(),
		ModifyTime: info.ModTime(),
	}
}

// mapPathError translates os errors into the backend error set.
func mapPathError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return data.ErrNotExist
	case errors.Is(err, fs.ErrExist):
		return data.ErrExist
	case errors.Is(err, fs.ErrPermission):
		return data.ErrPermission
	default:
		return err
	}
}
