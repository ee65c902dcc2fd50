package local

import (
	"context"
	"os"
	"sync"

	"github.com/mwantia/unionfs/backend"
	"github.com/mwantia/unionfs/data"
)

// hostFifo carries the host file for an opened FIFO. The file is set once
// by the table's Open entry and never replaced.
type hostFifo struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// OpenSpecial locates a host FIFO and returns a handle carrying the
// passthrough table. The blocking host open happens in the table's Open
// entry, invoked by the union layer with its locks dropped.
func (lb *LocalBackend) OpenSpecial(ctx context.Context, key string, access data.AccessMode) (*backend.ObjectHandle, error) {
	full := lb.resolvePath(key)

	info, err := os.Lstat(full)
	if err != nil {
		return nil, mapPathError(err)
	}
	if info.Mode()&os.ModeNamedPipe == 0 {
		return nil, data.ErrNotSupported
	}

	h := backend.NewObjectHandle(key, toFileStat(key, info).Mode, access, lb)
	h.Table = lb.fifoTable
	h.Object = &hostFifo{path: full}
	return h, nil
}

// newHostFifoTable builds the passthrough table for host FIFOs. Open
// performs the host kernel's blocking FIFO open; a canceled context
// abandons the wait, leaving the opener goroutine to finish (and close)
// whenever the peer finally arrives.
func newHostFifoTable() *backend.OperationTable {
	return &backend.OperationTable{
		Open: func(ctx context.Context, h *backend.ObjectHandle) error {
			hf, ok := h.Object.(*hostFifo)
			if !ok {
				return data.ErrInvalid
			}

			flags := os.O_RDWR
			switch {
			case h.Access.IsReadOnly():
				flags = os.O_RDONLY
			case h.Access.IsWriteOnly():
				flags = os.O_WRONLY
			}

			type result struct {
				file *os.File
				err  error
			}
			done := make(chan result, 1)
			go func() {
				f, err := os.OpenFile(hf.path, flags, 0)
				done <- result{f, err}
			}()

			select {
			case res := <-done:
				if res.err != nil {
					return mapPathError(res.err)
				}
				hf.mu.Lock()
				hf.file = res.file
				hf.mu.Unlock()
				return nil
			case <-ctx.Done():
				go func() {
					if res := <-done; res.file != nil {
						res.file.Close()
					}
				}()
				return ctx.Err()
			}
		},
		Read: func(ctx context.Context, h *backend.ObjectHandle, p []byte, offset int64) (int, error) {
			hf, ok := h.Object.(*hostFifo)
			if !ok || hf.file == nil {
				return 0, data.ErrInvalid
			}
			return hf.file.Read(p) // pipes have no position, offset ignored
		},
		Write: func(ctx context.Context, h *backend.ObjectHandle, p []byte, offset int64) (int, error) {
			hf, ok := h.Object.(*hostFifo)
			if !ok || hf.file == nil {
				return 0, data.ErrInvalid
			}
			return hf.file.Write(p)
		},
		Release: func(ctx context.Context, h *backend.ObjectHandle) error {
			hf, ok := h.Object.(*hostFifo)
			if !ok {
				return data.ErrInvalid
			}
			hf.mu.Lock()
			defer hf.mu.Unlock()
			if hf.file == nil {
				return nil
			}
			err := hf.file.Close()
			hf.file = nil
			return err
		},
	}
}
