package memory

import (
	"context"
	"sync"

	"github.com/mwantia/unionfs/backend"
	"github.com/mwantia/unionfs/data"
	"github.com/tidwall/btree"
)

// MemoryBackend keeps all objects in process memory, ordered by key in a
// B-tree so directory listings come out sorted. Named pipes are backed by
// in-process Pipe objects.
type MemoryBackend struct {
	mu sync.RWMutex

	objects *btree.Map[string, *memObject]

	// fifoTable is the native operation table for FIFOs on this backend.
	// It is stable for the backend's lifetime.
	fifoTable *backend.OperationTable
}

type memObject struct {
	stat    *data.FileStat
	content []byte
	pipe    *backend.Pipe
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		objects:   btree.NewMap[string, *memObject](0),
		fifoTable: backend.NewPipeTable(),
	}
}

// Name returns the identifier name defined for this backend
func (*MemoryBackend) Name() string {
	return "memory"
}

// Open is part of the lifecycle behaviour and gets called when a branch
// using this backend is attached.
func (mb *MemoryBackend) Open(ctx context.Context) error {
	// No initialization needed - backend is ready to use
	return nil
}

// Close is part of the lifecycle behaviour and gets called when a branch
// using this backend is detached.
func (mb *MemoryBackend) Close(ctx context.Context) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	mb.objects.Clear()
	return nil
}

// GetCapabilities returns a list of capabilities supported by this backend.
func (mb *MemoryBackend) GetCapabilities() *backend.BackendCapabilities {
	return &backend.BackendCapabilities{
		Capabilities: []backend.BackendCapability{
			backend.CapabilityObjectStorage,
			backend.CapabilitySpecialObjects,
		},
		MaxObjectSize: 10485760, // 10 MB
	}
}

// OpenSpecial locates a named pipe and returns a handle carrying the
// backend's native FIFO table. The peer handshake happens later through
// the table's Open entry.
func (mb *MemoryBackend) OpenSpecial(ctx context.Context, key string, access data.AccessMode) (*backend.ObjectHandle, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	obj, exists := mb.objects.Get(cleanKey(key))
	if !exists {
		return nil, data.ErrNotExist
	}
	if obj.pipe == nil || !obj.stat.Mode.IsNamedPipe() {
		return nil, data.ErrNotSupported
	}

	h := backend.NewObjectHandle(cleanKey(key), obj.stat.Mode, access, mb)
	h.Table = mb.fifoTable
	h.Object = &backend.PipeEnds{Pipe: obj.pipe}
	return h, nil
}
