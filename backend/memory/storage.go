package memory

import (
	"context"
	"strings"
	"time"

	"github.com/mwantia/unionfs/backend"
	"github.com/mwantia/unionfs/data"
)

// cleanKey normalizes keys to the backend's internal form: no leading or
// trailing slashes, "" for the root.
func cleanKey(key string) string {
	return strings.Trim(key, "/")
}

func rootStat() *data.FileStat {
	return &data.FileStat{
		Key:  "",
		Mode: data.ModeDir | 0755,
	}
}

// HeadObject returns the stat of a single object.
func (mb *MemoryBackend) HeadObject(ctx context.Context, key string) (*data.FileStat, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	key = cleanKey(key)
	if key == "" {
		return rootStat(), nil
	}

	obj, exists := mb.objects.Get(key)
	if !exists {
		return nil, data.ErrNotExist
	}

	stat := *obj.stat
	return &stat, nil
}

// ListObjects returns the direct children of a directory key.
func (mb *MemoryBackend) ListObjects(ctx context.Context, key string) ([]*data.FileStat, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	key = cleanKey(key)
	if key != "" {
		obj, exists := mb.objects.Get(key)
		if !exists {
			return nil, data.ErrNotExist
		}
		if !obj.stat.Mode.IsDir() {
			return nil, data.ErrNotDirectory
		}
	}

	prefix := key
	if prefix != "" {
		prefix += "/"
	}

	var stats []*data.FileStat
	mb.objects.Ascend(prefix, func(k string, obj *memObject) bool {
		if !strings.HasPrefix(k, prefix) {
			return false
		}
		rest := k[len(prefix):]
		if rest == "" || strings.Contains(rest, "/") {
			return true // the directory itself or a deeper descendant
		}
		stat := *obj.stat
		stats = append(stats, &stat)
		return true
	})

	return stats, nil
}

// MakeObject creates a new directory, empty regular file, or FIFO node.
func (mb *MemoryBackend) MakeObject(ctx context.Context, key string, mode data.FileMode) (*data.FileStat, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	key = cleanKey(key)
	if key == "" {
		return nil, data.ErrExist
	}
	if _, exists := mb.objects.Get(key); exists {
		return nil, data.ErrExist
	}

	now := time.Now()
	obj := &memObject{
		stat: &data.FileStat{
			Key:        key,
			Mode:       mode,
			ModifyTime: now,
			AccessTime: now,
			CreateTime: now,
		},
	}
	if mode.IsNamedPipe() {
		obj.pipe = backend.NewPipe()
	}

	mb.objects.Set(key, obj)

	stat := *obj.stat
	return &stat, nil
}

// ReadObjectAt reads from a regular object at offset.
func (mb *MemoryBackend) ReadObjectAt(ctx context.Context, key string, offset int64, p []byte) (int, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	obj, exists := mb.objects.Get(cleanKey(key))
	if !exists {
		return 0, data.ErrNotExist
	}
	if !obj.stat.Mode.IsRegular() {
		return 0, data.ErrInvalid
	}
	if offset >= int64(len(obj.content)) {
		return 0, nil
	}

	return copy(p, obj.content[offset:]), nil
}

// WriteObjectAt writes to a regular object at offset, extending it as needed.
func (mb *MemoryBackend) WriteObjectAt(ctx context.Context, key string, offset int64, p []byte) (int, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	obj, exists := mb.objects.Get(cleanKey(key))
	if !exists {
		return 0, data.ErrNotExist
	}
	if !obj.stat.Mode.IsRegular() {
		return 0, data.ErrInvalid
	}

	end := offset + int64(len(p))
	if end > int64(len(obj.content)) {
		grown := make([]byte, end)
		copy(grown, obj.content)
		obj.content = grown
	}
	copy(obj.content[offset:], p)

	obj.stat.Size = int64(len(obj.content))
	obj.stat.ModifyTime = time.Now()
	return len(p), nil
}

// TruncateObject sets the size of a regular object.
func (mb *MemoryBackend) TruncateObject(ctx context.Context, key string, size int64) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	obj, exists := mb.objects.Get(cleanKey(key))
	if !exists {
		return data.ErrNotExist
	}
	if !obj.stat.Mode.IsRegular() {
		return data.ErrInvalid
	}

	if size <= int64(len(obj.content)) {
		obj.content = obj.content[:size]
	} else {
		grown := make([]byte, size)
		copy(grown, obj.content)
		obj.content = grown
	}

	obj.stat.Size = size
	obj.stat.ModifyTime = time.Now()
	return nil
}

// DeleteObject removes an object, recursively when force is set.
func (mb *MemoryBackend) DeleteObject(ctx context.Context, key string, force bool) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	key = cleanKey(key)
	obj, exists := mb.objects.Get(key)
	if !exists {
		return data.ErrNotExist
	}

	if obj.stat.Mode.IsDir() {
		prefix := key + "/"
		var children []string
		mb.objects.Ascend(prefix, func(k string, _ *memObject) bool {
			if !strings.HasPrefix(k, prefix) {
				return false
			}
			children = append(children, k)
			return true
		})
		if len(children) > 0 && !force {
			return data.ErrDirectoryNotEmpty
		}
		for _, child := range children {
			mb.objects.Delete(child)
		}
	}

	mb.objects.Delete(key)
	return nil
}

// SetObjectTimes updates access and/or modification times. Zero values
// leave the corresponding field unchanged.
func (mb *MemoryBackend) SetObjectTimes(ctx context.Context, key string, atime, mtime time.Time) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	obj, exists := mb.objects.Get(cleanKey(key))
	if !exists {
		return data.ErrNotExist
	}

	if !atime.IsZero() {
		obj.stat.AccessTime = atime
	}
	if !mtime.IsZero() {
		obj.stat.ModifyTime = mtime
	}
	return nil
}
