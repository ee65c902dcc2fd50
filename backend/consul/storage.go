package consul

import (
	"context"
	"encoding/json"
	"path"
	"strings"
	"time"

	"github.com/hashicorp/consul/api"
	"github.com/mwantia/unionfs/data"
)

// kvObject is the JSON value stored per KV entry: stat and content in one.
type kvObject struct {
	Stat    *data.FileStat `json:"stat"`
	Content []byte         `json:"content,omitempty"`
}

func cleanKey(key string) string {
	return strings.Trim(key, "/")
}

func (cb *ConsulBackend) fullKey(key string) string {
	return cb.config.Prefix + cleanKey(key)
}

func (cb *ConsulBackend) getObject(key string) (*kvObject, error) {
	pair, _, err := cb.kv.Get(cb.fullKey(key), nil)
	if err != nil {
		return nil, err
	}
	if pair == nil {
		return nil, data.ErrNotExist
	}

	var obj kvObject
	if err := json.Unmarshal(pair.Value, &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

func (cb *ConsulBackend) putObject(key string, obj *kvObject) error {
	value, err := json.Marshal(obj)
	if err != nil {
		return err
	}

	_, err = cb.kv.Put(&api.KVPair{Key: cb.fullKey(key), Value: value}, nil)
	return err
}

// HeadObject returns the stat of a single object.
func (cb *ConsulBackend) HeadObject(ctx context.Context, key string) (*data.FileStat, error) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	key = cleanKey(key)
	if key == "" {
		return &data.FileStat{Key: "", Mode: data.ModeDir | 0755}, nil
	}

	obj, err := cb.getObject(key)
	if err != nil {
		return nil, err
	}
	return obj.Stat, nil
}

// ListObjects returns the direct children of a directory key.
func (cb *ConsulBackend) ListObjects(ctx context.Context, key string) ([]*data.FileStat, error) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	key = cleanKey(key)
	if key != "" {
		obj, err := cb.getObject(key)
		if err != nil {
			return nil, err
		}
		if !obj.Stat.Mode.IsDir() {
			return nil, data.ErrNotDirectory
		}
	}

	prefix := cb.config.Prefix
	if key != "" {
		prefix += key + "/"
	}

	keys, _, err := cb.kv.Keys(prefix, "", nil)
	if err != nil {
		return nil, err
	}

	var stats []*data.FileStat
	for _, k := range keys {
		rest := strings.TrimPrefix(k, prefix)
		if rest == "" || strings.Contains(rest, "/") {
			continue // the directory itself or a deeper descendant
		}

		obj, err := cb.getObject(path.Join(key, rest))
		if err != nil {
			return nil, err
		}
		stats = append(stats, obj.Stat)
	}

	return stats, nil
}

// MakeObject creates a directory entry or an empty regular object.
func (cb *ConsulBackend) MakeObject(ctx context.Context, key string, mode data.FileMode) (*data.FileStat, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	key = cleanKey(key)
	if key == "" {
		return nil, data.ErrExist
	}
	if _, err := cb.getObject(key); err == nil {
		return nil, data.ErrExist
	}

	if !mode.IsDir() && !mode.IsRegular() {
		return nil, data.ErrNotSupported
	}

	now := time.Now()
	stat := &data.FileStat{
		Key:        key,
		Mode:       mode,
		ModifyTime: now,
		AccessTime: now,
		CreateTime: now,
	}

	if err := cb.putObject(key, &kvObject{Stat: stat}); err != nil {
		return nil, err
	}
	return stat, nil
}

// ReadObjectAt reads from a regular object at offset.
func (cb *ConsulBackend) ReadObjectAt(ctx context.Context, key string, offset int64, p []byte) (int, error) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	obj, err := cb.getObject(key)
	if err != nil {
		return 0, err
	}
	if !obj.Stat.Mode.IsRegular() {
		return 0, data.ErrInvalid
	}

	if offset >= int64(len(obj.Content)) {
		return 0, nil
	}
	return copy(p, obj.Content[offset:]), nil
}

// WriteObjectAt writes to a regular object at offset, extending it as needed.
func (cb *ConsulBackend) WriteObjectAt(ctx context.Context, key string, offset int64, p []byte) (int, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	obj, err := cb.getObject(key)
	if err != nil {
		return 0, err
	}
	if !obj.Stat.Mode.IsRegular() {
		return 0, data.ErrInvalid
	}

	end := offset + int64(len(p))
	if end > int64(len(obj.Content)) {
		grown := make([]byte, end)
		copy(grown, obj.Content)
		obj.Content = grown
	}
	copy(obj.Content[offset:], p)

	obj.Stat.Size = int64(len(obj.Content))
	obj.Stat.ModifyTime = time.Now()

	if err := cb.putObject(cleanKey(key), obj); err != nil {
		return 0, err
	}
	return len(p), nil
}

// TruncateObject sets the size of a regular object.
func (cb *ConsulBackend) TruncateObject(ctx context.Context, key string, size int64) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	obj, err := cb.getObject(key)
	if err != nil {
		return err
	}
	if !obj.Stat.Mode.IsRegular() {
		return data.ErrInvalid
	}

	if size <= int64(len(obj.Content)) {
		obj.Content = obj.Content[:size]
	} else {
		grown := make([]byte, size)
		copy(grown, obj.Content)
		obj.Content = grown
	}

	obj.Stat.Size = size
	obj.Stat.ModifyTime = time.Now()
	return cb.putObject(cleanKey(key), obj)
}

// DeleteObject removes an object, recursively when force is set.
func (cb *ConsulBackend) DeleteObject(ctx context.Context, key string, force bool) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	key = cleanKey(key)
	obj, err := cb.getObject(key)
	if err != nil {
		return err
	}

	if obj.Stat.Mode.IsDir() {
		prefix := cb.config.Prefix + key + "/"
		keys, _, err := cb.kv.Keys(prefix, "", nil)
		if err != nil {
			return err
		}
		if len(keys) > 0 && !force {
			return data.ErrDirectoryNotEmpty
		}
		if _, err := cb.kv.DeleteTree(prefix, nil); err != nil {
			return err
		}
	}

	_, err = cb.kv.Delete(cb.fullKey(key), nil)
	return err
}

// SetObjectTimes updates access and/or modification times. Zero values
// leave the corresponding field unchanged.
func (cb *ConsulBackend) SetObjectTimes(ctx context.Context, key string, atime, mtime time.Time) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	obj, err := cb.getObject(key)
	if err != nil {
		return err
	}

	if !atime.IsZero() {
		obj.Stat.AccessTime = atime
	}
	if !mtime.IsZero() {
		obj.Stat.ModifyTime = mtime
	}
	return cb.putObject(cleanKey(key), obj)
}
