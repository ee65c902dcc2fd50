package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/mwantia/unionfs/data"
)

func cleanKey(key string) string {
	return strings.Trim(key, "/")
}

// scanStat reads one object row into a FileStat.
func (sb *SQLiteBackend) scanStat(ctx context.Context, key string) (*data.FileStat, error) {
	row := sb.db.QueryRowContext(ctx,
		"SELECT mode, size, modify_time, access_time, create_time FROM union_objects WHERE key = ?", key)

	var mode uint32
	var size, mtime, atime, ctime int64
	if err := row.Scan(&mode, &size, &mtime, &atime, &ctime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, data.ErrNotExist
		}
		return nil, err
	}

	return &data.FileStat{
		Key:        key,
		Mode:       data.FileMode(mode),
		Size:       size,
		ModifyTime: time.Unix(0, mtime),
		AccessTime: time.Unix(0, atime),
		CreateTime: time.Unix(0, ctime),
	}, nil
}

// HeadObject returns the stat of a single object.
func (sb *SQLiteBackend) HeadObject(ctx context.Context, key string) (*data.FileStat, error) {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	key = cleanKey(key)
	if key == "" {
		return &data.FileStat{Key: "", Mode: data.ModeDir | 0755}, nil
	}

	return sb.scanStat(ctx, key)
}

// ListObjects returns the direct children of a directory key.
func (sb *SQLiteBackend) ListObjects(ctx context.Context, key string) ([]*data.FileStat, error) {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	key = cleanKey(key)
	if key != "" {
		mode, exists := sb.keys.Get(key)
		if !exists {
			return nil, data.ErrNotExist
		}
		if !mode.IsDir() {
			return nil, data.ErrNotDirectory
		}
	}

	prefix := key
	if prefix != "" {
		prefix += "/"
	}

	var childKeys []string
	sb.keys.Ascend(prefix, func(k string, _ data.FileMode) bool {
		if !strings.HasPrefix(k, prefix) {
			return false
		}
		rest := k[len(prefix):]
		if rest != "" && !strings.Contains(rest, "/") {
			childKeys = append(childKeys, k)
		}
		return true
	})

	stats := make([]*data.FileStat, 0, len(childKeys))
	for _, k := range childKeys {
		stat, err := sb.scanStat(ctx, k)
		if err != nil {
			return nil, err
		}
		stats = append(stats, stat)
	}

	return stats, nil
}

// MakeObject creates a new directory, empty regular file, or FIFO node.
func (sb *SQLiteBackend) MakeObject(ctx context.Context, key string, mode data.FileMode) (*data.FileStat, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	key = cleanKey(key)
	if key == "" {
		return nil, data.ErrExist
	}
	if _, exists := sb.keys.Get(key); exists {
		return nil, data.ErrExist
	}

	now := time.Now().UnixNano()
	_, err := sb.db.ExecContext(ctx,
		"INSERT INTO union_objects (key, mode, size, modify_time, access_time, create_time, content) VALUES (?, ?, 0, ?, ?, ?, ?)",
		key, uint32(mode), now, now, now, []byte{})
	if err != nil {
		return nil, err
	}

	sb.keys.Set(key, mode)

	return &data.FileStat{
		Key:        key,
		Mode:       mode,
		ModifyTime: time.Unix(0, now),
		AccessTime: time.Unix(0, now),
		CreateTime: time.Unix(0, now),
	}, nil
}

// ReadObjectAt reads from a regular object at offset.
func (sb *SQLiteBackend) ReadObjectAt(ctx context.Context, key string, offset int64, p []byte) (int, error) {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	key = cleanKey(key)
	mode, exists := sb.keys.Get(key)
	if !exists {
		return 0, data.ErrNotExist
	}
	if !mode.IsRegular() {
		return 0, data.ErrInvalid
	}

	var content []byte
	row := sb.db.QueryRowContext(ctx, "SELECT content FROM union_objects WHERE key = ?", key)
	if err := row.Scan(&content); err != nil {
		return 0, err
	}

	if offset >= int64(len(content)) {
		return 0, nil
	}
	return copy(p, content[offset:]), nil
}

// WriteObjectAt writes to a regular object at offset, extending it as needed.
func (sb *SQLiteBackend) WriteObjectAt(ctx context.Context, key string, offset int64, p []byte) (int, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	key = cleanKey(key)
	mode, exists := sb.keys.Get(key)
	if !exists {
		return 0, data.ErrNotExist
	}
	if !mode.IsRegular() {
		return 0, data.ErrInvalid
	}

	var content []byte
	row := sb.db.QueryRowContext(ctx, "SELECT content FROM union_objects WHERE key = ?", key)
	if err := row.Scan(&content); err != nil {
		return 0, err
	}

	end := offset + int64(len(p))
	if end > int64(len(content)) {
		grown := make([]byte, end)
		copy(grown, content)
		content = grown
	}
	copy(content[offset:], p)

	_, err := sb.db.ExecContext(ctx,
		"UPDATE union_objects SET content = ?, size = ?, modify_time = ? WHERE key = ?",
		content, int64(len(content)), time.Now().UnixNano(), key)
	if err != nil {
		return 0, err
	}

	return len(p), nil
}

// TruncateObject sets the size of a regular object.
func (sb *SQLiteBackend) TruncateObject(ctx context.Context, key string, size int64) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	key = cleanKey(key)
	mode, exists := sb.keys.Get(key)
	if !exists {
		return data.ErrNotExist
	}
	if !mode.IsRegular() {
		return data.ErrInvalid
	}

	var content []byte
	row := sb.db.QueryRowContext(ctx, "SELECT content FROM union_objects WHERE key = ?", key)
	if err := row.Scan(&content); err != nil {
		return err
	}

	if size <= int64(len(content)) {
		content = content[:size]
	} else {
		grown := make([]byte, size)
		copy(grown, content)
		content = grown
	}

	_, err := sb.db.ExecContext(ctx,
		"UPDATE union_objects SET content = ?, size = ?, modify_time = ? WHERE key = ?",
		content, size, time.Now().UnixNano(), key)
	return err
}

// DeleteObject removes an object, recursively when force is set.
func (sb *SQLiteBackend) DeleteObject(ctx context.Context, key string, force bool) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	key = cleanKey(key)
	mode, exists := sb.keys.Get(key)
	if !exists {
		return data.ErrNotExist
	}

	if mode.IsDir() {
		prefix := key + "/"
		var children []string
		sb.keys.Ascend(prefix, func(k string, _ data.FileMode) bool {
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
			if _, err := sb.db.ExecContext(ctx, "DELETE FROM union_objects WHERE key = ?", child); err != nil {
				return err
			}
			sb.keys.Delete(child)
			delete(sb.pipes, child)
		}
	}

	if _, err := sb.db.ExecContext(ctx, "DELETE FROM union_objects WHERE key = ?", key); err != nil {
		return err
	}
	sb.keys.Delete(key)
	delete(sb.pipes, key)
	return nil
}

// SetObjectTimes updates access and/or modification times. Zero values
// leave the corresponding field unchanged.
func (sb *SQLiteBackend) SetObjectTimes(ctx context.Context, key string, atime, mtime time.Time) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	key = cleanKey(key)
	if _, exists := sb.keys.Get(key); !exists {
		return data.ErrNotExist
	}

	if !atime.IsZero() {
		if _, err := sb.db.ExecContext(ctx,
			"UPDATE union_objects SET access_time = ? WHERE key = ?", atime.UnixNano(), key); err != nil {
			return err
		}
	}
	if !mtime.IsZero() {
		if _, err := sb.db.ExecContext(ctx,
			"UPDATE union_objects SET modify_time = ? WHERE key = ?", mtime.UnixNano(), key); err != nil {
			return err
		}
	}
	return nil
}
