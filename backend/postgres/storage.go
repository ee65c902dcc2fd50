package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mwantia/unionfs/data"
)

func cleanKey(key string) string {
	return strings.Trim(key, "/")
}

// scanStat reads one object row into a FileStat.
func (pb *PostgresBackend) scanStat(ctx context.Context, key string) (*data.FileStat, error) {
	row := pb.pool.QueryRow(ctx,
		"SELECT mode, size, modify_time, access_time, create_time FROM union_objects WHERE key = $1", key)

	var mode, size, mtime, atime, ctime int64
	if err := row.Scan(&mode, &size, &mtime, &atime, &ctime); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
func (pb *PostgresBackend) HeadObject(ctx context.Context, key string) (*data.FileStat, error) {
	pb.mu.RLock()
	defer pb.mu.RUnlock()

	key = cleanKey(key)
	if key == "" {
		return &data.FileStat{Key: "", Mode: data.ModeDir | 0755}, nil
	}

	return pb.scanStat(ctx, key)
}

// ListObjects returns the direct children of a directory key.
func (pb *PostgresBackend) ListObjects(ctx context.Context, key string) ([]*data.FileStat, error) {
	pb.mu.RLock()
	defer pb.mu.RUnlock()

	key = cleanKey(key)
	if key != "" {
		mode, exists := pb.keys.Get(key)
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
	pb.keys.Ascend(prefix, func(k string, _ data.FileMode) bool {
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
		stat, err := pb.scanStat(ctx, k)
		if err != nil {
			return nil, err
		}
		stats = append(stats, stat)
	}

	return stats, nil
}

// MakeObject creates a new directory or empty regular object.
func (pb *PostgresBackend) MakeObject(ctx context.Context, key string, mode data.FileMode) (*data.FileStat, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	key = cleanKey(key)
	if key == "" {
		return nil, data.ErrExist
	}
	if _, exists := pb.keys.Get(key); exists {
		return nil, data.ErrExist
	}

	if !mode.IsDir() && !mode.IsRegular() {
		return nil, data.ErrNotSupported
	}

	now := time.Now().UnixNano()
	_, err := pb.pool.Exec(ctx,
		"INSERT INTO union_objects (key, mode, size, modify_time, access_time, create_time, content) VALUES ($1, $2, 0, $3, $4, $5, $6)",
		key, int64(mode), now, now, now, []byte{})
	if err != nil {
		return nil, err
	}

	pb.keys.Set(key, mode)

	return &data.FileStat{
		Key:        key,
		Mode:       mode,
		ModifyTime: time.Unix(0, now),
		AccessTime: time.Unix(0, now),
		CreateTime: time.Unix(0, now),
	}, nil
}

// ReadObjectAt reads from a regular object at offset.
func (pb *PostgresBackend) ReadObjectAt(ctx context.Context, key string, offset int64, p []byte) (int, error) {
	pb.mu.RLock()
	defer pb.mu.RUnlock()

	key = cleanKey(key)
	mode, exists := pb.keys.Get(key)
	if !exists {
		return 0, data.ErrNotExist
	}
	if !mode.IsRegular() {
		return 0, data.ErrInvalid
	}

	var content []byte
	row := pb.pool.QueryRow(ctx, "SELECT content FROM union_objects WHERE key = $1", key)
	if err := row.Scan(&content); err != nil {
		return 0, err
	}

	if offset >= int64(len(content)) {
		return 0, nil
	}
	return copy(p, content[offset:]), nil
}

// WriteObjectAt writes to a regular object at offset, extending it as needed.
func (pb *PostgresBackend) WriteObjectAt(ctx context.Context, key string, offset int64, p []byte) (int, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	key = cleanKey(key)
	mode, exists := pb.keys.Get(key)
	if !exists {
		return 0, data.ErrNotExist
	}
	if !mode.IsRegular() {
		return 0, data.ErrInvalid
	}

	var content []byte
	row := pb.pool.QueryRow(ctx, "SELECT content FROM union_objects WHERE key = $1", key)
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

	_, err := pb.pool.Exec(ctx,
		"UPDATE union_objects SET content = $1, size = $2, modify_time = $3 WHERE key = $4",
		content, int64(len(content)), time.Now().UnixNano(), key)
	if err != nil {
		return 0, err
	}

	return len(p), nil
}

// TruncateObject sets the size of a regular object.
func (pb *PostgresBackend) TruncateObject(ctx context.Context, key string, size int64) error {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	key = cleanKey(key)
	mode, exists := pb.keys.Get(key)
	if !exists {
		return data.ErrNotExist
	}
	if !mode.IsRegular() {
		return data.ErrInvalid
	}

	var content []byte
	row := pb.pool.QueryRow(ctx, "SELECT content FROM union_objects WHERE key = $1", key)
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

	_, err := pb.pool.Exec(ctx,
		"UPDATE union_objects SET content = $1, size = $2, modify_time = $3 WHERE key = $4",
		content, size, time.Now().UnixNano(), key)
	return err
}

// DeleteObject removes an object, recursively when force is set.
func (pb *PostgresBackend) DeleteObject(ctx context.Context, key string, force bool) error {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	key = cleanKey(key)
	mode, exists := pb.keys.Get(key)
	if !exists {
		return data.ErrNotExist
	}

	if mode.IsDir() {
		prefix := key + "/"
		var children []string
		pb.keys.Ascend(prefix, func(k string, _ data.FileMode) bool {
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
			if _, err := pb.pool.Exec(ctx, "DELETE FROM union_objects WHERE key = $1", child); err != nil {
				return err
			}
			pb.keys.Delete(child)
		}
	}

	if _, err := pb.pool.Exec(ctx, "DELETE FROM union_objects WHERE key = $1", key); err != nil {
		return err
	}
	pb.keys.Delete(key)
	return nil
}

// SetObjectTimes updates access and/or modification times. Zero values
// leave the corresponding field unchanged.
func (pb *PostgresBackend) SetObjectTimes(ctx context.Context, key string, atime, mtime time.Time) error {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	key = cleanKey(key)
	if _, exists := pb.keys.Get(key); !exists {
		return data.ErrNotExist
	}

	if !atime.IsZero() {
		if _, err := pb.pool.Exec(ctx,
			"UPDATE union_objects SET access_time = $1 WHERE key = $2", atime.UnixNano(), key); err != nil {
			return err
		}
	}
	if !mtime.IsZero() {
		if _, err := pb.pool.Exec(ctx,
			"UPDATE union_objects SET modify_time = $1 WHERE key = $2", mtime.UnixNano(), key); err != nil {
			return err
		}
	}
	return nil
}
