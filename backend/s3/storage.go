package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/mwantia/unionfs/data"
)

func cleanKey(key string) string {
	return strings.Trim(key, "/")
}

// dirMarker is the zero-byte object that stands in for a directory.
func dirMarker(key string) string {
	return key + "/"
}

func mapS3Error(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchObject":
		return data.ErrNotExist
	case "AccessDenied":
		return data.ErrPermission
	}
	return err
}

// HeadObject returns the stat of a single object.
func (sb *S3Backend) HeadObject(ctx context.Context, key string) (*data.FileStat, error) {
	key = cleanKey(key)
	if key == "" {
		return &data.FileStat{Key: "", Mode: data.ModeDir | 0755}, nil
	}

	info, err := sb.client.StatObject(ctx, sb.bucketName, key, minio.StatObjectOptions{})
	if err == nil {
		return &data.FileStat{
			Key:         key,
			Mode:        0644,
			Size:        info.Size,
			ModifyTime:  info.LastModified,
			ContentType: info.ContentType,
			ETag:        info.ETag,
		}, nil
	}

	// Fall back to the directory marker.
	if _, derr := sb.client.StatObject(ctx, sb.bucketName, dirMarker(key), minio.StatObjectOptions{}); derr == nil {
		return &data.FileStat{Key: key, Mode: data.ModeDir | 0755}, nil
	}

	return nil, mapS3Error(err)
}

// ListObjects returns the direct children of a directory key.
func (sb *S3Backend) ListObjects(ctx context.Context, key string) ([]*data.FileStat, error) {
	key = cleanKey(key)

	prefix := ""
	if key != "" {
		stat, err := sb.HeadObject(ctx, key)
		if err != nil {
			return nil, err
		}
		if !stat.Mode.IsDir() {
			return nil, data.ErrNotDirectory
		}
		prefix = dirMarker(key)
	}

	var stats []*data.FileStat
	for info := range sb.client.ListObjects(ctx, sb.bucketName, minio.ListObjectsOptions{
		Prefix: prefix,
	}) {
		if info.Err != nil {
			return nil, mapS3Error(info.Err)
		}
		if info.Key == prefix {
			continue // the directory marker itself
		}

		name := strings.TrimPrefix(info.Key, prefix)
		if strings.HasSuffix(name, "/") {
			stats = append(stats, &data.FileStat{
				Key:  path.Join(key, strings.TrimSuffix(name, "/")),
				Mode: data.ModeDir | 0755,
			})
			continue
		}

		stats = append(stats, &data.FileStat{
			Key:        path.Join(key, name),
			Mode:       0644,
			Size:       info.Size,
			ModifyTime: info.LastModified,
			ETag:       info.ETag,
		})
	}

	return stats, nil
}

// MakeObject creates a directory marker or an empty regular object.
// Special nodes are not representable in S3.
func (sb *S3Backend) MakeObject(ctx context.Context, key string, mode data.FileMode) (*data.FileStat, error) {
	key = cleanKey(key)
	if key == "" {
		return nil, data.ErrExist
	}
	if _, err := sb.HeadObject(ctx, key); err == nil {
		return nil, data.ErrExist
	}

	switch {
	case mode.IsDir():
		if _, err := sb.client.PutObject(ctx, sb.bucketName, dirMarker(key),
			bytes.NewReader(nil), 0, minio.PutObjectOptions{}); err != nil {
			return nil, mapS3Error(err)
		}
	case mode.IsRegular():
		if _, err := sb.client.PutObject(ctx, sb.bucketName, key,
			bytes.NewReader(nil), 0, minio.PutObjectOptions{}); err != nil {
			return nil, mapS3Error(err)
		}
	default:
		return nil, data.ErrNotSupported
	}

	return &data.FileStat{Key: key, Mode: mode, ModifyTime: time.Now(), CreateTime: time.Now()}, nil
}

// ReadObjectAt reads a byte range from an object.
func (sb *S3Backend) ReadObjectAt(ctx context.Context, key string, offset int64, p []byte) (int, error) {
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(offset, offset+int64(len(p))-1); err != nil {
		return 0, data.ErrInvalid
	}

	obj, err := sb.client.GetObject(ctx, sb.bucketName, cleanKey(key), opts)
	if err != nil {
		return 0, mapS3Error(err)
	}
	defer obj.Close()

	n, err := io.ReadFull(obj, p)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		err = nil
	}
	return n, mapS3Error(err)
}

// WriteObjectAt writes at an offset by rewriting the whole object. S3 has
// no partial update, so this is read-modify-write; fine for the small
// objects this backend is meant for.
func (sb *S3Backend) WriteObjectAt(ctx context.Context, key string, offset int64, p []byte) (int, error) {
	key = cleanKey(key)

	content, err := sb.readAll(ctx, key)
	if err != nil {
		return 0, err
	}

	end := offset + int64(len(p))
	if end > int64(len(content)) {
		grown := make([]byte, end)
		copy(grown, content)
		content = grown
	}
	copy(content[offset:], p)

	if _, err := sb.client.PutObject(ctx, sb.bucketName, key,
		bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{}); err != nil {
		return 0, mapS3Error(err)
	}
	return len(p), nil
}

func (sb *S3Backend) readAll(ctx context.Context, key string) ([]byte, error) {
	obj, err := sb.client.GetObject(ctx, sb.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapS3Error(err)
	}
	defer obj.Close()

	content, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapS3Error(err)
	}
	return content, nil
}

// TruncateObject sets the size of an object via read-modify-write.
func (sb *S3Backend) TruncateObject(ctx context.Context, key string, size int64) error {
	key = cleanKey(key)

	content, err := sb.readAll(ctx, key)
	if err != nil {
		return err
	}

	if size <= int64(len(content)) {
		content = content[:size]
	} else {
		grown := make([]byte, size)
		copy(grown, content)
		content = grown
	}

	_, err = sb.client.PutObject(ctx, sb.bucketName, key,
		bytes.NewReader(content), size, minio.PutObjectOptions{})
	return mapS3Error(err)
}

// DeleteObject removes an object or directory marker.
func (sb *S3Backend) DeleteObject(ctx context.Context, key string, force bool) error {
	key = cleanKey(key)

	stat, err := sb.HeadObject(ctx, key)
	if err != nil {
		return err
	}

	if stat.Mode.IsDir() {
		children, err := sb.ListObjects(ctx, key)
		if err != nil {
			return err
		}
		if len(children) > 0 && !force {
			return data.ErrDirectoryNotEmpty
		}
		for _, child := range children {
			if err := sb.DeleteObject(ctx, child.Key, force); err != nil {
				return err
			}
		}
		return mapS3Error(sb.client.RemoveObject(ctx, sb.bucketName, dirMarker(key), minio.RemoveObjectOptions{}))
	}

	return mapS3Error(sb.client.RemoveObject(ctx, sb.bucketName, key, minio.RemoveObjectOptions{}))
}

// SetObjectTimes is a no-op: S3 tracks modification time itself and has
// no access time to maintain.
func (sb *S3Backend) SetObjectTimes(ctx context.Context, key string, atime, mtime time.Time) error {
	return nil
}
