package s3

import (
	"context"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/mwantia/unionfs/backend"
	"github.com/mwantia/unionfs/data"
)

// S3Backend exposes an S3 bucket as a branch. Directories are emulated
// with zero-byte marker objects ("key/"). The backend has no special-file
// support: S3 objects cannot carry pipe semantics, so FIFO branches must
// live elsewhere in the stack. Best suited as a read-only lower branch.
type S3Backend struct {
	mu sync.RWMutex

	client     *minio.Client
	bucketName string
}

func NewS3Backend(endpoint, bucketName, accessKey, secretKey string, useSsl bool) (*S3Backend, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSsl,
	})
	if err != nil {
		return nil, err
	}

	return &S3Backend{
		client:     client,
		bucketName: bucketName,
	}, nil
}

// Name returns the identifier name defined for this backend
func (*S3Backend) Name() string {
	return "s3"
}

// Open is part of the lifecycle behaviour and gets called when a branch
// using this backend is attached.
func (sb *S3Backend) Open(ctx context.Context) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	exists, err := sb.client.BucketExists(ctx, sb.bucketName)
	if err != nil {
		return err
	}
	if !exists {
		return data.ErrMountFailed
	}

	return nil
}

// Close is part of the lifecycle behaviour and gets called when a branch
// using this backend is detached.
func (sb *S3Backend) Close(ctx context.Context) error {
	return nil
}

// GetCapabilities returns a list of capabilities supported by this backend.
func (sb *S3Backend) GetCapabilities() *backend.BackendCapabilities {
	return &backend.BackendCapabilities{
		Capabilities: []backend.BackendCapability{
			backend.CapabilityObjectStorage,
		},
		MaxObjectSize: 5368709120, // 5 GB single PUT limit
	}
}
