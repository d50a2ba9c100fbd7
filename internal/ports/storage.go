package ports

import (
	"context"
	"io"
)

type PutObjectInput struct {
	ObjectKey   string
	ContentType string
	Reader      io.Reader
	Size        int64
}

type PutObjectOutput struct {
	// On localfs this is the same object_key.
	// On gdrive it is the real fileId (so later reads/streams work).
	ObjectKey string
	Size      int64
}

// StorageProvider is the durable object storage contract: implementations
// (localfs, gdrive, s3, ...). Writes keyed by object key are idempotent:
// putting the same key twice overwrites in place.
type StorageProvider interface {
	Provider() string

	PutObject(ctx context.Context, in PutObjectInput) (PutObjectOutput, error)
	GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error)
	DeleteObject(ctx context.Context, objectKey string) error

	// PublicURL resolves the public-facing URL for a stored object.
	PublicURL(ctx context.Context, objectKey string) (string, error)
}
