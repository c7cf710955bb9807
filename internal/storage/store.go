package storage

import (
	"context"
	"io"
)

// BlobStore holds firmware binaries. Implementations are content-agnostic;
// checksums are computed and verified by the firmware service.
type BlobStore interface {
	Save(ctx context.Context, name string, reader io.Reader) (path string, size int64, err error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
}
