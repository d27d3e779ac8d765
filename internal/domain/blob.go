package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo is the metadata of one stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader fetches recorded feeds from object storage. Both methods
// report a missing object as ErrNotFound.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Stat(ctx context.Context, path string) (BlobInfo, error)
}

// ReportArchiver stores finished run reports in cold storage and returns the
// key prefix they were written under.
type ReportArchiver interface {
	ArchiveReport(ctx context.Context, run Run, report AggregateReport) (string, error)
}
