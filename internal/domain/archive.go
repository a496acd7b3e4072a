package domain

import (
	"context"
	"io"
	"time"
)

// ArchiveContentType is the media type of order archives: one JSON-encoded
// Order per line.
const ArchiveContentType = "application/x-ndjson"

// ArchiveResult summarises one archive run for a cutoff date.
type ArchiveResult struct {
	Path   string    `json:"path"`
	Before time.Time `json:"before"`
	Orders int64     `json:"orders"`
	Bytes  int64     `json:"bytes"`
	// Skipped is set when the object for this cutoff already existed.
	Skipped bool `json:"skipped,omitempty"`
}

// Archiver copies settled orders to cold storage. Archiving the same cutoff
// twice must not rewrite the first archive.
type Archiver interface {
	ArchiveOrders(ctx context.Context, before time.Time) (ArchiveResult, error)
}

// ObjectInfo describes an archive object.
type ObjectInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// ObjectWriter uploads archive objects.
type ObjectWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// ObjectReader inspects archive objects.
type ObjectReader interface {
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}
