package s3blob

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/everest/internal/domain"
)

// minPartSize is the smallest part S3 accepts in a multipart upload.
const minPartSize int64 = 5 * 1024 * 1024

// Writer uploads archive objects. Archives are write-once: a put onto an
// existing key fails with domain.ErrAlreadyExists.
type Writer struct {
	c *Client
}

func NewWriter(c *Client) *Writer {
	return &Writer{c: c}
}

// Put uploads data with a single conditional PutObject and a SHA-256
// checksum.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	_, err := w.c.s3.PutObject(ctx, w.input(path, data, contentType))
	return uploadErr(path, err)
}

// PutMultipart streams data through the upload manager.
func (w *Writer) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	up := manager.NewUploader(w.c.s3, func(u *manager.Uploader) {
		u.PartSize = max(partSize, minPartSize)
		u.Concurrency = 4
	})
	_, err := up.Upload(ctx, w.input(path, data, domain.ArchiveContentType))
	return uploadErr(path, err)
}

func (w *Writer) input(path string, data io.Reader, contentType string) *s3.PutObjectInput {
	return &s3.PutObjectInput{
		Bucket:            aws.String(w.c.bucket),
		Key:               aws.String(w.c.objectKey(path)),
		Body:              data,
		ContentType:       aws.String(contentType),
		IfNoneMatch:       aws.String("*"),
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
	}
}

func uploadErr(path string, err error) error {
	switch {
	case err == nil:
		return nil
	case hasStatus(err, http.StatusPreconditionFailed):
		return fmt.Errorf("s3blob: put %s: %w", path, domain.ErrAlreadyExists)
	default:
		return fmt.Errorf("s3blob: put %s: %w", path, err)
	}
}

var _ domain.ObjectWriter = (*Writer)(nil)
