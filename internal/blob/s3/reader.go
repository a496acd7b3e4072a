package s3blob

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/everest/internal/domain"
)

// Reader looks up archive objects. Paths are relative to the client prefix.
type Reader struct {
	c *Client
}

func NewReader(c *Client) *Reader {
	return &Reader{c: c}
}

// List pages through every object under prefix.
func (r *Reader) List(ctx context.Context, prefix string) ([]domain.ObjectInfo, error) {
	pages := s3.NewListObjectsV2Paginator(r.c.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.c.bucket),
		Prefix: aws.String(r.c.objectKey(prefix)),
	})

	var out []domain.ObjectInfo
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			out = append(out, domain.ObjectInfo{
				Path:         r.c.relativeKey(aws.ToString(obj.Key)),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return out, nil
}

// Exists issues HeadObject; a missing key is not an error.
func (r *Reader) Exists(ctx context.Context, path string) (bool, error) {
	_, err := r.c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.c.bucket),
		Key:    aws.String(r.c.objectKey(path)),
	})
	switch {
	case err == nil:
		return true, nil
	case hasStatus(err, http.StatusNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("s3blob: head %s: %w", path, err)
	}
}

// hasStatus matches typed SDK errors as well as the bare HTTP responses
// some S3-compatible stores send.
func hasStatus(err error, code int) bool {
	if code == http.StatusNotFound {
		var nsk *types.NoSuchKey
		var nf *types.NotFound
		if errors.As(err, &nsk) || errors.As(err, &nf) {
			return true
		}
	}
	var resp interface{ HTTPStatusCode() int }
	return errors.As(err, &resp) && resp.HTTPStatusCode() == code
}

var _ domain.ObjectReader = (*Reader)(nil)
