package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/tickbot/internal/domain"
)

// Reader serves recorded feed objects out of one bucket.
type Reader struct {
	api    *s3.Client
	bucket string
}

func NewReader(c *Client) *Reader {
	return &Reader{api: c.S3(), bucket: c.Bucket()}
}

// Get opens the object at key. Closing the body is up to the caller.
func (r *Reader) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := r.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, r.wrap("get", key, err)
	}
	return obj.Body, nil
}

// Stat issues a HEAD for key.
func (r *Reader) Stat(ctx context.Context, key string) (domain.BlobInfo, error) {
	head, err := r.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return domain.BlobInfo{}, r.wrap("stat", key, err)
	}
	info := domain.BlobInfo{
		Path:        key,
		Size:        aws.ToInt64(head.ContentLength),
		ContentType: aws.ToString(head.ContentType),
		ETag:        strings.Trim(aws.ToString(head.ETag), `"`),
	}
	if head.LastModified != nil {
		info.LastModified = *head.LastModified
	}
	return info, nil
}

func (r *Reader) wrap(op, key string, err error) error {
	if missing(err) {
		err = domain.ErrNotFound
	}
	return fmt.Errorf("s3blob: %s s3://%s/%s: %w", op, r.bucket, key, err)
}

// missing matches the typed NoSuchKey and NotFound errors plus plain 404s,
// which is all some S3-compatible stores send back for HEAD.
func missing(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	var status interface{ HTTPStatusCode() int }
	switch {
	case errors.As(err, &noKey), errors.As(err, &notFound):
		return true
	case errors.As(err, &status):
		return status.HTTPStatusCode() == http.StatusNotFound
	}
	return false
}

var _ domain.BlobReader = (*Reader)(nil)
