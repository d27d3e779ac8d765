package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/tickbot/internal/domain"
)

// minPartSize is the smallest part S3 accepts in a multipart upload.
const minPartSize int64 = 5 << 20

// Writer uploads report artefacts into the client's bucket.
type Writer struct {
	api    *s3.Client
	bucket string
}

func NewWriter(c *Client) *Writer {
	return &Writer{api: c.S3(), bucket: c.Bucket()}
}

func (w *Writer) input(key string, body io.Reader, contentType string) *s3.PutObjectInput {
	in := &s3.PutObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	return in
}

// Put writes body in one PutObject call.
func (w *Writer) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	if _, err := w.api.PutObject(ctx, w.input(key, body, contentType)); err != nil {
		return fmt.Errorf("s3blob: put s3://%s/%s: %w", w.bucket, key, err)
	}
	return nil
}

// PutMultipart streams body through the upload manager. partSize below the
// S3 minimum is raised to it.
func (w *Writer) PutMultipart(ctx context.Context, key string, body io.Reader, partSize int64) error {
	up := manager.NewUploader(w.api, func(u *manager.Uploader) {
		u.PartSize = max(partSize, minPartSize)
	})
	if _, err := up.Upload(ctx, w.input(key, body, "")); err != nil {
		return fmt.Errorf("s3blob: multipart s3://%s/%s: %w", w.bucket, key, err)
	}
	return nil
}

var _ domain.BlobWriter = (*Writer)(nil)
