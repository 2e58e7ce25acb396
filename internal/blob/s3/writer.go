package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/openhooks/matchbook/internal/domain"
)

var _ domain.BlobWriter = (*Writer)(nil)

// minPartSize is the smallest part S3 accepts in a multipart upload (5 MiB).
const minPartSize int64 = 5 * 1024 * 1024

// Writer uploads archive objects to the client's bucket. Small payloads go
// through a single PutObject; the multipart path exists for monthly archive
// files that outgrow one request. The uploader is built once so every
// multipart call shares its part pool.
type Writer struct {
	client   *s3.Client
	bucket   string
	uploader *manager.Uploader
}

// NewWriter builds a Writer over the given client.
func NewWriter(c *Client) *Writer {
	w := &Writer{
		client: c.s3,
		bucket: c.bucket,
	}
	w.uploader = manager.NewUploader(c.s3, func(u *manager.Uploader) {
		u.PartSize = minPartSize
	})
	return w
}

// Put uploads data as a single PutObject request.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", path, err)
	}
	return nil
}

// PutMultipart uploads data through the multipart manager, which splits the
// payload into parts and uploads them concurrently. Use this once a payload
// is big enough that a failed single-shot upload would mean resending the
// whole object.
func (w *Writer) PutMultipart(ctx context.Context, path string, data io.Reader, contentType string) error {
	_, err := w.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", path, err)
	}
	return nil
}
