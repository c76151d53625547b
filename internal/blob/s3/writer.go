package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// uploadPartSize is the multipart chunk size. Monthly exports are usually
// a single part; a backlogged first run can exceed it and the uploader
// splits transparently.
const uploadPartSize int64 = 8 * 1024 * 1024

// Writer implements domain.BlobWriter through the SDK upload manager, so
// one code path covers both small and oversized exports.
type Writer struct {
	uploader *manager.Uploader
	bucket   string
}

// NewWriter creates a Writer uploading into the client's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		uploader: manager.NewUploader(c.s3c, func(u *manager.Uploader) {
			u.PartSize = uploadPartSize
		}),
		bucket: c.bucket,
	}
}

// Put streams data to the given path.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	_, err := w.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put %s: %w", path, err)
	}
	return nil
}
