package port

import (
	"context"
	"io"
)

// VideoStorage moves videos and stills in and out of object storage.
// An empty bucket selects the configured default.
type VideoStorage interface {
	DownloadVideo(ctx context.Context, bucket, objectKey, destPath string) error
	UploadVideo(ctx context.Context, bucket, objectKey, srcPath string) error
	UploadStill(ctx context.Context, bucket, objectKey string, reader io.Reader, size int64, contentType string) error
}
