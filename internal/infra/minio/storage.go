package minio

import (
	"context"
	"fmt"
	"io"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Storage struct {
	client      *miniogo.Client
	videoBucket string
	stillBucket string
}

type StorageConfig struct {
	Endpoint    string
	AccessKey   string
	SecretKey   string
	UseSSL      bool
	VideoBucket string
	StillBucket string
}

func NewStorage(cfg StorageConfig) (*Storage, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &Storage{
		client:      client,
		videoBucket: cfg.VideoBucket,
		stillBucket: cfg.StillBucket,
	}, nil
}

func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.videoBucket, s.stillBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, miniogo.MakeBucketOptions{}); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

func (s *Storage) DownloadVideo(ctx context.Context, bucket, objectKey, destPath string) error {
	bucket = orDefault(bucket, s.videoBucket)
	if err := s.client.FGetObject(ctx, bucket, objectKey, destPath, miniogo.GetObjectOptions{}); err != nil {
		return fmt.Errorf("download %s/%s: %w", bucket, objectKey, err)
	}
	return nil
}

// UploadVideo stores a converted video. Outputs default to the still bucket so
// a converted file never replaces the upload it was made from.
func (s *Storage) UploadVideo(ctx context.Context, bucket, objectKey, srcPath string) error {
	bucket = orDefault(bucket, s.stillBucket)
	_, err := s.client.FPutObject(ctx, bucket, objectKey, srcPath, miniogo.PutObjectOptions{
		ContentType: "video/mp4",
	})
	if err != nil {
		return fmt.Errorf("upload video %s/%s: %w", bucket, objectKey, err)
	}
	return nil
}

func (s *Storage) UploadStill(ctx context.Context, bucket, objectKey string, reader io.Reader, size int64, contentType string) error {
	bucket = orDefault(bucket, s.stillBucket)
	_, err := s.client.PutObject(ctx, bucket, objectKey, reader, size, miniogo.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("upload still %s/%s: %w", bucket, objectKey, err)
	}
	return nil
}

func orDefault(bucket, fallback string) string {
	if bucket == "" {
		return fallback
	}
	return bucket
}
