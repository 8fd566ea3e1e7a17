// Package media moves binary attachments between the frontend's inline
// base64 form and the external system's opaque file identifiers, tracking
// each asset's lifecycle in the local store. When an S3 archive is
// configured, every uploaded binary is also copied there; when it is not,
// the NoopArchiver is used and archiving is skipped.
package media

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hyperengineering/trestle/internal/config"
	"github.com/hyperengineering/trestle/internal/types"
)

// Archiver keeps an off-system copy of uploaded media binaries.
// Archive failures are never fatal to an upload.
type Archiver interface {
	Archive(ctx context.Context, asset *types.MediaAsset, data []byte) error
}

// s3Client defines the minimal minio.Client operations used by S3Archiver.
// This interface enables testing with mock implementations.
type s3Client interface {
	PutObject(ctx context.Context, bucket, objectName string, reader io.Reader, size int64, contentType string) error
}

// minioClientWrapper wraps *minio.Client to satisfy the s3Client interface.
type minioClientWrapper struct {
	client *minio.Client
}

func (w *minioClientWrapper) PutObject(ctx context.Context, bucket, objectName string, reader io.Reader, size int64, contentType string) error {
	_, err := w.client.PutObject(ctx, bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

// S3Archiver copies uploaded binaries to S3-compatible storage.
type S3Archiver struct {
	client s3Client
	bucket string
}

// Archive stores the binary under {entity_type}/{asset_id}{ext}.
func (a *S3Archiver) Archive(ctx context.Context, asset *types.MediaAsset, data []byte) error {
	key := objectKey(asset)
	contentType := "application/octet-stream"
	if asset.IsImage {
		contentType = "image/" + trimDot(asset.Ext)
	}
	if err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return fmt.Errorf("archive media to S3: %w", err)
	}
	return nil
}

// NoopArchiver is used when S3 archiving is not configured.
type NoopArchiver struct{}

// Archive is a no-op when archiving is not configured.
func (a *NoopArchiver) Archive(ctx context.Context, asset *types.MediaAsset, data []byte) error {
	return nil
}

// NewArchiver creates the appropriate Archiver based on configuration.
// Returns NoopArchiver when bucket is empty, S3Archiver otherwise.
func NewArchiver(cfg config.MediaArchiveConfig) (Archiver, error) {
	if cfg.Bucket == "" {
		return &NoopArchiver{}, nil
	}

	useSSL := true
	if cfg.UseSSL != nil {
		useSSL = *cfg.UseSSL
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	return &S3Archiver{
		client: &minioClientWrapper{client: client},
		bucket: cfg.Bucket,
	}, nil
}

// objectKey returns the archive object key for an asset.
// Convention: {entity_type}/{asset_id}{ext}
func objectKey(asset *types.MediaAsset) string {
	return string(asset.EntityType) + "/" + asset.ID + asset.Ext
}

func trimDot(ext string) string {
	if len(ext) > 0 && ext[0] == '.' {
		return ext[1:]
	}
	return ext
}
