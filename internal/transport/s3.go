package transport

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/gallerydrop/internal/config"
	"github.com/dharsanguruparan/gallerydrop/internal/merge"
)

// S3Transport puts files straight into a MinIO/S3 bucket.
type S3Transport struct {
	client *minio.Client
	bucket string
	region string
}

// NewS3 creates a MinIO client from the Config.
func NewS3(cfg *config.Config) (*S3Transport, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &S3Transport{client: client, bucket: cfg.S3Bucket, region: cfg.S3Region}, nil
}

// EnsureBucket makes sure the gallery bucket exists before use.
func (s *S3Transport) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// ObjectKey is where a payload is stored.
func ObjectKey(p merge.Payload) string {
	return path.Join("gallery", p.BatchID, p.ItemID+filepath.Ext(p.FileName))
}

// Transfer uploads p with its metadata attached as object user metadata.
func (s *S3Transport) Transfer(ctx context.Context, p merge.Payload, fn ProgressFunc) error {
	meta := make(map[string]string, 5)
	for k, v := range p.Fields() {
		// User metadata travels in headers, which must stay ASCII.
		meta[k] = url.QueryEscape(v)
	}
	meta["filename"] = url.QueryEscape(p.FileName)
	opts := minio.PutObjectOptions{
		ContentType:  p.ContentType,
		UserMetadata: meta,
		Progress:     newProgress(p.Size(), fn),
	}
	_, err := s.client.PutObject(ctx, s.bucket, ObjectKey(p), bytes.NewReader(p.Data), p.Size(), opts)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("transfer %s: %w", p.FileName, ctxErr)
	}
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "EntityTooLarge" || resp.StatusCode == http.StatusRequestEntityTooLarge:
		return ErrPayloadTooLarge
	case resp.StatusCode != 0:
		return &ServerError{StatusCode: resp.StatusCode, Body: resp.Message}
	default:
		return &NetworkError{Err: err}
	}
}
