package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// MaxPresignExpiry is the longest lifetime S3 SigV4 presigned URLs allow
const MaxPresignExpiry = 7 * 24 * time.Hour

// S3Options configures an S3-compatible provider
type S3Options struct {
	Endpoint  string // host[:port]
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	PathStyle bool
}

// S3Storage stores bundles in AWS S3, MinIO or another S3-compatible service
type S3Storage struct {
	client *minio.Client
	region string
}

// NewS3Storage creates a provider. No request is made until first use.
func NewS3Storage(opts S3Options) (*S3Storage, error) {
	lookup := minio.BucketLookupAuto
	if opts.PathStyle {
		lookup = minio.BucketLookupPath
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure:       opts.UseSSL,
		Region:       opts.Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	log.Info().
		Str("endpoint", opts.Endpoint).
		Str("region", opts.Region).
		Bool("ssl", opts.UseSSL).
		Bool("path_style", opts.PathStyle).
		Msg("S3 bundle storage configured")

	return &S3Storage{client: client, region: opts.Region}, nil
}

func (s3 *S3Storage) Name() string { return "s3" }

// Health verifies the credentials by listing buckets
func (s3 *S3Storage) Health(ctx context.Context) error {
	if _, err := s3.client.ListBuckets(ctx); err != nil {
		return fmt.Errorf("S3 health check failed: %w", err)
	}
	return nil
}

func (s3 *S3Storage) Upload(ctx context.Context, bucket, key string, data io.Reader, size int64, opts *UploadOptions) (*Object, error) {
	if opts == nil {
		opts = &UploadOptions{}
	}

	info, err := s3.client.PutObject(ctx, bucket, key, data, size, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		CacheControl: opts.CacheControl,
		UserMetadata: opts.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s/%s: %w", bucket, key, err)
	}

	log.Debug().Str("bucket", bucket).Str("key", key).Int64("size", info.Size).Msg("Bundle uploaded to S3")

	lastModified := info.LastModified
	if lastModified.IsZero() {
		lastModified = time.Now()
	}
	return &Object{
		Bucket:       bucket,
		Key:          key,
		Size:         info.Size,
		ContentType:  opts.ContentType,
		ETag:         info.ETag,
		LastModified: lastModified,
		Metadata:     opts.Metadata,
	}, nil
}

func (s3 *S3Storage) Download(ctx context.Context, bucket, key string) (io.ReadCloser, *Object, error) {
	obj, err := s3.Stat(ctx, bucket, key)
	if err != nil {
		return nil, nil, err
	}

	reader, err := s3.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to download %s/%s: %w", bucket, key, err)
	}
	return reader, obj, nil
}

func (s3 *S3Storage) Stat(ctx context.Context, bucket, key string) (*Object, error) {
	stat, err := s3.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to stat %s/%s: %w", bucket, key, err)
	}

	return &Object{
		Bucket:       bucket,
		Key:          key,
		Size:         stat.Size,
		ContentType:  stat.ContentType,
		ETag:         stat.ETag,
		LastModified: stat.LastModified,
		Metadata:     stat.UserMetadata,
	}, nil
}

func (s3 *S3Storage) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s3.Stat(ctx, bucket, key)
	switch {
	case errors.Is(err, ErrObjectNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// Delete removes an object. S3 deletes are idempotent, so a missing key is not an error.
func (s3 *S3Storage) Delete(ctx context.Context, bucket, key string) error {
	if err := s3.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", bucket, key, err)
	}
	return nil
}

// EnsureBucket creates bucket when missing. Losing a creation race to
// another instance counts as success.
func (s3 *S3Storage) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := s3.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}

	err = s3.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s3.region})
	if err != nil {
		switch minio.ToErrorResponse(err).Code {
		case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}

	log.Info().Str("bucket", bucket).Msg("Created bundle bucket")
	return nil
}

// GenerateSignedURL presigns a GET. Presigning is computed locally and
// makes no request.
func (s3 *S3Storage) GenerateSignedURL(ctx context.Context, bucket, key string, opts *SignedURLOptions) (*SignedURL, error) {
	ttl := ClampPresignExpiry(opts.ttl())
	expiresAt := time.Now().Add(ttl)

	u, err := s3.client.PresignedGetObject(ctx, bucket, key, ttl, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to presign %s/%s: %w", bucket, key, err)
	}
	return &SignedURL{URL: u.String(), ExpiresAt: expiresAt.Truncate(time.Second)}, nil
}

// ClampPresignExpiry limits d to MaxPresignExpiry
func ClampPresignExpiry(d time.Duration) time.Duration {
	if d > MaxPresignExpiry {
		log.Debug().Dur("requested", d).Dur("max", MaxPresignExpiry).Msg("Clamping presigned URL lifetime")
		return MaxPresignExpiry
	}
	return d
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}
