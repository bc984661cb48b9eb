// Package storage persists bundle documents and mints time-limited links to
// them. Two providers exist: the local filesystem, whose links are served by
// this process, and S3-compatible object storage, whose links are presigned.
package storage

import (
	"context"
	"io"
	"time"
)

// DefaultSignedURLTTL applies when a caller does not ask for a lifetime
const DefaultSignedURLTTL = 15 * time.Minute

// Object describes a stored bundle document
type Object struct {
	Bucket       string
	Key          string
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
	Metadata     map[string]string
}

// UploadOptions contains options for uploading objects
type UploadOptions struct {
	ContentType  string
	CacheControl string
	Metadata     map[string]string
}

// SignedURLOptions contains options for generating signed URLs
type SignedURLOptions struct {
	ExpiresIn time.Duration
}

func (o *SignedURLOptions) ttl() time.Duration {
	if o == nil || o.ExpiresIn <= 0 {
		return DefaultSignedURLTTL
	}
	return o.ExpiresIn
}

// SignedURL is a time-limited download link for an object
type SignedURL struct {
	URL string
	// ExpiresAt is the effective expiry after any provider clamping
	ExpiresAt time.Time
}

// Storage is the object surface used by the bundling pipeline and its cache
type Storage interface {
	// Upload writes an object, replacing any existing object at the same key
	Upload(ctx context.Context, bucket, key string, data io.Reader, size int64, opts *UploadOptions) (*Object, error)
	// Download opens an object; callers close the reader
	Download(ctx context.Context, bucket, key string) (io.ReadCloser, *Object, error)
	// Stat returns object metadata, or ErrObjectNotFound
	Stat(ctx context.Context, bucket, key string) (*Object, error)
	Exists(ctx context.Context, bucket, key string) (bool, error)
	Delete(ctx context.Context, bucket, key string) error
	EnsureBucket(ctx context.Context, bucket string) error
	GenerateSignedURL(ctx context.Context, bucket, key string, opts *SignedURLOptions) (*SignedURL, error)
}

// Provider is a named, health-checked Storage
type Provider interface {
	Storage
	Name() string
	Health(ctx context.Context) error
}
