package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupS3Storage connects to a MinIO instance at minio:9000 and skips when none is reachable
func setupS3Storage(t *testing.T) *S3Storage {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping S3 tests in short mode")
	}

	s3, err := NewS3Storage(S3Options{Endpoint: "minio:9000", AccessKey: "minioadmin", SecretKey: "minioadmin", Region: "us-east-1", PathStyle: true})
	if err != nil {
		t.Skipf("Skipping S3 tests: cannot connect to MinIO at minio:9000: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s3.Health(ctx); err != nil {
		t.Skipf("Skipping S3 tests: MinIO not available: %v", err)
	}

	return s3
}

func generateUniqueBucketName(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), rand.Int63n(1000000))
}

func TestClampPresignExpiry(t *testing.T) {
	assert.Equal(t, time.Hour, ClampPresignExpiry(time.Hour))
	assert.Equal(t, MaxPresignExpiry, ClampPresignExpiry(MaxPresignExpiry))
	assert.Equal(t, MaxPresignExpiry, ClampPresignExpiry(14*24*time.Hour))
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("connection reset"), false},
		{"wrapped permanent", fmt.Errorf("upload: %w", &PermanentError{Err: errors.New("bad path")}), true},
		{"permission", fmt.Errorf("write: %w", os.ErrPermission), true},
		{"s3 access denied", minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}, true},
		{"s3 quota", minio.ErrorResponse{Code: "QuotaExceeded"}, true},
		{"s3 slow down", minio.ErrorResponse{Code: "SlowDown", StatusCode: http.StatusServiceUnavailable}, false},
		{"s3 internal", minio.ErrorResponse{Code: "InternalError", StatusCode: http.StatusInternalServerError}, false},
		{"s3 entity too large by status", minio.ErrorResponse{StatusCode: http.StatusRequestEntityTooLarge}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPermanent(tt.err))
		})
	}
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.True(t, isNotFound(minio.ErrorResponse{StatusCode: http.StatusNotFound}))
	assert.False(t, isNotFound(minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}))
	assert.False(t, isNotFound(errors.New("dial tcp: timeout")))
}

func TestS3Storage_SignedURL(t *testing.T) {
	// Presigning is computed locally and needs no server
	s3, err := NewS3Storage(S3Options{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b", Region: "us-east-1", PathStyle: true})
	require.NoError(t, err)
	assert.Equal(t, "s3", s3.Name())

	tests := []struct {
		name    string
		ttl     time.Duration
		wantTTL time.Duration
	}{
		{name: "clamped to seven days", ttl: 14 * 24 * time.Hour, wantTTL: MaxPresignExpiry},
		{name: "default lifetime", wantTTL: DefaultSignedURLTTL},
		{name: "requested lifetime", ttl: time.Hour, wantTTL: time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {

			signed, err := s3.GenerateSignedURL(context.Background(), "bucket", "s/a/bundle.html", &SignedURLOptions{ExpiresIn: tt.ttl})
			require.NoError(t, err)

			u, err := url.Parse(signed.URL)
			require.NoError(t, err)
			assert.Equal(t, "localhost:9000", u.Host)
			assert.Equal(t, "/bucket/s/a/bundle.html", u.Path)
			assert.Equal(t, strconv.Itoa(int(tt.wantTTL.Seconds())), u.Query().Get("X-Amz-Expires"))
			assert.WithinDuration(t, time.Now().Add(tt.wantTTL), signed.ExpiresAt, 2*time.Second)
		})
	}
}

func TestS3Storage_UploadDownloadRoundTrip(t *testing.T) {
	s3 := setupS3Storage(t)
	ctx := context.Background()
	bucket := generateUniqueBucketName("bundles")

	require.NoError(t, s3.EnsureBucket(ctx, bucket))
	require.NoError(t, s3.EnsureBucket(ctx, bucket))
	defer func() {
		_ = s3.Delete(ctx, bucket, "k.html")
		_ = s3.client.RemoveBucket(ctx, bucket)
	}()

	content := "<html></html>"
	_, err := s3.Upload(ctx, bucket, "k.html", strings.NewReader(content), int64(len(content)), &UploadOptions{ContentType: "text/html"})
	require.NoError(t, err)

	exists, err := s3.Exists(ctx, bucket, "k.html")
	require.NoError(t, err)
	assert.True(t, exists)

	reader, obj, err := s3.Download(ctx, bucket, "k.html")
	require.NoError(t, err)
	defer reader.Close()
	body, _ := io.ReadAll(reader)
	assert.Equal(t, content, string(body))
	assert.Equal(t, "text/html", obj.ContentType)

	exists, err = s3.Exists(ctx, bucket, "missing.html")
	require.NoError(t, err)
	assert.False(t, exists)
}
