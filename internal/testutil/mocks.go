// Package testutil provides shared test utilities and mocks for unit testing.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fluxbase-eu/artifacts/internal/storage"
)

// MockStorageProvider implements storage.Provider in memory
type MockStorageProvider struct {
	mu      sync.RWMutex
	objects map[string]map[string]*mockObject // bucket -> key -> object
	uploads int
	signs   int

	// OnUpload runs before each upload; a non-nil error fails the upload
	OnUpload func(ctx context.Context, bucket, key string, attempt int) error
	// SignErr fails every GenerateSignedURL call when set
	SignErr error
	// MaxSignedURLTTL clamps requested signed URL lifetimes when positive
	MaxSignedURLTTL time.Duration
}

type mockObject struct {
	data []byte
	opts storage.UploadOptions
	at   time.Time
}

// NewMockStorageProvider creates a new mock storage provider
func NewMockStorageProvider() *MockStorageProvider {
	return &MockStorageProvider{
		objects: make(map[string]map[string]*mockObject),
	}
}

func (m *MockStorageProvider) Name() string {
	return "mock"
}

func (m *MockStorageProvider) Health(ctx context.Context) error {
	return nil
}

func (m *MockStorageProvider) Upload(ctx context.Context, bucket, key string, data io.Reader, size int64, opts *storage.UploadOptions) (*storage.Object, error) {
	m.mu.Lock()
	m.uploads++
	attempt := m.uploads
	m.mu.Unlock()

	if m.OnUpload != nil {
		if err := m.OnUpload(ctx, bucket, key, attempt); err != nil {
			return nil, err
		}
	}

	content, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	obj := &mockObject{data: content, at: time.Now()}
	if opts != nil {
		obj.opts = *opts
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.objects[bucket]; !exists {
		m.objects[bucket] = make(map[string]*mockObject)
	}
	m.objects[bucket][key] = obj

	return obj.info(bucket, key), nil
}

func (m *MockStorageProvider) Download(ctx context.Context, bucket, key string) (io.ReadCloser, *storage.Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[bucket][key]
	if !ok {
		return nil, nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), obj.info(bucket, key), nil
}

func (m *MockStorageProvider) Delete(ctx context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[bucket][key]; !ok {
		return storage.ErrObjectNotFound
	}
	delete(m.objects[bucket], key)
	return nil
}

func (m *MockStorageProvider) Exists(ctx context.Context, bucket, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[bucket][key]
	return ok, nil
}

func (m *MockStorageProvider) Stat(ctx context.Context, bucket, key string) (*storage.Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[bucket][key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return obj.info(bucket, key), nil
}

func (m *MockStorageProvider) EnsureBucket(ctx context.Context, bucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.objects[bucket]; !exists {
		m.objects[bucket] = make(map[string]*mockObject)
	}
	return nil
}

func (m *MockStorageProvider) GenerateSignedURL(ctx context.Context, bucket, key string, opts *storage.SignedURLOptions) (*storage.SignedURL, error) {
	if m.SignErr != nil {
		return nil, m.SignErr
	}

	ttl := time.Hour
	if opts != nil && opts.ExpiresIn > 0 {
		ttl = opts.ExpiresIn
	}
	if m.MaxSignedURLTTL > 0 && ttl > m.MaxSignedURLTTL {
		ttl = m.MaxSignedURLTTL
	}

	m.mu.Lock()
	m.signs++
	n := m.signs
	m.mu.Unlock()

	expires := time.Now().Add(ttl)
	return &storage.SignedURL{
		URL:       fmt.Sprintf("https://storage.test/%s/%s?expires=%d&sig=%d", bucket, key, expires.Unix(), n),
		ExpiresAt: expires,
	}, nil
}

// Object returns the stored bytes and upload options for bucket/key
func (m *MockStorageProvider) Object(bucket, key string) ([]byte, storage.UploadOptions, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[bucket][key]
	if !ok {
		return nil, storage.UploadOptions{}, false
	}
	return obj.data, obj.opts, true
}

// Uploads returns the number of upload attempts, failed ones included
func (m *MockStorageProvider) Uploads() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.uploads
}

func (o *mockObject) info(bucket, key string) *storage.Object {
	return &storage.Object{
		Key:          key,
		Bucket:       bucket,
		Size:         int64(len(o.data)),
		ContentType:  o.opts.ContentType,
		LastModified: o.at,
		Metadata:     o.opts.Metadata,
	}
}
