package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

const (
	signedTokenIssuer = "artifacts-storage"
	// DownloadPath is the route that serves local signed URLs
	DownloadPath = "/api/v1/storage/object"
)

// signedObjectClaims are the JWT claims carried by a local signed URL
type signedObjectClaims struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	jwt.RegisteredClaims
}

// LocalStorage implements the Storage interface using the local filesystem
type LocalStorage struct {
	basePath      string
	baseURL       string
	signingSecret []byte
}

// NewLocalStorage creates a new local filesystem storage provider.
// Signed URLs point at baseURL + DownloadPath and carry an HS256 token.
func NewLocalStorage(basePath, baseURL, signingSecret string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalStorage{
		basePath:      basePath,
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		signingSecret: []byte(signingSecret),
	}, nil
}

// Name returns the provider name
func (ls *LocalStorage) Name() string {
	return "local"
}

// Health checks if the storage is healthy
func (ls *LocalStorage) Health(ctx context.Context) error {
	if _, err := os.Stat(ls.basePath); err != nil {
		return fmt.Errorf("storage directory not accessible: %w", err)
	}

	testFile := filepath.Join(ls.basePath, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0644); err != nil {
		return fmt.Errorf("storage directory not writable: %w", err)
	}
	os.Remove(testFile)

	return nil
}

// getPath returns the full filesystem path for a bucket/key, rejecting traversal
func (ls *LocalStorage) getPath(bucket, key string) (string, error) {
	p := filepath.Join(ls.basePath, bucket, key)
	root := filepath.Clean(ls.basePath) + string(filepath.Separator)
	if !strings.HasPrefix(p, root) {
		return "", &PermanentError{Err: fmt.Errorf("invalid object path: %s/%s", bucket, key)}
	}
	return p, nil
}

// Upload writes an object to local storage
func (ls *LocalStorage) Upload(ctx context.Context, bucket, key string, data io.Reader, size int64, opts *UploadOptions) (*Object, error) {
	if opts == nil {
		opts = &UploadOptions{}
	}

	filePath, err := ls.getPath(bucket, key)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to a temp file and rename so concurrent readers never see a partial bundle
	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	hash := md5.New()
	written, err := io.Copy(io.MultiWriter(tmp, hash), data)
	closeErr := tmp.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("failed to write file: %w", closeErr)
	}

	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return nil, fmt.Errorf("failed to finalize file: %w", err)
	}
	etag := hex.EncodeToString(hash.Sum(nil))

	if err := writeSidecar(filePath, sidecar{ContentType: opts.ContentType, CacheControl: opts.CacheControl, ETag: etag, Metadata: opts.Metadata}); err != nil {
		return nil, err
	}

	log.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Int64("size", written).
		Msg("Object uploaded to local storage")

	return &Object{
		Bucket:       bucket,
		Key:          key,
		Size:         written,
		ContentType:  opts.ContentType,
		ETag:         etag,
		LastModified: time.Now(),
		Metadata:     opts.Metadata,
	}, nil
}

// Download opens an object from local storage
func (ls *LocalStorage) Download(ctx context.Context, bucket, key string) (io.ReadCloser, *Object, error) {
	obj, err := ls.Stat(ctx, bucket, key)
	if err != nil {
		return nil, nil, err
	}

	filePath, _ := ls.getPath(bucket, key)
	file, err := os.Open(filePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, obj, nil
}

// Delete removes an object from local storage
func (ls *LocalStorage) Delete(ctx context.Context, bucket, key string) error {
	filePath, err := ls.getPath(bucket, key)
	if err != nil {
		return err
	}

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return ErrObjectNotFound
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}
	os.Remove(sidecarPath(filePath))

	log.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Msg("Object deleted from local storage")

	return nil
}

// Exists checks if an object exists
func (ls *LocalStorage) Exists(ctx context.Context, bucket, key string) (bool, error) {
	filePath, err := ls.getPath(bucket, key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(filePath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Stat returns object metadata without reading the file
func (ls *LocalStorage) Stat(ctx context.Context, bucket, key string) (*Object, error) {
	filePath, err := ls.getPath(bucket, key)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	meta := readSidecar(filePath)
	if meta.ContentType == "" {
		meta.ContentType = "application/octet-stream"
	}

	return &Object{
		Bucket:       bucket,
		Key:          key,
		Size:         info.Size(),
		ContentType:  meta.ContentType,
		ETag:         meta.ETag,
		LastModified: info.ModTime(),
		Metadata:     meta.Metadata,
	}, nil
}

// EnsureBucket creates the bucket directory if needed
func (ls *LocalStorage) EnsureBucket(ctx context.Context, bucket string) error {
	if err := os.MkdirAll(filepath.Join(ls.basePath, bucket), 0755); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// GenerateSignedURL returns a download URL carrying a signed, expiring token
func (ls *LocalStorage) GenerateSignedURL(ctx context.Context, bucket, key string, opts *SignedURLOptions) (*SignedURL, error) {
	if len(ls.signingSecret) == 0 {
		return nil, &PermanentError{Err: errors.New("local storage signing secret is not configured")}
	}

	now := time.Now()
	expiresAt := now.Add(opts.ttl())
	claims := signedObjectClaims{
		Bucket: bucket,
		Key:    key,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    signedTokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ls.signingSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign url token: %w", err)
	}

	return &SignedURL{
		URL:       fmt.Sprintf("%s%s?token=%s", ls.baseURL, DownloadPath, url.QueryEscape(token)),
		ExpiresAt: expiresAt.Truncate(time.Second),
	}, nil
}

// ValidateSignedToken verifies a token minted by GenerateSignedURL and returns its object
func (ls *LocalStorage) ValidateSignedToken(tokenString string) (bucket, key string, err error) {
	claims := &signedObjectClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ls.signingSecret, nil
	}, jwt.WithIssuer(signedTokenIssuer))
	if err != nil || !token.Valid {
		return "", "", ErrInvalidSignedToken
	}

	return claims.Bucket, claims.Key, nil
}

// sidecar holds upload options the filesystem cannot, next to the object
type sidecar struct {
	ContentType  string            `json:"content_type,omitempty"`
	CacheControl string            `json:"cache_control,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

func sidecarPath(filePath string) string {
	return filePath + ".meta.json"
}

func writeSidecar(filePath string, meta sidecar) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode object metadata: %w", err)
	}
	if err := os.WriteFile(sidecarPath(filePath), data, 0644); err != nil {
		return fmt.Errorf("failed to write object metadata: %w", err)
	}
	return nil
}

// readSidecar tolerates a missing or corrupt sidecar; the object is still served
func readSidecar(filePath string) sidecar {
	var meta sidecar
	data, err := os.ReadFile(sidecarPath(filePath))
	if err != nil {
		return meta
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		log.Warn().Err(err).Str("path", filePath).Msg("Ignoring unreadable object metadata")
		return sidecar{}
	}
	return meta
}
