package storage

import (
	"errors"
	"net/http"
	"os"
	"syscall"

	"github.com/minio/minio-go/v7"
)

// ErrObjectNotFound is returned when a bucket/key does not exist
var ErrObjectNotFound = errors.New("object not found")

// ErrInvalidSignedToken is returned when a local signed-URL token fails validation
var ErrInvalidSignedToken = errors.New("invalid or expired signed url token")

// PermanentError marks a storage failure that retrying will not fix
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// permanentS3Codes are S3 error codes caused by quota, credentials or request shape
var permanentS3Codes = map[string]bool{
	"AccessDenied":          true,
	"InvalidAccessKeyId":    true,
	"SignatureDoesNotMatch": true,
	"QuotaExceeded":         true,
	"EntityTooLarge":        true,
	"NoSuchBucket":          true,
	"InvalidBucketName":     true,
	"InvalidArgument":       true,
	"AccountProblem":        true,
}

// IsPermanent reports whether err should fail an upload immediately instead of being retried
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	var perm *PermanentError
	if errors.As(err, &perm) {
		return true
	}

	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.ENOSPC) {
		return true
	}

	resp := minio.ToErrorResponse(err)
	if resp.Code != "" && permanentS3Codes[resp.Code] {
		return true
	}
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusRequestEntityTooLarge:
		return true
	}

	return false
}
