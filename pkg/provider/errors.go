package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrAccessDenied covers both missing permissions and rejected
	// credentials.
	ErrAccessDenied = errors.New("access denied")

	ErrBucketNotFound = errors.New("bucket not found")

	// ErrThrottled and ErrUnavailable are transient; see IsRetryable.
	ErrThrottled   = errors.New("request throttled")
	ErrUnavailable = errors.New("sink unavailable")

	// ErrInvalidKey indicates a key that escapes the sink root.
	ErrInvalidKey = errors.New("invalid object key")
)

// SinkError records which sink operation failed and on what.
type SinkError struct {
	Op       string
	Provider ProviderType

	// Bucket is the bucket name, or the base directory for file sinks.
	Bucket string
	Key    string
	Err    error
}

func (e *SinkError) Error() string {
	switch {
	case e.Key != "":
		return fmt.Sprintf("%s %s: %s/%s: %v", e.Provider, e.Op, e.Bucket, e.Key, e.Err)
	case e.Bucket != "":
		return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Op, e.Bucket, e.Err)
	default:
		return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
	}
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable reports whether retrying the write may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrThrottled) || errors.Is(err, ErrUnavailable)
}

// IsBadTarget reports whether the export destination itself is unusable:
// the bucket is missing, access is refused, or the key is invalid.
func IsBadTarget(err error) bool {
	return errors.Is(err, ErrAccessDenied) ||
		errors.Is(err, ErrBucketNotFound) ||
		errors.Is(err, ErrInvalidKey)
}
