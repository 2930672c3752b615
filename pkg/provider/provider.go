// Package provider defines the object sinks assembled tables are exported to.
//
// Providers implement a minimal write surface: put an object, check that it
// landed, and release resources. Authentication uses SDK default credential
// chains; providers should not implement custom auth logic.
package provider

import (
	"context"
	"io"
	"time"
)

// Provider abstracts an object sink.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// PutObject writes body under key, replacing any existing object.
	// contentLength may be -1 when unknown.
	PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error

	// Head returns metadata for a single object.
	// Returns ErrNotFound if the object does not exist.
	Head(ctx context.Context, key string) (*ObjectMeta, error)

	// Close releases any resources held by the provider.
	Close() error
}

// ObjectMeta describes a stored object.
type ObjectMeta struct {
	// Key is the object key relative to the sink root.
	Key string

	// Size is the object size in bytes.
	Size int64

	// ETag is the entity tag, when the backend provides one.
	ETag string

	// LastModified is when the object was last written.
	LastModified time.Time

	// ContentType is the MIME type of the object.
	ContentType string
}

// ProviderType identifies a sink backend.
type ProviderType string

const (
	// ProviderFile writes objects under a local directory.
	ProviderFile ProviderType = "file"

	// ProviderS3 writes objects to AWS S3 or an S3-compatible store.
	ProviderS3 ProviderType = "s3"
)
