package export

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/3leaps/siterun/pkg/provider"
	"github.com/3leaps/siterun/pkg/provider/file"
	"github.com/3leaps/siterun/pkg/provider/s3"
)

// ErrInvalidTarget indicates an export target string that cannot be parsed.
var ErrInvalidTarget = errors.New("invalid export target")

// Target is a parsed export destination.
type Target struct {
	Type provider.ProviderType

	// Dir is the local directory for file targets.
	Dir string

	// Bucket and Prefix locate s3 targets.
	Bucket string
	Prefix string
}

func (t Target) String() string {
	if t.Type == provider.ProviderS3 {
		if t.Prefix == "" {
			return "s3://" + t.Bucket
		}
		return "s3://" + t.Bucket + "/" + t.Prefix
	}
	return "file:" + t.Dir
}

// ParseTarget parses "s3://bucket[/prefix]", "file:/dir" or a bare local path.
func ParseTarget(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return Target{}, fmt.Errorf("%w: empty", ErrInvalidTarget)
	case strings.HasPrefix(raw, "s3://"):
		rest := strings.TrimPrefix(raw, "s3://")
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return Target{}, fmt.Errorf("%w: %q has no bucket", ErrInvalidTarget, raw)
		}
		return Target{Type: provider.ProviderS3, Bucket: bucket, Prefix: strings.Trim(prefix, "/")}, nil
	case strings.Contains(raw, "://") && !strings.HasPrefix(raw, "file://"):
		return Target{}, fmt.Errorf("%w: unsupported scheme in %q", ErrInvalidTarget, raw)
	}

	dir := strings.TrimPrefix(strings.TrimPrefix(raw, "file://"), "file:")
	if dir == "" {
		return Target{}, fmt.Errorf("%w: %q has no directory", ErrInvalidTarget, raw)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	return Target{Type: provider.ProviderFile, Dir: abs}, nil
}

// S3Options carries the connection settings that a target string cannot.
type S3Options struct {
	Region         string
	Endpoint       string
	Profile        string
	ForcePathStyle bool
}

// OpenSink constructs the provider for a target.
func OpenSink(ctx context.Context, t Target, opts S3Options) (provider.Provider, error) {
	switch t.Type {
	case provider.ProviderFile:
		return file.New(file.Config{BaseDir: t.Dir})
	case provider.ProviderS3:
		return s3.New(ctx, s3.Config{
			Bucket:         t.Bucket,
			Prefix:         t.Prefix,
			Region:         opts.Region,
			Endpoint:       opts.Endpoint,
			Profile:        opts.Profile,
			ForcePathStyle: opts.ForcePathStyle,
		})
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidTarget, t.Type)
	}
}
