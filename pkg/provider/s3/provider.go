package s3

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/3leaps/siterun/pkg/provider"
)

// Provider writes objects to one bucket under an optional prefix.
type Provider struct {
	client *s3.Client
	bucket string
	prefix string
}

var _ provider.Provider = (*Provider)(nil)

// New creates an S3 sink. No request is made until the first write.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &provider.SinkError{Op: "New", Provider: provider.ProviderS3, Bucket: cfg.Bucket, Err: err}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &Provider{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error

	// Explicit region only; env and profile resolution happen in the SDK.
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	awsCfg.Region = resolveRegion(cfg.Endpoint, awsCfg.Region)
	return awsCfg, nil
}

// Bucket returns the target bucket name.
func (p *Provider) Bucket() string { return p.bucket }

// objectKey joins the configured prefix and key.
func (p *Provider) objectKey(key string) string {
	key = strings.TrimPrefix(key, "/")
	if p.prefix == "" {
		return key
	}
	return path.Join(p.prefix, key)
}

// PutObject uploads an object. A negative contentLength leaves the length
// unset so the SDK computes it from a seekable body.
func (p *Provider) PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error {
	full := p.objectKey(key)
	input := &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(full),
		Body:   body,
	}
	if contentLength >= 0 {
		input.ContentLength = aws.Int64(contentLength)
	}
	if strings.HasSuffix(key, ".csv") {
		input.ContentType = aws.String("text/csv")
	}
	if _, err := p.client.PutObject(ctx, input); err != nil {
		return p.wrapError("PutObject", full, err)
	}
	return nil
}

// Head returns metadata for a single object.
func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	full := p.objectKey(key)
	out, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(full),
	})
	if err != nil {
		return nil, p.wrapError("Head", full, err)
	}
	return &provider.ObjectMeta{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		ETag:         strings.Trim(aws.ToString(out.ETag), `"`),
		LastModified: aws.ToTime(out.LastModified),
		ContentType:  aws.ToString(out.ContentType),
	}, nil
}

// Close is a no-op; the S3 client holds no resources that need releasing.
func (p *Provider) Close() error {
	return nil
}

// wrapError converts S3 errors to provider errors with sentinel causes.
func (p *Provider) wrapError(op, key string, err error) error {
	wrapped := &provider.SinkError{
		Op:       op,
		Provider: provider.ProviderS3,
		Bucket:   p.bucket,
		Key:      key,
		Err:      err,
	}

	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket
	switch {
	case errors.As(err, &notFound), errors.As(err, &noSuchKey):
		wrapped.Err = provider.ErrNotFound
		return wrapped
	case errors.As(err, &noSuchBucket):
		wrapped.Err = provider.ErrBucketNotFound
		return wrapped
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if sentinel := sentinelForCode(apiErr.ErrorCode()); sentinel != nil {
			wrapped.Err = sentinel
		}
		return wrapped
	}

	msg := err.Error()
	for _, probe := range []string{"NoSuchBucket", "NoSuchKey", "NotFound", "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SlowDown", "ServiceUnavailable"} {
		if strings.Contains(msg, probe) {
			wrapped.Err = sentinelForCode(probe)
			break
		}
	}
	return wrapped
}

func sentinelForCode(code string) error {
	switch code {
	case "NoSuchKey", "NotFound":
		return provider.ErrNotFound
	case "NoSuchBucket":
		return provider.ErrBucketNotFound
	case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return provider.ErrAccessDenied
	case "SlowDown", "Throttling", "RequestLimitExceeded":
		return provider.ErrThrottled
	case "ServiceUnavailable", "InternalError":
		return provider.ErrUnavailable
	}
	return nil
}

// resolveRegion applies the us-east-1 fallback for AWS S3. sdkRegion already
// reflects explicit config, environment and profile. Custom endpoints get no
// default.
func resolveRegion(endpoint, sdkRegion string) string {
	if sdkRegion != "" {
		return sdkRegion
	}
	if endpoint == "" {
		return DefaultAWSRegion
	}
	return ""
}
