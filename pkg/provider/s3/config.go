// Package s3 implements the export sink for AWS S3 and S3-compatible storage.
package s3

import "strings"

// Config configures an S3 sink.
//
// Credentials follow the AWS SDK v2 default chain unless AccessKeyID and
// SecretAccessKey are both set. For S3-compatible stores (MinIO, Wasabi)
// set Endpoint and usually ForcePathStyle.
type Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string

	// Prefix is prepended to every key, without a leading slash.
	Prefix string

	// Region is the AWS region. For AWS S3 it defaults to us-east-1 when
	// neither config, environment nor profile supply one.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores.
	Endpoint string

	// Profile is the shared-config profile name.
	Profile string

	// AccessKeyID is an explicit access key. Requires SecretAccessKey.
	AccessKeyID string

	// SecretAccessKey is an explicit secret key. Requires AccessKeyID.
	SecretAccessKey string

	// ForcePathStyle puts the bucket in the URL path instead of the host.
	ForcePathStyle bool
}

// DefaultAWSRegion is the fallback region for AWS S3 when not specified.
const DefaultAWSRegion = "us-east-1"

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if strings.HasPrefix(c.Prefix, "/") {
		return &ConfigError{Field: "Prefix", Message: "prefix must not start with '/'"}
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}
