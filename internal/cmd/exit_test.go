package cmd

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"

	"github.com/3leaps/siterun/pkg/provider"
)

func TestExitCode(t *testing.T) {
	base := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"exit error", exitError(foundry.ExitFileNotFound, "Missing", base), foundry.ExitFileNotFound},
		{"wrapped exit error", fmt.Errorf("outer: %w", exitError(foundry.ExitInvalidArgument, "Bad", base)), foundry.ExitInvalidArgument},
		{"cancelled", fmt.Errorf("run: %w", context.Canceled), foundry.ExitSignalInt},
		{"other", base, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestExitError_Unwrap(t *testing.T) {
	base := errors.New("boom")
	err := exitError(foundry.ExitFileWriteError, "Failed to write", base)
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "Failed to write")
	assert.Contains(t, err.Error(), "boom")
}

func TestExportExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"missing bucket", &provider.SinkError{Op: "PutObject", Provider: provider.ProviderS3, Err: provider.ErrBucketNotFound}, foundry.ExitInvalidArgument},
		{"denied", &provider.SinkError{Op: "PutObject", Provider: provider.ProviderFile, Err: provider.ErrAccessDenied}, foundry.ExitInvalidArgument},
		{"throttled", &provider.SinkError{Op: "PutObject", Provider: provider.ProviderS3, Err: provider.ErrThrottled}, foundry.ExitExternalServiceUnavailable},
		{"other s3", &provider.SinkError{Op: "PutObject", Provider: provider.ProviderS3, Err: errors.New("reset")}, foundry.ExitExternalServiceUnavailable},
		{"local write", &provider.SinkError{Op: "PutObject", Provider: provider.ProviderFile, Err: errors.New("disk full")}, foundry.ExitFileWriteError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exportExitCode(fmt.Errorf("export: %w", tt.err)))
		})
	}
}
