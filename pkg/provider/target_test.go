package provider

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	abs, err := filepath.Abs("out/md")
	require.NoError(t, err)

	tests := []struct {
		raw     string
		want    Target
		wantErr error
	}{
		{raw: "out/md", want: Target{Type: ProviderFile, Path: abs}},
		{raw: "s3://bucket", want: Target{Type: ProviderS3, Bucket: "bucket"}},
		{raw: "s3://bucket/", want: Target{Type: ProviderS3, Bucket: "bucket"}},
		{raw: "S3://bucket/docs/md", want: Target{Type: ProviderS3, Bucket: "bucket", Prefix: "docs/md/"}},
		{raw: "s3://bucket//docs/", want: Target{Type: ProviderS3, Bucket: "bucket", Prefix: "docs/"}},
		{raw: "", wantErr: ErrInvalidTarget},
		{raw: "s3://", wantErr: ErrInvalidTarget},
		{raw: "s3:///prefix", wantErr: ErrInvalidTarget},
		{raw: "gs://bucket", wantErr: ErrUnsupportedProvider},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseTarget(tt.raw)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTarget_String(t *testing.T) {
	target, err := ParseTarget("s3://bucket/docs")
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/docs/", target.String())
	assert.False(t, target.IsLocal())
}

func TestProviderError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ProviderError
		expected string
	}{
		{
			name:     "bucket and key",
			err:      &ProviderError{Op: "Head", Provider: ProviderS3, Bucket: "b", Key: "a.md", Err: ErrNotFound},
			expected: "s3 Head: b/a.md: object not found",
		},
		{
			name:     "key only",
			err:      &ProviderError{Op: "PutObject", Provider: ProviderFile, Key: "a.md", Err: ErrAccessDenied},
			expected: "file PutObject: a.md: access denied",
		},
		{
			name:     "no key",
			err:      &ProviderError{Op: "New", Provider: ProviderS3, Bucket: "b", Err: ErrInvalidCredentials},
			expected: "s3 New: b: invalid credentials",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestErrorHelpers(t *testing.T) {
	wrap := func(err error) error {
		return fmt.Errorf("outer: %w", &ProviderError{Op: "Head", Provider: ProviderS3, Err: err})
	}

	assert.True(t, IsNotFound(wrap(ErrNotFound)))
	assert.True(t, IsAccessDenied(wrap(ErrAccessDenied)))
	assert.True(t, IsBucketNotFound(wrap(ErrBucketNotFound)))
	assert.True(t, IsInvalidCredentials(wrap(ErrInvalidCredentials)))
	assert.True(t, IsRetryable(wrap(ErrThrottled)))
	assert.True(t, IsRetryable(wrap(ErrProviderUnavailable)))
	assert.False(t, IsRetryable(wrap(ErrNotFound)))
	assert.False(t, IsNotFound(errors.New("object not found")))
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "text/markdown; charset=utf-8", ContentTypeFor("a/b.MD"))
	assert.Equal(t, "application/json", ContentTypeFor("logs/report.json"))
	assert.Equal(t, "application/x-ndjson", ContentTypeFor("journal.jsonl"))
	assert.Equal(t, "application/octet-stream", ContentTypeFor("x.bin"))
}
