package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/tomd/pkg/provider"
)

// mockAPIError implements smithy.APIError for testing error code mapping.
type mockAPIError struct {
	code    string
	message string
}

func (e *mockAPIError) Error() string                 { return fmt.Sprintf("%s: %s", e.code, e.message) }
func (e *mockAPIError) ErrorCode() string             { return e.code }
func (e *mockAPIError) ErrorMessage() string          { return e.message }
func (e *mockAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

var _ smithy.APIError = (*mockAPIError)(nil)

// fakeAPI stores objects in memory.
type fakeAPI struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeAPI) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(b))),
		ContentType:   aws.String(f.types[aws.ToString(in.Key)]),
		LastModified:  aws.Time(time.Unix(1700000000, 0)),
	}, nil
}

func (f *fakeAPI) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = b
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{"empty bucket", Config{}, "bucket name is required"},
		{"valid minimal config", Config{Bucket: "my-bucket"}, ""},
		{"valid with prefix", Config{Bucket: "my-bucket", Prefix: "md/"}, ""},
		{"access key without secret", Config{Bucket: "b", AccessKeyID: "AKIA"}, "both access key ID and secret access key must be provided together"},
		{"secret without access key", Config{Bucket: "b", SecretAccessKey: "s"}, "both access key ID and secret access key must be provided together"},
		{"valid S3-compatible config", Config{Bucket: "b", Endpoint: "http://localhost:9000", ForcePathStyle: true, AccessKeyID: "a", SecretAccessKey: "s"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_NormalizedPrefix(t *testing.T) {
	assert.Equal(t, "", (&Config{}).normalizedPrefix())
	assert.Equal(t, "md/", (&Config{Prefix: "md"}).normalizedPrefix())
	assert.Equal(t, "a/b/", (&Config{Prefix: "/a/b/"}).normalizedPrefix())
}

func TestProvider_PutAndHead(t *testing.T) {
	api := newFakeAPI()
	p := &Provider{client: api, bucket: "docs", prefix: "md/"}
	ctx := context.Background()

	_, err := p.Head(ctx, "a/b.md")
	require.Error(t, err)
	assert.True(t, provider.IsNotFound(err))

	body := "# B\n"
	require.NoError(t, p.PutObject(ctx, "a/b.md", strings.NewReader(body), int64(len(body))))
	assert.Equal(t, body, string(api.objects["md/a/b.md"]))

	meta, err := p.Head(ctx, "a/b.md")
	require.NoError(t, err)
	assert.Equal(t, "a/b.md", meta.Key)
	assert.Equal(t, int64(len(body)), meta.Size)
	assert.Equal(t, "text/markdown; charset=utf-8", meta.ContentType)
	assert.Equal(t, "s3://docs/md/a/b.md", p.Location("a/b.md"))
}

func TestProvider_PutErrorIsClassified(t *testing.T) {
	api := newFakeAPI()
	api.putErr = &mockAPIError{code: "AccessDenied", message: "nope"}
	p := &Provider{client: api, bucket: "docs"}

	err := p.PutObject(context.Background(), "a.md", strings.NewReader("x"), 1)
	require.Error(t, err)
	assert.True(t, provider.IsAccessDenied(err))

	var provErr *provider.ProviderError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, "PutObject", provErr.Op)
	assert.Equal(t, "docs", provErr.Bucket)
}

func TestWrapError_NotFound(t *testing.T) {
	p := &Provider{bucket: "test-bucket"}

	err := p.wrapError("Head", "missing.md", &types.NoSuchKey{})

	var provErr *provider.ProviderError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, "Head", provErr.Op)
	assert.Equal(t, provider.ProviderS3, provErr.Provider)
	assert.Equal(t, "missing.md", provErr.Key)
	assert.True(t, errors.Is(err, provider.ErrNotFound))
}

func TestWrapError_BucketNotFound(t *testing.T) {
	p := &Provider{bucket: "missing-bucket"}
	err := p.wrapError("PutObject", "a.md", &types.NoSuchBucket{})
	assert.True(t, errors.Is(err, provider.ErrBucketNotFound))
}

func TestWrapError_FromMessage(t *testing.T) {
	p := &Provider{bucket: "test-bucket"}

	tests := []struct {
		name     string
		errMsg   string
		expected error
	}{
		{"access denied", "AccessDenied: Access Denied", provider.ErrAccessDenied},
		{"403", "operation error: https response error StatusCode: 403", provider.ErrAccessDenied},
		{"404", "operation error: https response error StatusCode: 404", provider.ErrNotFound},
		{"no such bucket", "NoSuchBucket: bucket does not exist", provider.ErrBucketNotFound},
		{"signature mismatch", "SignatureDoesNotMatch: invalid signature", provider.ErrInvalidCredentials},
		{"429", "operation error: https response error StatusCode: 429", provider.ErrThrottled},
		{"503", "operation error: https response error StatusCode: 503", provider.ErrProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.wrapError("Test", "key", errors.New(tt.errMsg))
			assert.True(t, errors.Is(err, tt.expected))
		})
	}
}

func TestWrapError_APIError(t *testing.T) {
	p := &Provider{bucket: "test-bucket"}

	tests := []struct {
		code     string
		expected error
	}{
		{"NoSuchKey", provider.ErrNotFound},
		{"NotFound", provider.ErrNotFound},
		{"NoSuchBucket", provider.ErrBucketNotFound},
		{"Forbidden", provider.ErrAccessDenied},
		{"InvalidAccessKeyId", provider.ErrInvalidCredentials},
		{"RequestLimitExceeded", provider.ErrThrottled},
		{"InternalError", provider.ErrProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := p.wrapError("Test", "key", &mockAPIError{code: tt.code, message: "test message"})
			assert.True(t, errors.Is(err, tt.expected), "expected %v for code %s", tt.expected, tt.code)
		})
	}
}

func TestNew_ValidationError(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)

	var configErr *ConfigError
	assert.True(t, errors.As(err, &configErr))
}

func TestResolveRegion(t *testing.T) {
	tests := []struct {
		name      string
		endpoint  string
		sdkRegion string
		expected  string
	}{
		{"SDK resolved region", "", "eu-west-1", "eu-west-1"},
		{"AWS S3 defaults to us-east-1", "", "", "us-east-1"},
		{"S3-compatible does not default", "https://s3.wasabisys.com", "", ""},
		{"S3-compatible respects SDK region", "http://minio.local:9000", "eu-central-1", "eu-central-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, resolveRegion(tt.endpoint, tt.sdkRegion))
		})
	}
}
