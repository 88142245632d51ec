package provider

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Target parsing errors.
var (
	// ErrInvalidTarget indicates the target could not be parsed.
	ErrInvalidTarget = errors.New("invalid target")

	// ErrUnsupportedProvider indicates the target scheme is not supported.
	ErrUnsupportedProvider = errors.New("unsupported provider")
)

// Target identifies where outputs are written.
//
// Supported forms:
//   - /abs/path or rel/path (local directory)
//   - file:///abs/path
//   - s3://bucket
//   - s3://bucket/prefix/
type Target struct {
	// Type is the sink implementation.
	Type ProviderType

	// Path is the absolute local directory (file targets).
	Path string

	// Bucket is the bucket name (s3 targets).
	Bucket string

	// Prefix is the key prefix inside the bucket, without leading slash and
	// with a trailing slash when non-empty (s3 targets).
	Prefix string
}

// IsLocal reports whether the target is a local directory.
func (t Target) IsLocal() bool {
	return t.Type == ProviderFile
}

// String returns the target in canonical form.
func (t Target) String() string {
	if t.Type == ProviderS3 {
		return fmt.Sprintf("s3://%s/%s", t.Bucket, t.Prefix)
	}
	return t.Path
}

// ParseTarget parses a local path or s3:// URI.
func ParseTarget(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, fmt.Errorf("%w: empty target", ErrInvalidTarget)
	}

	schemeEnd := strings.Index(raw, "://")
	if schemeEnd == -1 {
		abs, err := filepath.Abs(raw)
		if err != nil {
			return Target{}, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
		}
		return Target{Type: ProviderFile, Path: abs}, nil
	}

	scheme := strings.ToLower(raw[:schemeEnd])
	remainder := raw[schemeEnd+3:]

	switch scheme {
	case "file":
		if remainder == "" {
			return Target{}, fmt.Errorf("%w: missing path in %s", ErrInvalidTarget, raw)
		}
		abs, err := filepath.Abs(filepath.FromSlash(remainder))
		if err != nil {
			return Target{}, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
		}
		return Target{Type: ProviderFile, Path: abs}, nil
	case "s3":
	default:
		return Target{}, fmt.Errorf("%w: %s (supported: file, s3)", ErrUnsupportedProvider, scheme)
	}

	bucket, prefix, _ := strings.Cut(remainder, "/")
	if bucket == "" {
		return Target{}, fmt.Errorf("%w: missing bucket name in %s", ErrInvalidTarget, raw)
	}
	if _, err := url.Parse("s3://" + bucket + "/"); err != nil || strings.ContainsAny(bucket, " *?") {
		return Target{}, fmt.Errorf("%w: invalid bucket name %q", ErrInvalidTarget, bucket)
	}

	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return Target{Type: ProviderS3, Bucket: bucket, Prefix: prefix}, nil
}
