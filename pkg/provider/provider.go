// Package provider defines the output sink that converted Markdown and run
// reports are written to.
//
// A sink is addressed by slash-separated keys relative to the output root.
// Local directories and S3 buckets implement the same small surface so the
// scheduler does not care where outputs land. Authentication for remote
// sinks uses SDK default credential chains.
package provider

import (
	"context"
	"io"
	"time"
)

// Sink stores converted outputs.
//
// Implementations must be safe for concurrent use.
type Sink interface {
	// Head returns metadata for a single object.
	// Returns ErrNotFound if the object does not exist.
	Head(ctx context.Context, key string) (*ObjectMeta, error)

	// PutObject creates or replaces the object at key. Readers never observe
	// a partially written object.
	PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error

	// Close releases any resources held by the sink.
	Close() error
}

// Locator is implemented by sinks that can describe where a key lives, for
// log lines and report entries.
type Locator interface {
	Location(key string) string
}

// ObjectMeta contains metadata for a single stored object.
type ObjectMeta struct {
	// Key is the object key relative to the sink root.
	Key string

	// Size is the object size in bytes.
	Size int64

	// LastModified is when the object was last modified.
	LastModified time.Time

	// ContentType is the MIME type of the object, when known.
	ContentType string
}

// ProviderType identifies a sink implementation.
type ProviderType string

const (
	// ProviderFile represents a local directory.
	ProviderFile ProviderType = "file"

	// ProviderS3 represents AWS S3 or S3-compatible storage.
	ProviderS3 ProviderType = "s3"
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	return string(p)
}

// Location returns a human-readable location for key, falling back to the
// key itself when the sink does not implement Locator.
func Location(s Sink, key string) string {
	if l, ok := s.(Locator); ok {
		return l.Location(key)
	}
	return key
}

// ContentTypeFor returns the content type used when storing key.
func ContentTypeFor(key string) string {
	switch {
	case hasSuffixFold(key, ".md"):
		return "text/markdown; charset=utf-8"
	case hasSuffixFold(key, ".json"):
		return "application/json"
	case hasSuffixFold(key, ".jsonl"):
		return "application/x-ndjson"
	default:
		return "application/octet-stream"
	}
}

func hasSuffixFold(s, suffix string) bool {
	if len(s) < len(suffix) {
		return false
	}
	tail := s[len(s)-len(suffix):]
	for i := 0; i < len(suffix); i++ {
		c := tail[i]
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c != suffix[i] {
			return false
		}
	}
	return true
}
