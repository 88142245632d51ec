package convert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/3leaps/tomd/pkg/job"
)

// DefaultHTTPField is the multipart field the source file is posted under.
const DefaultHTTPField = "file"

// HTTPConfig configures a remote conversion service.
type HTTPConfig struct {
	// Endpoint receives a multipart POST per file.
	Endpoint string

	// Token is sent as a bearer token when set.
	Token string

	// Field names the multipart file field. Default: "file".
	Field string

	// Timeout bounds a single request. Zero leaves the bound to the caller's
	// context.
	Timeout time.Duration

	// UserAgent overrides the client's User-Agent header.
	UserAgent string
}

// HTTP posts files to a remote conversion service and returns its Markdown.
//
// The service answers 200 with either a JSON body {"markdown": "..."} or
// the Markdown itself. 415 means the format is unsupported; other 4xx
// statuses are treated as unreadable input; 5xx and transport failures are
// internal errors.
type HTTP struct {
	client *resty.Client
	cfg    HTTPConfig
}

var _ Adapter = (*HTTP)(nil)

// NewHTTP creates an HTTP adapter.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("http converter: endpoint is required")
	}
	if !strings.HasPrefix(cfg.Endpoint, "http://") && !strings.HasPrefix(cfg.Endpoint, "https://") {
		return nil, fmt.Errorf("http converter: endpoint must be an http(s) URL: %q", cfg.Endpoint)
	}
	if cfg.Field == "" {
		cfg.Field = DefaultHTTPField
	}

	client := resty.New()
	client.SetHeader("Accept", "application/json, text/markdown, text/plain")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}

	return &HTTP{client: client, cfg: cfg}, nil
}

// Endpoint returns the configured service URL.
func (h *HTTP) Endpoint() string {
	return h.cfg.Endpoint
}

type httpResponse struct {
	Markdown string `json:"markdown"`
	Error    string `json:"error,omitempty"`
}

// Convert implements Adapter.
func (h *HTTP) Convert(ctx context.Context, sourcePath, typeTag string) (string, error) {
	f, err := os.Open(sourcePath)
	if err != nil {
		return "", ReadError(sourcePath, err)
	}
	defer func() { _ = f.Close() }()

	resp, err := h.client.R().
		SetContext(ctx).
		SetFileReader(h.cfg.Field, filepath.Base(sourcePath), f).
		SetFormData(map[string]string{"type": typeTag}).
		Post(h.cfg.Endpoint)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return "", &Failure{Kind: job.KindTimeout, Message: "conversion service did not answer in time", Err: err}
		}
		return "", Internal("call conversion service", err)
	}

	body := resp.Body()
	status := resp.StatusCode()
	switch {
	case status == http.StatusOK:
	case status == http.StatusUnsupportedMediaType:
		return "", &Failure{Kind: job.KindUnsupportedFormat, Message: serviceMessage(status, body), Err: ErrUnsupportedFormat}
	case status >= 400 && status < 500:
		return "", &Failure{Kind: job.KindReadError, Message: serviceMessage(status, body)}
	default:
		return "", &Failure{Kind: job.KindInternal, Message: serviceMessage(status, body)}
	}

	if strings.Contains(resp.Header().Get("Content-Type"), "json") {
		var out httpResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return "", Internal("decode conversion response", err)
		}
		if out.Markdown == "" && out.Error != "" {
			return "", Internalf("conversion service: %s", out.Error)
		}
		return out.Markdown, nil
	}
	return string(body), nil
}

// serviceMessage extracts a short diagnostic from an error response.
func serviceMessage(status int, body []byte) string {
	var out httpResponse
	if json.Unmarshal(body, &out) == nil && out.Error != "" {
		return fmt.Sprintf("conversion service returned %d: %s", status, out.Error)
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	if msg == "" {
		return fmt.Sprintf("conversion service returned %d", status)
	}
	return fmt.Sprintf("conversion service returned %d: %s", status, msg)
}

// Ping checks that the service answers at all. Any HTTP response counts,
// since services commonly reject a bare HEAD on their conversion route.
func (h *HTTP) Ping(ctx context.Context) error {
	if _, err := h.client.R().SetContext(ctx).Head(h.cfg.Endpoint); err != nil {
		return fmt.Errorf("conversion service %s unreachable: %w", h.cfg.Endpoint, err)
	}
	return nil
}
