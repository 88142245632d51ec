package convert

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Simulated produces a Markdown stub describing the file instead of
// converting it. It is the backend of last resort and a stand-in for slow
// converters in dry runs of a deployment.
type Simulated struct {
	// Delay is the base processing time per file.
	Delay time.Duration

	// PerKB adds processing time proportional to the file size.
	PerKB time.Duration
}

var _ Adapter = (*Simulated)(nil)

// Convert implements Adapter.
func (s *Simulated) Convert(ctx context.Context, sourcePath, typeTag string) (string, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return "", ReadError(sourcePath, err)
	}

	delay := s.Delay + time.Duration(info.Size()/1024)*s.PerKB
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	mimeType := mime.TypeByExtension(filepath.Ext(sourcePath))
	if mimeType == "" {
		mimeType = "unknown"
	}
	tag := typeTag
	if tag == "" {
		tag = "unknown"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", filepath.Base(sourcePath))
	b.WriteString("## File info\n\n")
	fmt.Fprintf(&b, "- Source: %s\n", sourcePath)
	fmt.Fprintf(&b, "- Type: %s\n", tag)
	fmt.Fprintf(&b, "- Size: %d bytes\n", info.Size())
	fmt.Fprintf(&b, "- MIME type: %s\n\n", mimeType)
	b.WriteString("## Content\n\n")
	b.WriteString("_Simulated conversion: no content was extracted from this file._\n")
	return b.String(), nil
}
