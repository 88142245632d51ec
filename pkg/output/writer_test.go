package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/tomd/pkg/job"
)

func decodeSingle(t *testing.T, buf *bytes.Buffer) Record {
	t.Helper()
	var record Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	return record
}

func TestJSONLWriter_WriteOutcome(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", "/data/docs")
	fixed := time.Date(2024, 1, 15, 12, 0, 0, 0, time.FixedZone("X", 3600))
	w.now = func() time.Time { return fixed }

	d := job.FileDescriptor{SourcePath: "/data/docs/a/b.pdf", RelPath: "a/b.pdf", TypeTag: "pdf", Size: 2048}
	o := job.Succeeded(d, job.Success{OutputPath: "/out/a/b.md", Duration: 1500 * time.Millisecond, Bytes: 99, Title: "B"})

	require.NoError(t, w.WriteOutcome(context.Background(), NewOutcomeRecord(o)))

	record := decodeSingle(t, &buf)
	assert.Equal(t, TypeOutcome, record.Type)
	assert.Equal(t, "job-123", record.JobID)
	assert.Equal(t, "/data/docs", record.Source)
	assert.True(t, record.TS.Equal(fixed))
	assert.Equal(t, time.UTC, record.TS.Location())

	var data OutcomeRecord
	require.NoError(t, DecodeData(record, &data))
	assert.Equal(t, "a/b.pdf", data.RelativePath)
	assert.Equal(t, "success", data.Status)
	assert.Equal(t, "/out/a/b.md", data.OutputPath)
	assert.Equal(t, "B", data.Title)
	assert.Equal(t, 1500*time.Millisecond, data.Duration)
	assert.Equal(t, "1.5s", data.DurationHuman)
	assert.Empty(t, data.Kind)
}

func TestOutcomeRecord_RoundTripsOutcome(t *testing.T) {
	d := job.FileDescriptor{SourcePath: "/s/x.docx", RelPath: "x.docx", TypeTag: "docx", Size: 10}

	outcomes := []job.Outcome{
		job.Succeeded(d, job.Success{OutputPath: "/o/x.md", Duration: time.Second, Bytes: 5, Title: "X"}),
		job.Failed(d, job.KindTimeout, "deadline exceeded", 2*time.Second),
		job.SkippedFor(d, job.ReasonOutputExists),
	}
	for _, o := range outcomes {
		t.Run(string(o.Status), func(t *testing.T) {
			got := NewOutcomeRecord(o).Outcome()
			assert.True(t, got.Valid())
			assert.Equal(t, o.Status, got.Status)
			assert.Equal(t, o.Message(), got.Message())
			assert.Equal(t, o.Duration(), got.Duration())
			assert.Equal(t, o.Descriptor.RelPath, got.Descriptor.RelPath)
			if o.Failure != nil {
				assert.Equal(t, o.Failure.Kind, got.Failure.Kind)
			}
			if o.Success != nil {
				assert.Equal(t, *o.Success, *got.Success)
			}
		})
	}
}

func TestJSONLWriter_WriteScanError(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", "/src")

	err := w.WriteScanError(context.Background(), &ScanErrorRecord{
		Code:    ErrCodeAccessDenied,
		Message: "permission denied",
		Path:    "/src/locked",
		Op:      "readdir",
	})
	require.NoError(t, err)

	record := decodeSingle(t, &buf)
	assert.Equal(t, TypeScanError, record.Type)

	var data ScanErrorRecord
	require.NoError(t, DecodeData(record, &data))
	assert.Equal(t, ErrCodeAccessDenied, data.Code)
	assert.Equal(t, "/src/locked", data.Path)
	assert.NotContains(t, string(record.Data), "relative_path")
}

func TestJSONLWriter_WriteProgressAndSummary(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", "/src")

	snap := job.Snapshot{Total: 10, Success: 3, Failed: 1, Skipped: 2, InFlight: 4, Elapsed: time.Minute}
	require.NoError(t, w.WriteProgress(context.Background(), NewProgressRecord(PhaseConverting, snap)))
	require.NoError(t, w.WriteSummary(context.Background(), &SummaryRecord{
		Total: 10, Success: 9, Failed: 1, Duration: 90 * time.Second, DurationHuman: "1m30s",
	}))

	var types []string
	var progress ProgressRecord
	var summary SummaryRecord
	err := ReadRecords(&buf, func(rec Record) error {
		types = append(types, rec.Type)
		switch rec.Type {
		case TypeProgress:
			return DecodeData(rec, &progress)
		case TypeSummary:
			return DecodeData(rec, &summary)
		}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{TypeProgress, TypeSummary}, types)
	assert.Equal(t, PhaseConverting, progress.Phase)
	assert.Equal(t, 6, progress.Done)
	assert.Equal(t, 4, progress.InFlight)
	assert.Equal(t, 9, summary.Success)
	assert.Equal(t, "1m30s", summary.DurationHuman)
	assert.False(t, summary.Interrupted)
}

func TestJSONLWriter_NewlineTerminated(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", "/src")

	for i := 0; i < 3; i++ {
		require.NoError(t, w.WriteProgress(context.Background(), &ProgressRecord{Phase: PhaseScanning}))
	}

	out := buf.String()
	assert.True(t, strings.HasSuffix(out, "\n"))
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 3)
}

func TestJSONLWriter_Close(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", "/src")

	require.NoError(t, w.Close())

	err := w.WriteSummary(context.Background(), &SummaryRecord{})
	assert.ErrorIs(t, err, ErrWriterClosed)
	assert.Empty(t, buf.String())
}

func TestJSONLWriter_ConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", "/src")

	const writers, perWriter = 8, 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				d := job.FileDescriptor{RelPath: "f.txt"}
				_ = w.WriteOutcome(context.Background(), NewOutcomeRecord(job.SkippedFor(d, job.ReasonDryRun)))
			}
		}()
	}
	wg.Wait()

	count := 0
	err := ReadRecords(&buf, func(rec Record) error {
		count++
		assert.Equal(t, TypeOutcome, rec.Type)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, writers*perWriter, count)
}

func TestJSONLWriter_ContextCancellation(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", "/src")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.WriteProgress(ctx, &ProgressRecord{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, buf.String())
}

type failingWriter struct{}

func (f *failingWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("disk full")
}

func TestJSONLWriter_WriteFailure(t *testing.T) {
	w := NewJSONLWriter(&failingWriter{}, "job-123", "/src")

	err := w.WriteProgress(context.Background(), &ProgressRecord{})
	require.Error(t, err)

	var we *WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "write", we.Op)
}

// shortWriteWriter simulates an io.Writer that performs short writes.
// It writes at most bytesPerWrite bytes per call, returning nil error.
type shortWriteWriter struct {
	buf           bytes.Buffer
	bytesPerWrite int
}

func (sw *shortWriteWriter) Write(p []byte) (n int, err error) {
	toWrite := len(p)
	if toWrite > sw.bytesPerWrite {
		toWrite = sw.bytesPerWrite
	}
	return sw.buf.Write(p[:toWrite])
}

// zeroWriteWriter always returns 0 bytes written with nil error.
type zeroWriteWriter struct{}

func (zw *zeroWriteWriter) Write(p []byte) (n int, err error) {
	return 0, nil
}

func TestJSONLWriter_ShortWrite(t *testing.T) {
	sw := &shortWriteWriter{bytesPerWrite: 10}
	w := NewJSONLWriter(sw, "job-123", "/src")

	require.NoError(t, w.WriteProgress(context.Background(), &ProgressRecord{Phase: PhaseComplete, Total: 5}))
	require.NoError(t, w.WriteProgress(context.Background(), &ProgressRecord{Phase: PhaseComplete, Total: 6}))

	lines := strings.Split(strings.TrimSpace(sw.buf.String()), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		var rec Record
		assert.NoError(t, json.Unmarshal([]byte(line), &rec))
	}
}

func TestJSONLWriter_ZeroWrite(t *testing.T) {
	w := NewJSONLWriter(&zeroWriteWriter{}, "job-123", "/src")

	err := w.WriteProgress(context.Background(), &ProgressRecord{})
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

func TestWriteError(t *testing.T) {
	underlying := errors.New("underlying error")
	err := &WriteError{Op: "marshal", Err: underlying}

	assert.Equal(t, "output: marshal: underlying error", err.Error())
	assert.ErrorIs(t, err, underlying)
}

func TestReadRecords_TornFinalLine(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-1", "/src")
	require.NoError(t, w.WriteProgress(context.Background(), &ProgressRecord{Phase: PhaseScanning}))
	buf.WriteString(`{"type":"tomd.outcome.v1","ts":"2024-`)

	count := 0
	err := ReadRecords(&buf, func(Record) error { count++; return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestReadRecords_MalformedMiddleLine(t *testing.T) {
	in := strings.NewReader("{\"type\":\"a\"}\nnot json\n{\"type\":\"b\"}\n")

	var seen []string
	err := ReadRecords(in, func(rec Record) error { seen = append(seen, rec.Type); return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "journal line 2")
	assert.Equal(t, []string{"a"}, seen)
}

func TestReadRecords_CallbackErrorStops(t *testing.T) {
	in := strings.NewReader("{\"type\":\"a\"}\n\n{\"type\":\"b\"}\n")
	stop := errors.New("stop")

	calls := 0
	err := ReadRecords(in, func(Record) error { calls++; return stop })
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func BenchmarkJSONLWriter_WriteOutcome(b *testing.B) {
	w := NewJSONLWriter(io.Discard, "job-123", "/src")
	d := job.FileDescriptor{SourcePath: "/src/data/2024/01/15/file.pdf", RelPath: "data/2024/01/15/file.pdf", TypeTag: "pdf", Size: 1048576}
	rec := NewOutcomeRecord(job.Succeeded(d, job.Success{OutputPath: "/out/data/2024/01/15/file.md", Duration: time.Second, Bytes: 4096}))
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = w.WriteOutcome(ctx, rec)
	}
}
