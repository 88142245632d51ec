package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// maxLineBytes bounds a single journal line.
const maxLineBytes = 4 << 20

// ReadRecords decodes a JSONL journal and calls fn for each record in order.
//
// Blank lines are ignored. A final line that fails to decode is treated as
// a torn write from a crashed process and dropped; a malformed line
// anywhere else is an error. Returning an error from fn stops the read.
func ReadRecords(r io.Reader, fn func(Record) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var (
		lineNo  int
		pending error
	)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if pending != nil {
			return pending
		}

		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			pending = fmt.Errorf("journal line %d: %w", lineNo, err)
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return sc.Err()
}

// DecodeData unmarshals a record payload into v.
func DecodeData(rec Record, v any) error {
	if err := json.Unmarshal(rec.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", rec.Type, err)
	}
	return nil
}
