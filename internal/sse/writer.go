package sse

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"
)

// Write encodes f onto w. Multi-line data is split into several data fields.
func Write(w io.Writer, f Frame) error {
	if len(f.Data) == 0 {
		return ErrEmptyData
	}
	var buf bytes.Buffer
	if f.ID != "" {
		fmt.Fprintf(&buf, "id: %s\n", sanitizeField(f.ID))
	}
	if f.Event != "" && f.Event != DefaultEvent {
		fmt.Fprintf(&buf, "event: %s\n", sanitizeField(f.Event))
	}
	if f.Retry > 0 {
		fmt.Fprintf(&buf, "retry: %d\n", f.Retry.Milliseconds())
	}
	data := strings.ReplaceAll(string(f.Data), "\r\n", "\n")
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(&buf, "data: %s\n", line)
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteRetry writes a frame that only carries the reconnection delay.
func WriteRetry(w io.Writer, retry time.Duration) error {
	_, err := fmt.Fprintf(w, "retry: %d\n\n", retry.Milliseconds())
	return err
}

// WriteComment writes a comment line, which readers ignore.
func WriteComment(w io.Writer, text string) error {
	_, err := fmt.Fprintf(w, ": %s\n\n", sanitizeField(text))
	return err
}

func sanitizeField(value string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(value)
}
