package core

// logBuffer stores the raw log lines of one subscription in arrival order.
// maxLines <= 0 keeps every line.
type logBuffer struct {
	lines    []string
	maxLines int
	dropped  int
}

func newLogBuffer(maxLines int) *logBuffer {
	return &logBuffer{maxLines: maxLines}
}

// Append adds a line and returns its index in the logical (untrimmed) feed.
func (b *logBuffer) Append(line string) int {
	b.lines = append(b.lines, line)
	index := b.dropped + len(b.lines) - 1
	if b.maxLines > 0 && len(b.lines) > b.maxLines {
		trim := len(b.lines) - b.maxLines
		b.lines = append([]string(nil), b.lines[trim:]...)
		b.dropped += trim
	}
	return index
}

// Lines returns a copy of the retained lines.
func (b *logBuffer) Lines() []string {
	if b == nil {
		return nil
	}
	return append([]string(nil), b.lines...)
}
