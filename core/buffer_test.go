package core

import "testing"

func TestBufferKeepsEveryLineByDefault(t *testing.T) {
	b := newLogBuffer(0)
	for i := 0; i < 10000; i++ {
		b.Append("line")
	}
	if got := len(b.Lines()); got != 10000 {
		t.Fatalf("expected 10000 lines, got %d", got)
	}
}

func TestBufferRespectsMaxLines(t *testing.T) {
	b := newLogBuffer(3)
	var last int
	for _, line := range []string{"one", "two", "three", "four", "five"} {
		last = b.Append(line)
	}
	if last != 4 {
		t.Fatalf("expected logical index 4, got %d", last)
	}
	lines := b.Lines()
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if lines[0] != "three" || lines[2] != "five" {
		t.Fatalf("unexpected lines: %+v", lines)
	}
}

func TestBufferLinesReturnsCopy(t *testing.T) {
	b := newLogBuffer(0)
	b.Append("one")
	lines := b.Lines()
	lines[0] = "mutated"
	if b.Lines()[0] != "one" {
		t.Fatalf("expected buffer to be isolated from snapshot mutation")
	}
}

func TestNilBufferIsEmpty(t *testing.T) {
	var nilBuf *logBuffer
	if nilBuf.Lines() != nil {
		t.Fatalf("expected nil buffer to be empty")
	}
}
