// Package sse reads and writes Server-Sent Events frames.
package sse

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	gosse "github.com/tmaxmax/go-sse"
)

// DefaultEvent is the event name of frames without an event field.
const DefaultEvent = "message"

const maxEventSize = 2 * 1024 * 1024

// Frame is one dispatched event.
type Frame struct {
	ID    string
	Event string
	Data  []byte
	// Retry is the reconnection delay sent to clients. Readers leave it zero.
	Retry time.Duration
}

// Reader decodes frames from an event stream. Parsing runs in its own
// goroutine until the stream ends or Close is called.
type Reader struct {
	frames chan readResult
	done   chan struct{}
	once   sync.Once
	lastID string
	err    error
}

type readResult struct {
	frame Frame
	err   error
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	reader := &Reader{
		frames: make(chan readResult),
		done:   make(chan struct{}),
	}
	go reader.pump(r)
	return reader
}

func (r *Reader) pump(src io.Reader) {
	defer close(r.frames)
	for event, err := range gosse.Read(src, &gosse.ReadConfig{MaxEventSize: maxEventSize}) {
		result := readResult{err: err}
		if err == nil {
			result.frame = frameFromEvent(event)
		}
		select {
		case r.frames <- result:
		case <-r.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func frameFromEvent(event gosse.Event) Frame {
	frame := Frame{ID: event.LastEventID, Event: event.Type}
	if event.Data != "" {
		frame.Data = []byte(event.Data)
	}
	if frame.Event == "" && len(frame.Data) > 0 {
		frame.Event = DefaultEvent
	}
	return frame
}

// LastEventID returns the last id seen on the stream, persisting across frames.
func (r *Reader) LastEventID() string {
	return r.lastID
}

// Next returns the next frame. Comment lines are skipped. A frame that only
// carries an id is returned with IsControl set. io.EOF is returned when the
// stream ends.
func (r *Reader) Next(ctx context.Context) (Frame, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if r.err != nil {
		return Frame{}, r.err
	}
	select {
	case <-r.done:
		return Frame{}, ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case result, ok := <-r.frames:
		if !ok {
			r.err = io.EOF
			return Frame{}, io.EOF
		}
		if result.err != nil {
			r.err = result.err
			return Frame{}, result.err
		}
		r.lastID = result.frame.ID
		return result.frame, nil
	}
}

// Close stops the parsing goroutine once it next yields. Closing the
// underlying stream unblocks a pending read.
func (r *Reader) Close() {
	r.once.Do(func() { close(r.done) })
}

// IsControl reports whether the frame carries no payload: no data and no
// event name. Such frames only move the last event id.
func (f Frame) IsControl() bool {
	return len(f.Data) == 0 && f.Event == ""
}

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("sse reader closed")

// ErrEmptyData is returned by Write when a frame has no data.
var ErrEmptyData = errors.New("sse frame has no data")
