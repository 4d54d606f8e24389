package core

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/taskwatch/internal/sse"
	"pkt.systems/taskwatch/schema"
)

// Stream is one open event-stream connection.
type Stream interface {
	// Next blocks until the next frame, the end of the stream, or ctx is done.
	Next(ctx context.Context) (sse.Frame, error)
	Close() error
}

// StreamDialer opens event streams keyed by task id. lastEventID is empty on
// the first connection and carries the last seen SSE id on reconnects.
type StreamDialer interface {
	OpenStream(ctx context.Context, taskID schema.TaskID, lastEventID string) (Stream, error)
}

// TaskStopper issues stop commands to the task backend.
type TaskStopper interface {
	StopTask(ctx context.Context, taskID schema.TaskID) (schema.StopTaskResponse, error)
}

// ViewerDeps captures external dependencies for the viewer.
type ViewerDeps struct {
	Dialer  StreamDialer
	Stopper TaskStopper
	Sink    EventSink
	Logger  pslog.Logger
}
