package schema

import "time"

// EventType discriminates the JSON payload of a stream frame.
type EventType string

const (
	// EventLog appends a line to the log feed.
	EventLog EventType = "log"
	// EventStatus carries a status transition.
	EventStatus EventType = "status"
	// EventHeartbeat is a keep-alive and carries no state.
	EventHeartbeat EventType = "heartbeat"
)

// LogEvent is the decoded payload of one stream frame.
type LogEvent struct {
	Type    EventType  `json:"type"`
	Message string     `json:"message,omitempty"`
	Status  TaskStatus `json:"status,omitempty"`
}

// LogLineEvent is emitted to the owner for every appended log line.
type LogLineEvent struct {
	TaskID TaskID
	Index  int
	Line   string
}

// StatusEvent is emitted when the displayed status changes.
type StatusEvent struct {
	TaskID   TaskID
	Previous TaskStatus
	Status   TaskStatus
	Terminal bool
}

// ConnectionEvent is emitted when the transport opens or drops.
type ConnectionEvent struct {
	TaskID    TaskID
	Connected bool
	Err       error
}

// StopReason explains why OnTaskStop fired.
type StopReason string

const (
	// StopReasonTerminal means a terminal status was observed.
	StopReasonTerminal StopReason = "terminal"
	// StopReasonRequested means a user stop request succeeded.
	StopReasonRequested StopReason = "requested"
)

// TaskStopEvent is emitted at most once per subscription.
type TaskStopEvent struct {
	TaskID TaskID
	Status TaskStatus
	Reason StopReason
}

// ExpiredEvent is the one-shot membership-expiry notification.
type ExpiredEvent struct {
	TaskID  TaskID
	Message string
}

// CloseEvent is emitted when the owner dismisses the viewer.
type CloseEvent struct {
	TaskID TaskID
}

// ViewerSnapshot is the read-only projection of a viewer.
type ViewerSnapshot struct {
	TaskID    TaskID
	Channel   TaskChannel
	Status    TaskStatus
	Connected bool
	Terminal  bool
	Lines     []string
}

// TaskTranscript is the persisted final state of an observed task.
type TaskTranscript struct {
	TaskID  TaskID     `json:"task_id"`
	Status  TaskStatus `json:"status"`
	Lines   []string   `json:"lines"`
	SavedAt time.Time  `json:"saved_at"`
}

// TaskSummary describes a task known to a backend.
type TaskSummary struct {
	ID        TaskID     `json:"id"`
	Name      string     `json:"name,omitempty"`
	Status    TaskStatus `json:"status"`
	Scheduler bool       `json:"scheduler,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// StopTaskResponse is returned by the stop endpoint.
type StopTaskResponse struct {
	TaskID TaskID     `json:"task_id"`
	Status TaskStatus `json:"status"`
}
