package schema

// TaskID identifies a backend task. The empty TaskID means no task is observed.
type TaskID string

// DefaultSchedulerTaskID is the reserved id of the ambient scheduler channel.
const DefaultSchedulerTaskID TaskID = "scheduler"

// TaskStatus is the status string reported by the task backend.
// Unknown values are kept verbatim and are never terminal.
type TaskStatus string

const (
	// StatusPending is the initial status of every subscription.
	StatusPending TaskStatus = "pending"
	// StatusRunning indicates the task is executing.
	StatusRunning TaskStatus = "running"
	// StatusStopping indicates a stop was requested and is being processed.
	StatusStopping TaskStatus = "stopping"
	// StatusCompleted indicates the task finished successfully.
	StatusCompleted TaskStatus = "completed"
	// StatusFailed indicates the task finished with an error.
	StatusFailed TaskStatus = "failed"
	// StatusCancelled indicates the task was cancelled. The scheduler uses it
	// between ambient runs.
	StatusCancelled TaskStatus = "cancelled"
	// StatusStopped indicates the task was stopped on request.
	StatusStopped TaskStatus = "stopped"
	// StatusIdle indicates there is no active run.
	StatusIdle TaskStatus = "idle"
)

// Known reports whether the status is one of the enumerated values.
func (s TaskStatus) Known() bool {
	switch s {
	case StatusPending, StatusRunning, StatusStopping, StatusCompleted,
		StatusFailed, StatusCancelled, StatusStopped, StatusIdle:
		return true
	default:
		return false
	}
}

// ChannelKind distinguishes one-shot task channels from the scheduler channel.
type ChannelKind int

const (
	// ChannelOneShot is a task that runs once and then ends.
	ChannelOneShot ChannelKind = iota
	// ChannelScheduler is the always-on scheduler that idles between runs.
	ChannelScheduler
)

func (k ChannelKind) String() string {
	switch k {
	case ChannelScheduler:
		return "scheduler"
	default:
		return "oneshot"
	}
}

// TaskChannel is the stream a viewer observes: either a one-shot task or the
// ambient scheduler. The kind decides which statuses end the stream.
type TaskChannel struct {
	Kind ChannelKind
	ID   TaskID
}

// OneShot returns the channel of a one-shot task.
func OneShot(id TaskID) TaskChannel {
	return TaskChannel{Kind: ChannelOneShot, ID: id}
}

// Scheduler returns the scheduler channel published under id.
func Scheduler(id TaskID) TaskChannel {
	return TaskChannel{Kind: ChannelScheduler, ID: id}
}

// ChannelFor classifies id against the scheduler sentinel. An empty sentinel
// falls back to DefaultSchedulerTaskID.
func ChannelFor(id, schedulerID TaskID) TaskChannel {
	if schedulerID == "" {
		schedulerID = DefaultSchedulerTaskID
	}
	if id == schedulerID {
		return Scheduler(id)
	}
	return OneShot(id)
}

// IsTerminal reports whether status ends the stream for this channel.
func (c TaskChannel) IsTerminal(status TaskStatus) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusStopped, StatusIdle:
		return true
	case StatusCancelled:
		return c.Kind == ChannelOneShot
	default:
		return false
	}
}
