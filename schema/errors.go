package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidTask indicates an empty or malformed task id.
	ErrInvalidTask = errors.New("invalid task id")
	// ErrTaskNotFound indicates the backend does not know the task.
	ErrTaskNotFound = errors.New("task not found")
	// ErrMalformedFrame indicates a stream frame that is not a valid log event.
	ErrMalformedFrame = errors.New("malformed stream frame")
	// ErrStreamStatus indicates the stream endpoint answered with a non-200 status.
	ErrStreamStatus = errors.New("unexpected stream status")
	// ErrStopFailed indicates the backend rejected or did not receive a stop command.
	ErrStopFailed = errors.New("stop task failed")
	// ErrNoTask indicates an operation that requires an observed task.
	ErrNoTask = errors.New("no task observed")
	// ErrViewerClosed indicates the viewer was torn down.
	ErrViewerClosed = errors.New("viewer closed")
)
