package logx

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/taskwatch/schema"
)

type contextKey int

const (
	taskKey contextKey = iota
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithTask annotates the logger with the task id if present.
func WithTask(ctx context.Context, taskID schema.TaskID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if taskID != "" {
		if current, ok := ctx.Value(taskKey).(schema.TaskID); ok && current == taskID {
			return log
		}
		log = log.With("task", taskID)
	}
	return log
}

// WithChannel annotates the logger with the stream channel kind.
func WithChannel(log pslog.Logger, channel schema.TaskChannel) pslog.Logger {
	if channel.ID == "" {
		return log
	}
	return log.With("channel", channel.Kind.String())
}

// ContextWithTask stores the task marker on the context for log de-duplication.
func ContextWithTask(ctx context.Context, taskID schema.TaskID) context.Context {
	if ctx == nil || taskID == "" {
		return ctx
	}
	return context.WithValue(ctx, taskKey, taskID)
}
