package core

import (
	"context"
	"errors"
	"fmt"

	"pkt.systems/taskwatch/schema"
)

// RequestStop asks the backend to stop taskID. While the request is in flight
// the displayed status of the observed task is stopping. Concurrent calls for
// the same task share one request. A failure is returned wrapped with
// schema.ErrStopFailed and leaves the status untouched; it is not retried.
func (v *Viewer) RequestStop(ctx context.Context, taskID schema.TaskID) error {
	if taskID == "" {
		return schema.ErrNoTask
	}
	if v.stopper == nil {
		return fmt.Errorf("%w: no stop endpoint configured", schema.ErrStopFailed)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	sub, notes := v.beginStop(taskID)
	v.emit(notes)

	result, err, shared := v.stops.Do(string(taskID), func() (any, error) {
		return v.stopper.StopTask(ctx, taskID)
	})
	log := v.log.With("task", taskID)
	if err != nil {
		log.Warn("stop request failed", "err", err, "shared", shared)
		v.emit(v.failStop(sub))
		if errors.Is(err, schema.ErrStopFailed) {
			return err
		}
		return fmt.Errorf("%w: %w", schema.ErrStopFailed, err)
	}
	resp, _ := result.(schema.StopTaskResponse)
	log.Info("stop request accepted", "status", resp.Status, "shared", shared)
	v.emit(v.completeStop(sub, resp))
	return nil
}

// beginStop applies the stopping overlay when taskID is the observed task.
func (v *Viewer) beginStop(taskID schema.TaskID) (*subscription, []func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	sub := v.sub
	if sub == nil || sub.taskID != taskID {
		return nil, nil
	}
	if sub.terminal || sub.stopPending {
		return sub, nil
	}
	previous := sub.displayStatus()
	sub.stopPending = true
	event := schema.StatusEvent{TaskID: taskID, Previous: previous, Status: schema.StatusStopping}
	return sub, []func(){func() { v.sink.OnStatus(event) }}
}

func (v *Viewer) failStop(sub *subscription) []func() {
	if sub == nil {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.sub != sub || !sub.stopPending {
		return nil
	}
	sub.stopPending = false
	event := schema.StatusEvent{
		TaskID:   sub.taskID,
		Previous: schema.StatusStopping,
		Status:   sub.status,
		Terminal: sub.terminal,
	}
	return []func(){func() { v.sink.OnStatus(event) }}
}

func (v *Viewer) completeStop(sub *subscription, resp schema.StopTaskResponse) []func() {
	if sub == nil {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.sub != sub || sub.stopNotified {
		return nil
	}
	sub.stopNotified = true
	status := resp.Status
	if status == "" {
		status = schema.StatusStopping
	}
	event := schema.TaskStopEvent{TaskID: sub.taskID, Status: status, Reason: schema.StopReasonRequested}
	return []func(){func() { v.sink.OnTaskStop(event) }}
}
