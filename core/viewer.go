package core

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"

	"pkt.systems/pslog"
	"pkt.systems/taskwatch/internal/logx"
	"pkt.systems/taskwatch/internal/sse"
	"pkt.systems/taskwatch/schema"
)

// Viewer follows the log stream of one task at a time. It owns at most one
// open stream connection, tracks the task status, and stops all network
// activity once a terminal status is observed.
type Viewer struct {
	cfg     schema.ViewerConfig
	dialer  StreamDialer
	stopper TaskStopper
	sink    EventSink
	log     pslog.Logger
	markers []string
	stops   singleflight.Group

	newBackOff func() backoff.BackOff

	mu     sync.Mutex
	sub    *subscription
	closed bool
	wg     sync.WaitGroup
}

// subscription is the state of one observed task id. It stays attached to the
// viewer after a terminal status so the final log remains visible.
type subscription struct {
	taskID  schema.TaskID
	channel schema.TaskChannel
	log     pslog.Logger
	buffer  *logBuffer

	status          schema.TaskStatus
	connected       bool
	terminal        bool
	closed          bool
	stopPending     bool
	stopNotified    bool
	expiredNotified bool
	lastEventID     string

	ctx    context.Context
	cancel context.CancelFunc
	stream Stream
}

// NewViewer constructs a viewer.
func NewViewer(cfg schema.ViewerConfig, deps ViewerDeps) (*Viewer, error) {
	normalized, err := schema.NormalizeViewerConfig(cfg)
	if err != nil {
		return nil, err
	}
	if deps.Dialer == nil {
		return nil, errors.New("stream dialer is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	sink := deps.Sink
	if sink == nil {
		sink = SinkFuncs{}
	}
	markers := make([]string, 0, len(normalized.ExpiryMarkers))
	for _, marker := range normalized.ExpiryMarkers {
		if trimmed := strings.TrimSpace(marker); trimmed != "" {
			markers = append(markers, strings.ToLower(trimmed))
		}
	}
	v := &Viewer{
		cfg:     normalized,
		dialer:  deps.Dialer,
		stopper: deps.Stopper,
		sink:    sink,
		log:     logger,
		markers: markers,
	}
	v.newBackOff = func() backoff.BackOff {
		return &backoff.ExponentialBackOff{
			InitialInterval:     normalized.ReconnectInitial,
			RandomizationFactor: backoff.DefaultRandomizationFactor,
			Multiplier:          backoff.DefaultMultiplier,
			MaxInterval:         normalized.ReconnectMax,
		}
	}
	return v, nil
}

// Subscribe starts following taskID, replacing any prior subscription. The
// previous log buffer is discarded and the status resets to pending. An empty
// taskID clears the viewer.
func (v *Viewer) Subscribe(ctx context.Context, taskID schema.TaskID) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if taskID == "" {
		v.Clear()
		return nil
	}
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return schema.ErrViewerClosed
	}
	var notes []func()
	if prev := v.sub; prev != nil {
		notes = append(notes, v.closeLocked(prev, "replaced")...)
	}
	subCtx, cancel := context.WithCancel(ctx)
	channel := schema.ChannelFor(taskID, v.cfg.SchedulerTaskID)
	sub := &subscription{
		taskID:  taskID,
		channel: channel,
		log:     logx.WithChannel(v.log.With("task", taskID), channel),
		buffer:  newLogBuffer(v.cfg.MaxLogLines),
		status:  schema.StatusPending,
		ctx:     logx.ContextWithTask(pslog.ContextWithLogger(subCtx, v.log), taskID),
		cancel:  cancel,
	}
	v.sub = sub
	v.wg.Add(1)
	v.mu.Unlock()

	sub.log.Info("stream subscribe")
	v.emit(notes)
	v.sink.OnStatus(schema.StatusEvent{TaskID: taskID, Status: schema.StatusPending})
	go v.run(sub)
	return nil
}

// Unsubscribe closes the stream if it is open. The log buffer and status stay
// visible. It is safe to call repeatedly.
func (v *Viewer) Unsubscribe() {
	v.mu.Lock()
	var notes []func()
	if v.sub != nil {
		notes = v.closeLocked(v.sub, "unsubscribe")
	}
	v.mu.Unlock()
	v.emit(notes)
}

// Clear unsubscribes and discards the observed task, leaving an idle viewer.
func (v *Viewer) Clear() {
	v.mu.Lock()
	var notes []func()
	if v.sub != nil {
		notes = v.closeLocked(v.sub, "cleared")
		v.sub = nil
	}
	v.mu.Unlock()
	v.emit(notes)
}

// Close tears the viewer down and waits for its stream goroutines to exit.
// It must not be called from an EventSink callback.
func (v *Viewer) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	var notes []func()
	if v.sub != nil {
		notes = v.closeLocked(v.sub, "viewer closed")
	}
	v.mu.Unlock()
	v.emit(notes)
	v.wg.Wait()
	return nil
}

// Dismiss closes the viewer on behalf of the user and notifies the owner.
func (v *Viewer) Dismiss() error {
	v.mu.Lock()
	var taskID schema.TaskID
	if v.sub != nil {
		taskID = v.sub.taskID
	}
	v.mu.Unlock()
	err := v.Close()
	v.sink.OnClose(schema.CloseEvent{TaskID: taskID})
	return err
}

// Snapshot returns the current read-only projection of the viewer.
func (v *Viewer) Snapshot() schema.ViewerSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	sub := v.sub
	if sub == nil {
		return schema.ViewerSnapshot{Status: schema.StatusIdle}
	}
	return schema.ViewerSnapshot{
		TaskID:    sub.taskID,
		Channel:   sub.channel,
		Status:    sub.displayStatus(),
		Connected: sub.connected,
		Terminal:  sub.terminal,
		Lines:     sub.buffer.Lines(),
	}
}

// TaskID returns the observed task id, or empty when idle.
func (v *Viewer) TaskID() schema.TaskID {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.sub == nil {
		return ""
	}
	return v.sub.taskID
}

func (s *subscription) displayStatus() schema.TaskStatus {
	if s.stopPending && !s.terminal {
		return schema.StatusStopping
	}
	return s.status
}

func (v *Viewer) run(sub *subscription) {
	defer v.wg.Done()
	bo := v.newBackOff()
	bo.Reset()
	for {
		stream, err := v.dialer.OpenStream(sub.ctx, sub.taskID, v.lastEventID(sub))
		if err != nil {
			if !v.transportError(sub, err) || !v.waitReconnect(sub, bo) {
				return
			}
			continue
		}
		if !v.attach(sub, stream) {
			_ = stream.Close()
			return
		}
		bo.Reset()
		err = v.consume(sub, stream)
		_ = stream.Close()
		if !v.transportError(sub, err) || !v.waitReconnect(sub, bo) {
			return
		}
	}
}

func (v *Viewer) consume(sub *subscription, stream Stream) error {
	for {
		frame, err := stream.Next(sub.ctx)
		if err != nil {
			return err
		}
		if frame.IsControl() {
			v.recordEventID(sub, frame.ID)
			continue
		}
		if !v.dispatch(sub, frame) {
			return nil
		}
	}
}

// dispatch applies one frame. It returns false once the subscription is closed.
func (v *Viewer) dispatch(sub *subscription, frame sse.Frame) bool {
	event, err := decodeLogEvent(frame.Data)
	if err != nil {
		preview := string(frame.Data)
		if len(preview) > 200 {
			preview = preview[:200]
		}
		sub.log.Warn("stream frame dropped", "id", frame.ID, "preview", preview, "err", err)
		return v.isCurrent(sub)
	}

	v.mu.Lock()
	if !v.currentLocked(sub) {
		v.mu.Unlock()
		sub.log.Trace("stream frame after close dropped", "type", event.Type)
		return false
	}
	if frame.ID != "" {
		sub.lastEventID = frame.ID
	}
	var notes []func()
	switch event.Type {
	case schema.EventLog:
		index := sub.buffer.Append(event.Message)
		line := schema.LogLineEvent{TaskID: sub.taskID, Index: index, Line: event.Message}
		notes = append(notes, func() { v.sink.OnLog(line) })
		if !sub.expiredNotified && v.isExpiryLine(event.Message) {
			sub.expiredNotified = true
			expired := schema.ExpiredEvent{TaskID: sub.taskID, Message: event.Message}
			sub.log.Warn("membership expired notice", "message", event.Message)
			notes = append(notes, func() { v.sink.OnExpired(expired) })
		}
	case schema.EventStatus:
		notes = append(notes, v.applyStatusLocked(sub, event.Status)...)
	case schema.EventHeartbeat:
	}
	open := !sub.closed
	v.mu.Unlock()
	v.emit(notes)
	return open
}

func (v *Viewer) applyStatusLocked(sub *subscription, status schema.TaskStatus) []func() {
	previous := sub.displayStatus()
	sub.status = status
	sub.stopPending = false
	terminal := sub.channel.IsTerminal(status)
	changed := schema.StatusEvent{
		TaskID:   sub.taskID,
		Previous: previous,
		Status:   status,
		Terminal: terminal,
	}
	notes := []func(){func() { v.sink.OnStatus(changed) }}
	if !status.Known() {
		sub.log.Debug("stream unknown status", "status", status)
	}
	if !terminal || sub.terminal {
		return notes
	}
	sub.terminal = true
	sub.log.Info("stream terminal", "status", status)
	notes = append(notes, v.closeLocked(sub, "terminal")...)
	if !sub.stopNotified {
		sub.stopNotified = true
		stop := schema.TaskStopEvent{TaskID: sub.taskID, Status: status, Reason: schema.StopReasonTerminal}
		notes = append(notes, func() { v.sink.OnTaskStop(stop) })
	}
	return notes
}

// closeLocked closes the transport of sub and suppresses any reconnect.
func (v *Viewer) closeLocked(sub *subscription, reason string) []func() {
	if sub.closed {
		return nil
	}
	sub.closed = true
	sub.cancel()
	if sub.stream != nil {
		_ = sub.stream.Close()
		sub.stream = nil
	}
	sub.log.Debug("stream close", "reason", reason)
	if !sub.connected {
		return nil
	}
	sub.connected = false
	event := schema.ConnectionEvent{TaskID: sub.taskID, Connected: false}
	return []func(){func() { v.sink.OnConnection(event) }}
}

func (v *Viewer) attach(sub *subscription, stream Stream) bool {
	v.mu.Lock()
	if !v.currentLocked(sub) {
		v.mu.Unlock()
		return false
	}
	sub.stream = stream
	sub.connected = true
	v.mu.Unlock()
	sub.log.Info("stream open")
	v.sink.OnConnection(schema.ConnectionEvent{TaskID: sub.taskID, Connected: true})
	return true
}

// transportError records a dropped or failed connection. It returns true when
// the subscription should reconnect.
func (v *Viewer) transportError(sub *subscription, err error) bool {
	v.mu.Lock()
	if sub.stream != nil {
		sub.stream = nil
	}
	if !v.currentLocked(sub) {
		v.mu.Unlock()
		return false
	}
	if err == nil {
		err = io.EOF
	}
	wasConnected := sub.connected
	sub.connected = false
	var notes []func()
	if sub.terminal {
		notes = v.closeLocked(sub, "transport error after terminal")
		v.mu.Unlock()
		v.emit(notes)
		return false
	}
	v.mu.Unlock()
	if errors.Is(err, io.EOF) {
		sub.log.Info("stream ended by server")
	} else {
		sub.log.Warn("stream transport error", "err", err)
	}
	if wasConnected {
		v.sink.OnConnection(schema.ConnectionEvent{TaskID: sub.taskID, Connected: false, Err: err})
	}
	return true
}

func (v *Viewer) waitReconnect(sub *subscription, bo backoff.BackOff) bool {
	delay := bo.NextBackOff()
	if delay == backoff.Stop {
		v.Unsubscribe()
		return false
	}
	sub.log.Debug("stream reconnect scheduled", "delay_ms", delay.Milliseconds())
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-sub.ctx.Done():
		return false
	case <-timer.C:
		return v.isCurrent(sub)
	}
}

func (v *Viewer) recordEventID(sub *subscription, id string) {
	if id == "" {
		return
	}
	v.mu.Lock()
	if v.currentLocked(sub) {
		sub.lastEventID = id
	}
	v.mu.Unlock()
}

func (v *Viewer) lastEventID(sub *subscription) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return sub.lastEventID
}

func (v *Viewer) isCurrent(sub *subscription) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.currentLocked(sub)
}

func (v *Viewer) currentLocked(sub *subscription) bool {
	return v.sub == sub && !sub.closed
}

func (v *Viewer) isExpiryLine(line string) bool {
	if len(v.markers) == 0 {
		return false
	}
	text := strings.ToLower(line)
	for _, marker := range v.markers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

func (v *Viewer) emit(notes []func()) {
	for _, note := range notes {
		note()
	}
}
