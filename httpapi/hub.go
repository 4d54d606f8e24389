package httpapi

import (
	"context"
	"sync"

	"pkt.systems/taskwatch/internal/logx"
	"pkt.systems/taskwatch/schema"
)

// StreamEvent is one sequenced event of a task stream.
type StreamEvent struct {
	Seq   uint64
	Event schema.LogEvent
}

// Hub keeps a bounded history per task and broadcasts new events to stream
// subscribers. It implements taskrunner.Publisher.
type Hub struct {
	mu          sync.Mutex
	tasks       map[schema.TaskID]*taskHub
	historySize int
}

type taskHub struct {
	seq      uint64
	history  []StreamEvent
	subs     map[chan StreamEvent]struct{}
	finished bool
}

// NewHub constructs a hub with the given history size.
func NewHub(historySize int) *Hub {
	if historySize <= 0 {
		historySize = 1000
	}
	return &Hub{
		tasks:       make(map[schema.TaskID]*taskHub),
		historySize: historySize,
	}
}

// PublishLog appends a log line to the task stream.
func (h *Hub) PublishLog(taskID schema.TaskID, line string) {
	h.publish(taskID, schema.LogEvent{Type: schema.EventLog, Message: line})
}

// PublishStatus appends a status transition to the task stream.
func (h *Hub) PublishStatus(taskID schema.TaskID, status schema.TaskStatus) {
	h.publish(taskID, schema.LogEvent{Type: schema.EventStatus, Status: status})
}

// Finish closes every subscriber of the task. Later subscribers receive the
// history and then end.
func (h *Hub) Finish(taskID schema.TaskID) {
	h.mu.Lock()
	th := h.getOrCreateLocked(taskID)
	th.finished = true
	for sub := range th.subs {
		delete(th.subs, sub)
		close(sub)
	}
	h.mu.Unlock()
	logx.WithTask(context.Background(), taskID).Debug("hub finish")
}

// Subscribe registers a subscriber for a task. The returned history holds
// every retained event after the given seq. The channel is closed when the
// task finishes.
func (h *Hub) Subscribe(taskID schema.TaskID, after uint64) (<-chan StreamEvent, func(), []StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	th := h.getOrCreateLocked(taskID)
	history := make([]StreamEvent, 0, len(th.history))
	for _, event := range th.history {
		if event.Seq > after {
			history = append(history, event)
		}
	}
	ch := make(chan StreamEvent, 256)
	log := logx.WithTask(context.Background(), taskID)
	if th.finished {
		close(ch)
		log.Debug("hub subscribe finished task", "history", len(history))
		return ch, func() {}, history
	}
	th.subs[ch] = struct{}{}
	log.Info("hub subscribe", "subs", len(th.subs), "history", len(history), "after", after)
	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := th.subs[ch]; ok {
				delete(th.subs, ch)
				close(ch)
			}
			remaining := len(th.subs)
			h.mu.Unlock()
			log.Info("hub unsubscribe", "subs", remaining)
		})
	}
	return ch, unsub, history
}

// Known reports whether the hub has seen the task.
func (h *Hub) Known(taskID schema.TaskID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.tasks[taskID]
	return ok
}

func (h *Hub) publish(taskID schema.TaskID, payload schema.LogEvent) {
	h.mu.Lock()
	th := h.getOrCreateLocked(taskID)
	th.seq++
	event := StreamEvent{Seq: th.seq, Event: payload}
	th.history = append(th.history, event)
	if len(th.history) > h.historySize {
		th.history = th.history[len(th.history)-h.historySize:]
	}
	dropped := 0
	for sub := range th.subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	h.mu.Unlock()
	if dropped > 0 {
		logx.WithTask(context.Background(), taskID).Warn("hub event dropped", "type", payload.Type, "dropped", dropped)
	}
}

func (h *Hub) getOrCreateLocked(taskID schema.TaskID) *taskHub {
	th := h.tasks[taskID]
	if th == nil {
		th = &taskHub{
			subs: make(map[chan StreamEvent]struct{}),
		}
		h.tasks[taskID] = th
	}
	return th
}
