package eventbus

import (
	"context"
	"sync"
	"sync/atomic"

	"pkt.systems/pslog"
	"pkt.systems/taskwatch/schema"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventLog carries an appended log line.
	EventLog EventType = "log"
	// EventStatus carries a displayed status change.
	EventStatus EventType = "status"
	// EventConnection carries a transport open or drop.
	EventConnection EventType = "connection"
	// EventExpired carries the membership-expired notice.
	EventExpired EventType = "expired"
	// EventTaskStop carries the end of a task.
	EventTaskStop EventType = "task_stop"
	// EventClose carries a user dismissal.
	EventClose EventType = "close"
)

// Event represents a UI-facing event emitted by a viewer.
type Event struct {
	Type       EventType
	TaskID     schema.TaskID
	Log        schema.LogLineEvent
	Status     schema.StatusEvent
	Connection schema.ConnectionEvent
	Expired    schema.ExpiredEvent
	TaskStop   schema.TaskStopEvent
	Close      schema.CloseEvent
}

// Bus fans viewer events out to per-task subscribers. Publishing never blocks.
// A bounded subscriber whose channel is full misses the event. A queued
// subscriber buffers without limit and receives every event in order.
type Bus struct {
	mu      sync.Mutex
	subs    map[schema.TaskID]map[*subscriber]struct{}
	log     pslog.Logger
	depth   int
	dropped atomic.Int64
}

type subscriber struct {
	ch     chan Event
	queued bool

	mu      sync.Mutex
	pending []Event
	wake    chan struct{}
	done    chan struct{}
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscriber)

// Queued makes the subscription lossless: events published while the consumer
// is busy are held in an unbounded queue instead of being dropped.
func Queued() SubscribeOption {
	return func(s *subscriber) {
		s.queued = true
	}
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[schema.TaskID]map[*subscriber]struct{}),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber for the task and returns a channel + cancel.
func (b *Bus) Subscribe(taskID schema.TaskID, opts ...SubscribeOption) (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	sub := &subscriber{}
	for _, opt := range opts {
		if opt != nil {
			opt(sub)
		}
	}
	if sub.queued {
		sub.ch = make(chan Event)
		sub.wake = make(chan struct{}, 1)
		sub.done = make(chan struct{})
		go sub.pump()
	} else {
		sub.ch = make(chan Event, b.depth)
	}
	b.mu.Lock()
	taskSubs := b.subs[taskID]
	if taskSubs == nil {
		taskSubs = make(map[*subscriber]struct{})
		b.subs[taskID] = taskSubs
	}
	taskSubs[sub] = struct{}{}
	count := len(taskSubs)
	b.mu.Unlock()
	b.log.With("task", taskID).Debug("eventbus subscribe", "subs", count, "queued", sub.queued)
	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if subs := b.subs[taskID]; subs != nil {
				delete(subs, sub)
				if len(subs) == 0 {
					delete(b.subs, taskID)
				}
			}
			b.mu.Unlock()
			if sub.queued {
				close(sub.done)
			} else {
				close(sub.ch)
			}
			b.log.With("task", taskID).Debug("eventbus unsubscribe")
		})
	}
}

// enqueue appends to a queued subscriber and wakes its pump.
func (s *subscriber) enqueue(event Event) {
	s.mu.Lock()
	s.pending = append(s.pending, event)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump moves queued events to the subscriber channel and closes it on cancel.
func (s *subscriber) pump() {
	defer close(s.ch)
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		event := s.pending[0]
		s.pending[0] = Event{}
		s.pending = s.pending[1:]
		s.mu.Unlock()
		select {
		case s.ch <- event:
		case <-s.done:
			return
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() int64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}

// OnLog publishes a log event.
func (b *Bus) OnLog(event schema.LogLineEvent) {
	b.publish(Event{Type: EventLog, TaskID: event.TaskID, Log: event})
}

// OnStatus publishes a status event.
func (b *Bus) OnStatus(event schema.StatusEvent) {
	b.publish(Event{Type: EventStatus, TaskID: event.TaskID, Status: event})
}

// OnConnection publishes a connection event.
func (b *Bus) OnConnection(event schema.ConnectionEvent) {
	b.publish(Event{Type: EventConnection, TaskID: event.TaskID, Connection: event})
}

// OnExpired publishes the expired notice.
func (b *Bus) OnExpired(event schema.ExpiredEvent) {
	b.publish(Event{Type: EventExpired, TaskID: event.TaskID, Expired: event})
}

// OnTaskStop publishes a task stop event.
func (b *Bus) OnTaskStop(event schema.TaskStopEvent) {
	b.publish(Event{Type: EventTaskStop, TaskID: event.TaskID, TaskStop: event})
}

// OnClose publishes a close event.
func (b *Bus) OnClose(event schema.CloseEvent) {
	b.publish(Event{Type: EventClose, TaskID: event.TaskID, Close: event})
}

func (b *Bus) publish(event Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	// Delivery happens under the lock so a concurrent cancel cannot close
	// a channel mid-send.
	dropped := 0
	for sub := range b.subs[event.TaskID] {
		if sub.queued {
			sub.enqueue(event)
			continue
		}
		select {
		case sub.ch <- event:
		default:
			dropped++
		}
	}
	b.mu.Unlock()
	if dropped > 0 {
		b.dropped.Add(int64(dropped))
		b.log.With("task", event.TaskID).Trace("eventbus dropped", "count", dropped, "type", event.Type)
	}
}
