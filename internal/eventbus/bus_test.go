package eventbus

import (
	"testing"
	"time"

	"pkt.systems/taskwatch/core"
	"pkt.systems/taskwatch/schema"
)

var _ core.EventSink = (*Bus)(nil)

func TestSubscribeAndPublish(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe("task-42")
	defer cancel()

	bus.OnLog(schema.LogLineEvent{TaskID: "task-42", Index: 0, Line: "hi"})

	select {
	case got := <-ch:
		if got.Type != EventLog {
			t.Fatalf("expected log event, got %v", got.Type)
		}
		if got.Log.Line != "hi" || got.TaskID != "task-42" {
			t.Fatalf("unexpected payload: %+v", got)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for event")
	}
}

func TestPublishIsScopedToTask(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe("task-a")
	defer cancel()

	bus.OnStatus(schema.StatusEvent{TaskID: "task-b", Status: schema.StatusRunning})
	bus.OnTaskStop(schema.TaskStopEvent{TaskID: "task-a", Status: schema.StatusCompleted})

	got := <-ch
	if got.Type != EventTaskStop || got.TaskStop.Status != schema.StatusCompleted {
		t.Fatalf("expected task-a stop event, got %+v", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe("task-42")
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed")
	}
}

func TestPublishDoesNotBlockWhenFull(t *testing.T) {
	bus := New(nil)
	bus.depth = 1
	_, cancel := bus.Subscribe("task-42")
	defer cancel()

	bus.OnLog(schema.LogLineEvent{TaskID: "task-42", Line: "one"})
	done := make(chan struct{})
	go func() {
		bus.OnLog(schema.LogLineEvent{TaskID: "task-42", Line: "two"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("publish blocked on full channel")
	}
	if bus.Dropped() != 1 {
		t.Fatalf("expected one dropped event, got %d", bus.Dropped())
	}
}

func TestQueuedSubscriberReceivesEveryEventInOrder(t *testing.T) {
	bus := New(nil)
	bus.depth = 1
	ch, cancel := bus.Subscribe("task-42", Queued())
	defer cancel()

	const total = 1000
	for i := 0; i < total; i++ {
		bus.OnLog(schema.LogLineEvent{TaskID: "task-42", Index: i})
	}
	bus.OnStatus(schema.StatusEvent{TaskID: "task-42", Status: schema.StatusCompleted, Terminal: true})

	for i := 0; i < total; i++ {
		select {
		case got := <-ch:
			if got.Type != EventLog || got.Log.Index != i {
				t.Fatalf("event %d: got %+v", i, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
	got := <-ch
	if got.Type != EventStatus || !got.Status.Terminal {
		t.Fatalf("expected terminal status last, got %+v", got)
	}
	if bus.Dropped() != 0 {
		t.Fatalf("expected no drops, got %d", bus.Dropped())
	}
}

func TestQueuedUnsubscribeClosesChannel(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe("task-42", Queued())
	bus.OnLog(schema.LogLineEvent{TaskID: "task-42", Line: "pending"})
	cancel()
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("expected channel to be closed")
		}
	}
}
