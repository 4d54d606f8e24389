package core

import "pkt.systems/taskwatch/schema"

// EventSink receives viewer events. Calls for one subscription arrive in
// order and never while the viewer holds its lock.
type EventSink interface {
	OnLog(event schema.LogLineEvent)
	OnStatus(event schema.StatusEvent)
	OnConnection(event schema.ConnectionEvent)
	OnExpired(event schema.ExpiredEvent)
	OnTaskStop(event schema.TaskStopEvent)
	OnClose(event schema.CloseEvent)
}

// Fanout returns a sink that forwards every event to each non-nil sink.
func Fanout(sinks ...EventSink) EventSink {
	out := make([]EventSink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			out = append(out, sink)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return eventFanout{sinks: out}
}

type eventFanout struct {
	sinks []EventSink
}

func (f eventFanout) OnLog(event schema.LogLineEvent) {
	for _, sink := range f.sinks {
		sink.OnLog(event)
	}
}

func (f eventFanout) OnStatus(event schema.StatusEvent) {
	for _, sink := range f.sinks {
		sink.OnStatus(event)
	}
}

func (f eventFanout) OnConnection(event schema.ConnectionEvent) {
	for _, sink := range f.sinks {
		sink.OnConnection(event)
	}
}

func (f eventFanout) OnExpired(event schema.ExpiredEvent) {
	for _, sink := range f.sinks {
		sink.OnExpired(event)
	}
}

func (f eventFanout) OnTaskStop(event schema.TaskStopEvent) {
	for _, sink := range f.sinks {
		sink.OnTaskStop(event)
	}
}

func (f eventFanout) OnClose(event schema.CloseEvent) {
	for _, sink := range f.sinks {
		sink.OnClose(event)
	}
}

// SinkFuncs adapts optional callbacks to EventSink. Nil fields are ignored.
type SinkFuncs struct {
	Log        func(schema.LogLineEvent)
	Status     func(schema.StatusEvent)
	Connection func(schema.ConnectionEvent)
	Expired    func(schema.ExpiredEvent)
	TaskStop   func(schema.TaskStopEvent)
	Close      func(schema.CloseEvent)
}

func (s SinkFuncs) OnLog(event schema.LogLineEvent) {
	if s.Log != nil {
		s.Log(event)
	}
}

func (s SinkFuncs) OnStatus(event schema.StatusEvent) {
	if s.Status != nil {
		s.Status(event)
	}
}

func (s SinkFuncs) OnConnection(event schema.ConnectionEvent) {
	if s.Connection != nil {
		s.Connection(event)
	}
}

func (s SinkFuncs) OnExpired(event schema.ExpiredEvent) {
	if s.Expired != nil {
		s.Expired(event)
	}
}

func (s SinkFuncs) OnTaskStop(event schema.TaskStopEvent) {
	if s.TaskStop != nil {
		s.TaskStop(event)
	}
}

func (s SinkFuncs) OnClose(event schema.CloseEvent) {
	if s.Close != nil {
		s.Close(event)
	}
}
