package core

import (
	"fmt"

	"github.com/tidwall/gjson"

	"pkt.systems/taskwatch/schema"
)

// decodeLogEvent parses a frame payload into a LogEvent. Frames with invalid
// JSON, an unknown type, or a missing required field are rejected with
// schema.ErrMalformedFrame.
func decodeLogEvent(data []byte) (schema.LogEvent, error) {
	if !gjson.ValidBytes(data) {
		return schema.LogEvent{}, fmt.Errorf("%w: invalid json", schema.ErrMalformedFrame)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return schema.LogEvent{}, fmt.Errorf("%w: payload is not an object", schema.ErrMalformedFrame)
	}
	kind := root.Get("type")
	if kind.Type != gjson.String {
		return schema.LogEvent{}, fmt.Errorf("%w: missing type", schema.ErrMalformedFrame)
	}
	switch schema.EventType(kind.Str) {
	case schema.EventLog:
		message := root.Get("message")
		if message.Type != gjson.String {
			return schema.LogEvent{}, fmt.Errorf("%w: log without message", schema.ErrMalformedFrame)
		}
		return schema.LogEvent{Type: schema.EventLog, Message: message.Str}, nil
	case schema.EventStatus:
		status := root.Get("status")
		if status.Type != gjson.String || status.Str == "" {
			return schema.LogEvent{}, fmt.Errorf("%w: status without value", schema.ErrMalformedFrame)
		}
		return schema.LogEvent{Type: schema.EventStatus, Status: schema.TaskStatus(status.Str)}, nil
	case schema.EventHeartbeat:
		return schema.LogEvent{Type: schema.EventHeartbeat}, nil
	default:
		return schema.LogEvent{}, fmt.Errorf("%w: unknown type %q", schema.ErrMalformedFrame, kind.Str)
	}
}
