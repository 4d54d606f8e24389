// Package format renders viewer events as plain text lines for non-interactive
// output.
package format

import (
	"fmt"
	"strings"

	"pkt.systems/taskwatch/internal/eventbus"
	"pkt.systems/taskwatch/internal/logclass"
)

// PlainRenderer formats events as plain text lines.
type PlainRenderer struct {
	classifier *logclass.Classifier
}

// NewPlainRenderer returns a plain-text renderer. A nil classifier uses the
// default rule table.
func NewPlainRenderer(classifier *logclass.Classifier) *PlainRenderer {
	if classifier == nil {
		classifier = logclass.New(nil)
	}
	return &PlainRenderer{classifier: classifier}
}

// FormatEvent converts a viewer event into user-facing lines.
func (p *PlainRenderer) FormatEvent(event eventbus.Event) []string {
	switch event.Type {
	case eventbus.EventLog:
		return p.formatLog(event.Log.Line)
	case eventbus.EventStatus:
		if event.Status.Previous == "" {
			return []string{fmt.Sprintf("status: %s", event.Status.Status)}
		}
		return []string{fmt.Sprintf("status: %s -> %s", event.Status.Previous, event.Status.Status)}
	case eventbus.EventExpired:
		return []string{fmt.Sprintf("expired: %s", event.Expired.Message)}
	case eventbus.EventConnection:
		if event.Connection.Connected || event.Connection.Err == nil {
			return nil
		}
		return []string{fmt.Sprintf("disconnected: %v", event.Connection.Err)}
	case eventbus.EventTaskStop:
		return []string{fmt.Sprintf("task stopped: %s (%s)", event.TaskStop.Status, event.TaskStop.Reason)}
	default:
		return nil
	}
}

func (p *PlainRenderer) formatLog(line string) []string {
	entry := p.classifier.Classify(line)
	parts := splitLines(entry.Text)
	if len(parts) == 0 {
		parts = []string{""}
	}
	out := make([]string, 0, len(parts))
	prefix := fmt.Sprintf("[%s] %-8s ", entry.Time, entry.Category)
	for i, part := range parts {
		if i > 0 {
			prefix = strings.Repeat(" ", len(prefix))
		}
		out = append(out, prefix+part)
	}
	return out
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(strings.TrimRight(text, "\n"), "\n")
}
