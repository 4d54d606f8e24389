// Package tui renders one task log stream in the terminal and maps keys to
// viewer commands.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"pkt.systems/taskwatch/internal/eventbus"
	"pkt.systems/taskwatch/internal/logclass"
	"pkt.systems/taskwatch/schema"
)

// Controller is the viewer surface driven by the UI.
type Controller interface {
	RequestStop(ctx context.Context, taskID schema.TaskID) error
	Dismiss() error
	Snapshot() schema.ViewerSnapshot
}

const (
	defaultWidth  = 80
	defaultHeight = 20
	// chrome is the number of rows used outside the log viewport.
	chrome = 5
)

// Model is the Bubble Tea model for one observed task.
type Model struct {
	ctx        context.Context
	controller Controller
	events     <-chan eventbus.Event
	finished   <-chan struct{}
	classifier *logclass.Classifier
	styles     styles

	taskID    schema.TaskID
	status    schema.TaskStatus
	connected bool
	terminal  bool
	expired   string
	stopErr   error
	stopping  bool
	lines     []string

	viewport viewport.Model
	width    int
	height   int
	quitting bool
}

var _ tea.Model = (*Model)(nil)

type (
	eventMsg    struct{ Event eventbus.Event }
	eventsDone  struct{}
	finishedMsg struct{}
	stopDoneMsg struct{ Err error }
)

// New constructs a model fed by events from an eventbus subscription.
func New(ctx context.Context, controller Controller, events <-chan eventbus.Event, classifier *logclass.Classifier) *Model {
	if ctx == nil {
		ctx = context.Background()
	}
	if classifier == nil {
		classifier = logclass.New(nil)
	}
	snap := controller.Snapshot()
	vp := viewport.New(defaultWidth, defaultHeight)
	vp.Style = defaultStyles.Box
	m := &Model{
		ctx:        ctx,
		controller: controller,
		events:     events,
		classifier: classifier,
		styles:     defaultStyles,
		taskID:     snap.TaskID,
		status:     snap.Status,
		connected:  snap.Connected,
		terminal:   snap.Terminal,
		viewport:   vp,
		width:      defaultWidth,
		height:     defaultHeight + chrome,
	}
	m.refreshContent()
	return m
}

// WithFinished makes the model resync its header from the controller snapshot
// once finished is closed, so the final status shows even if the event
// channel lags behind.
func (m *Model) WithFinished(finished <-chan struct{}) *Model {
	m.finished = finished
	return m
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	if m.finished == nil {
		return waitForEvent(m.events)
	}
	return tea.Batch(waitForEvent(m.events), waitForFinished(m.finished))
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		if quit := m.apply(msg.Event); quit {
			m.quitting = true
			return m, tea.Quit
		}
		return m, waitForEvent(m.events)
	case eventsDone:
		return m, nil
	case finishedMsg:
		m.syncSnapshot()
		return m, nil
	case stopDoneMsg:
		m.stopping = false
		m.stopErr = msg.Err
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "s":
			if m.taskID == "" || m.terminal || m.stopping {
				return m, nil
			}
			m.stopping = true
			m.stopErr = nil
			return m, m.stopCmd()
		case "q", "esc", "ctrl+c":
			_ = m.controller.Dismiss()
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		w := msg.Width - 2
		h := msg.Height - chrome
		if w < 20 {
			w = 20
		}
		if h < 3 {
			h = 3
		}
		m.viewport.Width = w
		m.viewport.Height = h
		m.refreshContent()
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(m.header())
	b.WriteString("\n")
	if m.expired != "" {
		b.WriteString(m.styles.Banner.Render("会员已过期: " + m.expired))
		b.WriteString("\n")
	}
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.footer())
	return b.String()
}

// Status returns the displayed status.
func (m *Model) Status() schema.TaskStatus {
	return m.status
}

// Lines returns the raw log lines received so far.
func (m *Model) Lines() []string {
	return append([]string(nil), m.lines...)
}

func (m *Model) apply(event eventbus.Event) bool {
	switch event.Type {
	case eventbus.EventLog:
		m.lines = append(m.lines, event.Log.Line)
		m.refreshContent()
	case eventbus.EventStatus:
		m.status = event.Status.Status
		m.terminal = event.Status.Terminal
	case eventbus.EventConnection:
		m.connected = event.Connection.Connected
	case eventbus.EventExpired:
		m.expired = event.Expired.Message
	case eventbus.EventTaskStop:
		m.terminal = m.terminal || event.TaskStop.Reason == schema.StopReasonTerminal
	case eventbus.EventClose:
		return true
	}
	return false
}

func (m *Model) syncSnapshot() {
	snap := m.controller.Snapshot()
	if snap.TaskID != m.taskID {
		return
	}
	m.status = snap.Status
	m.terminal = snap.Terminal
	m.connected = snap.Connected
}

func (m *Model) header() string {
	task := string(m.taskID)
	if task == "" {
		task = "(no task)"
	}
	conn := m.styles.Offline.Render("● offline")
	if m.connected {
		conn = m.styles.Online.Render("● live")
	}
	return fmt.Sprintf("%s %s  %s  %s",
		m.styles.Title.Render("taskwatch"),
		m.styles.Muted.Render(task),
		statusBadge(m.status),
		conn,
	)
}

func (m *Model) footer() string {
	if m.stopErr != nil {
		return m.styles.Error.Render("stop failed: " + m.stopErr.Error())
	}
	if m.stopping {
		return m.styles.Hint.Render("stopping...  q: close")
	}
	if m.terminal || m.taskID == "" {
		return m.styles.Hint.Render("q: close")
	}
	return m.styles.Hint.Render("s: stop  q: close  ↑/↓: scroll")
}

func (m *Model) refreshContent() {
	if len(m.lines) == 0 {
		m.viewport.SetContent(m.styles.Muted.Italic(true).Render("Waiting for log output..."))
		return
	}
	rendered := make([]string, 0, len(m.lines))
	for _, line := range m.lines {
		rendered = append(rendered, m.renderLine(line))
	}
	m.viewport.SetContent(strings.Join(rendered, "\n"))
	m.viewport.GotoBottom()
}

func (m *Model) renderLine(line string) string {
	entry := m.classifier.Classify(line)
	return m.styles.Stamp.Render("["+entry.Time+"]") + " " + categoryStyle(entry.Category).Render(entry.Text)
}

func (m *Model) stopCmd() tea.Cmd {
	ctx := m.ctx
	taskID := m.taskID
	controller := m.controller
	return func() tea.Msg {
		return stopDoneMsg{Err: controller.RequestStop(ctx, taskID)}
	}
}

func waitForEvent(events <-chan eventbus.Event) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		event, ok := <-events
		if !ok {
			return eventsDone{}
		}
		return eventMsg{Event: event}
	}
}

func waitForFinished(finished <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-finished
		return finishedMsg{}
	}
}

// Run starts a full-screen program and blocks until the user closes it or ctx
// ends.
func Run(ctx context.Context, model *Model) error {
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
