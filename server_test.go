package taskwatch

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pkt.systems/taskwatch/core"
	"pkt.systems/taskwatch/httpapi"
	"pkt.systems/taskwatch/internal/taskapi"
	"pkt.systems/taskwatch/internal/taskrunner"
	"pkt.systems/taskwatch/schema"
)

type backend struct {
	server Server
	client *taskapi.Client
}

func startBackend(t *testing.T, runner taskrunner.Config, opts ...ServerOption) *backend {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	opts = append(opts, WithListener(listener))
	server, err := New(ServerConfig{
		HTTP:       httpapi.Config{Heartbeat: 50 * time.Millisecond, Retry: 20 * time.Millisecond},
		HubHistory: 256,
		Runner:     runner,
	}, opts...)
	require.NoError(t, err)
	require.NoError(t, server.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	})
	client, err := taskapi.New("http://"+server.Addr(), 2*time.Second, nil)
	require.NoError(t, err)
	return &backend{server: server, client: client}
}

type stopRecorder struct {
	mu    sync.Mutex
	stops []schema.TaskStopEvent
	lines []string
}

func (r *stopRecorder) sink() core.EventSink {
	return core.SinkFuncs{
		Log: func(event schema.LogLineEvent) {
			r.mu.Lock()
			r.lines = append(r.lines, event.Line)
			r.mu.Unlock()
		},
		TaskStop: func(event schema.TaskStopEvent) {
			r.mu.Lock()
			r.stops = append(r.stops, event)
			r.mu.Unlock()
		},
	}
}

func (r *stopRecorder) stopCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stops)
}

func newClientViewer(t *testing.T, b *backend, sink core.EventSink) *core.Viewer {
	t.Helper()
	viewer, err := core.NewViewer(schema.ViewerConfig{
		ReconnectInitial: 10 * time.Millisecond,
		ReconnectMax:     50 * time.Millisecond,
	}, core.ViewerDeps{Dialer: b.client, Stopper: b.client, Sink: sink})
	require.NoError(t, err)
	t.Cleanup(func() { _ = viewer.Close() })
	return viewer
}

func TestServerStreamsTaskToCompletion(t *testing.T) {
	b := startBackend(t, taskrunner.Config{StepDelay: 10 * time.Millisecond, DefaultSteps: 2})
	ctx := context.Background()

	summary, err := b.client.CreateTask(ctx, schema.CreateTaskRequest{Name: "tech"})
	require.NoError(t, err)
	require.NotEmpty(t, summary.ID)

	rec := &stopRecorder{}
	viewer := newClientViewer(t, b, rec.sink())
	require.NoError(t, viewer.Subscribe(ctx, summary.ID))

	require.Eventually(t, func() bool {
		return viewer.Snapshot().Status == schema.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return rec.stopCount() == 1 }, time.Second, 10*time.Millisecond)

	snap := viewer.Snapshot()
	require.True(t, snap.Terminal)
	require.NotEmpty(t, snap.Lines)
	require.Contains(t, snap.Lines[len(snap.Lines)-1], "✅ 完成")
	require.Equal(t, schema.StopReasonTerminal, rec.stops[0].Reason)

	tasks, err := b.client.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, schema.StatusCompleted, tasks[0].Status)
}

func TestServerStopRequestEndsTask(t *testing.T) {
	b := startBackend(t, taskrunner.Config{StepDelay: 100 * time.Millisecond, DefaultSteps: 100})
	ctx := context.Background()

	summary, err := b.client.CreateTask(ctx, schema.CreateTaskRequest{})
	require.NoError(t, err)

	rec := &stopRecorder{}
	viewer := newClientViewer(t, b, rec.sink())
	require.NoError(t, viewer.Subscribe(ctx, summary.ID))
	require.Eventually(t, func() bool {
		return viewer.Snapshot().Status == schema.StatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, viewer.RequestStop(ctx, summary.ID))
	require.Eventually(t, func() bool {
		return viewer.Snapshot().Status == schema.StatusStopped
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return rec.stopCount() == 1 }, time.Second, 10*time.Millisecond)
	require.Never(t, func() bool { return rec.stopCount() > 1 }, 100*time.Millisecond, 10*time.Millisecond)

	joined := strings.Join(viewer.Snapshot().Lines, "\n")
	require.Contains(t, joined, "收到停止请求")
	require.Contains(t, joined, "任务已停止")
}

func TestServerSchedulerIsNotTerminalBetweenRuns(t *testing.T) {
	b := startBackend(t, taskrunner.Config{StepDelay: 5 * time.Millisecond, SchedulerInterval: time.Hour}, WithScheduler())
	ctx := context.Background()

	viewer := newClientViewer(t, b, nil)
	require.NoError(t, viewer.Subscribe(ctx, schema.DefaultSchedulerTaskID))
	require.Eventually(t, func() bool {
		return viewer.Snapshot().Status == schema.StatusCancelled
	}, 5*time.Second, 10*time.Millisecond)

	snap := viewer.Snapshot()
	require.False(t, snap.Terminal)
	require.Equal(t, schema.ChannelScheduler, snap.Channel.Kind)
}

func TestServerStopCancelsContext(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server, err := New(ServerConfig{}, WithListener(listener), WithScheduler())
	require.NoError(t, err)
	require.NoError(t, server.Start(context.Background()))
	require.Error(t, server.Start(context.Background()))

	waitErr := make(chan error, 1)
	go func() { waitErr <- server.Wait() }()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Stop(stopCtx))

	select {
	case err := <-waitErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after Stop")
	}
}

func TestNewRequiresAddress(t *testing.T) {
	_, err := New(ServerConfig{})
	require.Error(t, err)
}
