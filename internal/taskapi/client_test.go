package taskapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkt.systems/taskwatch/internal/sse"
	"pkt.systems/taskwatch/schema"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := New(srv.URL+"/", 2*time.Second, nil)
	require.NoError(t, err)
	return client
}

func TestOpenStreamReadsFrames(t *testing.T) {
	var gotLastID string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tasks/task-42/stream", r.URL.Path)
		gotLastID = r.Header.Get("Last-Event-ID")
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		_ = sse.WriteComment(w, "hello")
		_ = sse.Write(w, sse.Frame{ID: "4", Data: []byte(`{"type":"log","message":"hi"}`)})
		_ = sse.Write(w, sse.Frame{ID: "5", Data: []byte(`{"type":"status","status":"completed"}`)})
	}))

	stream, err := client.OpenStream(context.Background(), "task-42", "3")
	require.NoError(t, err)
	defer stream.Close()
	require.Equal(t, "3", gotLastID)

	frame, err := stream.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "4", frame.ID)
	require.JSONEq(t, `{"type":"log","message":"hi"}`, string(frame.Data))

	frame, err = stream.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "5", frame.ID)

	_, err = stream.Next(context.Background())
	require.ErrorIs(t, err, io.EOF)
	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
}

func TestOpenStreamNotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(schema.ErrorResponse{Error: "task not found"})
	}))
	_, err := client.OpenStream(context.Background(), "missing", "")
	require.ErrorIs(t, err, schema.ErrStreamStatus)
	require.ErrorIs(t, err, schema.ErrTaskNotFound)
}

func TestOpenStreamRejectsWrongContentType(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<html></html>")
	}))
	_, err := client.OpenStream(context.Background(), "task-1", "")
	require.ErrorIs(t, err, schema.ErrStreamStatus)
}

func TestStopTask(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/tasks/task-42/stop", r.URL.Path)
		_ = json.NewEncoder(w).Encode(schema.StopTaskResponse{TaskID: "task-42", Status: schema.StatusStopping})
	}))
	res, err := client.StopTask(context.Background(), "task-42")
	require.NoError(t, err)
	require.Equal(t, schema.StatusStopping, res.Status)
}

func TestStopTaskEmptyBody(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	res, err := client.StopTask(context.Background(), "task-42")
	require.NoError(t, err)
	require.Equal(t, schema.TaskID("task-42"), res.TaskID)
}

func TestStopTaskError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(schema.ErrorResponse{Error: "boom"})
	}))
	_, err := client.StopTask(context.Background(), "task-42")
	require.Error(t, err)
	require.Contains(t, err.Error(), "http 500: boom")
	require.False(t, errors.Is(err, schema.ErrTaskNotFound))
}

func TestCreateAndListTasks(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/tasks", func(w http.ResponseWriter, r *http.Request) {
		var req schema.CreateTaskRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(schema.TaskSummary{ID: "t1", Name: req.Name, Status: schema.StatusPending})
	})
	mux.HandleFunc("GET /api/tasks", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(schema.ListTasksResponse{Tasks: []schema.TaskSummary{{ID: "t1"}}})
	})
	client := newTestClient(t, mux)

	created, err := client.CreateTask(context.Background(), schema.CreateTaskRequest{Name: "crawl"})
	require.NoError(t, err)
	require.Equal(t, "crawl", created.Name)

	tasks, err := client.ListTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, schema.TaskID("t1"), tasks[0].ID)
}

func TestNewRejectsInvalidURL(t *testing.T) {
	_, err := New("localhost", time.Second, nil)
	require.Error(t, err)
}
