package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/taskwatch/schema"
)

type fakeService struct {
	mu      sync.Mutex
	tasks   map[schema.TaskID]schema.TaskSummary
	stopped []schema.TaskID
}

func newFakeService(ids ...schema.TaskID) *fakeService {
	svc := &fakeService{tasks: make(map[schema.TaskID]schema.TaskSummary)}
	for _, id := range ids {
		svc.tasks[id] = schema.TaskSummary{ID: id, Status: schema.StatusRunning}
	}
	return svc
}

func (f *fakeService) Create(_ context.Context, req schema.CreateTaskRequest) (schema.TaskSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.Steps < 0 {
		return schema.TaskSummary{}, schema.ErrInvalidRequest
	}
	summary := schema.TaskSummary{ID: "created", Name: req.Name, Status: schema.StatusPending}
	f.tasks[summary.ID] = summary
	return summary, nil
}

func (f *fakeService) Stop(taskID schema.TaskID) (schema.StopTaskResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[taskID]; !ok {
		return schema.StopTaskResponse{}, schema.ErrTaskNotFound
	}
	f.stopped = append(f.stopped, taskID)
	return schema.StopTaskResponse{TaskID: taskID, Status: schema.StatusStopping}, nil
}

func (f *fakeService) Get(taskID schema.TaskID) (schema.TaskSummary, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	summary, ok := f.tasks[taskID]
	return summary, ok
}

func (f *fakeService) List() []schema.TaskSummary {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]schema.TaskSummary, 0, len(f.tasks))
	for _, summary := range f.tasks {
		out = append(out, summary)
	}
	return out
}

func TestStreamReplaysAndEndsOnFinish(t *testing.T) {
	hub := NewHub(100)
	svc := newFakeService("task-42")
	srv := httptest.NewServer(NewServer(Config{Retry: time.Second}, svc, hub).Handler())
	defer srv.Close()

	hub.PublishLog("task-42", "first")
	hub.PublishStatus("task-42", schema.StatusRunning)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/tasks/task-42/stream", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Last-Event-ID", "1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	hub.PublishStatus("task-42", schema.StatusCompleted)
	hub.Finish("task-42")

	var ids, data []string
	retrySeen := false
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "retry: "):
			retrySeen = true
		case strings.HasPrefix(line, "id: "):
			ids = append(ids, strings.TrimPrefix(line, "id: "))
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: "))
		}
	}
	if !retrySeen {
		t.Fatalf("expected retry hint")
	}
	if len(ids) != 2 || ids[0] != "2" || ids[1] != "3" {
		t.Fatalf("unexpected ids: %v", ids)
	}
	var last schema.LogEvent
	if err := json.Unmarshal([]byte(data[len(data)-1]), &last); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if last.Type != schema.EventStatus || last.Status != schema.StatusCompleted {
		t.Fatalf("unexpected last event: %+v", last)
	}
}

func TestStreamUnknownTask(t *testing.T) {
	srv := httptest.NewServer(NewServer(Config{}, newFakeService(), NewHub(10)).Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/api/tasks/missing/stream")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	var body schema.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
		t.Fatalf("expected error body, got %+v (%v)", body, err)
	}
}

func TestStreamSendsHeartbeats(t *testing.T) {
	hub := NewHub(10)
	srv := httptest.NewServer(NewServer(Config{Heartbeat: 10 * time.Millisecond}, newFakeService("task-1"), hub).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/tasks/task-1/stream")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if strings.Contains(scanner.Text(), `"type":"heartbeat"`) {
			return
		}
	}
	t.Fatalf("expected heartbeat frame")
}

func TestStopEndpoint(t *testing.T) {
	svc := newFakeService("task-42")
	srv := httptest.NewServer(NewServer(Config{}, svc, NewHub(10)).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/tasks/task-42/stop", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var res schema.StopTaskResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Status != schema.StatusStopping {
		t.Fatalf("unexpected response: %+v", res)
	}

	missing, err := http.Post(srv.URL+"/api/tasks/nope/stop", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.StatusCode)
	}
}

func TestCreateAndListEndpoints(t *testing.T) {
	svc := newFakeService()
	srv := httptest.NewServer(NewServer(Config{}, svc, NewHub(10)).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/tasks", "application/json", strings.NewReader(`{"name":"crawl","steps":2}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	bad, err := http.Post(srv.URL+"/api/tasks", "application/json", strings.NewReader(`{"bogus":true}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", bad.StatusCode)
	}

	list, err := http.Get(srv.URL + "/api/tasks")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer list.Body.Close()
	var body schema.ListTasksResponse
	if err := json.NewDecoder(list.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Tasks) != 1 || body.Tasks[0].Name != "crawl" {
		t.Fatalf("unexpected tasks: %+v", body.Tasks)
	}
}
