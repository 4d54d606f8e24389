package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"pkt.systems/taskwatch/internal/logx"
	"pkt.systems/taskwatch/internal/sse"
	"pkt.systems/taskwatch/schema"
)

// TaskService is the task backend behind the HTTP API.
type TaskService interface {
	Create(ctx context.Context, req schema.CreateTaskRequest) (schema.TaskSummary, error)
	Stop(taskID schema.TaskID) (schema.StopTaskResponse, error)
	Get(taskID schema.TaskID) (schema.TaskSummary, bool)
	List() []schema.TaskSummary
}

// Server serves the task API and log streams.
type Server struct {
	cfg     Config
	service TaskService
	hub     *Hub
}

// NewServer constructs an HTTP server.
func NewServer(cfg Config, service TaskService, hub *Hub) *Server {
	return &Server{
		cfg:     cfg,
		service: service,
		hub:     hub,
	}
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("GET /api/tasks/{id}/stream", s.handleStream)
	mux.HandleFunc("POST /api/tasks/{id}/stop", s.handleStop)
	return withRequestLogging(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, schema.ListTasksResponse{Tasks: s.service.List()})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req schema.CreateTaskRequest
	if err := decodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", schema.ErrInvalidRequest, err))
		return
	}
	summary, err := s.service.Create(r.Context(), req)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := s.pathTask(w, r)
	if !ok {
		return
	}
	summary, found := s.service.Get(taskID)
	if !found {
		writeError(w, http.StatusNotFound, schema.ErrTaskNotFound)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	taskID, ok := s.pathTask(w, r)
	if !ok {
		return
	}
	res, err := s.service.Stop(taskID)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	taskID, ok := s.pathTask(w, r)
	if !ok {
		return
	}
	if _, found := s.service.Get(taskID); !found {
		writeError(w, http.StatusNotFound, schema.ErrTaskNotFound)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	log := logx.WithTask(r.Context(), taskID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	lastID := parseUint(r.Header.Get("Last-Event-ID"))
	ch, unsubscribe, history := s.hub.Subscribe(taskID, lastID)
	defer unsubscribe()

	if s.cfg.Retry > 0 {
		_ = sse.WriteRetry(w, s.cfg.Retry)
	}
	for _, event := range history {
		if err := writeStreamEvent(w, event); err != nil {
			log.Debug("http stream write failed", "err", err)
			return
		}
	}
	flusher.Flush()

	var heartbeat <-chan time.Time
	if s.cfg.Heartbeat > 0 {
		ticker := time.NewTicker(s.cfg.Heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	notify := r.Context().Done()
	log.Info("http stream opened", "last_id", lastID, "replay", len(history))
	for {
		select {
		case <-notify:
			log.Info("http stream closed", "reason", "client")
			return
		case event, ok := <-ch:
			if !ok {
				log.Info("http stream closed", "reason", "task finished")
				return
			}
			if err := writeStreamEvent(w, event); err != nil {
				log.Debug("http stream write failed", "err", err)
				return
			}
			flusher.Flush()
		case <-heartbeat:
			_ = writeStreamEvent(w, StreamEvent{Event: schema.LogEvent{Type: schema.EventHeartbeat}})
			flusher.Flush()
		}
	}
}

func (s *Server) pathTask(w http.ResponseWriter, r *http.Request) (schema.TaskID, bool) {
	taskID, err := schema.NormalizeTaskID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return "", false
	}
	return taskID, true
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, schema.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, schema.ErrInvalidRequest), errors.Is(err, schema.ErrInvalidTask):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, schema.ErrorResponse{Error: err.Error()})
}

func writeStreamEvent(w io.Writer, event StreamEvent) error {
	data, err := json.Marshal(event.Event)
	if err != nil {
		return err
	}
	frame := sse.Frame{Data: data}
	if event.Seq > 0 {
		frame.ID = strconv.FormatUint(event.Seq, 10)
	}
	return sse.Write(w, frame)
}

func parseUint(value string) uint64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}
