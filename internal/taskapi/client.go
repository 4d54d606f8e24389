// Package taskapi talks to a task backend over HTTP: it opens log streams and
// issues stop, list and create calls.
package taskapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/taskwatch/core"
	"pkt.systems/taskwatch/internal/sse"
	"pkt.systems/taskwatch/schema"
)

// Client implements core.StreamDialer and core.TaskStopper against a task backend.
type Client struct {
	baseURL string
	client  *http.Client
	stream  *http.Client
	log     pslog.Logger
}

// New constructs a client for the given base URL. timeout bounds unary calls;
// streams are only bounded by their context.
func New(baseURL string, timeout time.Duration, logger pslog.Logger) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Client{
		baseURL: trimmed,
		client:  &http.Client{Timeout: timeout},
		stream:  &http.Client{},
		log:     logger.With("api", trimmed),
	}, nil
}

// OpenStream opens the log stream of taskID. lastEventID is sent as
// Last-Event-ID so the backend can resume after it.
func (c *Client) OpenStream(ctx context.Context, taskID schema.TaskID, lastEventID string) (core.Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.taskURL(taskID, "stream"), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %w", schema.ErrStreamStatus, decodeHTTPError(resp.StatusCode, body))
	}
	if mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err != nil || mediaType != "text/event-stream" {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: content type %q", schema.ErrStreamStatus, resp.Header.Get("Content-Type"))
	}
	c.log.Debug("taskapi stream open", "task", taskID, "last_event_id", lastEventID)
	return &httpStream{body: resp.Body, reader: sse.NewReader(resp.Body)}, nil
}

// StopTask sends the stop command for taskID.
func (c *Client) StopTask(ctx context.Context, taskID schema.TaskID) (schema.StopTaskResponse, error) {
	body, status, err := c.do(ctx, http.MethodPost, c.taskURL(taskID, "stop"), nil)
	if err != nil {
		return schema.StopTaskResponse{}, err
	}
	if status < 200 || status > 299 {
		return schema.StopTaskResponse{}, decodeHTTPError(status, body)
	}
	res := schema.StopTaskResponse{TaskID: taskID, Status: schema.StatusStopping}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &res); err != nil {
			return schema.StopTaskResponse{}, err
		}
	}
	c.log.Info("taskapi stop sent", "task", taskID, "status", res.Status)
	return res, nil
}

// ListTasks returns the tasks known to the backend.
func (c *Client) ListTasks(ctx context.Context) ([]schema.TaskSummary, error) {
	body, status, err := c.do(ctx, http.MethodGet, c.baseURL+"/api/tasks", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, decodeHTTPError(status, body)
	}
	var res schema.ListTasksResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, err
	}
	return res.Tasks, nil
}

// CreateTask starts a new task.
func (c *Client) CreateTask(ctx context.Context, req schema.CreateTaskRequest) (schema.TaskSummary, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return schema.TaskSummary{}, err
	}
	body, status, err := c.do(ctx, http.MethodPost, c.baseURL+"/api/tasks", payload)
	if err != nil {
		return schema.TaskSummary{}, err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return schema.TaskSummary{}, decodeHTTPError(status, body)
	}
	var res schema.TaskSummary
	if err := json.Unmarshal(body, &res); err != nil {
		return schema.TaskSummary{}, err
	}
	return res, nil
}

func (c *Client) taskURL(taskID schema.TaskID, action string) string {
	return c.baseURL + "/api/tasks/" + url.PathEscape(string(taskID)) + "/" + action
}

func (c *Client) do(ctx context.Context, method, target string, payload []byte) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func decodeHTTPError(status int, body []byte) error {
	var base error
	if status == http.StatusNotFound {
		base = schema.ErrTaskNotFound
	}
	var resp schema.ErrorResponse
	if err := json.Unmarshal(body, &resp); err == nil && resp.Error != "" {
		if base != nil {
			return fmt.Errorf("http %d: %s: %w", status, resp.Error, base)
		}
		return fmt.Errorf("http %d: %s", status, resp.Error)
	}
	if base != nil {
		return fmt.Errorf("http %d: %w", status, base)
	}
	return fmt.Errorf("http %d", status)
}

type httpStream struct {
	body      io.ReadCloser
	reader    *sse.Reader
	closeOnce sync.Once
	closeErr  error
}

func (s *httpStream) Next(ctx context.Context) (sse.Frame, error) {
	frame, err := s.reader.Next(ctx)
	if err != nil && !errors.Is(err, io.EOF) && ctx.Err() != nil {
		return sse.Frame{}, ctx.Err()
	}
	return frame, err
}

func (s *httpStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
		s.reader.Close()
	})
	return s.closeErr
}
