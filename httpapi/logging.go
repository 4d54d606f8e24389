package httpapi

import (
	"net/http"
	"strings"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/taskwatch/internal/logx"
	"pkt.systems/taskwatch/schema"
)

const tasksPrefix = "/api/tasks/"

// statusWriter records the response status and size. It forwards Flush so
// event streams keep working behind the middleware.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// withRequestLogging puts a request-scoped logger on the context, tagged with
// the task id for task routes, and logs each request when it completes.
func withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()
		logger := pslog.Ctx(ctx).With("remote", remoteAddr(r))
		taskID, action := taskRoute(r.URL.Path)
		if taskID != "" {
			logger = logger.With("task", taskID)
			ctx = logx.ContextWithTask(ctx, taskID)
		}
		ctx = pslog.ContextWithLogger(ctx, logger)

		rec := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(ctx))

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		fields := []any{"method", r.Method, "path", r.URL.Path, "status", status, "bytes", rec.bytes, "duration_ms", time.Since(start).Milliseconds()}
		switch {
		case status >= http.StatusInternalServerError:
			logger.Warn("http request", fields...)
		case action == "stream":
			logger.Info("http stream done", append(fields, "last_event_id", r.Header.Get("Last-Event-ID"))...)
		default:
			logger.Info("http request", fields...)
		}
	})
}

// taskRoute extracts the task id and trailing action from /api/tasks/{id}[/action].
func taskRoute(path string) (schema.TaskID, string) {
	rest, ok := strings.CutPrefix(path, tasksPrefix)
	if !ok || rest == "" {
		return "", ""
	}
	id, action, _ := strings.Cut(rest, "/")
	taskID, err := schema.NormalizeTaskID(id)
	if err != nil {
		return "", ""
	}
	return taskID, action
}

func remoteAddr(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	return r.RemoteAddr
}
