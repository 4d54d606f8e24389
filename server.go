package taskwatch

import (
	"context"
	"errors"
	"net"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/taskwatch/httpapi"
	"pkt.systems/taskwatch/internal/taskrunner"
)

// Server composes the mock task backend: the HTTP API, the stream hub and the
// scripted task runner.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
	// Addr returns the listen address once started.
	Addr() string
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	HTTP       httpapi.Config
	HubHistory int
	Runner     taskrunner.Config
}

// ServerOption toggles compositor components.
type ServerOption func(*serverOptions)

type serverOptions struct {
	enableScheduler bool
	listener        net.Listener
	logger          pslog.Logger
}

// WithScheduler runs the ambient scheduler channel.
func WithScheduler() ServerOption {
	return func(o *serverOptions) { o.enableScheduler = true }
}

// WithListener serves on an existing listener instead of HTTP.Addr.
func WithListener(listener net.Listener) ServerOption {
	return func(o *serverOptions) { o.listener = listener }
}

// WithLogger sets the logger used by the runner.
func WithLogger(logger pslog.Logger) ServerOption {
	return func(o *serverOptions) { o.logger = logger }
}

// New constructs a mock task backend.
func New(cfg ServerConfig, opts ...ServerOption) (Server, error) {
	options := serverOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.listener == nil && cfg.HTTP.Addr == "" {
		return nil, errors.New("http address is required")
	}
	hub := httpapi.NewHub(cfg.HubHistory)
	runner, err := taskrunner.New(cfg.Runner, hub, options.logger)
	if err != nil {
		return nil, err
	}
	return &compositeServer{
		cfg:      cfg,
		options:  options,
		hub:      hub,
		runner:   runner,
		httpSrv:  httpapi.NewServer(cfg.HTTP, runner, hub),
		listener: options.listener,
	}, nil
}

type compositeServer struct {
	cfg     ServerConfig
	options serverOptions
	hub     *httpapi.Hub
	runner  *taskrunner.Runner
	httpSrv *httpapi.Server

	mu       sync.Mutex
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	errCh    chan error
	done     chan struct{}
	started  bool
	logger   pslog.Logger
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	if s.listener == nil {
		listener, err := net.Listen("tcp", s.cfg.HTTP.Addr)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.listener = listener
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.errCh = make(chan error, 1)
	s.done = make(chan struct{})
	s.started = true
	s.logger = pslog.Ctx(s.ctx)
	listener := s.listener
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"http_addr", listener.Addr().String(),
		"scheduler", s.options.enableScheduler,
		"heartbeat_ms", s.cfg.HTTP.Heartbeat.Milliseconds(),
	)
	if s.options.enableScheduler {
		s.runner.StartScheduler(s.ctx)
	}
	go func() {
		defer close(s.done)
		if err := httpapi.Serve(s.ctx, listener, s.httpSrv.Handler()); err != nil {
			log.Error("http server failed", "err", err)
			s.errCh <- err
		}
	}()
	return nil
}

func (s *compositeServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.cfg.HTTP.Addr
	}
	return s.listener.Addr().String()
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			pslog.Ctx(ctx).Error("server stopped", "err", err)
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	done := s.done
	log := s.logger
	s.mu.Unlock()
	if !started {
		return nil
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	log.Info("server stop requested")
	s.runner.Close()
	if cancel != nil {
		cancel()
	}
	if ctx == nil {
		log.Info("server stop completed")
		return nil
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-done:
		log.Info("server stopped")
		return nil
	}
}
