package schema

import (
	"errors"
	"time"
)

// ViewerConfig defines the stream and reconnect behavior of a viewer.
type ViewerConfig struct {
	// SchedulerTaskID is the sentinel id of the ambient scheduler channel.
	SchedulerTaskID TaskID
	// MaxLogLines caps the log buffer. Zero keeps every line.
	MaxLogLines int
	// ReconnectInitial is the first reconnect delay after a transport error.
	ReconnectInitial time.Duration
	// ReconnectMax caps the reconnect delay.
	ReconnectMax time.Duration
	// ExpiryMarkers are phrases that raise the one-shot expired notification.
	ExpiryMarkers []string
}

// Reconnect defaults.
const (
	DefaultReconnectInitial = 500 * time.Millisecond
	DefaultReconnectMax     = 30 * time.Second
)

// DefaultExpiryMarkers lists the membership-expiry phrases recognized by default.
var DefaultExpiryMarkers = []string{"会员已过期", "会员过期", "membership expired"}

// NormalizeViewerConfig applies defaults and validates the config.
func NormalizeViewerConfig(cfg ViewerConfig) (ViewerConfig, error) {
	if cfg.SchedulerTaskID == "" {
		cfg.SchedulerTaskID = DefaultSchedulerTaskID
	}
	if cfg.MaxLogLines < 0 {
		return ViewerConfig{}, errors.New("max log lines must be >= 0")
	}
	if cfg.ReconnectInitial <= 0 {
		cfg.ReconnectInitial = DefaultReconnectInitial
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = DefaultReconnectMax
	}
	if cfg.ReconnectMax < cfg.ReconnectInitial {
		cfg.ReconnectMax = cfg.ReconnectInitial
	}
	if cfg.ExpiryMarkers == nil {
		cfg.ExpiryMarkers = append([]string(nil), DefaultExpiryMarkers...)
	}
	return cfg, nil
}
