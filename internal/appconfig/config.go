package appconfig

import (
	"os"
	"path/filepath"
	"time"

	"pkt.systems/taskwatch/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int          `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string       `mapstructure:"state_dir" yaml:"state_dir"`
	API           APIConfig    `mapstructure:"api" yaml:"api"`
	Stream        StreamConfig `mapstructure:"stream" yaml:"stream"`
	Mock          MockConfig   `mapstructure:"mock" yaml:"mock"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// APIConfig points the client at a task backend.
type APIConfig struct {
	BaseURL               string `mapstructure:"base_url" yaml:"base_url"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds" yaml:"request_timeout_seconds"`
}

// StreamConfig controls the log stream viewer.
type StreamConfig struct {
	SchedulerTaskID       string   `mapstructure:"scheduler_task_id" yaml:"scheduler_task_id"`
	ReconnectInitialMilli int      `mapstructure:"reconnect_initial_ms" yaml:"reconnect_initial_ms"`
	ReconnectMaxSeconds   int      `mapstructure:"reconnect_max_seconds" yaml:"reconnect_max_seconds"`
	MaxLogLines           int      `mapstructure:"max_log_lines" yaml:"max_log_lines"`
	ExpiryMarkers         []string `mapstructure:"expiry_markers" yaml:"expiry_markers"`
}

// MockConfig configures the scripted task backend.
type MockConfig struct {
	Addr                     string `mapstructure:"addr" yaml:"addr"`
	HeartbeatSeconds         int    `mapstructure:"heartbeat_seconds" yaml:"heartbeat_seconds"`
	HistoryLimit             int    `mapstructure:"history_limit" yaml:"history_limit"`
	StepDelayMillis          int    `mapstructure:"step_delay_ms" yaml:"step_delay_ms"`
	SchedulerIntervalSeconds int    `mapstructure:"scheduler_interval_seconds" yaml:"scheduler_interval_seconds"`
	RetryMillis              int    `mapstructure:"retry_ms" yaml:"retry_ms"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(home, ".taskwatch", "state"),
		API: APIConfig{
			BaseURL:               "http://127.0.0.1:27490",
			RequestTimeoutSeconds: 10,
		},
		Stream: StreamConfig{
			SchedulerTaskID:       string(schema.DefaultSchedulerTaskID),
			ReconnectInitialMilli: int(schema.DefaultReconnectInitial / time.Millisecond),
			ReconnectMaxSeconds:   int(schema.DefaultReconnectMax / time.Second),
			MaxLogLines:           0,
			ExpiryMarkers:         append([]string(nil), schema.DefaultExpiryMarkers...),
		},
		Mock: MockConfig{
			Addr:                     "127.0.0.1:27490",
			HeartbeatSeconds:         15,
			HistoryLimit:             2000,
			StepDelayMillis:          400,
			SchedulerIntervalSeconds: 30,
			RetryMillis:              1000,
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".taskwatch", "config.yaml"), nil
}

// ViewerConfig converts the stream section into viewer settings.
func (c Config) ViewerConfig() schema.ViewerConfig {
	return schema.ViewerConfig{
		SchedulerTaskID:  schema.TaskID(c.Stream.SchedulerTaskID),
		MaxLogLines:      c.Stream.MaxLogLines,
		ReconnectInitial: time.Duration(c.Stream.ReconnectInitialMilli) * time.Millisecond,
		ReconnectMax:     time.Duration(c.Stream.ReconnectMaxSeconds) * time.Second,
		ExpiryMarkers:    c.Stream.ExpiryMarkers,
	}
}

// RequestTimeout returns the API request timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.API.RequestTimeoutSeconds) * time.Second
}

// TranscriptDir returns where watch transcripts are saved.
func (c Config) TranscriptDir() string {
	return filepath.Join(c.StateDir, "transcripts")
}
