package appconfig

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
// A missing file yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TASKWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("api.base_url", cfg.API.BaseURL)
	v.SetDefault("api.request_timeout_seconds", cfg.API.RequestTimeoutSeconds)
	v.SetDefault("stream.scheduler_task_id", cfg.Stream.SchedulerTaskID)
	v.SetDefault("stream.reconnect_initial_ms", cfg.Stream.ReconnectInitialMilli)
	v.SetDefault("stream.reconnect_max_seconds", cfg.Stream.ReconnectMaxSeconds)
	v.SetDefault("stream.max_log_lines", cfg.Stream.MaxLogLines)
	v.SetDefault("stream.expiry_markers", cfg.Stream.ExpiryMarkers)
	v.SetDefault("mock.addr", cfg.Mock.Addr)
	v.SetDefault("mock.heartbeat_seconds", cfg.Mock.HeartbeatSeconds)
	v.SetDefault("mock.history_limit", cfg.Mock.HistoryLimit)
	v.SetDefault("mock.step_delay_ms", cfg.Mock.StepDelayMillis)
	v.SetDefault("mock.scheduler_interval_seconds", cfg.Mock.SchedulerIntervalSeconds)
	v.SetDefault("mock.retry_ms", cfg.Mock.RetryMillis)

	if err := v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return Config{}, err
		}
	} else {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func isNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	// SetConfigFile reports a missing explicit path as a plain fs error.
	return os.IsNotExist(err)
}

func validate(cfg Config) error {
	baseURL := strings.TrimSpace(cfg.API.BaseURL)
	if baseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("api.base_url must include scheme and host (e.g. http://127.0.0.1:27490)")
	}
	if cfg.API.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("api.request_timeout_seconds must be >= 0")
	}
	if cfg.Stream.MaxLogLines < 0 {
		return fmt.Errorf("stream.max_log_lines must be >= 0")
	}
	if cfg.Stream.ReconnectInitialMilli < 0 || cfg.Stream.ReconnectMaxSeconds < 0 {
		return fmt.Errorf("stream reconnect intervals must be >= 0")
	}
	if strings.TrimSpace(cfg.Stream.SchedulerTaskID) == "" {
		return fmt.Errorf("stream.scheduler_task_id is required")
	}
	if cfg.Mock.HeartbeatSeconds < 0 || cfg.Mock.StepDelayMillis < 0 || cfg.Mock.SchedulerIntervalSeconds < 0 {
		return fmt.Errorf("mock intervals must be >= 0")
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.API.BaseURL = expandEnv(cfg.API.BaseURL)
	cfg.Mock.Addr = expandEnv(cfg.Mock.Addr)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
