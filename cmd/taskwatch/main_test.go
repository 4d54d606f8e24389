package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pkt.systems/taskwatch/internal/appconfig"
	"pkt.systems/taskwatch/internal/eventbus"
	"pkt.systems/taskwatch/internal/format"
	"pkt.systems/taskwatch/schema"
)

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	want := []string{"watch", "stop", "create", "list", "mock", "config", "version"}
	for _, name := range want {
		found := false
		for _, cmd := range root.Commands() {
			if cmd.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("expected root command to include %s", name)
		}
	}
}

func TestWatchRequiresTaskID(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"watch"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	if err := root.ExecuteContext(context.Background()); err == nil {
		t.Fatalf("expected error without task id")
	}
}

func TestConfigInitWritesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	root := newRootCmd()
	root.SetArgs([]string{"--config", path, "config", "init"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("stat config: %v", err)
	}
	cfg, err := appconfig.Load(path)
	if err != nil {
		t.Fatalf("load written config: %v", err)
	}
	if cfg.ConfigVersion != appconfig.CurrentConfigVersion {
		t.Fatalf("config_version = %d", cfg.ConfigVersion)
	}

	root = newRootCmd()
	root.SetArgs([]string{"--config", path, "config", "init"})
	if err := root.ExecuteContext(context.Background()); err == nil {
		t.Fatalf("expected error when config exists")
	}
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out.String(), "taskwatch") {
		t.Fatalf("unexpected version output %q", out.String())
	}
}

func TestRunPlainStopsOnTerminalStatus(t *testing.T) {
	events := make(chan eventbus.Event, 8)
	events <- eventbus.Event{Type: eventbus.EventLog, Log: schema.LogLineEvent{Line: "[10:00:00] 🚀 开始爬取"}}
	events <- eventbus.Event{Type: eventbus.EventExpired, Expired: schema.ExpiredEvent{Message: "会员已过期"}}
	events <- eventbus.Event{Type: eventbus.EventStatus, Status: schema.StatusEvent{Status: schema.StatusFailed, Terminal: true}}
	events <- eventbus.Event{Type: eventbus.EventLog, Log: schema.LogLineEvent{Line: "never printed"}}

	var out bytes.Buffer
	done := make(chan struct{})
	go func() {
		runPlain(context.Background(), &out, events, nil, format.NewPlainRenderer(nil))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("runPlain did not return")
	}

	text := out.String()
	for _, want := range []string{"[10:00:00] start", "🚀 开始爬取", "expired: 会员已过期", "status: failed"} {
		if !strings.Contains(text, want) {
			t.Fatalf("output %q missing %q", text, want)
		}
	}
	if strings.Contains(text, "never printed") {
		t.Fatalf("output continued after terminal status: %q", text)
	}
}

func TestRunPlainKeepsSchedulerOpen(t *testing.T) {
	events := make(chan eventbus.Event, 4)
	events <- eventbus.Event{Type: eventbus.EventStatus, Status: schema.StatusEvent{Status: schema.StatusCancelled}}
	ctx, cancel := context.WithCancel(context.Background())
	var out bytes.Buffer
	done := make(chan struct{})
	go func() {
		runPlain(ctx, &out, events, nil, format.NewPlainRenderer(nil))
		close(done)
	}()
	select {
	case <-done:
		t.Fatalf("runPlain returned on a non-terminal status")
	case <-time.After(50 * time.Millisecond):
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("runPlain ignored context cancellation")
	}
}

func TestMockServerConfig(t *testing.T) {
	cfg, err := appconfig.DefaultConfig()
	if err != nil {
		t.Fatalf("DefaultConfig: %v", err)
	}
	serverCfg := mockServerConfig(cfg)
	if serverCfg.HTTP.Addr != cfg.Mock.Addr {
		t.Fatalf("addr = %q", serverCfg.HTTP.Addr)
	}
	if serverCfg.HTTP.Heartbeat != 15*time.Second {
		t.Fatalf("heartbeat = %s", serverCfg.HTTP.Heartbeat)
	}
	if serverCfg.Runner.SchedulerID != schema.DefaultSchedulerTaskID {
		t.Fatalf("scheduler id = %q", serverCfg.Runner.SchedulerID)
	}
}
