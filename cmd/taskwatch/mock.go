package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/taskwatch"
	"pkt.systems/taskwatch/httpapi"
	"pkt.systems/taskwatch/internal/appconfig"
	"pkt.systems/taskwatch/internal/taskrunner"
	"pkt.systems/taskwatch/schema"
)

func newMockCmd(cfgPath *string) *cobra.Command {
	var addr string
	var noScheduler bool
	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Serve a scripted task backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Mock.Addr = addr
			}
			opts := []taskwatch.ServerOption{taskwatch.WithLogger(logger)}
			if !noScheduler {
				opts = append(opts, taskwatch.WithScheduler())
			}
			server, err := taskwatch.New(mockServerConfig(cfg), opts...)
			if err != nil {
				return err
			}
			if err := server.Start(cmd.Context()); err != nil {
				return err
			}
			waitErr := server.Wait()
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Stop(stopCtx); err != nil {
				logger.Warn("mock stop failed", "err", err)
			}
			return waitErr
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides mock.addr)")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "do not run the scheduler channel")
	return cmd
}

func mockServerConfig(cfg appconfig.Config) taskwatch.ServerConfig {
	return taskwatch.ServerConfig{
		HTTP: httpapi.Config{
			Addr:      cfg.Mock.Addr,
			Heartbeat: time.Duration(cfg.Mock.HeartbeatSeconds) * time.Second,
			Retry:     time.Duration(cfg.Mock.RetryMillis) * time.Millisecond,
		},
		HubHistory: cfg.Mock.HistoryLimit,
		Runner: taskrunner.Config{
			StepDelay:         time.Duration(cfg.Mock.StepDelayMillis) * time.Millisecond,
			SchedulerID:       schema.TaskID(cfg.Stream.SchedulerTaskID),
			SchedulerInterval: time.Duration(cfg.Mock.SchedulerIntervalSeconds) * time.Second,
		},
	}
}
