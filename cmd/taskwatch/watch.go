package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/taskwatch/core"
	"pkt.systems/taskwatch/internal/eventbus"
	"pkt.systems/taskwatch/internal/format"
	"pkt.systems/taskwatch/internal/logclass"
	"pkt.systems/taskwatch/internal/persist"
	"pkt.systems/taskwatch/internal/taskapi"
	"pkt.systems/taskwatch/internal/tui"
	"pkt.systems/taskwatch/schema"
)

func newWatchCmd(cfgPath *string) *cobra.Command {
	var plain bool
	var save bool
	cmd := &cobra.Command{
		Use:   "watch <task-id>",
		Short: "Follow the log stream of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := pslog.Ctx(ctx)
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}
			taskID, err := schema.NormalizeTaskID(args[0])
			if err != nil {
				return err
			}
			client, err := taskapi.New(cfg.API.BaseURL, cfg.RequestTimeout(), logger)
			if err != nil {
				return err
			}

			bus := eventbus.New(logger)
			events, unsubscribe := bus.Subscribe(taskID, eventbus.Queued())
			defer unsubscribe()

			// The bus comes first in the fanout, so every event is queued for
			// the renderer before finished closes.
			stopped := make(chan schema.TaskStopEvent, 1)
			finished := make(chan struct{})
			var finishOnce sync.Once
			finish := func() { finishOnce.Do(func() { close(finished) }) }
			sink := core.Fanout(bus, core.SinkFuncs{
				Status: func(event schema.StatusEvent) {
					if event.Terminal {
						finish()
					}
				},
				TaskStop: func(event schema.TaskStopEvent) {
					select {
					case stopped <- event:
					default:
					}
					if event.Reason == schema.StopReasonTerminal {
						finish()
					}
				},
				Close: func(schema.CloseEvent) { finish() },
			})
			viewer, err := core.NewViewer(cfg.ViewerConfig(), core.ViewerDeps{
				Dialer:  client,
				Stopper: client,
				Sink:    sink,
				Logger:  logger,
			})
			if err != nil {
				return err
			}
			defer func() { _ = viewer.Close() }()

			if err := viewer.Subscribe(ctx, taskID); err != nil {
				return err
			}
			logger.Info("watch start", "task", taskID, "base_url", cfg.API.BaseURL, "plain", plain)

			classifier := logclass.New(nil)
			if plain {
				runPlain(ctx, cmd.OutOrStdout(), events, finished, format.NewPlainRenderer(classifier))
			} else if err := tui.Run(ctx, tui.New(ctx, viewer, events, classifier).WithFinished(finished)); err != nil {
				return err
			}

			if !save {
				return nil
			}
			select {
			case event := <-stopped:
				return saveTranscript(cfg.TranscriptDir(), viewer.Snapshot(), event, logger)
			default:
				logger.Info("watch transcript skipped", "task", taskID, "reason", "task still running")
				return nil
			}
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "print log lines instead of the terminal UI")
	cmd.Flags().BoolVar(&save, "save", false, "save the transcript once the task stops")
	return cmd
}

func saveTranscript(dir string, snapshot schema.ViewerSnapshot, event schema.TaskStopEvent, logger pslog.Logger) error {
	store, err := persist.NewStoreWithLogger(dir, logger)
	if err != nil {
		return err
	}
	path, err := store.SaveSnapshot(snapshot)
	if err != nil {
		return err
	}
	logger.Info("watch transcript saved", "task", snapshot.TaskID, "path", path, "reason", event.Reason, "lines", len(snapshot.Lines))
	return nil
}

// plainDrainGrace bounds how long runPlain keeps printing after the viewer
// reports the task finished.
var plainDrainGrace = 2 * time.Second

// runPlain prints events until the task reaches a terminal status, the
// subscription ends, or ctx is done. Once finished closes it drains what is
// still queued and returns at the terminal status or after plainDrainGrace.
func runPlain(ctx context.Context, out io.Writer, events <-chan eventbus.Event, finished <-chan struct{}, renderer *format.PlainRenderer) {
	var grace <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-finished:
			finished = nil
			timer := time.NewTimer(plainDrainGrace)
			defer timer.Stop()
			grace = timer.C
		case <-grace:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			for _, line := range renderer.FormatEvent(event) {
				_, _ = fmt.Fprintln(out, line)
			}
			switch event.Type {
			case eventbus.EventStatus:
				if event.Status.Terminal {
					return
				}
			case eventbus.EventTaskStop:
				if event.TaskStop.Reason == schema.StopReasonTerminal {
					return
				}
			case eventbus.EventClose:
				return
			}
		}
	}
}
