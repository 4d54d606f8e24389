package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/taskwatch/internal/appconfig"
	"pkt.systems/taskwatch/internal/taskapi"
	"pkt.systems/taskwatch/schema"
)

func newClient(cmd *cobra.Command, cfgPath *string) (*taskapi.Client, error) {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	return clientFor(cmd, cfg)
}

func clientFor(cmd *cobra.Command, cfg appconfig.Config) (*taskapi.Client, error) {
	return taskapi.New(cfg.API.BaseURL, cfg.RequestTimeout(), pslog.Ctx(cmd.Context()))
}

func newStopCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <task-id>",
		Short: "Ask the backend to stop a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := schema.NormalizeTaskID(args[0])
			if err != nil {
				return err
			}
			client, err := newClient(cmd, cfgPath)
			if err != nil {
				return err
			}
			res, err := client.StopTask(cmd.Context(), taskID)
			if err != nil {
				return fmt.Errorf("%w: %w", schema.ErrStopFailed, err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", res.TaskID, res.Status)
			return err
		},
	}
}

func newCreateCmd(cfgPath *string) *cobra.Command {
	var req schema.CreateTaskRequest
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Start a scripted task on the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd, cfgPath)
			if err != nil {
				return err
			}
			summary, err := client.CreateTask(cmd.Context(), req)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), summary.ID)
			return err
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "task name")
	cmd.Flags().IntVar(&req.Steps, "steps", 0, "number of pages to crawl")
	cmd.Flags().BoolVar(&req.Fail, "fail", false, "fail on the last page")
	cmd.Flags().BoolVar(&req.Expired, "expired", false, "report an expired membership")
	return cmd
}

func newListCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tasks known to the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd, cfgPath)
			if err != nil {
				return err
			}
			tasks, err := client.ListTasks(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tNAME\tSTATUS\tCREATED")
			for _, task := range tasks {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", task.ID, task.Name, task.Status, task.CreatedAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}
}
