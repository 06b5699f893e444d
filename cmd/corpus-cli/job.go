package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vectral-ai/corpus-engine/internal/jobs"
)

func newJobCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "job <job-id>",
		Short: "Inspect an ingestion job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			jobID := args[0]

			if watch {
				var last jobs.State
				err := client.streamJob(ctx, jobID, func(s jobs.State) {
					last = s
					if !outputJSON {
						ui.Step("%s  %s  %d/%d chunks", s.Status, s.Stage, s.ProcessedChunks, s.TotalChunks)
					}
				})
				if err != nil {
					return err
				}
				renderJob(last)
				if last.Status == jobs.StatusFailed {
					return fmt.Errorf("job %s failed: %s", jobID, last.Error)
				}
				return nil
			}

			state, err := client.job(ctx, jobID)
			if err != nil {
				return err
			}
			renderJob(*state)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "follow the job until it finishes")
	return cmd
}

func renderJob(s jobs.State) {
	if printJSON(s) {
		return
	}
	ui.Section("job " + s.JobID)
	ui.KeyValue("file", s.Filename)
	if s.TenantID != "" {
		ui.KeyValue("tenant", s.TenantID)
	}
	ui.KeyValue("status", string(s.Status))
	ui.KeyValue("stage", string(s.Stage))
	ui.KeyValue("chunks", fmt.Sprintf("%d / %d", s.ProcessedChunks, s.TotalChunks))
	ui.KeyValue("created", s.CreatedAt.Format("2006-01-02 15:04:05"))
	if s.CompletedAt != nil {
		ui.KeyValue("completed", s.CompletedAt.Format("2006-01-02 15:04:05"))
		ui.KeyValue("duration", FormatDuration(s.CompletedAt.Sub(s.CreatedAt)))
	}
	if s.DocumentID != "" {
		ui.KeyValue("document", s.DocumentID)
	}
	if s.Message != "" {
		ui.KeyValue("message", s.Message)
	}
	if s.Error != "" {
		ui.KeyValue("error", s.Error)
	}
}
