package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"

	"github.com/vectral-ai/corpus-engine/internal/jobs"
)

func newIngestCmd() *cobra.Command {
	var (
		tenant  string
		watch   bool
		metaKVs []string
	)

	cmd := &cobra.Command{
		Use:   "ingest <files...>",
		Short: "Upload documents and start ingestion jobs",
		Long: `Ingest uploads one or more documents (.pdf, .docx, .md, .txt) and starts
an ingestion job per file. With --watch the command follows each job's
progress stream and exits once every job has finished.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			metadata, err := parseMetadata(metaKVs)
			if err != nil {
				return err
			}

			var totalBytes int64
			for _, path := range args {
				info, err := os.Stat(path)
				if err != nil {
					return err
				}
				totalBytes += info.Size()
			}

			ui.Step("uploading %d file(s), %s", len(args), FormatBytes(totalBytes))
			result, err := client.upload(ctx, args, tenant, metadata)
			if err != nil {
				return err
			}

			if !watch {
				if printJSON(result) {
					return nil
				}
				rows := make([][]string, 0, len(result.Jobs))
				for _, job := range result.Jobs {
					rows = append(rows, []string{job.JobID, job.Filename, string(job.Status)})
				}
				ui.Table([]string{"JOB ID", "FILE", "STATUS"}, rows)
				ui.Info("follow a job with: corpus-cli job <job-id>")
				return nil
			}

			return watchJobs(ctx, result.Jobs)
		},
	}

	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "tenant id for the uploaded documents")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "follow ingestion progress until all jobs finish")
	cmd.Flags().StringArrayVarP(&metaKVs, "metadata", "m", nil, "extra metadata as key=value (repeatable)")
	return cmd
}

// watchJobs follows every job's progress stream concurrently, one bar per
// job, and reports a combined result.
func watchJobs(ctx context.Context, accepted []jobs.State) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures []string
	)
	finals := make([]jobs.State, len(accepted))

	for i, job := range accepted {
		bar := ui.JobBar(job.Filename)
		wg.Add(1)
		go func(i int, job jobs.State, bar *mpb.Bar) {
			defer wg.Done()

			last := job
			err := client.streamJob(ctx, job.JobID, func(s jobs.State) {
				last = s
				if bar == nil {
					return
				}
				if s.TotalChunks > 0 {
					bar.SetTotal(int64(s.TotalChunks), false)
					bar.SetCurrent(int64(s.ProcessedChunks))
				}
				switch s.Status {
				case jobs.StatusCompleted:
					bar.SetTotal(-1, true)
				case jobs.StatusFailed:
					bar.Abort(false)
				}
			})

			mu.Lock()
			defer mu.Unlock()
			finals[i] = last
			switch {
			case err != nil:
				failures = append(failures, fmt.Sprintf("%s: %v", job.Filename, err))
			case last.Status == jobs.StatusFailed:
				failures = append(failures, fmt.Sprintf("%s: %s", job.Filename, last.Error))
			}
		}(i, job, bar)
	}
	wg.Wait()
	ui.Close()

	if printJSON(uploadResult{Jobs: finals}) {
		if len(failures) > 0 {
			return fmt.Errorf("%d of %d jobs failed", len(failures), len(accepted))
		}
		return nil
	}

	for _, f := range failures {
		ui.Error("%s", f)
	}
	for _, s := range finals {
		if s.Status == jobs.StatusCompleted {
			ui.Success("%s → %s (%d chunks)", s.Filename, s.DocumentID, s.TotalChunks)
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d of %d jobs failed", len(failures), len(accepted))
	}
	return nil
}

func parseMetadata(kvs []string) (map[string]string, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("metadata %q is not key=value", kv)
		}
		out[k] = v
	}
	return out, nil
}
