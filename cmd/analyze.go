package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/dataqual/internal/dataqual"
)

func newAnalyzeCmd() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "analyze <dataset-id>",
		Short: "Starts an analysis job for a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobSubmit(cmd, args[0], dataqual.JobTypeAnalysis, wait)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the job reaches a terminal status")
	return cmd
}

func newCleanCmd() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "clean <dataset-id>",
		Short: "Starts a cleaning job for a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobSubmit(cmd, args[0], dataqual.JobTypeCleaning, wait)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the job reaches a terminal status")
	return cmd
}

func runJobSubmit(cmd *cobra.Command, rawID string, jobType dataqual.JobType, wait bool) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	datasetID, err := parseID(rawID)
	if err != nil {
		return err
	}

	var job dataqual.Job
	if jobType == dataqual.JobTypeAnalysis {
		job, err = a.orch.Analyze(cmd.Context(), datasetID)
	} else {
		job, err = a.orch.Clean(cmd.Context(), datasetID)
	}
	if err != nil {
		return fmt.Errorf("start %s: %w", jobType, err)
	}
	cmd.Printf("job %d started (%s, dataset %d)\n", job.ID, job.Type, job.DatasetID)

	if !wait {
		return nil
	}
	final, err := awaitJob(cmd.Context(), a, job.ID)
	if err != nil {
		return err
	}
	cmd.Printf("job %d finished: %s\n", final.ID, final.Status)
	if !final.Status.Succeeded() {
		return fmt.Errorf("job %d ended %s", final.ID, final.Status)
	}
	return nil
}

// awaitJob watches the cached job until the background watch marks it
// terminal.
func awaitJob(ctx context.Context, a *app, jobID int64) (dataqual.Job, error) {
	ticker := time.NewTicker(a.cfg.PollInterval())
	defer ticker.Stop()
	for {
		job, err := a.orch.Job(ctx, jobID)
		if err != nil {
			return dataqual.Job{}, fmt.Errorf("fetch job %d: %w", jobID, err)
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return dataqual.Job{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}
