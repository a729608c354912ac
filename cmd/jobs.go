package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/dataqual/internal/dataqual"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage analysis and cleaning jobs",
	}
	cmd.AddCommand(newJobsListCmd())
	cmd.AddCommand(newJobsGetCmd())
	cmd.AddCommand(newJobsCancelCmd())
	return cmd
}

func newJobsListCmd() *cobra.Command {
	var datasetID int64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Lists jobs, optionally for one dataset",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			var jobs []dataqual.Job
			if datasetID > 0 {
				jobs, err = a.orch.DatasetJobs(cmd.Context(), datasetID)
			} else {
				jobs, err = a.orch.Jobs(cmd.Context())
			}
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			for _, job := range jobs {
				cmd.Printf("%d\t%s\tdataset=%d\t%s\t%d%%\n",
					job.ID, job.Type, job.DatasetID, job.Status, job.Progress)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&datasetID, "dataset", 0, "only show jobs for this dataset")
	return cmd
}

func newJobsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Shows one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			job, err := a.orch.Job(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("get job %d: %w", id, err)
			}
			cmd.Printf("id:       %d\n", job.ID)
			cmd.Printf("type:     %s\n", job.Type)
			cmd.Printf("dataset:  %d\n", job.DatasetID)
			cmd.Printf("status:   %s\n", job.Status)
			cmd.Printf("progress: %d%%\n", job.Progress)
			if job.ErrorMessage != "" {
				cmd.Printf("error:    %s\n", job.ErrorMessage)
			}
			return nil
		},
	}
}

func newJobsCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancels a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.orch.CancelJob(cmd.Context(), id); err != nil {
				return fmt.Errorf("cancel job %d: %w", id, err)
			}
			cmd.Printf("job %d cancelled\n", id)
			return nil
		},
	}
}
