package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Prints aggregate quality statistics for all datasets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			view, err := a.orch.Dashboard(cmd.Context())
			if err != nil {
				return fmt.Errorf("build dashboard: %w", err)
			}
			cmd.Printf("datasets:        %d\n", view.Summary.Total)
			cmd.Printf("analyzed:        %d\n", view.Summary.Analyzed)
			cmd.Printf("cleaned:         %d\n", view.Summary.Cleaned)
			cmd.Printf("average quality: %.1f\n", view.Summary.AverageQuality)
			if len(view.Badges) > 0 {
				cmd.Printf("latest analysis (dataset %d):\n", view.BadgeDataset)
				for _, b := range view.Badges {
					cmd.Printf("  - %s\n", b.Label)
				}
			}
			if view.ActiveWatches > 0 {
				cmd.Printf("active watches:  %d\n", view.ActiveWatches)
			}
			return nil
		},
	}
}
