package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newDatasetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "datasets",
		Short: "Inspect and manage datasets on the remote service",
	}
	cmd.AddCommand(newDatasetsListCmd())
	cmd.AddCommand(newDatasetsGetCmd())
	cmd.AddCommand(newDatasetsDeleteCmd())
	cmd.AddCommand(newDatasetsDeleteAllCmd())
	cmd.AddCommand(newDatasetsDownloadCmd())
	return cmd
}

func newDatasetsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Lists all datasets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			datasets, err := a.orch.Datasets(cmd.Context())
			if err != nil {
				return fmt.Errorf("list datasets: %w", err)
			}
			for _, ds := range datasets {
				score := "-"
				if ds.QualityScore != nil {
					score = fmt.Sprintf("%.1f", *ds.QualityScore)
				}
				cmd.Printf("%d\t%s\t%s\t%dx%d\tscore=%s\n",
					ds.ID, ds.Filename, ds.Status, ds.Shape.Rows, ds.Shape.Columns, score)
			}
			return nil
		},
	}
}

func newDatasetsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <dataset-id>",
		Short: "Shows one dataset",
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
			ds, err := a.orch.Dataset(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("get dataset %d: %w", id, err)
			}
			cmd.Printf("id:       %d\n", ds.ID)
			cmd.Printf("filename: %s\n", ds.Filename)
			cmd.Printf("status:   %s\n", ds.Status)
			cmd.Printf("shape:    %d rows x %d columns\n", ds.Shape.Rows, ds.Shape.Columns)
			if ds.QualityScore != nil {
				cmd.Printf("quality:  %.1f\n", *ds.QualityScore)
			}
			return nil
		},
	}
}

func newDatasetsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <dataset-id>",
		Short: "Deletes one dataset",
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
			if err := a.orch.Delete(cmd.Context(), id); err != nil {
				return fmt.Errorf("delete dataset %d: %w", id, err)
			}
			cmd.Printf("dataset %d deleted\n", id)
			return nil
		},
	}
}

func newDatasetsDeleteAllCmd() *cobra.Command {
	var confirmed bool
	cmd := &cobra.Command{
		Use:   "delete-all",
		Short: "Deletes every dataset on the remote service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirmed {
				return fmt.Errorf("refusing to delete all datasets without --yes")
			}
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.orch.DeleteAll(cmd.Context()); err != nil {
				return fmt.Errorf("delete all datasets: %w", err)
			}
			cmd.Println("all datasets deleted")
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirmed, "yes", false, "confirm deletion of every dataset")
	return cmd
}

func newDatasetsDownloadCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "download <dataset-id>",
		Short: "Downloads the dataset file (cleaned version when available)",
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
			if outPath == "" {
				outPath = fmt.Sprintf("dataset_%d", id)
			}
			f, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("create %s: %w", outPath, err)
			}
			defer f.Close()
			if err := a.orch.Download(cmd.Context(), id, f); err != nil {
				return fmt.Errorf("download dataset %d: %w", id, err)
			}
			cmd.Printf("saved to %s\n", outPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "output file path")
	return cmd
}
