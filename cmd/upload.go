package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>",
		Short: "Uploads a tabular dataset file",
		Long: `Validates and uploads a CSV, Excel, or Parquet file to the remote
service. The file is checked locally for type and size before any bytes
leave the machine.`,
		Args: cobra.ExactArgs(1),
		RunE: runUploadCommand,
	}
}

func runUploadCommand(cmd *cobra.Command, args []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	path := args[0]
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	ds, err := a.orch.Upload(cmd.Context(), filepath.Base(path), info.Size(), f)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	a.logger.Info("upload complete",
		zap.Int64("dataset_id", ds.ID),
		zap.String("filename", ds.Filename),
		zap.Int("rows", ds.Shape.Rows),
		zap.Int("columns", ds.Shape.Columns),
	)
	cmd.Printf("dataset %d uploaded (%d rows, %d columns)\n", ds.ID, ds.Shape.Rows, ds.Shape.Columns)
	return nil
}
