package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/V4T54L/accesslog/internal/client"
)

func newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload FILE...",
		Short: "Upload CSV files in one bulk request",
		Long:  "Sends the files as text/csv attachments of a single upload and prints the number of records inserted.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files := make([]client.File, 0, len(args))
			for _, path := range args {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				files = append(files, client.File{Name: filepath.Base(path), Body: f})
			}

			n, err := clientFromCmd(cmd).Upload(cmd.Context(), files...)
			if err != nil {
				return fmt.Errorf("upload: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}
