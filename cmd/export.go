package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/weavrhq/weavr/internal/transfer"
)

// newExportCmd creates the `export` command. It snapshots the selected model
// from the configured store and writes it out as a project document.
func newExportCmd(opts *rootOptions) *cobra.Command {
	var output string

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write the selected model out as a project document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openModelSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer sess.Close()

			if output == "" || output == "-" {
				return transfer.Export(cmd.OutOrStdout(), sess.Engine)
			}

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating %s: %w", output, err)
			}
			if err := transfer.Export(f, sess.Engine); err != nil {
				f.Close()
				return fmt.Errorf("%s: %w", output, err)
			}
			return f.Close()
		},
	}

	exportCmd.Flags().StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
	return exportCmd
}
