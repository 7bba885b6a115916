package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/weavrhq/weavr/internal/transfer"
)

// newImportCmd creates the `import` command. It replaces the selected model
// in the configured store with the contents of a project document, going
// through the engine's bulk-replace path so every write is a proper
// field-store write.
func newImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import [file]",
		Short: "Load a project document into the configured store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			in, name, err := openInput(cmd, args)
			if err != nil {
				return err
			}
			defer in.Close()

			sess, err := openModelSession(ctx, opts)
			if err != nil {
				return err
			}
			defer sess.Close()

			doc, err := transfer.Import(ctx, sess.Engine, in)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "imported %d nodes, %d links, %d slices, %d definitions into model %q\n",
				len(doc.Nodes), len(doc.Links), len(doc.Slices), len(doc.Definitions), opts.modelID)
			return nil
		},
	}
}
