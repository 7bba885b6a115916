package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/weavrhq/weavr/internal/transfer"
	"github.com/weavrhq/weavr/internal/validation"
)

// newAuditCmd creates the `audit` command. It checks a project document
// against the Event Modeling pattern and exits non-zero when the model
// breaks it.
func newAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit [file]",
		Short: "Check a project document against the Event Modeling pattern",
		Long: `Audit reads a project document (from a file, or stdin when the argument
is absent or "-") and reports every node whose inbound connections break
the Event Modeling pattern: commands without a screen or automation,
events without a command, read models and automations without a source.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, name, err := readDocument(cmd, args)
			if err != nil {
				return err
			}
			if err := transfer.Validate(doc); err != nil {
				return fmt.Errorf("invalid document: %w", err)
			}

			violations := validation.AuditModel(doc.Nodes, doc.Links, doc.Slices)
			out := cmd.OutOrStdout()
			if len(violations) == 0 {
				fmt.Fprintf(out, "%s: OK (%d nodes, %d links, %d slices)\n",
					name, len(doc.Nodes), len(doc.Links), len(doc.Slices))
				return nil
			}

			for _, v := range violations {
				fmt.Fprintln(out, v)
			}
			return fmt.Errorf("%s: %d pattern violation(s)", name, len(violations))
		},
	}
}
