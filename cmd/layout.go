package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/weavrhq/weavr/internal/config"
	"github.com/weavrhq/weavr/internal/layout"
	"github.com/weavrhq/weavr/internal/observability"
	"github.com/weavrhq/weavr/internal/transfer"
)

// newLayoutCmd creates the `layout` command. It runs the deterministic
// slice-grid layout over a project document and writes positions and edge
// routes back, leaving pinned nodes where their authors anchored them.
func newLayoutCmd(opts *rootOptions) *cobra.Command {
	var output string

	layoutCmd := &cobra.Command{
		Use:   "layout [file]",
		Short: "Recompute node positions and edge routes for a project document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, name, err := readDocument(cmd, args)
			if err != nil {
				return err
			}
			if err := transfer.Validate(doc); err != nil {
				return fmt.Errorf("invalid document: %w", err)
			}

			res, err := layout.Compute(doc.Nodes, doc.Links, doc.Slices, gridConfig(opts.cfg.Layout))
			if err != nil {
				return fmt.Errorf("computing layout: %w", err)
			}

			placed := 0
			for i := range doc.Nodes {
				p, ok := res.Positions[doc.Nodes[i].ID]
				if !ok {
					// Pinned nodes keep their anchor.
					continue
				}
				doc.Nodes[i].X, doc.Nodes[i].Y = p.X, p.Y
				placed++
			}
			doc.EdgeRoutes = res.Routes

			if output == "" && name != "stdin" {
				// Default is to rewrite the document in place.
				output = name
			}
			if err := writeDocument(cmd, output, doc); err != nil {
				return err
			}

			observability.GetLogger().Info("layout complete",
				zap.String("document", name),
				zap.Int("placed", placed),
				zap.Int("routes", len(res.Routes)),
			)
			return nil
		},
	}

	layoutCmd.Flags().StringVarP(&output, "output", "o", "", "write the document here instead of in place ('-' for stdout)")
	return layoutCmd
}

func gridConfig(lc config.LayoutConfig) layout.Config {
	return layout.Config{
		SliceWidth: lc.SliceWidth,
		SliceGap:   lc.SliceGap,
		RowHeight:  lc.RowHeight,
		BaseY:      lc.BaseY,
		NodeWidth:  lc.NodeWidth,
		NodeHeight: lc.NodeHeight,
		MinMove:    lc.MinMove,
	}
}
