package layout

import (
	"sort"

	"github.com/weavrhq/weavr/api/schemas"
)

// SlicePadding is the margin a slice's bounding box keeps around its
// member rectangles.
const SlicePadding = 40.0

// Result is one layout pass: proposed positions for unpinned nodes and a
// routed polyline per link. Pinned nodes never appear in Positions.
type Result struct {
	Positions map[string]Point
	Routes    map[string][]float64
}

// OrderedSlices returns the slices sorted by their order field, ties broken
// by id so every client agrees on band placement.
func OrderedSlices(slices []schemas.Slice) []schemas.Slice {
	out := make([]schemas.Slice, len(slices))
	copy(out, slices)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Compute runs one full layout pass over the graph. Unpinned nodes are
// assigned grid positions; pinned nodes stay where they are and block the
// grid rows they cover. Routes are computed against the proposed positions
// so they match what the pass will produce.
func Compute(nodes []schemas.Node, links []schemas.Link, slices []schemas.Slice, cfg Config) (Result, error) {
	if err := cfg.validate(); err != nil {
		return Result{}, err
	}

	positions := computePositions(nodes, slices, cfg)

	moved := make([]schemas.Node, len(nodes))
	copy(moved, nodes)
	for i := range moved {
		if p, ok := positions[moved[i].ID]; ok {
			moved[i].X = p.X
			moved[i].Y = p.Y
		}
	}

	bounds := SliceBounds(moved, slices, cfg)
	routes := ComputeRoutes(moved, links, bounds, cfg)
	return Result{Positions: positions, Routes: routes}, nil
}

// SliceBounds returns each non-empty slice's bounding box: the union of its
// member rectangles padded by SlicePadding.
func SliceBounds(nodes []schemas.Node, slices []schemas.Slice, cfg Config) map[string]Rect {
	known := make(map[string]bool, len(slices))
	for _, s := range slices {
		known[s.ID] = true
	}

	out := make(map[string]Rect)
	for _, n := range nodes {
		if n.SliceID == "" || !known[n.SliceID] {
			continue
		}
		r := cfg.NodeRect(n)
		if b, ok := out[n.SliceID]; ok {
			out[n.SliceID] = b.Union(r)
		} else {
			out[n.SliceID] = r
		}
	}
	for id, b := range out {
		out[id] = b.ExpandedBy(SlicePadding)
	}
	return out
}

// computePositions lays every unpinned node onto the slice grid. Each slice
// occupies one horizontal band in slice order; within a band, nodes stack
// into their type's column top to bottom. Nodes without a slice (or with a
// dangling slice id) land in a trailing band after the last slice.
func computePositions(nodes []schemas.Node, slices []schemas.Slice, cfg Config) map[string]Point {
	ordered := OrderedSlices(slices)
	bandOf := make(map[string]int, len(ordered))
	for i, s := range ordered {
		bandOf[s.ID] = i
	}
	trailing := len(ordered)

	byBand := make(map[int][]schemas.Node)
	for _, n := range nodes {
		band, ok := bandOf[n.SliceID]
		if n.SliceID == "" || !ok {
			band = trailing
		}
		byBand[band] = append(byBand[band], n)
	}

	out := make(map[string]Point)
	for band, members := range byBand {
		bandX := float64(band) * (cfg.SliceWidth + cfg.SliceGap)
		layoutBand(members, bandX, cfg, out)
	}
	return out
}

// layoutBand assigns rows within one band. Pinned members block the rows
// their rectangles physically cover in each column; unpinned members fill
// the remaining rows in their current vertical order so a repeated pass
// reproduces the same assignment.
func layoutBand(members []schemas.Node, bandX float64, cfg Config, out map[string]Point) {
	byColumn := make(map[float64][]schemas.Node)
	var pinned []schemas.Node
	for _, n := range members {
		if n.Pinned {
			pinned = append(pinned, n)
			continue
		}
		byColumn[columnOffset(n.Type)] = append(byColumn[columnOffset(n.Type)], n)
	}

	for col, colNodes := range byColumn {
		colX := bandX + col
		sort.Slice(colNodes, func(i, j int) bool {
			if colNodes[i].Y != colNodes[j].Y {
				return colNodes[i].Y < colNodes[j].Y
			}
			return colNodes[i].ID < colNodes[j].ID
		})

		blocked := blockedRows(pinned, colX, cfg)
		row := 0
		for _, n := range colNodes {
			for blocked[row] {
				row++
			}
			out[n.ID] = Point{X: colX, Y: cfg.BaseY + float64(row)*cfg.RowHeight}
			row++
		}
	}
}

// blockedRows marks the grid rows a column must skip because a pinned node
// physically covers them.
func blockedRows(pinned []schemas.Node, colX float64, cfg Config) map[int]bool {
	blocked := make(map[int]bool)
	for _, p := range pinned {
		r := cfg.NodeRect(p)
		if colX >= r.Right() || r.X >= colX+cfg.NodeWidth {
			continue
		}
		for row := 0; ; row++ {
			slotY := cfg.BaseY + float64(row)*cfg.RowHeight
			if slotY >= r.Bottom() {
				break
			}
			if slotY+cfg.NodeHeight > r.Y {
				blocked[row] = true
			}
		}
	}
	return blocked
}
