package layout_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavrhq/weavr/api/schemas"
	"github.com/weavrhq/weavr/internal/layout"
)

// assertPolyline compares flat [x0 y0 x1 y1 ...] coordinate runs.
func assertPolyline(t *testing.T, want, got []float64) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i], got[i], 0.1, "coordinate %d", i)
	}
}

func TestSnapGrid(t *testing.T) {
	assert.InDelta(t, 880.0, layout.SnapGrid(875, 20), 0.1)
	assert.InDelta(t, 860.0, layout.SnapGrid(869, 20), 0.1)
	assert.InDelta(t, 0.0, layout.SnapGrid(9, 20), 0.1)
	assert.InDelta(t, -20.0, layout.SnapGrid(-11, 20), 0.1)
	assert.InDelta(t, 7.0, layout.SnapGrid(7, 0), 0.1, "non-positive grid leaves the value alone")
}

func TestPortOffset(t *testing.T) {
	// A single port sits at the side center.
	assert.InDelta(t, 0.0, layout.PortOffset(0, 1, 120), 0.1)

	// Two ports on a 120-long side: 120/3 - 60 and 2*120/3 - 60.
	assert.InDelta(t, -20.0, layout.PortOffset(0, 2, 120), 0.1)
	assert.InDelta(t, 20.0, layout.PortOffset(1, 2, 120), 0.1)

	// The middle of three ports is centered again.
	assert.InDelta(t, 0.0, layout.PortOffset(1, 3, 100), 0.1)
}

func TestComputeRoutes(t *testing.T) {
	cfg := layout.DefaultConfig()

	t.Run("should snap nearly level links straight", func(t *testing.T) {
		nodes := []schemas.Node{
			{ID: "a", Type: schemas.NodeScreen, Name: "A", X: 0, Y: 0},
			{ID: "b", Type: schemas.NodeCommand, Name: "B", X: 400, Y: 2},
		}
		links := []schemas.Link{{ID: "l1", Source: "a", Target: "b"}}

		routes := layout.ComputeRoutes(nodes, links, nil, cfg)
		require.Contains(t, routes, "l1")

		// Ports sit at the side centers: (200, 60) and (400, 62). The two
		// units of skew are inside the snap threshold.
		assertPolyline(t, []float64{200, 60, 400, 62}, routes["l1"])
	})

	t.Run("should bend horizontal links at the midpoint", func(t *testing.T) {
		nodes := []schemas.Node{
			{ID: "a", Type: schemas.NodeScreen, Name: "A", X: 0, Y: 0},
			{ID: "b", Type: schemas.NodeCommand, Name: "B", X: 400, Y: 300},
		}
		links := []schemas.Link{{ID: "l1", Source: "a", Target: "b"}}

		routes := layout.ComputeRoutes(nodes, links, nil, cfg)

		// dx 400 beats dy 300, so the link leaves the right side at
		// (200, 60), jogs at x 300, and enters the left side at (400, 360).
		assertPolyline(t, []float64{200, 60, 300, 60, 300, 360, 400, 360}, routes["l1"])
	})

	t.Run("should route steep links through top and bottom sides", func(t *testing.T) {
		nodes := []schemas.Node{
			{ID: "a", Type: schemas.NodeScreen, Name: "A", X: 0, Y: 0},
			{ID: "b", Type: schemas.NodeCommand, Name: "B", X: 40, Y: 400},
		}
		links := []schemas.Link{{ID: "l1", Source: "a", Target: "b"}}

		routes := layout.ComputeRoutes(nodes, links, nil, cfg)

		// dy 400 dominates: bottom port (100, 120) to top port (140, 400)
		// with the jog at y (120+400)/2 = 260.
		assertPolyline(t, []float64{100, 120, 100, 260, 140, 260, 140, 400}, routes["l1"])
	})

	t.Run("should snap nearly plumb vertical links straight", func(t *testing.T) {
		nodes := []schemas.Node{
			{ID: "a", Type: schemas.NodeScreen, Name: "A", X: 0, Y: 0},
			{ID: "b", Type: schemas.NodeCommand, Name: "B", X: 2, Y: 400},
		}
		links := []schemas.Link{{ID: "l1", Source: "a", Target: "b"}}

		routes := layout.ComputeRoutes(nodes, links, nil, cfg)
		assertPolyline(t, []float64{100, 120, 102, 400}, routes["l1"])
	})

	t.Run("should bend cross-slice links at the snapped gap center", func(t *testing.T) {
		nodes := []schemas.Node{
			{ID: "a", Type: schemas.NodeCommand, Name: "A", SliceID: "s1", X: 250, Y: 100},
			{ID: "b", Type: schemas.NodeReadModel, Name: "B", SliceID: "s2", X: 1300, Y: 300},
		}
		links := []schemas.Link{{ID: "l1", Source: "a", Target: "b"}}
		slices := []schemas.Slice{
			{ID: "s1", Title: "First", Order: 0},
			{ID: "s2", Title: "Second", Order: 1},
		}
		bounds := layout.SliceBounds(nodes, slices, cfg)

		routes := layout.ComputeRoutes(nodes, links, bounds, cfg)

		// Padded bounds end at x 490 and resume at x 1260. The raw gap
		// center 875 snaps up to the 880 gridline.
		assertPolyline(t, []float64{450, 160, 880, 160, 880, 360, 1300, 360}, routes["l1"])
	})

	t.Run("should fan bundled cross-slice links around the gap center", func(t *testing.T) {
		nodes := []schemas.Node{
			{ID: "a", Type: schemas.NodeCommand, Name: "A", SliceID: "s1", X: 250, Y: 100},
			{ID: "c", Type: schemas.NodeCommand, Name: "C", SliceID: "s1", X: 250, Y: 300},
			{ID: "b", Type: schemas.NodeReadModel, Name: "B", SliceID: "s2", X: 1300, Y: 100},
			{ID: "d", Type: schemas.NodeReadModel, Name: "D", SliceID: "s2", X: 1300, Y: 300},
		}
		links := []schemas.Link{
			{ID: "l2", Source: "c", Target: "d"},
			{ID: "l1", Source: "a", Target: "b"},
		}
		slices := []schemas.Slice{
			{ID: "s1", Title: "First", Order: 0},
			{ID: "s2", Title: "Second", Order: 1},
		}
		bounds := layout.SliceBounds(nodes, slices, cfg)

		routes := layout.ComputeRoutes(nodes, links, bounds, cfg)

		// Both members share the snapped center 880; ranks follow link id,
		// so l1 takes 880-4 and l2 takes 880+4.
		assertPolyline(t, []float64{450, 160, 876, 160, 876, 160, 1300, 160}, routes["l1"])
		assertPolyline(t, []float64{450, 360, 884, 360, 884, 360, 1300, 360}, routes["l2"])
	})

	t.Run("should fan ports on a shared side", func(t *testing.T) {
		nodes := []schemas.Node{
			{ID: "a", Type: schemas.NodeScreen, Name: "A", X: 0, Y: 0},
			{ID: "b", Type: schemas.NodeScreen, Name: "B", X: 0, Y: 300},
			{ID: "t", Type: schemas.NodeCommand, Name: "T", X: 400, Y: 100},
		}
		links := []schemas.Link{
			{ID: "l2", Source: "b", Target: "t"},
			{ID: "l1", Source: "a", Target: "t"},
		}

		routes := layout.ComputeRoutes(nodes, links, nil, cfg)

		// Two arrivals share t's left side. Sorted by the far endpoint's
		// vertical center, l1 (from y 60) takes the upper port at 140 and
		// l2 (from y 360) the lower port at 180.
		assertPolyline(t, []float64{200, 60, 300, 60, 300, 140, 400, 140}, routes["l1"])
		assertPolyline(t, []float64{200, 360, 300, 360, 300, 180, 400, 180}, routes["l2"])
	})

	t.Run("should decide straightness after port fan-out", func(t *testing.T) {
		nodes := []schemas.Node{
			{ID: "a", Type: schemas.NodeScreen, Name: "A", X: 0, Y: 100},
			{ID: "b", Type: schemas.NodeScreen, Name: "B", X: 0, Y: 400},
			{ID: "t", Type: schemas.NodeCommand, Name: "T", X: 400, Y: 100},
		}
		links := []schemas.Link{
			{ID: "l1", Source: "a", Target: "t"},
			{ID: "l2", Source: "b", Target: "t"},
		}

		routes := layout.ComputeRoutes(nodes, links, nil, cfg)

		// Level with its target, l1 would snap straight on its own, but the
		// shared-side fan pushes its arrival port 20 units up.
		assertPolyline(t, []float64{200, 160, 300, 160, 300, 140, 400, 140}, routes["l1"])
	})

	t.Run("should skip dangling and self links", func(t *testing.T) {
		nodes := []schemas.Node{
			{ID: "a", Type: schemas.NodeScreen, Name: "A", X: 0, Y: 0},
		}
		links := []schemas.Link{
			{ID: "dangling", Source: "a", Target: "ghost"},
			{ID: "self", Source: "a", Target: "a"},
		}

		routes := layout.ComputeRoutes(nodes, links, nil, cfg)
		assert.Empty(t, routes)
	})
}

func TestRouteBetween(t *testing.T) {
	src := layout.Rect{X: 0, Y: 0, Width: 200, Height: 120}
	dst := layout.Rect{X: 600, Y: 40, Width: 200, Height: 120}

	t.Run("should route by dominant axis without slice bounds", func(t *testing.T) {
		got := layout.RouteBetween(src, dst, nil, nil)
		assertPolyline(t, []float64{200, 60, 400, 60, 400, 100, 600, 100}, got)
	})

	t.Run("should bend in the slice gap when both bounds are known", func(t *testing.T) {
		srcSlice := layout.Rect{X: 0, Y: 0, Width: 280, Height: 200}
		dstSlice := layout.Rect{X: 560, Y: 0, Width: 280, Height: 200}

		got := layout.RouteBetween(src, dst, &srcSlice, &dstSlice)
		assertPolyline(t, []float64{200, 60, 420, 60, 420, 100, 600, 100}, got)
	})
}
