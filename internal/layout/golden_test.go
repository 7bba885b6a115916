package layout_test

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/weavrhq/weavr/api/schemas"
	"github.com/weavrhq/weavr/internal/layout"
)

// TestComputeGolden pins a full pass over a small two-slice model. Run with
// -update to regenerate the fixture after an intentional geometry change.
func TestComputeGolden(t *testing.T) {
	nodes := []schemas.Node{
		{ID: "n-scr", Type: schemas.NodeScreen, Name: "Order Form", SliceID: "s1"},
		{ID: "n-cmd", Type: schemas.NodeCommand, Name: "Place Order", SliceID: "s1"},
		{ID: "n-evt", Type: schemas.NodeDomainEvent, Name: "Order Placed", SliceID: "s1"},
		{ID: "n-rm", Type: schemas.NodeReadModel, Name: "Open Orders", SliceID: "s2"},
	}
	links := []schemas.Link{
		{ID: "l-1", Source: "n-scr", Target: "n-cmd"},
		{ID: "l-2", Source: "n-cmd", Target: "n-evt"},
		{ID: "l-3", Source: "n-evt", Target: "n-rm"},
	}
	slices := []schemas.Slice{
		{ID: "s1", Title: "Checkout", Order: 0},
		{ID: "s2", Title: "Fulfillment", Order: 1},
	}

	res, err := layout.Compute(nodes, links, slices, layout.DefaultConfig())
	require.NoError(t, err)

	doc := struct {
		Positions map[string]layout.Point `json:"positions"`
		Routes    map[string][]float64    `json:"routes"`
	}{res.Positions, res.Routes}

	data, err := json.MarshalIndent(doc, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "checkout-flow", append(data, '\n'))
}
