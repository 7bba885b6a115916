// Package layout computes deterministic node positions for the slice grid
// and orthogonal edge routes between node rectangles. Everything here is
// pure geometry over plain values; the synchronization engine decides when
// to run it and what to do with the output.
package layout

import (
	"fmt"
	"math"

	"github.com/weavrhq/weavr/api/schemas"
)

// -- Core Structures --

// Point is one position on the canvas.
type Point struct {
	X, Y float64
}

// Rect is an axis-aligned rectangle.
type Rect struct {
	X, Y, Width, Height float64
}

// Right returns the x coordinate of the right edge.
func (r Rect) Right() float64 { return r.X + r.Width }

// Bottom returns the y coordinate of the bottom edge.
func (r Rect) Bottom() float64 { return r.Y + r.Height }

// Center returns the rectangle's midpoint.
func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// Intersects reports whether r and o overlap with positive area.
func (r Rect) Intersects(o Rect) bool {
	return r.X < o.Right() && o.X < r.Right() && r.Y < o.Bottom() && o.Y < r.Bottom()
}

// Union returns the smallest rectangle covering both r and o.
func (r Rect) Union(o Rect) Rect {
	x := math.Min(r.X, o.X)
	y := math.Min(r.Y, o.Y)
	right := math.Max(r.Right(), o.Right())
	bottom := math.Max(r.Bottom(), o.Bottom())
	return Rect{X: x, Y: y, Width: right - x, Height: bottom - y}
}

// ExpandedBy returns r grown by pad on every side.
func (r Rect) ExpandedBy(pad float64) Rect {
	return Rect{X: r.X - pad, Y: r.Y - pad, Width: r.Width + 2*pad, Height: r.Height + 2*pad}
}

// -- Grid Configuration --

// Config carries the slice-grid geometry. Zero values are invalid; use
// DefaultConfig or fill every field.
type Config struct {
	SliceWidth float64
	SliceGap   float64
	RowHeight  float64
	BaseY      float64
	NodeWidth  float64
	NodeHeight float64
	MinMove    float64
}

// DefaultConfig returns the canonical grid geometry.
func DefaultConfig() Config {
	return Config{
		SliceWidth: 1200,
		SliceGap:   100,
		RowHeight:  180,
		BaseY:      100,
		NodeWidth:  200,
		NodeHeight: 120,
		MinMove:    0.1,
	}
}

func (c Config) validate() error {
	if c.SliceWidth <= 0 || c.RowHeight <= 0 || c.NodeWidth <= 0 || c.NodeHeight <= 0 {
		return fmt.Errorf("layout: non-positive grid dimensions %+v", c)
	}
	if c.SliceGap < 0 || c.MinMove < 0 {
		return fmt.Errorf("layout: negative gap or threshold %+v", c)
	}
	return nil
}

// columnOffsets is the x offset of each node type's column within its slice
// band, following the Event Modeling reading order: screens on the left,
// then commands, then events and automations, read models on the right.
var columnOffsets = map[schemas.NodeType]float64{
	schemas.NodeScreen:           0,
	schemas.NodeCommand:          250,
	schemas.NodeAutomation:       500,
	schemas.NodeDomainEvent:      500,
	schemas.NodeIntegrationEvent: 500,
	schemas.NodeReadModel:        750,
}

func columnOffset(t schemas.NodeType) float64 {
	return columnOffsets[t]
}

// HeightOf estimates the rendered height of a node: the base card plus a
// row of entity chips per three referenced definitions.
func (c Config) HeightOf(n schemas.Node) float64 {
	h := c.NodeHeight
	if k := len(n.EntityIDs); k > 0 {
		h += 20 * float64((k+2)/3)
	}
	return h
}

// NodeRect returns the rectangle a node occupies at its current position.
func (c Config) NodeRect(n schemas.Node) Rect {
	return Rect{X: n.X, Y: n.Y, Width: c.NodeWidth, Height: c.HeightOf(n)}
}
