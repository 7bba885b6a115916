package layout

import (
	"math"
	"sort"

	"github.com/weavrhq/weavr/api/schemas"
)

// -- Routing Constants --

const (
	// StraightSnap collapses a near-straight orthogonal path into a direct
	// segment when the perpendicular offset is below this threshold.
	StraightSnap = 5.0
	// BendGrid is the grid the cross-slice bend x snaps to.
	BendGrid = 20.0
	// BundleStep spaces bundled cross-slice links fanned around the gap
	// center.
	BundleStep = 8.0
)

// SnapGrid rounds v to the nearest multiple of grid.
func SnapGrid(v, grid float64) float64 {
	if grid <= 0 {
		return v
	}
	return math.Round(v/grid) * grid
}

// PortOffset spreads the i-th of n links sharing one node side evenly along
// that side, measured from the side's center.
func PortOffset(i, n int, side float64) float64 {
	return float64(i+1)*side/float64(n+1) - side/2
}

// -- Sides and Ports --

type side int

const (
	sideLeft side = iota
	sideRight
	sideTop
	sideBottom
)

func (s side) horizontal() bool { return s == sideLeft || s == sideRight }

// portPoint returns the attachment point on a rectangle's side, displaced
// from the side's center by off.
func portPoint(r Rect, s side, off float64) Point {
	c := r.Center()
	switch s {
	case sideLeft:
		return Point{X: r.X, Y: c.Y + off}
	case sideRight:
		return Point{X: r.Right(), Y: c.Y + off}
	case sideTop:
		return Point{X: c.X + off, Y: r.Y}
	default:
		return Point{X: c.X + off, Y: r.Bottom()}
	}
}

func sideLength(r Rect, s side) float64 {
	if s.horizontal() {
		return r.Height
	}
	return r.Width
}

// -- Route Planning --

type routePlan struct {
	id               string
	srcID, dstID     string
	src, dst         Rect
	srcSide, dstSide side
	cross            bool
	gapCenter        float64
	gapKey           string
}

type portKey struct {
	nodeID string
	s      side
}

type portSlot struct {
	linkID  string
	sortKey float64
}

// ComputeRoutes produces an orthogonal polyline for every link whose both
// endpoints exist. Same-slice links route along their dominant axis with a
// midpoint bend; cross-slice links bend in the gap between the two slices'
// bounding boxes, snapped to the bend grid and fanned when several links
// share the gap. Links terminating on the same node side spread into evenly
// spaced ports.
func ComputeRoutes(nodes []schemas.Node, links []schemas.Link, sliceBounds map[string]Rect, cfg Config) map[string][]float64 {
	byID := make(map[string]schemas.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	plans := make([]routePlan, 0, len(links))
	for _, l := range links {
		src, okS := byID[l.Source]
		dst, okD := byID[l.Target]
		if !okS || !okD || l.Source == l.Target {
			continue
		}
		plans = append(plans, planRoute(l.ID, src, dst, cfg, sliceBounds))
	}

	assignBundles(plans)
	offsets := assignPorts(plans)

	out := make(map[string][]float64, len(plans))
	for _, p := range plans {
		out[p.id] = emitRoute(p, offsets[portKey{p.srcID, p.srcSide}][p.id], offsets[portKey{p.dstID, p.dstSide}][p.id])
	}
	return out
}

// RouteBetween routes a single link live, with no port fan-out or bundle
// neighbors, for interactive feedback during drags. Pass the enclosing
// slice bounds when source and target sit in different slices, nil
// otherwise.
func RouteBetween(src, dst Rect, srcSlice, dstSlice *Rect) []float64 {
	p := routePlan{src: src, dst: dst}
	if srcSlice != nil && dstSlice != nil {
		p.cross = true
		planCrossSides(&p, *srcSlice, *dstSlice)
		p.gapCenter = SnapGrid(p.gapCenter, BendGrid)
	} else {
		planDominantSides(&p)
	}
	return emitRoute(p, 0, 0)
}

func planRoute(linkID string, src, dst schemas.Node, cfg Config, sliceBounds map[string]Rect) routePlan {
	p := routePlan{
		id:    linkID,
		srcID: src.ID,
		dstID: dst.ID,
		src:   cfg.NodeRect(src),
		dst:   cfg.NodeRect(dst),
	}
	if src.SliceID != "" && dst.SliceID != "" && src.SliceID != dst.SliceID {
		srcB, okS := sliceBounds[src.SliceID]
		dstB, okD := sliceBounds[dst.SliceID]
		if okS && okD {
			p.cross = true
			planCrossSides(&p, srcB, dstB)
			if src.SliceID < dst.SliceID {
				p.gapKey = src.SliceID + "|" + dst.SliceID
			} else {
				p.gapKey = dst.SliceID + "|" + src.SliceID
			}
			return p
		}
	}
	planDominantSides(&p)
	return p
}

// planCrossSides picks the facing sides and the raw gap center between the
// two slice boxes, whichever of them is the left one.
func planCrossSides(p *routePlan, srcB, dstB Rect) {
	if srcB.X <= dstB.X {
		p.srcSide = sideRight
		p.dstSide = sideLeft
		p.gapCenter = (srcB.Right() + dstB.X) / 2
	} else {
		p.srcSide = sideLeft
		p.dstSide = sideRight
		p.gapCenter = (dstB.Right() + srcB.X) / 2
	}
}

// planDominantSides picks facing sides along the dominant axis between the
// two node centers.
func planDominantSides(p *routePlan) {
	sc := p.src.Center()
	dc := p.dst.Center()
	dx := dc.X - sc.X
	dy := dc.Y - sc.Y
	if math.Abs(dx) >= math.Abs(dy) {
		if dx >= 0 {
			p.srcSide, p.dstSide = sideRight, sideLeft
		} else {
			p.srcSide, p.dstSide = sideLeft, sideRight
		}
	} else {
		if dy >= 0 {
			p.srcSide, p.dstSide = sideBottom, sideTop
		} else {
			p.srcSide, p.dstSide = sideTop, sideBottom
		}
	}
}

// assignBundles resolves each cross-slice plan's bend x: the gap center
// snapped to the grid, then fanned symmetrically when several links share
// the same gap.
func assignBundles(plans []routePlan) {
	groups := make(map[string][]int)
	for i := range plans {
		if plans[i].cross {
			groups[plans[i].gapKey] = append(groups[plans[i].gapKey], i)
		}
	}
	for _, idxs := range groups {
		sort.Slice(idxs, func(a, b int) bool { return plans[idxs[a]].id < plans[idxs[b]].id })
		n := len(idxs)
		for rank, i := range idxs {
			center := SnapGrid(plans[i].gapCenter, BendGrid)
			plans[i].gapCenter = center + (float64(rank)-float64(n-1)/2)*BundleStep
		}
	}
}

// assignPorts spreads the links sharing a node side into evenly spaced
// attachment points, ordered by the opposite endpoint's position so fans
// do not cross.
func assignPorts(plans []routePlan) map[portKey]map[string]float64 {
	groups := make(map[portKey][]portSlot)
	for _, p := range plans {
		groups[portKey{p.srcID, p.srcSide}] = append(groups[portKey{p.srcID, p.srcSide}], portSlot{
			linkID:  p.id,
			sortKey: sortKeyFor(p.dst, p.srcSide),
		})
		groups[portKey{p.dstID, p.dstSide}] = append(groups[portKey{p.dstID, p.dstSide}], portSlot{
			linkID:  p.id,
			sortKey: sortKeyFor(p.src, p.dstSide),
		})
	}

	sideLen := make(map[portKey]float64)
	for _, p := range plans {
		sideLen[portKey{p.srcID, p.srcSide}] = sideLength(p.src, p.srcSide)
		sideLen[portKey{p.dstID, p.dstSide}] = sideLength(p.dst, p.dstSide)
	}

	out := make(map[portKey]map[string]float64, len(groups))
	for key, slots := range groups {
		sort.Slice(slots, func(a, b int) bool {
			if slots[a].sortKey != slots[b].sortKey {
				return slots[a].sortKey < slots[b].sortKey
			}
			return slots[a].linkID < slots[b].linkID
		})
		offs := make(map[string]float64, len(slots))
		for i, slot := range slots {
			offs[slot.linkID] = PortOffset(i, len(slots), sideLen[key])
		}
		out[key] = offs
	}
	return out
}

// sortKeyFor orders fan members by where the far endpoint sits along the
// fanned side's axis.
func sortKeyFor(far Rect, s side) float64 {
	c := far.Center()
	if s.horizontal() {
		return c.Y
	}
	return c.X
}

// emitRoute renders one plan into a flat polyline [x0 y0 x1 y1 ...].
func emitRoute(p routePlan, srcOff, dstOff float64) []float64 {
	sp := portPoint(p.src, p.srcSide, srcOff)
	dp := portPoint(p.dst, p.dstSide, dstOff)

	if p.cross {
		return []float64{sp.X, sp.Y, p.gapCenter, sp.Y, p.gapCenter, dp.Y, dp.X, dp.Y}
	}

	if p.srcSide.horizontal() {
		if math.Abs(sp.Y-dp.Y) < StraightSnap {
			return []float64{sp.X, sp.Y, dp.X, dp.Y}
		}
		midX := (sp.X + dp.X) / 2
		return []float64{sp.X, sp.Y, midX, sp.Y, midX, dp.Y, dp.X, dp.Y}
	}

	if math.Abs(sp.X-dp.X) < StraightSnap {
		return []float64{sp.X, sp.Y, dp.X, dp.Y}
	}
	midY := (sp.Y + dp.Y) / 2
	return []float64{sp.X, sp.Y, sp.X, midY, dp.X, midY, dp.X, dp.Y}
}
