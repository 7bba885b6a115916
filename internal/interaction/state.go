// Package interaction holds the volatile editing state of one canvas:
// selection, hover, marquee, an in-progress drag, and an in-progress link
// draft. Nothing here is persisted, synchronized, or undoable; a drag
// session commits exactly one batched, pinned position write when it ends.
package interaction

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/weavrhq/weavr/api/schemas"
	"github.com/weavrhq/weavr/internal/graphsync"
	"github.com/weavrhq/weavr/internal/layout"
	"github.com/weavrhq/weavr/internal/validation"
)

// State is the interaction layer over one engine. Safe for concurrent use,
// though callers are typically a single UI loop.
type State struct {
	mu     sync.Mutex
	engine *graphsync.Engine
	cfg    layout.Config
	log    *zap.Logger

	selection map[string]bool
	hovered   string
	marquee   *marqueeSession
	drag      *dragSession
	draft     *draftSession
}

type marqueeSession struct {
	origin layout.Point
	corner layout.Point
}

type dragSession struct {
	origin layout.Point
	last   layout.Point
	starts map[string]layout.Point
}

type draftSession struct {
	source   string
	linkType schemas.LinkType
	cursor   layout.Point
}

// New returns an empty interaction state bound to the engine.
func New(e *graphsync.Engine, log *zap.Logger) *State {
	if log == nil {
		log = zap.NewNop()
	}
	return &State{
		engine:    e,
		cfg:       e.LayoutConfig(),
		log:       log,
		selection: make(map[string]bool),
	}
}

// Reset drops every volatile session, selection included. Called when the
// canvas switches models.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = make(map[string]bool)
	s.hovered = ""
	s.marquee = nil
	s.drag = nil
	s.draft = nil
}

// -- Selection --

// Select makes id the only selected node. Unknown ids clear the selection.
func (s *State) Select(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = make(map[string]bool)
	if _, ok := s.engine.Node(id); ok {
		s.selection[id] = true
	}
}

// ToggleSelect adds id to the selection, or removes it if already there.
func (s *State) ToggleSelect(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selection[id] {
		delete(s.selection, id)
		return
	}
	if _, ok := s.engine.Node(id); ok {
		s.selection[id] = true
	}
}

// ClearSelection empties the selection.
func (s *State) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = make(map[string]bool)
}

// IsSelected reports whether id is currently selected.
func (s *State) IsSelected(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection[id]
}

// Selection returns the selected ids sorted, dropping any that no longer
// resolve to a node.
func (s *State) Selection() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveSelection()
}

// liveSelection prunes deleted nodes out of the selection and returns the
// remainder sorted. s.mu must be held.
func (s *State) liveSelection() []string {
	out := make([]string, 0, len(s.selection))
	for id := range s.selection {
		if _, ok := s.engine.Node(id); ok {
			out = append(out, id)
		} else {
			delete(s.selection, id)
		}
	}
	sort.Strings(out)
	return out
}

// -- Hover --

// SetHover marks id as hovered; an empty id clears it.
func (s *State) SetHover(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hovered = id
}

// Hovered returns the hovered node id, empty when the node is gone.
func (s *State) Hovered() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hovered == "" {
		return ""
	}
	if _, ok := s.engine.Node(s.hovered); !ok {
		s.hovered = ""
	}
	return s.hovered
}

// -- Marquee --

// BeginMarquee anchors a rubber-band selection at (x, y).
func (s *State) BeginMarquee(x, y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := layout.Point{X: x, Y: y}
	s.marquee = &marqueeSession{origin: p, corner: p}
}

// MoveMarquee drags the free corner to (x, y).
func (s *State) MoveMarquee(x, y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.marquee == nil {
		return
	}
	s.marquee.corner = layout.Point{X: x, Y: y}
}

// Marquee returns the current rubber-band rectangle.
func (s *State) Marquee() (layout.Rect, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.marquee == nil {
		return layout.Rect{}, false
	}
	return s.marquee.rect(), true
}

func (m *marqueeSession) rect() layout.Rect {
	x0, x1 := m.origin.X, m.corner.X
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	y0, y1 := m.origin.Y, m.corner.Y
	if y1 < y0 {
		y0, y1 = y1, y0
	}
	return layout.Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// EndMarquee closes the rubber band and selects every node it touches.
// With additive set the touched nodes join the existing selection. The
// selected ids are returned sorted.
func (s *State) EndMarquee(additive bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.marquee == nil {
		return s.liveSelection()
	}
	band := s.marquee.rect()
	s.marquee = nil
	if !additive {
		s.selection = make(map[string]bool)
	}
	for _, n := range s.engine.Nodes() {
		if s.cfg.NodeRect(n).Intersects(band) {
			s.selection[n.ID] = true
		}
	}
	return s.liveSelection()
}

// -- Drag --

// BeginDrag starts moving the given nodes from cursor position (x, y).
// Unknown ids are ignored; false means nothing is draggable.
func (s *State) BeginDrag(ids []string, x, y float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	starts := make(map[string]layout.Point, len(ids))
	for _, id := range ids {
		if n, ok := s.engine.Node(id); ok {
			starts[id] = layout.Point{X: n.X, Y: n.Y}
		}
	}
	if len(starts) == 0 {
		return false
	}
	p := layout.Point{X: x, Y: y}
	s.drag = &dragSession{origin: p, last: p, starts: starts}
	return true
}

// MoveDrag advances the cursor. Positions shift by the cursor delta; no
// store write happens until EndDrag.
func (s *State) MoveDrag(x, y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drag == nil {
		return
	}
	s.drag.last = layout.Point{X: x, Y: y}
}

// Dragging reports whether a drag session is active.
func (s *State) Dragging() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drag != nil
}

// DragPositions returns the current dragged position per node id, for the
// renderer to overlay on the published state.
func (s *State) DragPositions() map[string]layout.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drag == nil {
		return nil
	}
	return s.drag.positions()
}

func (d *dragSession) positions() map[string]layout.Point {
	dx := d.last.X - d.origin.X
	dy := d.last.Y - d.origin.Y
	out := make(map[string]layout.Point, len(d.starts))
	for id, p := range d.starts {
		out[id] = layout.Point{X: p.X + dx, Y: p.Y + dy}
	}
	return out
}

// EndDrag commits the session as one batched write, pinning every dragged
// node at its final position, and returns how many nodes moved. The whole
// drag lands in history as a single action.
func (s *State) EndDrag(ctx context.Context) int {
	s.mu.Lock()
	if s.drag == nil {
		s.mu.Unlock()
		return 0
	}
	final := s.drag.positions()
	s.drag = nil
	s.mu.Unlock()

	moves := make([]schemas.Move, 0, len(final))
	for id, p := range final {
		moves = append(moves, schemas.Move{ID: id, X: p.X, Y: p.Y, Pinned: true})
	}
	sort.Slice(moves, func(i, j int) bool { return moves[i].ID < moves[j].ID })
	return s.engine.UpdateNodePositionsBatch(ctx, moves)
}

// CancelDrag discards the session without writing anything.
func (s *State) CancelDrag() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drag = nil
}

// -- Link draft --

// BeginLinkDraft starts drawing a link of the given type out of source.
func (s *State) BeginLinkDraft(source string, lt schemas.LinkType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.engine.Node(source)
	if !ok {
		return false
	}
	s.draft = &draftSession{
		source:   source,
		linkType: lt,
		cursor:   layout.Point{X: n.X, Y: n.Y},
	}
	return true
}

// MoveLinkDraft moves the draft's free end to the cursor.
func (s *State) MoveLinkDraft(x, y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft == nil {
		return
	}
	s.draft.cursor = layout.Point{X: x, Y: y}
}

// LinkDraft returns the draft's source id and free-end position.
func (s *State) LinkDraft() (source string, cursor layout.Point, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft == nil {
		return "", layout.Point{}, false
	}
	return s.draft.source, s.draft.cursor, true
}

// DraftTargets returns the node types the draft may legally land on, for
// highlighting drop targets.
func (s *State) DraftTargets() []schemas.NodeType {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft == nil {
		return nil
	}
	src, ok := s.engine.Node(s.draft.source)
	if !ok {
		return nil
	}
	return validation.AllowedTargets(src.Type, s.draft.linkType)
}

// CompleteLinkDraft drops the draft on target. The engine validates the
// connection; an illegal drop ends the draft with no link and no error.
func (s *State) CompleteLinkDraft(ctx context.Context, target string) (schemas.Link, bool) {
	s.mu.Lock()
	if s.draft == nil {
		s.mu.Unlock()
		return schemas.Link{}, false
	}
	source, lt := s.draft.source, s.draft.linkType
	s.draft = nil
	s.mu.Unlock()

	return s.engine.AddLink(ctx, source, target, lt)
}

// CancelLinkDraft discards the draft.
func (s *State) CancelLinkDraft() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = nil
}

// -- Live routing --

// RouteOverlay returns the polyline to draw for a link right now. While a
// drag holds either endpoint the route is computed against the dragged
// geometry; otherwise the engine's cache discipline applies.
func (s *State) RouteOverlay(linkID string) []float64 {
	s.mu.Lock()
	var dragged map[string]layout.Point
	if s.drag != nil {
		dragged = s.drag.positions()
	}
	s.mu.Unlock()

	if len(dragged) == 0 {
		return s.engine.RouteFor(linkID)
	}
	var link schemas.Link
	found := false
	for _, l := range s.engine.Links() {
		if l.ID == linkID {
			link, found = l, true
			break
		}
	}
	if !found {
		return nil
	}
	_, srcDragged := dragged[link.Source]
	_, dstDragged := dragged[link.Target]
	if !srcDragged && !dstDragged {
		return s.engine.RouteFor(linkID)
	}

	src, okS := s.engine.Node(link.Source)
	dst, okD := s.engine.Node(link.Target)
	if !okS || !okD {
		return nil
	}
	if p, ok := dragged[src.ID]; ok {
		src.X, src.Y = p.X, p.Y
	}
	if p, ok := dragged[dst.ID]; ok {
		dst.X, dst.Y = p.X, p.Y
	}
	var srcB, dstB *layout.Rect
	if src.SliceID != "" && dst.SliceID != "" && src.SliceID != dst.SliceID {
		bounds := layout.SliceBounds(s.engine.Nodes(), s.engine.Slices(), s.cfg)
		if b, ok := bounds[src.SliceID]; ok {
			srcB = &b
		}
		if b, ok := bounds[dst.SliceID]; ok {
			dstB = &b
		}
		if srcB == nil || dstB == nil {
			srcB, dstB = nil, nil
		}
	}
	return layout.RouteBetween(s.cfg.NodeRect(src), s.cfg.NodeRect(dst), srcB, dstB)
}
