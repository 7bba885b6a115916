package graphsync

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/weavrhq/weavr/api/schemas"
	"github.com/weavrhq/weavr/internal/history"
	"github.com/weavrhq/weavr/internal/observability"
	"github.com/weavrhq/weavr/internal/store"
	"github.com/weavrhq/weavr/internal/validation"
)

// ErrDuplicateName is returned when a slice or definition is created with
// a title already taken, ignoring case and surrounding whitespace.
var ErrDuplicateName = errors.New("name already in use")

// pendingWrite is one store write staged under the engine lock and issued
// only after it is released. The store's notification pump takes the same
// lock on delivery, so writing while holding it could deadlock against a
// backed-up subscriber.
type pendingWrite struct {
	collection string
	key        string
	rec        store.Record
	batch      map[string]store.Record
}

// stagePut applies one record optimistically: accumulator merge, echo
// stamp, queued store write. e.mu must be held.
func (e *Engine) stagePut(pw *[]pendingWrite, collection, key string, rec store.Record) {
	base := e.acc[collection][key]
	if base == nil {
		base = e.publishedRecord(collection, key)
	}
	e.acc[collection][key] = schemas.MergeRecord(base, rec)
	e.echo[echoKey(collection, key)] = time.Now()
	*pw = append(*pw, pendingWrite{collection: collection, key: key, rec: rec})
}

// stageDelete queues a record deletion. e.mu must be held.
func (e *Engine) stageDelete(pw *[]pendingWrite, collection, key string) {
	delete(e.acc[collection], key)
	e.echo[echoKey(collection, key)] = time.Now()
	*pw = append(*pw, pendingWrite{collection: collection, key: key})
}

// stageBatch queues one batched write; nil records delete. e.mu must be
// held.
func (e *Engine) stageBatch(pw *[]pendingWrite, collection string, batch map[string]store.Record) {
	for key, rec := range batch {
		if rec == nil {
			delete(e.acc[collection], key)
		} else {
			base := e.acc[collection][key]
			if base == nil {
				base = e.publishedRecord(collection, key)
			}
			e.acc[collection][key] = schemas.MergeRecord(base, rec)
		}
		e.echo[echoKey(collection, key)] = time.Now()
	}
	*pw = append(*pw, pendingWrite{collection: collection, batch: batch})
}

// flush issues the staged writes with the lock released. Local state is
// already correct, so store failures are logged and absorbed rather than
// unwinding the mutation.
func (e *Engine) flush(ctx context.Context, pw []pendingWrite) {
	for _, w := range pw {
		coll := e.handle.Collection(w.collection)
		var err error
		if w.batch != nil {
			err = coll.PutBatch(ctx, w.batch)
		} else {
			err = coll.Put(ctx, w.key, w.rec)
		}
		if err != nil {
			e.log.Warn("store write failed",
				zap.String("collection", w.collection), zap.String("key", w.key), zap.Error(err))
		}
	}
}

// -- Nodes --

// AddNode creates a node of the given type at (x, y) with its default name
// and returns it. Integration events start in the external context. On a
// closed engine or unknown type the call is a no-op returning the zero
// node.
func (e *Engine) AddNode(ctx context.Context, t schemas.NodeType, x, y float64) schemas.Node {
	if !schemas.KnownNodeType(t) {
		e.log.Warn("ignoring node of unknown type", zap.String("type", string(t)))
		return schemas.Node{}
	}
	n := schemas.Node{
		ID:   uuid.NewString(),
		Type: t,
		Name: schemas.DefaultName(t),
		X:    x,
		Y:    y,
	}
	if t == schemas.NodeIntegrationEvent {
		n.Context = schemas.ContextExternal
	}
	n.Normalize()

	var pw []pendingWrite
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return schemas.Node{}
	}
	e.nodes[n.ID] = n
	e.stagePut(&pw, schemas.CollectionNodes, n.ID, schemas.EncodeNode(n))
	e.hist.Record(history.NodeAddedAction(n))
	e.mu.Unlock()

	e.flush(ctx, pw)
	e.notify()
	return n.Clone()
}

// UpdateNode applies a partial update to one node. Renames and slice
// (re)assignments schedule a layout pass. Returns false when the node is
// unknown or the patch is empty.
func (e *Engine) UpdateNode(ctx context.Context, id string, patch schemas.NodePatch) bool {
	if patch.IsZero() {
		return false
	}
	var pw []pendingWrite
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	n, ok := e.nodes[id]
	if !ok {
		e.mu.Unlock()
		return false
	}
	n = n.Clone()
	inverse := patch.Apply(&n)
	e.nodes[id] = n
	e.stagePut(&pw, schemas.CollectionNodes, id, patch.PatchRecord(n))
	e.hist.Record(history.NodeUpdatedAction(id, inverse, patch))
	structural := patch.Structural()
	e.mu.Unlock()

	e.flush(ctx, pw)
	e.notify()
	if structural {
		e.RequestLayout()
	}
	return true
}

// DeleteNode removes a node and every link touching it in one action, so a
// single undo restores all of it.
func (e *Engine) DeleteNode(ctx context.Context, id string) bool {
	var pw []pendingWrite
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	n, ok := e.nodes[id]
	if !ok {
		e.mu.Unlock()
		return false
	}
	var touching []schemas.Link
	for _, l := range e.links {
		if l.Touches(id) {
			touching = append(touching, l)
		}
	}
	sort.Slice(touching, func(i, j int) bool { return touching[i].ID < touching[j].ID })
	if len(touching) > 0 {
		batch := make(map[string]store.Record, len(touching))
		for _, l := range touching {
			delete(e.links, l.ID)
			batch[l.ID] = nil
		}
		e.stageBatch(&pw, schemas.CollectionLinks, batch)
	}
	delete(e.nodes, id)
	e.stageDelete(&pw, schemas.CollectionNodes, id)
	e.hist.Record(history.NodeDeletedAction(n, touching))
	structural := len(touching) > 0
	e.mu.Unlock()

	e.flush(ctx, pw)
	e.notify()
	if structural {
		e.RequestLayout()
	}
	return true
}

// -- Links --

// AddLink connects two existing nodes. Connections the grammar rejects are
// dropped without error; the rejection is counted. When exactly one
// endpoint belongs to a slice the other is pulled into it as part of the
// same gesture.
func (e *Engine) AddLink(ctx context.Context, sourceID, targetID string, lt schemas.LinkType) (schemas.Link, bool) {
	var pw []pendingWrite
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return schemas.Link{}, false
	}
	src, okS := e.nodes[sourceID]
	dst, okD := e.nodes[targetID]
	if !okS || !okD || sourceID == targetID || !validation.IsValidConnection(src, dst, lt) {
		e.mu.Unlock()
		observability.RejectedConnections.Inc()
		e.log.Debug("rejected connection",
			zap.String("source", sourceID), zap.String("target", targetID), zap.String("type", string(lt)))
		return schemas.Link{}, false
	}

	if src.SliceID != "" && dst.SliceID == "" {
		e.assignSlice(&pw, targetID, src.SliceID)
	} else if dst.SliceID != "" && src.SliceID == "" {
		e.assignSlice(&pw, sourceID, dst.SliceID)
	}

	l := schemas.Link{ID: uuid.NewString(), Source: sourceID, Target: targetID, Type: lt}
	e.links[l.ID] = l
	e.stagePut(&pw, schemas.CollectionLinks, l.ID, schemas.EncodeLink(l))
	e.hist.Record(history.LinkAddedAction(l))
	e.mu.Unlock()

	e.flush(ctx, pw)
	e.notify()
	e.RequestLayout()
	return l, true
}

// assignSlice pulls a node into a slice through the internal write path:
// no history entry of its own, so the surrounding gesture stays one
// action. e.mu must be held.
func (e *Engine) assignSlice(pw *[]pendingWrite, nodeID, sliceID string) {
	n, ok := e.nodes[nodeID]
	if !ok {
		return
	}
	n = n.Clone()
	n.SliceID = sliceID
	e.nodes[nodeID] = n
	e.stagePut(pw, schemas.CollectionNodes, nodeID, store.Record{"sliceId": sliceID})
}

// UpdateLink applies a partial update to one link.
func (e *Engine) UpdateLink(ctx context.Context, id string, patch schemas.LinkPatch) bool {
	if patch.IsZero() {
		return false
	}
	var pw []pendingWrite
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	l, ok := e.links[id]
	if !ok {
		e.mu.Unlock()
		return false
	}
	inverse := patch.Apply(&l)
	e.links[id] = l
	e.stagePut(&pw, schemas.CollectionLinks, id, patch.PatchRecord(l))
	e.hist.Record(history.LinkUpdatedAction(id, inverse, patch))
	e.mu.Unlock()

	e.flush(ctx, pw)
	e.notify()
	return true
}

// DeleteLink removes one link and schedules a layout pass.
func (e *Engine) DeleteLink(ctx context.Context, id string) bool {
	var pw []pendingWrite
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	l, ok := e.links[id]
	if !ok {
		e.mu.Unlock()
		return false
	}
	delete(e.links, id)
	e.stageDelete(&pw, schemas.CollectionLinks, id)
	e.hist.Record(history.LinkDeletedAction(l))
	e.mu.Unlock()

	e.flush(ctx, pw)
	e.notify()
	e.RequestLayout()
	return true
}

// -- Positions --

// UpdateNodePosition moves one node, pinning it at the new position when
// pinned is true. Position changes never schedule layout.
func (e *Engine) UpdateNodePosition(ctx context.Context, id string, x, y float64, pinned bool) bool {
	return e.UpdateNodePositionsBatch(ctx, []schemas.Move{{ID: id, X: x, Y: y, Pinned: pinned}}) == 1
}

// UpdateNodePositionsBatch applies many moves as one store write and one
// history action. Unknown ids and sub-threshold moves are skipped; the
// number of applied moves is returned.
func (e *Engine) UpdateNodePositionsBatch(ctx context.Context, moves []schemas.Move) int {
	var pw []pendingWrite
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0
	}
	batch := make(map[string]store.Record, len(moves))
	var before, after []schemas.Move
	for _, mv := range moves {
		n, ok := e.nodes[mv.ID]
		if !ok {
			continue
		}
		if _, dup := batch[mv.ID]; dup {
			continue
		}
		if n.Pinned == mv.Pinned && math.Hypot(n.X-mv.X, n.Y-mv.Y) < e.layoutCfg.MinMove {
			continue
		}
		n = n.Clone()
		before = append(before, schemas.MoveOf(n))
		applyMove(&n, mv)
		e.nodes[mv.ID] = n
		after = append(after, schemas.MoveOf(n))
		batch[mv.ID] = schemas.PositionRecord(n)
	}
	if len(batch) == 0 {
		e.mu.Unlock()
		return 0
	}
	e.stageBatch(&pw, schemas.CollectionNodes, batch)
	if len(batch) == 1 {
		e.hist.Record(history.NodeMovedAction(before[0], after[0]))
	} else {
		e.hist.Record(history.BatchMoveAction(before, after))
	}
	applied := len(batch)
	e.mu.Unlock()

	e.flush(ctx, pw)
	e.notify()
	return applied
}

// applyMove writes a move onto a node, deriving the pin anchor from the
// target position unless the move carries its own.
func applyMove(n *schemas.Node, mv schemas.Move) {
	if mv.Pinned {
		if mv.FX == nil {
			fx := mv.X
			mv.FX = &fx
		}
		if mv.FY == nil {
			fy := mv.Y
			mv.FY = &fy
		}
	}
	mv.ApplyTo(n)
}

// UnpinNode releases one node back to the layout engine. The fx/fy fields
// are written as explicit nulls so every replica drops the anchor.
func (e *Engine) UnpinNode(ctx context.Context, id string) bool {
	var pw []pendingWrite
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	n, ok := e.nodes[id]
	if !ok || !n.Pinned {
		e.mu.Unlock()
		return false
	}
	n = n.Clone()
	before := schemas.MoveOf(n)
	n.Pinned = false
	n.FX, n.FY = nil, nil
	e.nodes[id] = n
	e.stagePut(&pw, schemas.CollectionNodes, id, schemas.PositionRecord(n))
	e.hist.Record(history.NodeMovedAction(before, schemas.MoveOf(n)))
	e.mu.Unlock()

	e.flush(ctx, pw)
	e.notify()
	return true
}

// UnpinAllNodes releases every pinned node in one batch and returns how
// many were released.
func (e *Engine) UnpinAllNodes(ctx context.Context) int {
	var pw []pendingWrite
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0
	}
	var before, after []schemas.Move
	batch := make(map[string]store.Record)
	var ids []string
	for id, n := range e.nodes {
		if n.Pinned {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		n := e.nodes[id].Clone()
		before = append(before, schemas.MoveOf(n))
		n.Pinned = false
		n.FX, n.FY = nil, nil
		e.nodes[id] = n
		after = append(after, schemas.MoveOf(n))
		batch[id] = schemas.PositionRecord(n)
	}
	if len(batch) == 0 {
		e.mu.Unlock()
		return 0
	}
	e.stageBatch(&pw, schemas.CollectionNodes, batch)
	e.hist.Record(history.BatchMoveAction(before, after))
	released := len(batch)
	e.mu.Unlock()

	e.flush(ctx, pw)
	e.notify()
	return released
}

// -- Slices --

// AddSlice creates a vertical slice at the end of the band order. The
// title must be unique among existing slices, compared case-insensitively;
// a clash surfaces synchronously as ErrDuplicateName.
func (e *Engine) AddSlice(ctx context.Context, title string) (schemas.Slice, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return schemas.Slice{}, fmt.Errorf("graphsync: slice title is required")
	}
	var pw []pendingWrite
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return schemas.Slice{}, nil
	}
	for _, s := range e.slices {
		if strings.EqualFold(strings.TrimSpace(s.Title), title) {
			e.mu.Unlock()
			return schemas.Slice{}, fmt.Errorf("slice %q: %w", title, ErrDuplicateName)
		}
	}
	order := 0
	for _, s := range e.slices {
		if s.Order >= order {
			order = s.Order + 1
		}
	}
	s := schemas.Slice{ID: uuid.NewString(), Title: title, SliceType: schemas.SliceStateChange, Order: order}
	e.slices[s.ID] = s
	e.stagePut(&pw, schemas.CollectionSlices, s.ID, schemas.EncodeSlice(s))
	e.mu.Unlock()

	e.flush(ctx, pw)
	e.notify()
	return s.Clone(), nil
}

// UpdateSlice applies a partial update to one slice. Renaming onto an
// existing title is allowed; only creation enforces uniqueness. Reordering
// moves every band, so it schedules a layout pass.
func (e *Engine) UpdateSlice(ctx context.Context, id string, patch schemas.SlicePatch) bool {
	if patch.IsZero() {
		return false
	}
	var pw []pendingWrite
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	s, ok := e.slices[id]
	if !ok {
		e.mu.Unlock()
		return false
	}
	s = s.Clone()
	patch.Apply(&s)
	e.slices[id] = s
	e.stagePut(&pw, schemas.CollectionSlices, id, patch.PatchRecord(s))
	structural := patch.Order.IsSet()
	e.mu.Unlock()

	e.flush(ctx, pw)
	e.notify()
	if structural {
		e.RequestLayout()
	}
	return true
}

// DeleteSlice removes a slice and releases its member nodes to the
// unsliced pool. Slice deletion is not undoable.
func (e *Engine) DeleteSlice(ctx context.Context, id string) bool {
	var pw []pendingWrite
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	if _, ok := e.slices[id]; !ok {
		e.mu.Unlock()
		return false
	}
	var members []string
	for nid, n := range e.nodes {
		if n.SliceID == id {
			members = append(members, nid)
		}
	}
	sort.Strings(members)
	if len(members) > 0 {
		batch := make(map[string]store.Record, len(members))
		for _, nid := range members {
			n := e.nodes[nid].Clone()
			n.SliceID = ""
			e.nodes[nid] = n
			batch[nid] = store.Record{"sliceId": nil}
		}
		e.stageBatch(&pw, schemas.CollectionNodes, batch)
	}
	delete(e.slices, id)
	e.stageDelete(&pw, schemas.CollectionSlices, id)
	structural := len(members) > 0
	e.mu.Unlock()

	e.flush(ctx, pw)
	e.notify()
	if structural {
		e.RequestLayout()
	}
	return true
}

// -- Definitions --

// AddDefinition creates a data definition. Names must be unique among
// existing definitions, compared case-insensitively; a clash surfaces
// synchronously as ErrDuplicateName.
func (e *Engine) AddDefinition(ctx context.Context, name string, dt schemas.DefinitionType) (schemas.DataDefinition, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return schemas.DataDefinition{}, fmt.Errorf("graphsync: definition name is required")
	}
	var pw []pendingWrite
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return schemas.DataDefinition{}, nil
	}
	for _, d := range e.defs {
		if strings.EqualFold(strings.TrimSpace(d.Name), name) {
			e.mu.Unlock()
			return schemas.DataDefinition{}, fmt.Errorf("definition %q: %w", name, ErrDuplicateName)
		}
	}
	d := schemas.DataDefinition{ID: uuid.NewString(), Name: name, Type: dt}
	e.defs[d.ID] = d
	e.stagePut(&pw, schemas.CollectionDefinitions, d.ID, schemas.EncodeDefinition(d))
	e.mu.Unlock()

	e.flush(ctx, pw)
	e.notify()
	return d.Clone(), nil
}

// UpdateDefinition applies a partial update to one definition.
func (e *Engine) UpdateDefinition(ctx context.Context, id string, patch schemas.DefinitionPatch) bool {
	if patch.IsZero() {
		return false
	}
	var pw []pendingWrite
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	d, ok := e.defs[id]
	if !ok {
		e.mu.Unlock()
		return false
	}
	d = d.Clone()
	patch.Apply(&d)
	e.defs[id] = d
	e.stagePut(&pw, schemas.CollectionDefinitions, id, patch.PatchRecord(d))
	e.mu.Unlock()

	e.flush(ctx, pw)
	e.notify()
	return true
}

// DeleteDefinition removes one definition. Nodes referencing it keep the
// dangling id; renderers treat unknown references as absent.
func (e *Engine) DeleteDefinition(ctx context.Context, id string) bool {
	var pw []pendingWrite
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	if _, ok := e.defs[id]; !ok {
		e.mu.Unlock()
		return false
	}
	delete(e.defs, id)
	e.stageDelete(&pw, schemas.CollectionDefinitions, id)
	e.mu.Unlock()

	e.flush(ctx, pw)
	e.notify()
	return true
}

// -- Scalars --

// UpdateEdgeRoutes replaces the shared route cache wholesale.
func (e *Engine) UpdateEdgeRoutes(ctx context.Context, routes map[string][]float64) bool {
	rec, err := schemas.EncodeRoutes(routes)
	if err != nil {
		e.log.Warn("encoding edge routes failed", zap.Error(err))
		return false
	}
	var pw []pendingWrite
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.routes = copyRoutes(routes)
	e.stagePut(&pw, schemas.CollectionRoutes, schemas.RoutesKey, rec)
	e.mu.Unlock()

	e.flush(ctx, pw)
	e.notify()
	return true
}

// UpdateMeta renames the model.
func (e *Engine) UpdateMeta(ctx context.Context, title string) bool {
	var pw []pendingWrite
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.meta.Title = title
	e.stagePut(&pw, schemas.CollectionMeta, schemas.MetaKey, schemas.EncodeMeta(e.meta))
	e.mu.Unlock()

	e.flush(ctx, pw)
	e.notify()
	return true
}
