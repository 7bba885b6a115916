// Package graphsync maintains a consistent, locally mutable mirror of a
// remotely shared event model. It subscribes to the per-field store, merges
// partial and conflicting updates through per-collection accumulators,
// publishes debounced snapshots, cancels the echoes of its own writes, and
// exposes the full mutation surface with optimistic read-after-write
// semantics, linear undo/redo, and deterministic auto-layout scheduling.
package graphsync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/weavrhq/weavr/api/schemas"
	"github.com/weavrhq/weavr/internal/config"
	"github.com/weavrhq/weavr/internal/history"
	"github.com/weavrhq/weavr/internal/layout"
	"github.com/weavrhq/weavr/internal/observability"
	"github.com/weavrhq/weavr/internal/store"
)

// watchedCollections is every collection the engine mirrors for a model.
var watchedCollections = []string{
	schemas.CollectionNodes,
	schemas.CollectionLinks,
	schemas.CollectionSlices,
	schemas.CollectionDefinitions,
	schemas.CollectionRoutes,
	schemas.CollectionMeta,
}

// Engine is the synchronization core for one model. All mutable state is
// engine-private and guarded by mu; external interaction goes through the
// exported operations only.
type Engine struct {
	log       *zap.Logger
	syncCfg   config.SyncConfig
	layoutCfg layout.Config

	handle  store.Handle
	modelID string

	mu   sync.Mutex
	acc  map[string]map[string]store.Record
	echo map[string]time.Time

	nodes  map[string]schemas.Node
	links  map[string]schemas.Link
	slices map[string]schemas.Slice
	defs   map[string]schemas.DataDefinition
	routes map[string][]float64
	meta   schemas.Meta

	ready  bool
	closed bool

	hist *history.Manager

	layoutReq     uint64
	layoutHandled uint64

	subs       []store.Subscription
	publishers map[string]*debounced
	layoutDeb  *debounced
	changes    chan struct{}
}

// Open connects an engine to one model: it subscribes to every collection,
// primes the accumulators with a full read, and materializes the published
// state. The engine is ready when Open returns. The client's lifecycle
// stays with the caller; Close releases only the engine's subscriptions.
func Open(ctx context.Context, client store.Client, modelID string, cfg *config.Config, log *zap.Logger) (*Engine, error) {
	if modelID == "" {
		return nil, fmt.Errorf("graphsync: model id is required")
	}
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}

	e := &Engine{
		log:       log.With(zap.String("model", modelID)),
		syncCfg:   cfg.Sync,
		layoutCfg: layoutConfigFrom(cfg.Layout),
		handle:    client.Model(modelID),
		modelID:   modelID,
		acc:       make(map[string]map[string]store.Record, len(watchedCollections)),
		echo:      make(map[string]time.Time),
		nodes:     make(map[string]schemas.Node),
		links:     make(map[string]schemas.Link),
		slices:    make(map[string]schemas.Slice),
		defs:      make(map[string]schemas.DataDefinition),
		routes:    make(map[string][]float64),
		hist:      history.NewManager(0, log),
		changes:   make(chan struct{}, 1),
	}
	for _, coll := range watchedCollections {
		e.acc[coll] = make(map[string]store.Record)
	}

	e.layoutDeb = newDebounced(cfg.Sync.LayoutDebounce, e.runLayout)
	e.publishers = make(map[string]*debounced, len(watchedCollections))
	for _, coll := range watchedCollections {
		coll := coll
		e.publishers[coll] = newDebounced(cfg.Sync.PublishDebounce, func() { e.publish(coll) })
	}

	// Subscribe before the priming read so nothing written in between is
	// missed; updates arriving during the read overlay the snapshot.
	for _, coll := range watchedCollections {
		e.subs = append(e.subs, e.handle.Collection(coll).On(e.onRemote(coll)))
	}

	if err := e.prime(ctx); err != nil {
		e.Close()
		return nil, err
	}

	e.mu.Lock()
	e.ready = true
	hasNodes := len(e.nodes) > 0
	e.mu.Unlock()
	e.notify()

	// First non-empty load is a structural trigger.
	if hasNodes {
		e.RequestLayout()
	}
	return e, nil
}

// Close cancels every subscription and pending timer. Safe to call more
// than once. In-flight callbacks drain against the closed flag.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	subs := e.subs
	e.subs = nil
	e.mu.Unlock()

	for _, sub := range subs {
		sub.Off()
	}
	for _, p := range e.publishers {
		p.Stop()
	}
	e.layoutDeb.Stop()
}

// prime reads every collection's merged state into the accumulators and
// materializes the published maps. Malformed stored records are dropped
// with a warning.
func (e *Engine) prime(ctx context.Context) error {
	for _, coll := range watchedCollections {
		recs, err := e.handle.Collection(coll).Read(ctx)
		if err != nil {
			return fmt.Errorf("priming %s: %w", coll, err)
		}
		e.mu.Lock()
		for key, rec := range recs {
			if err := schemas.CheckFields(coll, rec); err != nil {
				e.log.Warn("dropping malformed stored record",
					zap.String("collection", coll), zap.String("key", key), zap.Error(err))
				observability.MalformedRecords.WithLabelValues(coll).Inc()
				continue
			}
			// Subscription updates that raced ahead of the read win.
			e.acc[coll][key] = schemas.MergeRecord(rec, e.acc[coll][key])
		}
		e.rebuild(coll)
		e.mu.Unlock()
	}
	return nil
}

// onRemote returns the subscription callback for one collection: echo
// check, malformed-record gate, accumulator merge, debounced publication.
func (e *Engine) onRemote(collection string) store.Callback {
	return func(rec store.Record, key string) {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return
		}
		ek := echoKey(collection, key)
		if stamp, ok := e.echo[ek]; ok {
			if time.Since(stamp) < e.syncCfg.EchoWindow {
				e.mu.Unlock()
				observability.EchoesSuppressed.WithLabelValues(collection).Inc()
				return
			}
			delete(e.echo, ek)
		}
		if rec == nil {
			delete(e.acc[collection], key)
		} else {
			if err := schemas.CheckFields(collection, rec); err != nil {
				e.mu.Unlock()
				e.log.Warn("dropping malformed remote record",
					zap.String("collection", collection), zap.String("key", key), zap.Error(err))
				observability.MalformedRecords.WithLabelValues(collection).Inc()
				return
			}
			base := e.acc[collection][key]
			if base == nil {
				// The accumulator can lag an optimistic local write; the
				// published entity is the fallback merge base.
				base = e.publishedRecord(collection, key)
			}
			e.acc[collection][key] = schemas.MergeRecord(base, rec)
		}
		e.mu.Unlock()
		e.publishers[collection].Trigger()
	}
}

// publish materializes one collection from its accumulator after the
// debounce quiet period.
func (e *Engine) publish(collection string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.rebuild(collection)
	e.mu.Unlock()
	e.notify()
}

// rebuild replaces one published collection from the accumulator, holding
// back records that do not yet satisfy their completeness predicate.
// e.mu must be held.
func (e *Engine) rebuild(collection string) {
	switch collection {
	case schemas.CollectionNodes:
		next := make(map[string]schemas.Node, len(e.acc[collection]))
		for key, rec := range e.acc[collection] {
			n, err := schemas.DecodeNode(key, rec)
			if err != nil || !n.Complete() {
				continue
			}
			next[key] = n
		}
		e.nodes = next
	case schemas.CollectionLinks:
		next := make(map[string]schemas.Link, len(e.acc[collection]))
		for key, rec := range e.acc[collection] {
			l, err := schemas.DecodeLink(key, rec)
			if err != nil || !l.Complete() {
				continue
			}
			next[key] = l
		}
		e.links = next
	case schemas.CollectionSlices:
		next := make(map[string]schemas.Slice, len(e.acc[collection]))
		for key, rec := range e.acc[collection] {
			s, err := schemas.DecodeSlice(key, rec)
			if err != nil || !s.Complete() {
				continue
			}
			next[key] = s
		}
		e.slices = next
	case schemas.CollectionDefinitions:
		next := make(map[string]schemas.DataDefinition, len(e.acc[collection]))
		for key, rec := range e.acc[collection] {
			d, err := schemas.DecodeDefinition(key, rec)
			if err != nil || !d.Complete() {
				continue
			}
			next[key] = d
		}
		e.defs = next
	case schemas.CollectionRoutes:
		if rec, ok := e.acc[collection][schemas.RoutesKey]; ok {
			if routes, err := schemas.DecodeRoutes(rec); err == nil {
				e.routes = routes
			}
		} else {
			e.routes = make(map[string][]float64)
		}
	case schemas.CollectionMeta:
		if rec, ok := e.acc[collection][schemas.MetaKey]; ok {
			if m, err := schemas.DecodeMeta(rec); err == nil {
				e.meta = m
			}
		} else {
			e.meta = schemas.Meta{}
		}
	}
}

// publishedRecord re-encodes a published entity as its wire record, the
// merge base for partials whose accumulator entry is missing. e.mu must be
// held.
func (e *Engine) publishedRecord(collection, key string) store.Record {
	switch collection {
	case schemas.CollectionNodes:
		if n, ok := e.nodes[key]; ok {
			return schemas.EncodeNode(n)
		}
	case schemas.CollectionLinks:
		if l, ok := e.links[key]; ok {
			return schemas.EncodeLink(l)
		}
	case schemas.CollectionSlices:
		if s, ok := e.slices[key]; ok {
			return schemas.EncodeSlice(s)
		}
	case schemas.CollectionDefinitions:
		if d, ok := e.defs[key]; ok {
			return schemas.EncodeDefinition(d)
		}
	}
	return nil
}

// notify signals the change channel without blocking; pending signals
// coalesce.
func (e *Engine) notify() {
	select {
	case e.changes <- struct{}{}:
	default:
	}
}

func echoKey(collection, key string) string {
	return collection + "/" + key
}

func layoutConfigFrom(lc config.LayoutConfig) layout.Config {
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

// -- Reads --

// LayoutConfig returns the grid geometry the engine lays out with, for
// overlays that must measure nodes the same way.
func (e *Engine) LayoutConfig() layout.Config { return e.layoutCfg }

// IsReady reports whether the initial priming read has completed.
func (e *Engine) IsReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

// Changes returns a coalesced notification channel that receives after
// every publication or local mutation. One consumer per engine.
func (e *Engine) Changes() <-chan struct{} { return e.changes }

// Nodes returns the published nodes sorted by id. The slice and its
// entries are the caller's to keep.
func (e *Engine) Nodes() []schemas.Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]schemas.Node, 0, len(e.nodes))
	for _, n := range e.nodes {
		out = append(out, n.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Node returns one published node by id.
func (e *Engine) Node(id string) (schemas.Node, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.nodes[id]
	if !ok {
		return schemas.Node{}, false
	}
	return n.Clone(), true
}

// Links returns the published links sorted by id.
func (e *Engine) Links() []schemas.Link {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]schemas.Link, 0, len(e.links))
	for _, l := range e.links {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Slices returns the published slices in band order.
func (e *Engine) Slices() []schemas.Slice {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]schemas.Slice, 0, len(e.slices))
	for _, s := range e.slices {
		out = append(out, s.Clone())
	}
	return layout.OrderedSlices(out)
}

// Definitions returns the published data definitions sorted by id.
func (e *Engine) Definitions() []schemas.DataDefinition {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]schemas.DataDefinition, 0, len(e.defs))
	for _, d := range e.defs {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// EdgeRoutes returns a copy of the published route cache.
func (e *Engine) EdgeRoutes() map[string][]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyRoutes(e.routes)
}

// Meta returns the model metadata scalar.
func (e *Engine) Meta() schemas.Meta {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.meta
}

// RouteFor returns the polyline for one link. The cached route is served
// unless either endpoint is pinned; a pinned endpoint may be mid-drag, so
// its routes are computed fresh instead of trusting the cache.
func (e *Engine) RouteFor(linkID string) []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.links[linkID]
	if !ok {
		return nil
	}
	src, okS := e.nodes[l.Source]
	dst, okD := e.nodes[l.Target]
	if !okS || !okD {
		return nil
	}
	if !src.Pinned && !dst.Pinned {
		if r, ok := e.routes[linkID]; ok {
			return append([]float64(nil), r...)
		}
	}

	var srcB, dstB *layout.Rect
	if src.SliceID != "" && dst.SliceID != "" && src.SliceID != dst.SliceID {
		bounds := layout.SliceBounds(e.nodeList(), e.sliceList(), e.layoutCfg)
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
	return layout.RouteBetween(e.layoutCfg.NodeRect(src), e.layoutCfg.NodeRect(dst), srcB, dstB)
}

// Snapshot assembles the whole published model under one lock, the
// consistent view exports are built from.
func (e *Engine) Snapshot() schemas.Model {
	e.mu.Lock()
	defer e.mu.Unlock()
	m := schemas.Model{
		Nodes:       make([]schemas.Node, 0, len(e.nodes)),
		Links:       make([]schemas.Link, 0, len(e.links)),
		Slices:      make([]schemas.Slice, 0, len(e.slices)),
		Definitions: make([]schemas.DataDefinition, 0, len(e.defs)),
		EdgeRoutes:  copyRoutes(e.routes),
		Meta:        e.meta,
	}
	for _, n := range e.nodes {
		m.Nodes = append(m.Nodes, n.Clone())
	}
	sort.Slice(m.Nodes, func(i, j int) bool { return m.Nodes[i].ID < m.Nodes[j].ID })
	for _, l := range e.links {
		m.Links = append(m.Links, l)
	}
	sort.Slice(m.Links, func(i, j int) bool { return m.Links[i].ID < m.Links[j].ID })
	for _, s := range e.slices {
		m.Slices = append(m.Slices, s.Clone())
	}
	m.Slices = layout.OrderedSlices(m.Slices)
	for _, d := range e.defs {
		m.Definitions = append(m.Definitions, d.Clone())
	}
	sort.Slice(m.Definitions, func(i, j int) bool { return m.Definitions[i].ID < m.Definitions[j].ID })
	return m
}

// CanUndo reports whether an action is available to undo.
func (e *Engine) CanUndo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hist.CanUndo()
}

// CanRedo reports whether an undone action can be reapplied.
func (e *Engine) CanRedo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hist.CanRedo()
}

// nodeList returns the published nodes unsorted and uncloned, for
// layout-internal use only. e.mu must be held.
func (e *Engine) nodeList() []schemas.Node {
	out := make([]schemas.Node, 0, len(e.nodes))
	for _, n := range e.nodes {
		out = append(out, n)
	}
	return out
}

// linkList returns the published links unsorted. e.mu must be held.
func (e *Engine) linkList() []schemas.Link {
	out := make([]schemas.Link, 0, len(e.links))
	for _, l := range e.links {
		out = append(out, l)
	}
	return out
}

// sliceList returns the published slices unsorted. e.mu must be held.
func (e *Engine) sliceList() []schemas.Slice {
	out := make([]schemas.Slice, 0, len(e.slices))
	for _, s := range e.slices {
		out = append(out, s)
	}
	return out
}

func copyRoutes(routes map[string][]float64) map[string][]float64 {
	out := make(map[string][]float64, len(routes))
	for id, r := range routes {
		out[id] = append([]float64(nil), r...)
	}
	return out
}
