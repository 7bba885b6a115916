package graphsync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/weavrhq/weavr/api/schemas"
	"github.com/weavrhq/weavr/internal/store"
)

// ReplaceAll swaps the entire model for doc: every stored record absent
// from doc is deleted and every entity in doc is written whole, one batch
// per collection, flushed in parallel. History is cleared, since the old
// model's actions cannot replay against the new one. Unlike ordinary
// mutations the store writes are load-bearing here, so their failure
// propagates. No layout pass is scheduled; imported documents carry their
// own positions.
func (e *Engine) ReplaceAll(ctx context.Context, doc schemas.Model) error {
	routesRec, err := schemas.EncodeRoutes(doc.EdgeRoutes)
	if err != nil {
		return fmt.Errorf("replacing model: %w", err)
	}

	var writes []pendingWrite
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return store.ErrClosed
	}

	nodes := make(map[string]schemas.Node, len(doc.Nodes))
	nodeRecs := make(map[string]store.Record, len(doc.Nodes))
	for _, n := range doc.Nodes {
		n := n.Clone()
		n.Normalize()
		if n.ID == "" || !n.Complete() {
			e.log.Warn("skipping incomplete node in bulk replace", zap.String("id", n.ID))
			continue
		}
		nodes[n.ID] = n
		nodeRecs[n.ID] = schemas.EncodeNode(n)
	}
	links := make(map[string]schemas.Link, len(doc.Links))
	linkRecs := make(map[string]store.Record, len(doc.Links))
	for _, l := range doc.Links {
		if l.ID == "" || !l.Complete() {
			e.log.Warn("skipping incomplete link in bulk replace", zap.String("id", l.ID))
			continue
		}
		links[l.ID] = l
		linkRecs[l.ID] = schemas.EncodeLink(l)
	}
	slices := make(map[string]schemas.Slice, len(doc.Slices))
	sliceRecs := make(map[string]store.Record, len(doc.Slices))
	for _, s := range doc.Slices {
		if s.ID == "" || !s.Complete() {
			e.log.Warn("skipping incomplete slice in bulk replace", zap.String("id", s.ID))
			continue
		}
		slices[s.ID] = s.Clone()
		sliceRecs[s.ID] = schemas.EncodeSlice(s)
	}
	defs := make(map[string]schemas.DataDefinition, len(doc.Definitions))
	defRecs := make(map[string]store.Record, len(doc.Definitions))
	for _, d := range doc.Definitions {
		if d.ID == "" || !d.Complete() {
			e.log.Warn("skipping incomplete definition in bulk replace", zap.String("id", d.ID))
			continue
		}
		defs[d.ID] = d.Clone()
		defRecs[d.ID] = schemas.EncodeDefinition(d)
	}

	e.replaceCollection(&writes, schemas.CollectionNodes, nodeRecs)
	e.replaceCollection(&writes, schemas.CollectionLinks, linkRecs)
	e.replaceCollection(&writes, schemas.CollectionSlices, sliceRecs)
	e.replaceCollection(&writes, schemas.CollectionDefinitions, defRecs)
	e.replaceCollection(&writes, schemas.CollectionRoutes, map[string]store.Record{schemas.RoutesKey: routesRec})
	e.replaceCollection(&writes, schemas.CollectionMeta, map[string]store.Record{schemas.MetaKey: schemas.EncodeMeta(doc.Meta)})

	e.nodes = nodes
	e.links = links
	e.slices = slices
	e.defs = defs
	e.routes = copyRoutes(doc.EdgeRoutes)
	e.meta = doc.Meta
	e.hist.Clear()
	e.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range writes {
		w := w
		g.Go(func() error {
			return e.handle.Collection(w.collection).PutBatch(gctx, w.batch)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("replacing model: %w", err)
	}
	e.notify()
	return nil
}

// replaceCollection stages one collection's replacement batch: deletes for
// every key the accumulator knows, overridden by the new full records.
// e.mu must be held.
func (e *Engine) replaceCollection(pw *[]pendingWrite, collection string, puts map[string]store.Record) {
	batch := make(map[string]store.Record, len(e.acc[collection])+len(puts))
	for key := range e.acc[collection] {
		batch[key] = nil
	}
	next := make(map[string]store.Record, len(puts))
	for key, rec := range puts {
		batch[key] = rec
		next[key] = rec
	}
	e.acc[collection] = next
	now := time.Now()
	for key := range batch {
		e.echo[echoKey(collection, key)] = now
	}
	*pw = append(*pw, pendingWrite{collection: collection, batch: batch})
}
