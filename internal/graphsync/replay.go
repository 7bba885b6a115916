package graphsync

import (
	"context"

	"github.com/weavrhq/weavr/api/schemas"
	"github.com/weavrhq/weavr/internal/store"
)

// replay is the non-recording mutation surface history actions run
// against. Undo and Redo construct one per call with e.mu already held;
// the methods mutate published state directly and stage their store
// writes for the caller to flush once the lock is released.
type replay struct {
	e          *Engine
	pw         []pendingWrite
	structural bool
}

// RestoreNode does not mark the replay structural; node creation is not a
// layout trigger, so neither is its replay. Restored links flag it.
func (r *replay) RestoreNode(n schemas.Node) error {
	e := r.e
	n = n.Clone()
	e.nodes[n.ID] = n
	e.stagePut(&r.pw, schemas.CollectionNodes, n.ID, schemas.EncodeNode(n))
	return nil
}

func (r *replay) DiscardNode(id string) error {
	e := r.e
	batch := make(map[string]store.Record)
	for _, l := range e.links {
		if l.Touches(id) {
			delete(e.links, l.ID)
			batch[l.ID] = nil
		}
	}
	if len(batch) > 0 {
		e.stageBatch(&r.pw, schemas.CollectionLinks, batch)
		r.structural = true
	}
	delete(e.nodes, id)
	e.stageDelete(&r.pw, schemas.CollectionNodes, id)
	return nil
}

func (r *replay) RestoreLink(l schemas.Link) error {
	e := r.e
	e.links[l.ID] = l
	e.stagePut(&r.pw, schemas.CollectionLinks, l.ID, schemas.EncodeLink(l))
	r.structural = true
	return nil
}

func (r *replay) DiscardLink(id string) error {
	e := r.e
	if _, ok := e.links[id]; !ok {
		return nil
	}
	delete(e.links, id)
	e.stageDelete(&r.pw, schemas.CollectionLinks, id)
	r.structural = true
	return nil
}

// ApplyMoves does not mark the replay structural: restoring positions must
// not schedule the layout pass that would immediately move them again.
func (r *replay) ApplyMoves(moves []schemas.Move) error {
	e := r.e
	batch := make(map[string]store.Record, len(moves))
	for _, mv := range moves {
		n, ok := e.nodes[mv.ID]
		if !ok {
			continue
		}
		n = n.Clone()
		applyMove(&n, mv)
		e.nodes[mv.ID] = n
		batch[mv.ID] = schemas.PositionRecord(n)
	}
	if len(batch) > 0 {
		e.stageBatch(&r.pw, schemas.CollectionNodes, batch)
	}
	return nil
}

func (r *replay) PatchNode(id string, p schemas.NodePatch) error {
	e := r.e
	n, ok := e.nodes[id]
	if !ok {
		return nil
	}
	n = n.Clone()
	p.Apply(&n)
	e.nodes[id] = n
	e.stagePut(&r.pw, schemas.CollectionNodes, id, p.PatchRecord(n))
	if p.Structural() {
		r.structural = true
	}
	return nil
}

func (r *replay) PatchLink(id string, p schemas.LinkPatch) error {
	e := r.e
	l, ok := e.links[id]
	if !ok {
		return nil
	}
	p.Apply(&l)
	e.links[id] = l
	e.stagePut(&r.pw, schemas.CollectionLinks, id, p.PatchRecord(l))
	return nil
}

// Undo reverses the most recent action. An empty stack is a no-op. The
// replayed writes go to the store exactly like forward mutations, echo
// stamps included.
func (e *Engine) Undo(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	r := &replay{e: e}
	err := e.hist.Undo(r)
	pw, structural := r.pw, r.structural
	e.mu.Unlock()

	e.flush(ctx, pw)
	if len(pw) > 0 {
		e.notify()
	}
	if structural {
		e.RequestLayout()
	}
	return err
}

// Redo reapplies the most recently undone action. An empty stack is a
// no-op.
func (e *Engine) Redo(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	r := &replay{e: e}
	err := e.hist.Redo(r)
	pw, structural := r.pw, r.structural
	e.mu.Unlock()

	e.flush(ctx, pw)
	if len(pw) > 0 {
		e.notify()
	}
	if structural {
		e.RequestLayout()
	}
	return err
}
