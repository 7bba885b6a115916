package graphsync

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/weavrhq/weavr/api/schemas"
	"github.com/weavrhq/weavr/internal/history"
	"github.com/weavrhq/weavr/internal/layout"
	"github.com/weavrhq/weavr/internal/observability"
	"github.com/weavrhq/weavr/internal/store"
)

// RequestLayout schedules a debounced layout pass. Structural mutations
// call this internally; callers use it to force a pass, typically after
// unpinning.
func (e *Engine) RequestLayout() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.layoutReq++
	e.mu.Unlock()
	e.layoutDeb.Trigger()
}

// runLayout executes one layout pass on the debounce goroutine. The
// request counter fences the pass: a snapshot is taken under the lock,
// positions are solved outside it, and the result is discarded if newer
// requests arrived while solving.
func (e *Engine) runLayout() {
	e.mu.Lock()
	if e.closed || e.layoutReq == e.layoutHandled {
		e.mu.Unlock()
		return
	}
	req := e.layoutReq
	nodes := e.nodeList()
	links := e.linkList()
	slices := e.sliceList()
	e.mu.Unlock()

	start := time.Now()
	res, err := layout.Compute(nodes, links, slices, e.layoutCfg)
	if err != nil {
		e.log.Warn("layout pass failed", zap.Error(err))
		observability.LayoutFailures.Inc()
		return
	}

	var pw []pendingWrite
	e.mu.Lock()
	if e.closed || e.layoutReq != req {
		e.mu.Unlock()
		return
	}
	e.layoutHandled = req

	var before, after []schemas.Move
	batch := make(map[string]store.Record, len(res.Positions))
	for _, n := range e.nodeList() {
		pt, ok := res.Positions[n.ID]
		if !ok || n.Pinned {
			continue
		}
		if math.Hypot(n.X-pt.X, n.Y-pt.Y) < e.layoutCfg.MinMove {
			continue
		}
		moved := n.Clone()
		before = append(before, schemas.MoveOf(moved))
		moved.X, moved.Y = pt.X, pt.Y
		e.nodes[n.ID] = moved
		after = append(after, schemas.MoveOf(moved))
		batch[n.ID] = schemas.PositionRecord(moved)
	}
	if len(batch) > 0 {
		e.stageBatch(&pw, schemas.CollectionNodes, batch)
		e.hist.Record(history.BatchMoveAction(before, after))
	}
	if rec, err := schemas.EncodeRoutes(res.Routes); err == nil {
		e.routes = res.Routes
		e.stagePut(&pw, schemas.CollectionRoutes, schemas.RoutesKey, rec)
	}
	e.mu.Unlock()

	e.flush(context.Background(), pw)
	observability.LayoutPasses.Inc()
	observability.LayoutDuration.Observe(time.Since(start).Seconds())
	e.notify()
}
