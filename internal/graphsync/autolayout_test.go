package graphsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavrhq/weavr/api/schemas"
	"github.com/weavrhq/weavr/internal/store"
)

func TestAutoLayout(t *testing.T) {
	ctx := context.Background()

	t.Run("should run after link creation and cache routes", func(t *testing.T) {
		mem := store.NewMemory()
		defer mem.Close()
		e := openTestEngine(t, mem, "m1")

		scr := e.AddNode(ctx, schemas.NodeScreen, 900, 900)
		cmd := e.AddNode(ctx, schemas.NodeCommand, 901, 901)
		l, ok := e.AddLink(ctx, scr.ID, cmd.ID, schemas.LinkFlow)
		require.True(t, ok)

		require.Eventually(t, func() bool {
			a, okA := e.Node(scr.ID)
			b, okB := e.Node(cmd.ID)
			return okA && okB && a.X == 0 && a.Y == 100 && b.X == 250 && b.Y == 100
		}, waitFor, tick)

		require.Eventually(t, func() bool {
			return len(e.EdgeRoutes()[l.ID]) > 0
		}, waitFor, tick)
		assert.Equal(t, []float64{200, 160, 250, 160}, e.RouteFor(l.ID))

		recs, err := mem.Model("m1").Collection(schemas.CollectionRoutes).Read(ctx)
		require.NoError(t, err)
		assert.Contains(t, recs, schemas.RoutesKey)
	})

	t.Run("should not run on position changes", func(t *testing.T) {
		mem := store.NewMemory()
		defer mem.Close()
		e := openTestEngine(t, mem, "m1")

		scr := e.AddNode(ctx, schemas.NodeScreen, 900, 900)
		cmd := e.AddNode(ctx, schemas.NodeCommand, 901, 901)
		_, ok := e.AddLink(ctx, scr.ID, cmd.ID, schemas.LinkFlow)
		require.True(t, ok)
		require.Eventually(t, func() bool {
			a, _ := e.Node(scr.ID)
			return a.X == 0 && a.Y == 100
		}, waitFor, tick)

		require.True(t, e.UpdateNodePosition(ctx, scr.ID, 999, 888, false))
		time.Sleep(120 * time.Millisecond)
		got, _ := e.Node(scr.ID)
		assert.Equal(t, 999.0, got.X, "a drag must not wake the layout engine")
		assert.Equal(t, 888.0, got.Y)
	})

	t.Run("should run after a rename", func(t *testing.T) {
		mem := store.NewMemory()
		defer mem.Close()
		e := openTestEngine(t, mem, "m1")

		scr := e.AddNode(ctx, schemas.NodeScreen, 900, 900)
		require.True(t, e.UpdateNode(ctx, scr.ID, schemas.NodePatch{Name: schemas.OptOf("Cart")}))
		require.Eventually(t, func() bool {
			got, _ := e.Node(scr.ID)
			return got.X == 0 && got.Y == 100
		}, waitFor, tick)
	})

	t.Run("should treat pins as constraints", func(t *testing.T) {
		mem := store.NewMemory()
		defer mem.Close()
		e := openTestEngine(t, mem, "m1")

		scr := e.AddNode(ctx, schemas.NodeScreen, 900, 900)
		cmd := e.AddNode(ctx, schemas.NodeCommand, 901, 901)
		evt := e.AddNode(ctx, schemas.NodeDomainEvent, 902, 902)
		require.True(t, e.UpdateNodePosition(ctx, evt.ID, 47, 777, true))

		_, ok := e.AddLink(ctx, scr.ID, cmd.ID, schemas.LinkFlow)
		require.True(t, ok)
		require.Eventually(t, func() bool {
			a, _ := e.Node(scr.ID)
			b, _ := e.Node(cmd.ID)
			return a.X == 0 && a.Y == 100 && b.X == 250 && b.Y == 100
		}, waitFor, tick)

		got, _ := e.Node(evt.ID)
		assert.Equal(t, 47.0, got.X, "pinned nodes never move")
		assert.Equal(t, 777.0, got.Y)
		assert.True(t, got.Pinned)

		// Released nodes flow back onto the grid on the next requested pass.
		require.True(t, e.UnpinNode(ctx, evt.ID))
		e.RequestLayout()
		require.Eventually(t, func() bool {
			got, _ := e.Node(evt.ID)
			return got.X == 500 && got.Y == 100
		}, waitFor, tick)
	})

	t.Run("should settle into a fixed point", func(t *testing.T) {
		mem := store.NewMemory()
		defer mem.Close()
		e := openTestEngine(t, mem, "m1")

		scr := e.AddNode(ctx, schemas.NodeScreen, 900, 900)
		cmd := e.AddNode(ctx, schemas.NodeCommand, 901, 901)
		_, ok := e.AddLink(ctx, scr.ID, cmd.ID, schemas.LinkFlow)
		require.True(t, ok)
		require.Eventually(t, func() bool {
			a, _ := e.Node(scr.ID)
			return a.X == 0 && a.Y == 100
		}, waitFor, tick)

		depth := e.hist.UndoDepth()
		e.RequestLayout()
		time.Sleep(120 * time.Millisecond)
		a, _ := e.Node(scr.ID)
		b, _ := e.Node(cmd.ID)
		assert.Equal(t, 0.0, a.X)
		assert.Equal(t, 250.0, b.X)
		assert.Equal(t, depth, e.hist.UndoDepth(), "a settled pass records nothing")
	})

	t.Run("should bypass the route cache for pinned endpoints", func(t *testing.T) {
		mem := store.NewMemory()
		defer mem.Close()
		e := openTestEngine(t, mem, "m1")

		scr := e.AddNode(ctx, schemas.NodeScreen, 900, 900)
		cmd := e.AddNode(ctx, schemas.NodeCommand, 901, 901)
		l, ok := e.AddLink(ctx, scr.ID, cmd.ID, schemas.LinkFlow)
		require.True(t, ok)
		require.Eventually(t, func() bool {
			return len(e.EdgeRoutes()[l.ID]) > 0
		}, waitFor, tick)
		require.Equal(t, []float64{200, 160, 250, 160}, e.RouteFor(l.ID))

		// Pinning mid-drag leaves the cache stale; RouteFor must follow the
		// node, not the cache.
		require.True(t, e.UpdateNodePosition(ctx, cmd.ID, 600, 300, true))
		assert.Equal(t, []float64{200, 160, 400, 160, 400, 360, 600, 360}, e.RouteFor(l.ID))
		assert.Equal(t, []float64{200, 160, 250, 160}, e.EdgeRoutes()[l.ID], "cache untouched until the next pass")
	})
}
