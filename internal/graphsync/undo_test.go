package graphsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/weavrhq/weavr/api/schemas"
	"github.com/weavrhq/weavr/internal/store"
)

// openQuietEngine opens an engine whose layout debounce never fires, so
// history assertions cannot race a pass recording its own batch move.
func openQuietEngine(t *testing.T, client store.Client, modelID string) *Engine {
	t.Helper()
	cfg := testConfig()
	cfg.Sync.LayoutDebounce = time.Hour
	e, err := Open(context.Background(), client, modelID, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func TestUndoRedo(t *testing.T) {
	ctx := context.Background()

	t.Run("should no-op on empty stacks", func(t *testing.T) {
		mem := store.NewMemory()
		defer mem.Close()
		e := openQuietEngine(t, mem, "m1")

		assert.False(t, e.CanUndo())
		assert.False(t, e.CanRedo())
		require.NoError(t, e.Undo(ctx))
		require.NoError(t, e.Redo(ctx))
	})

	t.Run("should undo and redo a node creation", func(t *testing.T) {
		mem := store.NewMemory()
		defer mem.Close()
		e := openQuietEngine(t, mem, "m1")

		n := e.AddNode(ctx, schemas.NodeCommand, 10, 20)
		require.True(t, e.CanUndo())

		require.NoError(t, e.Undo(ctx))
		_, ok := e.Node(n.ID)
		assert.False(t, ok)
		recs, err := mem.Model("m1").Collection(schemas.CollectionNodes).Read(ctx)
		require.NoError(t, err)
		assert.NotContains(t, recs, n.ID)
		require.True(t, e.CanRedo())

		require.NoError(t, e.Redo(ctx))
		got, ok := e.Node(n.ID)
		require.True(t, ok)
		assert.Equal(t, n.ID, got.ID)
		assert.Equal(t, "New Command", got.Name)
		assert.Equal(t, 10.0, got.X)
	})

	t.Run("should restore a cascade deletion exactly", func(t *testing.T) {
		mem := store.NewMemory()
		defer mem.Close()
		e := openQuietEngine(t, mem, "m1")

		scr := e.AddNode(ctx, schemas.NodeScreen, 0, 0)
		cmd := e.AddNode(ctx, schemas.NodeCommand, 0, 0)
		evt := e.AddNode(ctx, schemas.NodeDomainEvent, 0, 0)
		_, ok := e.AddLink(ctx, scr.ID, cmd.ID, schemas.LinkFlow)
		require.True(t, ok)
		_, ok = e.AddLink(ctx, cmd.ID, evt.ID, schemas.LinkFlow)
		require.True(t, ok)

		require.True(t, e.UpdateNode(ctx, cmd.ID, schemas.NodePatch{Name: schemas.OptOf("Place Order")}))
		require.True(t, e.UpdateNodePosition(ctx, cmd.ID, 260, 120, true))
		before, _ := e.Node(cmd.ID)
		linksBefore := e.Links()
		require.Len(t, linksBefore, 2)

		require.True(t, e.DeleteNode(ctx, cmd.ID))
		assert.Empty(t, e.Links())

		require.NoError(t, e.Undo(ctx))
		restored, ok := e.Node(cmd.ID)
		require.True(t, ok)
		assert.Equal(t, before, restored)
		assert.Equal(t, linksBefore, e.Links())

		require.NoError(t, e.Redo(ctx))
		_, ok = e.Node(cmd.ID)
		assert.False(t, ok)
		assert.Empty(t, e.Links())
		_, ok = e.Node(scr.ID)
		assert.True(t, ok, "other endpoints survive the cascade")
	})

	t.Run("should undo a move with its pin state", func(t *testing.T) {
		mem := store.NewMemory()
		defer mem.Close()
		e := openQuietEngine(t, mem, "m1")

		n := e.AddNode(ctx, schemas.NodeCommand, 10, 20)
		require.True(t, e.UpdateNodePosition(ctx, n.ID, 300, 400, true))

		require.NoError(t, e.Undo(ctx))
		got, _ := e.Node(n.ID)
		assert.Equal(t, 10.0, got.X)
		assert.Equal(t, 20.0, got.Y)
		assert.False(t, got.Pinned)
		assert.Nil(t, got.FX)

		require.NoError(t, e.Redo(ctx))
		got, _ = e.Node(n.ID)
		assert.Equal(t, 300.0, got.X)
		assert.True(t, got.Pinned)
		require.NotNil(t, got.FX)
		assert.Equal(t, 300.0, *got.FX)
	})

	t.Run("should undo a batch as one action", func(t *testing.T) {
		mem := store.NewMemory()
		defer mem.Close()
		e := openQuietEngine(t, mem, "m1")

		a := e.AddNode(ctx, schemas.NodeScreen, 1, 1)
		b := e.AddNode(ctx, schemas.NodeCommand, 2, 2)
		require.Equal(t, 2, e.UpdateNodePositionsBatch(ctx, []schemas.Move{
			{ID: a.ID, X: 100, Y: 100},
			{ID: b.ID, X: 200, Y: 200},
		}))

		require.NoError(t, e.Undo(ctx))
		gotA, _ := e.Node(a.ID)
		gotB, _ := e.Node(b.ID)
		assert.Equal(t, 1.0, gotA.X)
		assert.Equal(t, 2.0, gotB.X)
	})

	t.Run("should undo link changes", func(t *testing.T) {
		mem := store.NewMemory()
		defer mem.Close()
		e := openQuietEngine(t, mem, "m1")

		scr := e.AddNode(ctx, schemas.NodeScreen, 0, 0)
		cmd := e.AddNode(ctx, schemas.NodeCommand, 0, 0)
		l, ok := e.AddLink(ctx, scr.ID, cmd.ID, schemas.LinkFlow)
		require.True(t, ok)

		require.True(t, e.UpdateLink(ctx, l.ID, schemas.LinkPatch{Label: schemas.OptOf("submit")}))
		require.NoError(t, e.Undo(ctx))
		links := e.Links()
		require.Len(t, links, 1)
		assert.Empty(t, links[0].Label)

		require.NoError(t, e.Undo(ctx))
		assert.Empty(t, e.Links(), "second undo removes the link itself")

		require.NoError(t, e.Redo(ctx))
		links = e.Links()
		require.Len(t, links, 1)
		assert.Equal(t, l.ID, links[0].ID)
	})

	t.Run("should clear redo on a new action", func(t *testing.T) {
		mem := store.NewMemory()
		defer mem.Close()
		e := openQuietEngine(t, mem, "m1")

		e.AddNode(ctx, schemas.NodeScreen, 0, 0)
		require.NoError(t, e.Undo(ctx))
		require.True(t, e.CanRedo())

		e.AddNode(ctx, schemas.NodeCommand, 0, 0)
		assert.False(t, e.CanRedo())
	})

	t.Run("should keep slice mutations out of history", func(t *testing.T) {
		mem := store.NewMemory()
		defer mem.Close()
		e := openQuietEngine(t, mem, "m1")

		_, err := e.AddSlice(ctx, "Checkout")
		require.NoError(t, err)
		_, err = e.AddDefinition(ctx, "Order", schemas.DefinitionEntity)
		require.NoError(t, err)
		assert.False(t, e.CanUndo())
	})
}
