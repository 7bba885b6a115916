package history_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/weavrhq/weavr/api/schemas"
	"github.com/weavrhq/weavr/internal/history"
)

type nodePatchCall struct {
	id    string
	patch schemas.NodePatch
}

type linkPatchCall struct {
	id    string
	patch schemas.LinkPatch
}

// fakeMutator records every replay call, failing all of them when err is
// set.
type fakeMutator struct {
	restoredNodes  []schemas.Node
	discardedNodes []string
	restoredLinks  []schemas.Link
	discardedLinks []string
	moveBatches    [][]schemas.Move
	nodePatches    []nodePatchCall
	linkPatches    []linkPatchCall
	err            error
}

func (f *fakeMutator) RestoreNode(n schemas.Node) error {
	if f.err != nil {
		return f.err
	}
	f.restoredNodes = append(f.restoredNodes, n)
	return nil
}

func (f *fakeMutator) DiscardNode(id string) error {
	if f.err != nil {
		return f.err
	}
	f.discardedNodes = append(f.discardedNodes, id)
	return nil
}

func (f *fakeMutator) RestoreLink(l schemas.Link) error {
	if f.err != nil {
		return f.err
	}
	f.restoredLinks = append(f.restoredLinks, l)
	return nil
}

func (f *fakeMutator) DiscardLink(id string) error {
	if f.err != nil {
		return f.err
	}
	f.discardedLinks = append(f.discardedLinks, id)
	return nil
}

func (f *fakeMutator) ApplyMoves(moves []schemas.Move) error {
	if f.err != nil {
		return f.err
	}
	f.moveBatches = append(f.moveBatches, moves)
	return nil
}

func (f *fakeMutator) PatchNode(id string, p schemas.NodePatch) error {
	if f.err != nil {
		return f.err
	}
	f.nodePatches = append(f.nodePatches, nodePatchCall{id: id, patch: p})
	return nil
}

func (f *fakeMutator) PatchLink(id string, p schemas.LinkPatch) error {
	if f.err != nil {
		return f.err
	}
	f.linkPatches = append(f.linkPatches, linkPatchCall{id: id, patch: p})
	return nil
}

func testNode(id, name string) schemas.Node {
	return schemas.Node{ID: id, Type: schemas.NodeCommand, Name: name}
}

func TestManagerStacks(t *testing.T) {
	t.Run("should start empty", func(t *testing.T) {
		h := history.NewManager(0, zap.NewNop())
		m := &fakeMutator{}

		assert.False(t, h.CanUndo())
		assert.False(t, h.CanRedo())
		require.NoError(t, h.Undo(m))
		require.NoError(t, h.Redo(m))
		assert.Empty(t, m.discardedNodes)
		assert.Empty(t, m.restoredNodes)
	})

	t.Run("should hold one entry after a single add", func(t *testing.T) {
		h := history.NewManager(0, zap.NewNop())
		h.Record(history.NodeAddedAction(testNode("n1", "Place Order")))

		assert.Equal(t, 1, h.UndoDepth())
		assert.Equal(t, 0, h.RedoDepth())
		kind, ok := h.NextUndo()
		require.True(t, ok)
		assert.Equal(t, history.NodeAdded, kind)
	})

	t.Run("should clear redo on any new action", func(t *testing.T) {
		h := history.NewManager(0, zap.NewNop())
		m := &fakeMutator{}

		h.Record(history.NodeAddedAction(testNode("n1", "A")))
		require.NoError(t, h.Undo(m))
		require.True(t, h.CanRedo())

		h.Record(history.NodeAddedAction(testNode("n2", "B")))
		assert.False(t, h.CanRedo())
		assert.Equal(t, 1, h.UndoDepth())
	})

	t.Run("should drop the oldest entries past the limit", func(t *testing.T) {
		h := history.NewManager(3, zap.NewNop())
		m := &fakeMutator{}

		for _, id := range []string{"n1", "n2", "n3", "n4", "n5"} {
			h.Record(history.NodeAddedAction(testNode(id, id)))
		}
		assert.Equal(t, 3, h.UndoDepth())

		require.NoError(t, h.Undo(m))
		require.NoError(t, h.Undo(m))
		require.NoError(t, h.Undo(m))
		assert.Equal(t, []string{"n5", "n4", "n3"}, m.discardedNodes)
		assert.False(t, h.CanUndo())
	})

	t.Run("should drop unrecognized actions", func(t *testing.T) {
		h := history.NewManager(0, zap.NewNop())
		h.Record(history.Action{})
		assert.Equal(t, 0, h.UndoDepth())
	})

	t.Run("should forget everything on clear", func(t *testing.T) {
		h := history.NewManager(0, zap.NewNop())
		m := &fakeMutator{}

		h.Record(history.NodeAddedAction(testNode("n1", "A")))
		h.Record(history.NodeAddedAction(testNode("n2", "B")))
		require.NoError(t, h.Undo(m))

		h.Clear()
		assert.False(t, h.CanUndo())
		assert.False(t, h.CanRedo())
	})
}

func TestUndoRedoRoundTrip(t *testing.T) {
	t.Run("should discard then restore an added node unchanged", func(t *testing.T) {
		h := history.NewManager(0, zap.NewNop())
		m := &fakeMutator{}
		n := testNode("n1", "Place Order")
		n.SliceID = "s1"
		n.EntityIDs = []string{"e1"}

		h.Record(history.NodeAddedAction(n))
		require.NoError(t, h.Undo(m))
		require.Equal(t, []string{"n1"}, m.discardedNodes)

		require.NoError(t, h.Redo(m))
		require.Len(t, m.restoredNodes, 1)
		assert.Equal(t, n, m.restoredNodes[0])
		assert.Equal(t, 1, h.UndoDepth())
	})

	t.Run("should restore a deleted node together with its links", func(t *testing.T) {
		h := history.NewManager(0, zap.NewNop())
		m := &fakeMutator{}
		n := testNode("n1", "Place Order")
		touching := []schemas.Link{
			{ID: "l1", Source: "n0", Target: "n1"},
			{ID: "l2", Source: "n1", Target: "n2"},
		}

		h.Record(history.NodeDeletedAction(n, touching))
		require.NoError(t, h.Undo(m))
		require.Len(t, m.restoredNodes, 1)
		assert.Equal(t, "n1", m.restoredNodes[0].ID)
		assert.Equal(t, touching, m.restoredLinks)

		require.NoError(t, h.Redo(m))
		assert.Equal(t, []string{"n1"}, m.discardedNodes)
	})

	t.Run("should replay node patches in the right direction", func(t *testing.T) {
		h := history.NewManager(0, zap.NewNop())
		m := &fakeMutator{}
		before := schemas.NodePatch{Name: schemas.OptOf("Old Name")}
		after := schemas.NodePatch{Name: schemas.OptOf("New Name")}

		h.Record(history.NodeUpdatedAction("n1", before, after))
		require.NoError(t, h.Undo(m))
		require.Len(t, m.nodePatches, 1)
		assert.Equal(t, "n1", m.nodePatches[0].id)
		name, _ := m.nodePatches[0].patch.Name.Get()
		assert.Equal(t, "Old Name", name)

		require.NoError(t, h.Redo(m))
		require.Len(t, m.nodePatches, 2)
		name, _ = m.nodePatches[1].patch.Name.Get()
		assert.Equal(t, "New Name", name)
	})

	t.Run("should carry pin state through move replays", func(t *testing.T) {
		h := history.NewManager(0, zap.NewNop())
		m := &fakeMutator{}
		fx, fy := 50.0, 60.0
		before := schemas.Move{ID: "n1", X: 10, Y: 20}
		after := schemas.Move{ID: "n1", X: 50, Y: 60, FX: &fx, FY: &fy, Pinned: true}

		h.Record(history.NodeMovedAction(before, after))
		require.NoError(t, h.Undo(m))
		require.Len(t, m.moveBatches, 1)
		require.Len(t, m.moveBatches[0], 1)
		assert.False(t, m.moveBatches[0][0].Pinned)
		assert.InDelta(t, 10.0, m.moveBatches[0][0].X, 0.1)

		require.NoError(t, h.Redo(m))
		require.Len(t, m.moveBatches, 2)
		require.NotNil(t, m.moveBatches[1][0].FX)
		assert.InDelta(t, 50.0, *m.moveBatches[1][0].FX, 0.1)
		assert.True(t, m.moveBatches[1][0].Pinned)
	})

	t.Run("should revert a whole layout pass in one step", func(t *testing.T) {
		h := history.NewManager(0, zap.NewNop())
		m := &fakeMutator{}
		before := []schemas.Move{
			{ID: "n1", X: 3, Y: 7},
			{ID: "n2", X: 9, Y: 11},
		}
		after := []schemas.Move{
			{ID: "n1", X: 0, Y: 100},
			{ID: "n2", X: 250, Y: 100},
		}

		h.Record(history.BatchMoveAction(before, after))
		require.NoError(t, h.Undo(m))
		require.Len(t, m.moveBatches, 1, "one batch reverts the whole pass")
		assert.Equal(t, before, m.moveBatches[0])
	})

	t.Run("should round-trip link actions", func(t *testing.T) {
		h := history.NewManager(0, zap.NewNop())
		m := &fakeMutator{}
		l := schemas.Link{ID: "l1", Source: "a", Target: "b", Type: schemas.LinkFlow}

		h.Record(history.LinkAddedAction(l))
		require.NoError(t, h.Undo(m))
		assert.Equal(t, []string{"l1"}, m.discardedLinks)
		require.NoError(t, h.Redo(m))
		assert.Equal(t, []schemas.Link{l}, m.restoredLinks)

		h.Record(history.LinkDeletedAction(l))
		require.NoError(t, h.Undo(m))
		assert.Equal(t, []schemas.Link{l, l}, m.restoredLinks)

		h.Record(history.LinkUpdatedAction("l1",
			schemas.LinkPatch{Label: schemas.OptOf("old")},
			schemas.LinkPatch{Label: schemas.OptOf("new")}))
		require.NoError(t, h.Undo(m))
		require.Len(t, m.linkPatches, 1)
		label, _ := m.linkPatches[0].patch.Label.Get()
		assert.Equal(t, "old", label)
	})
}

func TestReplayFailures(t *testing.T) {
	t.Run("should keep the action when undo fails", func(t *testing.T) {
		h := history.NewManager(0, zap.NewNop())
		m := &fakeMutator{err: assert.AnError}

		h.Record(history.NodeAddedAction(testNode("n1", "A")))
		err := h.Undo(m)
		require.ErrorIs(t, err, assert.AnError)
		assert.Equal(t, 1, h.UndoDepth())
		assert.Equal(t, 0, h.RedoDepth())

		m.err = nil
		require.NoError(t, h.Undo(m))
		assert.Equal(t, []string{"n1"}, m.discardedNodes)
	})

	t.Run("should keep the action when redo fails", func(t *testing.T) {
		h := history.NewManager(0, zap.NewNop())
		m := &fakeMutator{}

		h.Record(history.NodeAddedAction(testNode("n1", "A")))
		require.NoError(t, h.Undo(m))

		m.err = assert.AnError
		require.ErrorIs(t, h.Redo(m), assert.AnError)
		assert.Equal(t, 1, h.RedoDepth())
	})
}

func TestActionCapture(t *testing.T) {
	t.Run("should not alias caller data", func(t *testing.T) {
		h := history.NewManager(0, zap.NewNop())
		m := &fakeMutator{}
		n := testNode("n1", "Place Order")
		n.EntityIDs = []string{"e1"}
		links := []schemas.Link{{ID: "l1", Source: "n0", Target: "n1", Label: "then"}}

		h.Record(history.NodeDeletedAction(n, links))

		n.EntityIDs[0] = "mutated"
		links[0].Label = "mutated"

		require.NoError(t, h.Undo(m))
		assert.Equal(t, []string{"e1"}, m.restoredNodes[0].EntityIDs)
		assert.Equal(t, "then", m.restoredLinks[0].Label)
	})

	t.Run("should not alias move slices", func(t *testing.T) {
		h := history.NewManager(0, zap.NewNop())
		m := &fakeMutator{}
		before := []schemas.Move{{ID: "n1", X: 1, Y: 2}}
		after := []schemas.Move{{ID: "n1", X: 3, Y: 4}}

		h.Record(history.BatchMoveAction(before, after))
		before[0].X = 999

		require.NoError(t, h.Undo(m))
		assert.InDelta(t, 1.0, m.moveBatches[0][0].X, 0.1)
	})
}
