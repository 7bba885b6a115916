// Package history provides linear undo/redo over the mutation surface of
// the synchronization engine. Every forward mutation is recorded as a
// tagged action carrying both its forward and inverse data; undo and redo
// replay these through a fixed per-type dispatch table against a Mutator,
// never through the entities themselves.
package history

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/weavrhq/weavr/api/schemas"
)

// ActionType tags one undoable mutation. The set is closed; slice and
// definition mutations stay outside it and cannot be undone.
type ActionType string

const (
	NodeAdded   ActionType = "NODE_ADDED"
	NodeDeleted ActionType = "NODE_DELETED"
	NodeUpdated ActionType = "NODE_UPDATED"
	NodeMoved   ActionType = "NODE_MOVED"
	BatchMove   ActionType = "BATCH_MOVE"
	LinkAdded   ActionType = "LINK_ADDED"
	LinkDeleted ActionType = "LINK_DELETED"
	LinkUpdated ActionType = "LINK_UPDATED"
)

// Mutator is the non-recording mutation surface actions replay against.
// The synchronization engine implements it with operations that bypass
// history capture, otherwise every undo would record itself. DiscardNode
// removes the node and every link touching it, mirroring forward deletion.
type Mutator interface {
	RestoreNode(n schemas.Node) error
	DiscardNode(id string) error
	RestoreLink(l schemas.Link) error
	DiscardLink(id string) error
	ApplyMoves(moves []schemas.Move) error
	PatchNode(id string, p schemas.NodePatch) error
	PatchLink(id string, p schemas.LinkPatch) error
}

// Action is one recorded mutation. Actions are built only through the
// constructors below, which guarantees the payload always matches the kind.
type Action struct {
	kind    ActionType
	payload any
}

// Kind returns the action's type tag.
func (a Action) Kind() ActionType { return a.kind }

// nodeRemoval captures everything a node deletion destroys: the node and
// every link that touched it. Cascade deletion is irreversible without the
// link snapshot.
type nodeRemoval struct {
	node  schemas.Node
	links []schemas.Link
}

type nodeChange struct {
	id            string
	before, after schemas.NodePatch
}

type linkChange struct {
	id            string
	before, after schemas.LinkPatch
}

type moveChange struct {
	before, after schemas.Move
}

type batchMoveChange struct {
	before, after []schemas.Move
}

// NodeAddedAction records a node creation.
func NodeAddedAction(n schemas.Node) Action {
	return Action{kind: NodeAdded, payload: n.Clone()}
}

// NodeDeletedAction records a node deletion together with every link that
// touched the node at deletion time.
func NodeDeletedAction(n schemas.Node, touching []schemas.Link) Action {
	links := make([]schemas.Link, len(touching))
	copy(links, touching)
	return Action{kind: NodeDeleted, payload: nodeRemoval{node: n.Clone(), links: links}}
}

// NodeUpdatedAction records a field update with its inverse patch.
func NodeUpdatedAction(id string, before, after schemas.NodePatch) Action {
	return Action{kind: NodeUpdated, payload: nodeChange{id: id, before: before, after: after}}
}

// NodeMovedAction records a single position change, pin state included.
func NodeMovedAction(before, after schemas.Move) Action {
	return Action{kind: NodeMoved, payload: moveChange{before: before.Clone(), after: after.Clone()}}
}

// BatchMoveAction records one whole layout pass or multi-select drag, so a
// single undo reverts every moved node at once.
func BatchMoveAction(before, after []schemas.Move) Action {
	b := make([]schemas.Move, len(before))
	for i, mv := range before {
		b[i] = mv.Clone()
	}
	a := make([]schemas.Move, len(after))
	for i, mv := range after {
		a[i] = mv.Clone()
	}
	return Action{kind: BatchMove, payload: batchMoveChange{before: b, after: a}}
}

// LinkAddedAction records a link creation.
func LinkAddedAction(l schemas.Link) Action {
	return Action{kind: LinkAdded, payload: l}
}

// LinkDeletedAction records a link deletion.
func LinkDeletedAction(l schemas.Link) Action {
	return Action{kind: LinkDeleted, payload: l}
}

// LinkUpdatedAction records a link field update with its inverse patch.
func LinkUpdatedAction(id string, before, after schemas.LinkPatch) Action {
	return Action{kind: LinkUpdated, payload: linkChange{id: id, before: before, after: after}}
}

// dispatch holds the two replay directions for one action type.
type dispatch struct {
	undo func(Mutator, any) error
	redo func(Mutator, any) error
}

var dispatchTable = map[ActionType]dispatch{
	NodeAdded: {
		undo: func(m Mutator, p any) error { return m.DiscardNode(p.(schemas.Node).ID) },
		redo: func(m Mutator, p any) error { return m.RestoreNode(p.(schemas.Node)) },
	},
	NodeDeleted: {
		undo: func(m Mutator, p any) error {
			r := p.(nodeRemoval)
			if err := m.RestoreNode(r.node); err != nil {
				return err
			}
			for _, l := range r.links {
				if err := m.RestoreLink(l); err != nil {
					return err
				}
			}
			return nil
		},
		redo: func(m Mutator, p any) error { return m.DiscardNode(p.(nodeRemoval).node.ID) },
	},
	NodeUpdated: {
		undo: func(m Mutator, p any) error { c := p.(nodeChange); return m.PatchNode(c.id, c.before) },
		redo: func(m Mutator, p any) error { c := p.(nodeChange); return m.PatchNode(c.id, c.after) },
	},
	NodeMoved: {
		undo: func(m Mutator, p any) error { return m.ApplyMoves([]schemas.Move{p.(moveChange).before}) },
		redo: func(m Mutator, p any) error { return m.ApplyMoves([]schemas.Move{p.(moveChange).after}) },
	},
	BatchMove: {
		undo: func(m Mutator, p any) error { return m.ApplyMoves(p.(batchMoveChange).before) },
		redo: func(m Mutator, p any) error { return m.ApplyMoves(p.(batchMoveChange).after) },
	},
	LinkAdded: {
		undo: func(m Mutator, p any) error { return m.DiscardLink(p.(schemas.Link).ID) },
		redo: func(m Mutator, p any) error { return m.RestoreLink(p.(schemas.Link)) },
	},
	LinkDeleted: {
		undo: func(m Mutator, p any) error { return m.RestoreLink(p.(schemas.Link)) },
		redo: func(m Mutator, p any) error { return m.DiscardLink(p.(schemas.Link).ID) },
	},
	LinkUpdated: {
		undo: func(m Mutator, p any) error { c := p.(linkChange); return m.PatchLink(c.id, c.before) },
		redo: func(m Mutator, p any) error { c := p.(linkChange); return m.PatchLink(c.id, c.after) },
	},
}

// DefaultLimit is the undo depth kept when the caller does not choose one.
const DefaultLimit = 100

// Manager holds the undo and redo stacks. It is not safe for concurrent
// use on its own; the synchronization engine serializes access alongside
// its graph state, matching the callback-driven scheduling model.
type Manager struct {
	undo  []Action
	redo  []Action
	limit int
	log   *zap.Logger
}

// NewManager returns an empty manager keeping at most limit undo entries.
// A non-positive limit selects DefaultLimit.
func NewManager(limit int, log *zap.Logger) *Manager {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{limit: limit, log: log}
}

// Record pushes a forward action onto the undo stack and clears the redo
// stack: any new mutation invalidates the redo history. Oldest entries are
// dropped beyond the depth limit.
func (h *Manager) Record(a Action) {
	if _, ok := dispatchTable[a.kind]; !ok {
		h.log.Warn("dropping unrecognized history action", zap.String("kind", string(a.kind)))
		return
	}
	h.undo = append(h.undo, a)
	if len(h.undo) > h.limit {
		over := len(h.undo) - h.limit
		h.undo = append(h.undo[:0], h.undo[over:]...)
	}
	h.redo = nil
}

// Undo pops the newest action, replays its inverse through m, and moves it
// to the redo stack. An empty stack is a no-op. A failed replay leaves the
// action where it was.
func (h *Manager) Undo(m Mutator) error {
	if len(h.undo) == 0 {
		return nil
	}
	a := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	if err := dispatchTable[a.kind].undo(m, a.payload); err != nil {
		h.undo = append(h.undo, a)
		return fmt.Errorf("undoing %s: %w", a.kind, err)
	}
	h.redo = append(h.redo, a)
	return nil
}

// Redo mirrors Undo: it pops the newest undone action, replays it forward,
// and moves it back to the undo stack.
func (h *Manager) Redo(m Mutator) error {
	if len(h.redo) == 0 {
		return nil
	}
	a := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	if err := dispatchTable[a.kind].redo(m, a.payload); err != nil {
		h.redo = append(h.redo, a)
		return fmt.Errorf("redoing %s: %w", a.kind, err)
	}
	h.undo = append(h.undo, a)
	return nil
}

// CanUndo reports whether an undoable action exists.
func (h *Manager) CanUndo() bool { return len(h.undo) > 0 }

// CanRedo reports whether an undone action can be reapplied.
func (h *Manager) CanRedo() bool { return len(h.redo) > 0 }

// UndoDepth returns the number of recorded undoable actions.
func (h *Manager) UndoDepth() int { return len(h.undo) }

// RedoDepth returns the number of reapplicable actions.
func (h *Manager) RedoDepth() int { return len(h.redo) }

// NextUndo returns the type of the action Undo would replay.
func (h *Manager) NextUndo() (ActionType, bool) {
	if len(h.undo) == 0 {
		return "", false
	}
	return h.undo[len(h.undo)-1].kind, true
}

// NextRedo returns the type of the action Redo would replay.
func (h *Manager) NextRedo() (ActionType, bool) {
	if len(h.redo) == 0 {
		return "", false
	}
	return h.redo[len(h.redo)-1].kind, true
}

// Clear drops both stacks, used when the engine switches models.
func (h *Manager) Clear() {
	h.undo = nil
	h.redo = nil
}
