package store

import (
	"context"
	"sync"
)

// MemoryStore is the in-process backend: full contract semantics with no
// persistence. It backs throwaway sessions and nearly all of the test suite.
type MemoryStore struct {
	mu     sync.Mutex
	clock  writeClock
	hub    *hub
	models map[string]*modelData
	closed bool
}

// modelData holds one model's collections: collection name to record key to
// field name to stored field state.
type modelData struct {
	collections map[string]map[string]map[string]fieldState
}

var _ Client = (*MemoryStore)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		hub:    newHub(),
		models: make(map[string]*modelData),
	}
}

// Model implements Client.
func (s *MemoryStore) Model(id string) Handle {
	return memHandle{store: s, model: id}
}

// Close implements Client.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.hub.close()
	return nil
}

type memHandle struct {
	store *MemoryStore
	model string
}

func (h memHandle) Collection(name string) Collection {
	return &memCollection{store: h.store, model: h.model, name: name}
}

type memCollection struct {
	store *MemoryStore
	model string
	name  string
}

func (c *memCollection) On(cb Callback) Subscription {
	return c.store.hub.subscribe(topicFor(c.model, c.name), cb)
}

// Read returns shared snapshots; callers must treat the records as read-only.
func (c *memCollection) Read(ctx context.Context) (map[string]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make(map[string]Record)
	model, ok := s.models[c.model]
	if !ok {
		return out, nil
	}
	for key, fields := range model.collections[c.name] {
		out[key] = effectiveRecord(fields)
	}
	return out, nil
}

func (c *memCollection) Put(ctx context.Context, key string, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateKey(key); err != nil {
		return err
	}
	if rec == nil {
		return c.apply(map[string]Record{key: nil})
	}
	clean, err := SanitizeRecord(rec)
	if err != nil {
		return err
	}
	return c.apply(map[string]Record{key: clean})
}

func (c *memCollection) PutBatch(ctx context.Context, batch map[string]Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clean := make(map[string]Record, len(batch))
	for key, rec := range batch {
		if err := ValidateKey(key); err != nil {
			return err
		}
		if rec == nil {
			clean[key] = nil
			continue
		}
		norm, err := SanitizeRecord(rec)
		if err != nil {
			return err
		}
		clean[key] = norm
	}
	return c.apply(clean)
}

// apply merges the sanitized batch under one write timestamp and publishes
// the accepted subset of every record. Deletes ride along as nil events.
func (c *memCollection) apply(batch map[string]Record) error {
	s := c.store
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	ts := s.clock.next()
	model, ok := s.models[c.model]
	if !ok {
		model = &modelData{collections: make(map[string]map[string]map[string]fieldState)}
		s.models[c.model] = model
	}
	coll, ok := model.collections[c.name]
	if !ok {
		coll = make(map[string]map[string]fieldState)
		model.collections[c.name] = coll
	}

	events := make([]event, 0, len(batch))
	for key, rec := range batch {
		if rec == nil {
			if _, existed := coll[key]; existed {
				delete(coll, key)
				events = append(events, event{key: key, rec: nil})
			}
			continue
		}
		fields, ok := coll[key]
		if !ok {
			fields = make(map[string]fieldState, len(rec))
			coll[key] = fields
		}
		accepted := applyLWW(fields, rec, ts)
		if len(accepted) > 0 {
			events = append(events, event{key: key, rec: accepted})
		}
	}
	s.mu.Unlock()

	c.store.hub.publish(topicFor(c.model, c.name), events)
	return nil
}
