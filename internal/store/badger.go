package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// BadgerStore is the embedded durable backend. Every field lands under its
// own badger key, "f/<model>/<collection>/<record>/<field>", holding the
// JSON-encoded field state. Keys and field names are validated to exclude
// the separator, so the layout parses unambiguously.
type BadgerStore struct {
	db    *badger.DB
	clock writeClock
	hub   *hub
	log   *zap.Logger

	// writeMu serializes read-modify-write cycles so last-write-wins
	// merges never race each other inside conflicting transactions.
	writeMu sync.Mutex

	closeMu sync.Mutex
	closed  bool
}

var _ Client = (*BadgerStore)(nil)

// NewBadger opens the embedded store at dir, or an in-memory instance when
// inMemory is set.
func NewBadger(dir string, inMemory bool, log *zap.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger store: %w", err)
	}
	log.Debug("badger store opened", zap.String("dir", dir), zap.Bool("in_memory", inMemory))
	return &BadgerStore{db: db, hub: newHub(), log: log}, nil
}

// Model implements Client.
func (s *BadgerStore) Model(id string) Handle {
	return badgerHandle{store: s, model: id}
}

// Close implements Client.
func (s *BadgerStore) Close() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	s.closeMu.Unlock()

	s.hub.close()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing badger store: %w", err)
	}
	return nil
}

func (s *BadgerStore) isClosed() bool {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	return s.closed
}

type badgerHandle struct {
	store *BadgerStore
	model string
}

func (h badgerHandle) Collection(name string) Collection {
	return &badgerCollection{store: h.store, model: h.model, name: name}
}

type badgerCollection struct {
	store *BadgerStore
	model string
	name  string
}

func (c *badgerCollection) On(cb Callback) Subscription {
	return c.store.hub.subscribe(topicFor(c.model, c.name), cb)
}

func (c *badgerCollection) Read(ctx context.Context) (map[string]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.store.isClosed() {
		return nil, ErrClosed
	}

	prefix := collectionPrefix(c.model, c.name)
	byKey := make(map[string]map[string]fieldState)
	err := c.store.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key, field, ok := splitFieldKey(prefix, item.Key())
			if !ok {
				c.store.log.Warn("skipping unparseable store key", zap.ByteString("key", item.Key()))
				continue
			}
			if err := item.Value(func(val []byte) error {
				fs, err := decodeFieldState(val)
				if err != nil {
					return err
				}
				fields, found := byKey[key]
				if !found {
					fields = make(map[string]fieldState)
					byKey[key] = fields
				}
				fields[field] = fs
				return nil
			}); err != nil {
				return fmt.Errorf("reading field %s/%s: %w", key, field, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make(map[string]Record, len(byKey))
	for key, fields := range byKey {
		out[key] = effectiveRecord(fields)
	}
	return out, nil
}

func (c *badgerCollection) Put(ctx context.Context, key string, rec Record) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if rec == nil {
		return c.apply(ctx, map[string]Record{key: nil})
	}
	clean, err := SanitizeRecord(rec)
	if err != nil {
		return err
	}
	return c.apply(ctx, map[string]Record{key: clean})
}

func (c *badgerCollection) PutBatch(ctx context.Context, batch map[string]Record) error {
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
	return c.apply(ctx, clean)
}

// apply runs the whole batch in one transaction under the write mutex and
// publishes per record whatever the merge accepted.
func (c *badgerCollection) apply(ctx context.Context, batch map[string]Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := c.store
	if s.isClosed() {
		return ErrClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ts := s.clock.next()
	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	events := make([]event, 0, len(batch))
	for key, rec := range batch {
		if rec == nil {
			existed, err := c.deleteRecord(txn, key)
			if err != nil {
				return err
			}
			if existed {
				events = append(events, event{key: key, rec: nil})
			}
			continue
		}
		accepted, err := c.mergeRecord(txn, key, rec, ts)
		if err != nil {
			return err
		}
		if len(accepted) > 0 {
			events = append(events, event{key: key, rec: accepted})
		}
	}

	if err := txn.Commit(); err != nil {
		return fmt.Errorf("committing store write: %w", err)
	}
	s.hub.publish(topicFor(c.model, c.name), events)
	return nil
}

// mergeRecord merges one sanitized partial into the stored record inside txn
// and returns the accepted subset.
func (c *badgerCollection) mergeRecord(txn *badger.Txn, key string, rec Record, ts int64) (Record, error) {
	accepted := make(Record, len(rec))
	for field, value := range rec {
		fk := fieldKey(c.model, c.name, key, field)
		item, err := txn.Get(fk)
		switch {
		case err == nil:
			var existing fieldState
			if verr := item.Value(func(val []byte) error {
				fs, derr := decodeFieldState(val)
				if derr != nil {
					return derr
				}
				existing = fs
				return nil
			}); verr != nil {
				return nil, fmt.Errorf("reading field %s/%s: %w", key, field, verr)
			}
			if existing.TS > ts {
				continue
			}
		case errors.Is(err, badger.ErrKeyNotFound):
			// First write for this field.
		default:
			return nil, fmt.Errorf("reading field %s/%s: %w", key, field, err)
		}

		data, err := fieldState{Value: value, TS: ts}.encode()
		if err != nil {
			return nil, fmt.Errorf("encoding field %s/%s: %w", key, field, err)
		}
		if err := txn.Set(fk, data); err != nil {
			return nil, fmt.Errorf("writing field %s/%s: %w", key, field, err)
		}
		accepted[field] = value
	}
	return accepted, nil
}

// deleteRecord drops every stored field of key inside txn and reports
// whether any field existed.
func (c *badgerCollection) deleteRecord(txn *badger.Txn, key string) (bool, error) {
	prefix := recordPrefix(c.model, c.name, key)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)

	var doomed [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		doomed = append(doomed, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, fk := range doomed {
		if err := txn.Delete(fk); err != nil {
			return false, fmt.Errorf("deleting record %s: %w", key, err)
		}
	}
	return len(doomed) > 0, nil
}

func fieldKey(model, collection, key, field string) []byte {
	return []byte("f/" + model + "/" + collection + "/" + key + "/" + field)
}

func recordPrefix(model, collection, key string) []byte {
	return []byte("f/" + model + "/" + collection + "/" + key + "/")
}

func collectionPrefix(model, collection string) []byte {
	return []byte("f/" + model + "/" + collection + "/")
}

// splitFieldKey parses "<prefix><record>/<field>" into its parts.
func splitFieldKey(prefix, full []byte) (key, field string, ok bool) {
	rest := bytes.TrimPrefix(full, prefix)
	idx := bytes.IndexByte(rest, '/')
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", false
	}
	return string(rest[:idx]), string(rest[idx+1:]), true
}
