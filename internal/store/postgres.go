package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DBPool is the slice of pgxpool.Pool the store uses, kept as an interface
// so tests can substitute a pgxmock pool.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const (
	createFieldsTableSQL = `
		CREATE TABLE IF NOT EXISTS model_fields (
			model      TEXT   NOT NULL,
			collection TEXT   NOT NULL,
			record_key TEXT   NOT NULL,
			field      TEXT   NOT NULL,
			value      JSONB  NOT NULL,
			ts         BIGINT NOT NULL,
			PRIMARY KEY (model, collection, record_key, field)
		)`

	upsertFieldSQL = `
		INSERT INTO model_fields (model, collection, record_key, field, value, ts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (model, collection, record_key, field)
		DO UPDATE SET value = EXCLUDED.value, ts = EXCLUDED.ts
		WHERE model_fields.ts <= EXCLUDED.ts`

	deleteRecordSQL = `
		DELETE FROM model_fields
		WHERE model = $1 AND collection = $2 AND record_key = $3`

	selectCollectionSQL = `
		SELECT record_key, field, value
		FROM model_fields
		WHERE model = $1 AND collection = $2`
)

// PostgresStore keeps field state in a shared database. Cleared fields are
// stored as JSON null values rather than deleted rows so a clear carries a
// timestamp and wins or loses merges like any other write. Fan-out covers
// this process's subscriptions; it is not a cross-process change feed.
type PostgresStore struct {
	pool  DBPool
	clock writeClock
	hub   *hub
	log   *zap.Logger

	closeMu sync.Mutex
	closed  bool
}

var _ Client = (*PostgresStore)(nil)

// NewPostgres verifies connectivity, ensures the schema, and returns the
// store. The pool is owned by the store afterwards and released on Close.
func NewPostgres(ctx context.Context, pool DBPool, log *zap.Logger) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := pool.Exec(ctx, createFieldsTableSQL); err != nil {
		return nil, fmt.Errorf("ensuring model_fields table: %w", err)
	}
	return &PostgresStore{pool: pool, hub: newHub(), log: log}, nil
}

// ConnectPostgres dials the database at url and builds the store on a real
// connection pool.
func ConnectPostgres(ctx context.Context, url string, log *zap.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	s, err := NewPostgres(ctx, pool, log)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Model implements Client.
func (s *PostgresStore) Model(id string) Handle {
	return pgHandle{store: s, model: id}
}

// Close implements Client.
func (s *PostgresStore) Close() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	s.closeMu.Unlock()

	s.hub.close()
	s.pool.Close()
	return nil
}

func (s *PostgresStore) isClosed() bool {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	return s.closed
}

type pgHandle struct {
	store *PostgresStore
	model string
}

func (h pgHandle) Collection(name string) Collection {
	return &pgCollection{store: h.store, model: h.model, name: name}
}

type pgCollection struct {
	store *PostgresStore
	model string
	name  string
}

func (c *pgCollection) On(cb Callback) Subscription {
	return c.store.hub.subscribe(topicFor(c.model, c.name), cb)
}

func (c *pgCollection) Read(ctx context.Context) (map[string]Record, error) {
	if c.store.isClosed() {
		return nil, ErrClosed
	}
	rows, err := c.store.pool.Query(ctx, selectCollectionSQL, c.model, c.name)
	if err != nil {
		return nil, fmt.Errorf("reading collection %s: %w", c.name, err)
	}
	defer rows.Close()

	out := make(map[string]Record)
	for rows.Next() {
		var key, field string
		var data []byte
		if err := rows.Scan(&key, &field, &data); err != nil {
			return nil, fmt.Errorf("scanning field row: %w", err)
		}
		var value any
		if err := json.Unmarshal(data, &value); err != nil {
			return nil, fmt.Errorf("decoding field %s/%s: %w", key, field, err)
		}
		rec, ok := out[key]
		if !ok {
			rec = make(Record)
			out[key] = rec
		}
		if value != nil {
			rec[field] = value
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating collection %s: %w", c.name, err)
	}
	return out, nil
}

func (c *pgCollection) Put(ctx context.Context, key string, rec Record) error {
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

func (c *pgCollection) PutBatch(ctx context.Context, batch map[string]Record) error {
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

// queuedStmt maps one batch statement back to the field it wrote so the
// command tags can be folded into accepted subsets.
type queuedStmt struct {
	key      string
	field    string
	value    any
	isDelete bool
}

func (c *pgCollection) apply(ctx context.Context, batch map[string]Record) error {
	if c.store.isClosed() {
		return ErrClosed
	}
	s := c.store

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning store write: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("rolling back store write", zap.Error(rollbackErr))
		}
	}()

	ts := s.clock.next()
	b := &pgx.Batch{}
	var queued []queuedStmt
	for key, rec := range batch {
		if rec == nil {
			b.Queue(deleteRecordSQL, c.model, c.name, key)
			queued = append(queued, queuedStmt{key: key, isDelete: true})
			continue
		}
		for field, value := range rec {
			data, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("encoding field %s/%s: %w", key, field, err)
			}
			b.Queue(upsertFieldSQL, c.model, c.name, key, field, data, ts)
			queued = append(queued, queuedStmt{key: key, field: field, value: value})
		}
	}

	br := tx.SendBatch(ctx, b)
	accepted := make(map[string]Record)
	var order []string
	deleted := make(map[string]bool)
	for _, q := range queued {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return fmt.Errorf("executing store write for %s: %w", q.key, err)
		}
		if tag.RowsAffected() == 0 {
			continue
		}
		if q.isDelete {
			if !deleted[q.key] {
				deleted[q.key] = true
				order = append(order, q.key)
			}
			continue
		}
		rec, ok := accepted[q.key]
		if !ok {
			rec = make(Record)
			accepted[q.key] = rec
			order = append(order, q.key)
		}
		rec[q.field] = q.value
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("closing store write batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing store write: %w", err)
	}

	events := make([]event, 0, len(order))
	for _, key := range order {
		if deleted[key] {
			events = append(events, event{key: key, rec: nil})
			continue
		}
		events = append(events, event{key: key, rec: accepted[key]})
	}
	s.hub.publish(topicFor(c.model, c.name), events)
	return nil
}
