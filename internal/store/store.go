// Package store is the remote field-store adapter: a graph-shaped key-value
// substrate that merges records per field with last-write-wins semantics and
// fans changes out to streaming subscriptions. Collections are namespaced per
// model so independent models share one store instance without collisions.
//
// Three backends implement the same contract: an in-memory store for tests
// and throwaway sessions, an embedded badger store for durable local work,
// and a Postgres store for a shared server-side database. Replication between
// store instances is the substrate's own concern and is not implemented here;
// change fan-out covers the subscriptions of this process.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Record is one entity's wire form: a flat map of scalar field values. A nil
// field value is the explicit clear sentinel. In subscription callbacks a nil
// Record signals record deletion.
type Record = map[string]any

// Callback receives one record change: the partial update that was accepted
// (with nil sentinels preserved) or nil when the record was deleted.
type Callback func(rec Record, key string)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// Client is a process-wide connection to a field store.
type Client interface {
	// Model scopes all further access under the given model id.
	Model(id string) Handle
	// Close releases the store and terminates all subscriptions.
	Close() error
}

// Handle is a model-scoped view of the store.
type Handle interface {
	// Collection addresses one named collection under the model.
	Collection(name string) Collection
}

// Collection is one keyed set of records.
type Collection interface {
	// On registers a streaming subscription. The callback runs on a
	// dedicated goroutine, one subscription at a time, in write order.
	On(cb Callback) Subscription
	// Read returns the merged current state of every record. This is the
	// priming read a consumer issues before trusting its subscription.
	Read(ctx context.Context) (map[string]Record, error)
	// Put merges rec into the record at key, field by field. A nil rec
	// deletes the record; a nil field value clears that field.
	Put(ctx context.Context, key string, rec Record) error
	// PutBatch merges several records in one write. Fan-out preserves the
	// batch's iteration order per subscription.
	PutBatch(ctx context.Context, batch map[string]Record) error
}

// Subscription is a handle to an active streaming subscription.
type Subscription interface {
	// Off cancels the subscription. Pending deliveries may still arrive
	// while the cancellation settles.
	Off()
}

// fieldState is one stored field with its write timestamp. Conflicts resolve
// per field: the newest timestamp wins, ties go to the incoming write.
type fieldState struct {
	Value any   `json:"v"`
	TS    int64 `json:"t"`
}

func (fs fieldState) encode() ([]byte, error) {
	return json.Marshal(fs)
}

func decodeFieldState(data []byte) (fieldState, error) {
	var fs fieldState
	if err := json.Unmarshal(data, &fs); err != nil {
		return fieldState{}, err
	}
	return fs, nil
}

// writeClock issues strictly increasing write timestamps. Wall-clock
// microseconds, bumped when the wall clock stalls or steps backwards.
type writeClock struct {
	mu   sync.Mutex
	last int64
}

func (c *writeClock) next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now().UnixMicro()
	if now <= c.last {
		now = c.last + 1
	}
	c.last = now
	return now
}

// applyLWW merges a sanitized partial update into the stored field map and
// reports the subset of fields that were actually accepted. Clears carry
// timestamps like any write, so a stale clear loses to a newer value.
func applyLWW(fields map[string]fieldState, rec Record, ts int64) Record {
	accepted := make(Record, len(rec))
	for name, value := range rec {
		if existing, ok := fields[name]; ok && existing.TS > ts {
			continue
		}
		fields[name] = fieldState{Value: value, TS: ts}
		accepted[name] = value
	}
	return accepted
}

// effectiveRecord projects a field map onto its merged record form, dropping
// cleared fields.
func effectiveRecord(fields map[string]fieldState) Record {
	rec := make(Record, len(fields))
	for name, fs := range fields {
		if fs.Value == nil {
			continue
		}
		rec[name] = fs.Value
	}
	return rec
}
