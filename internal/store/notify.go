package store

import (
	"sync"
)

// event is one queued delivery for a subscription.
type event struct {
	key string
	rec Record
}

// subscriberBuffer is the per-subscription queue depth. A subscriber that
// stalls past this depth blocks the writer rather than dropping changes;
// the store trades write latency for lossless delivery.
const subscriberBuffer = 128

// hub fans record changes out to subscriptions grouped by topic. Topics are
// "<model>/<collection>" strings so one hub serves every model on a client.
//
// Publish sends under the read lock while each subscription drains its own
// buffered channel on a dedicated goroutine, so a slow callback never stalls
// other subscribers and the pump never touches the hub's lock. A channel is
// closed only after its subscription is detached under the write lock, which
// keeps sends and closes strictly ordered.
type hub struct {
	mu     sync.RWMutex
	topics map[string]map[*subscription]struct{}
	closed bool
}

type subscription struct {
	hub   *hub
	topic string
	ch    chan event
	once  sync.Once
}

func newHub() *hub {
	return &hub{topics: make(map[string]map[*subscription]struct{})}
}

// subscribe registers cb under topic and starts its pump goroutine. On a
// closed hub the returned subscription is already cancelled.
func (h *hub) subscribe(topic string, cb Callback) *subscription {
	sub := &subscription{hub: h, topic: topic, ch: make(chan event, subscriberBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.once.Do(func() { close(sub.ch) })
		return sub
	}
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*subscription]struct{})
		h.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		for ev := range sub.ch {
			cb(ev.rec, ev.key)
		}
	}()
	return sub
}

// publish queues the events for every subscription of topic, in order.
func (h *hub) publish(topic string, events []event) {
	if len(events) == 0 {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for sub := range h.topics[topic] {
		for _, ev := range events {
			sub.ch <- ev
		}
	}
}

// remove detaches sub and closes its channel, ending the pump once the
// queue drains. Safe to call more than once.
func (h *hub) remove(sub *subscription) {
	h.mu.Lock()
	if subs, ok := h.topics[sub.topic]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.topics, sub.topic)
		}
	}
	h.mu.Unlock()
	sub.once.Do(func() { close(sub.ch) })
}

// close cancels every subscription and rejects further publishes.
func (h *hub) close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var all []*subscription
	for _, subs := range h.topics {
		for sub := range subs {
			all = append(all, sub)
		}
	}
	h.topics = make(map[string]map[*subscription]struct{})
	h.mu.Unlock()

	for _, sub := range all {
		sub.once.Do(func() { close(sub.ch) })
	}
}

// Off implements Subscription.
func (s *subscription) Off() {
	s.hub.remove(s)
}

func topicFor(model, collection string) string {
	return model + "/" + collection
}
