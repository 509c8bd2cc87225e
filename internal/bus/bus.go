// Package bus implements the Fan-out Bus: delivery of every Segment
// produced for a stream to an arbitrary number of dynamically
// (un)registered subscribers, with no head-of-line blocking between
// them.
//
// Grounded on ManagedStream.emit's non-blocking channel-send pattern
// (pkg/orchestrator/managed_stream.go in the teacher), generalized from
// one consumer to an arbitrary registered set, and on the
// subscribe/unsubscribe channel shape used by
// other_examples/.../longregen-alicia__...sse.go.
package bus

import (
	"sync"

	"github.com/lokutor-ai/transcribe-gateway/internal/model"
)

// subscriberQueueSize is the suggested bounded-queue capacity from
// spec §4.5.
const subscriberQueueSize = 64

// Subscriber is a handle returned by Register. Segments are delivered
// on Segments(); the handle is drained by its owning consumer (an SSE
// or WebSocket write loop) and released with Unregister.
type Subscriber struct {
	id       uint64
	ch       chan model.Segment
	dropped  int64
	mu       sync.Mutex
}

// Segments returns the channel to range over for delivered segments.
// It is closed by Unregister.
func (s *Subscriber) Segments() <-chan model.Segment {
	return s.ch
}

// Dropped reports how many segments were dropped for this subscriber
// because it fell behind (drop-oldest policy, see Bus.Broadcast).
func (s *Subscriber) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Bus fans out segments for exactly one stream_id to its registered
// subscribers. The Session Manager owns one Bus per active session.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscriber
	nextID uint64
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[uint64]*Subscriber)}
}

// Register adds a fresh bounded-queue subscriber and returns its
// handle. Safe to call concurrently with Broadcast.
func (b *Bus) Register() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscriber{id: b.nextID, ch: make(chan model.Segment, subscriberQueueSize)}
	b.subs[sub.id] = sub
	return sub
}

// Unregister removes a subscriber and closes its channel. A segment
// broadcast concurrently with Unregister may or may not have been
// delivered already; none will be delivered after Unregister returns.
// Safe to call more than once.
func (b *Bus) Unregister(sub *Subscriber) {
	b.mu.Lock()
	_, ok := b.subs[sub.id]
	if ok {
		delete(b.subs, sub.id)
	}
	b.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Broadcast delivers segment to every currently registered subscriber
// using non-blocking, drop-oldest offer semantics: if a subscriber's
// queue is full, its oldest pending segment is discarded to make room
// rather than blocking the broadcaster or any other subscriber.
//
// The subscriber set is snapshotted under a read lock and the lock is
// released before offering to individual queues, so a slow subscriber
// never holds up Register/Unregister or other subscribers.
func (b *Bus) Broadcast(segment model.Segment) {
	b.mu.RLock()
	snapshot := make([]*Subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		snapshot = append(snapshot, sub)
	}
	b.mu.RUnlock()

	for _, sub := range snapshot {
		offer(sub, segment)
	}
}

func offer(sub *Subscriber, segment model.Segment) {
	// A concurrent Unregister/CloseAll may have already closed sub.ch;
	// Go's select treats a send on a closed channel as always-ready, so
	// it panics rather than falling to default. Unregister can race a
	// broadcast by design (spec §4.5 — a segment observed before
	// unregistration may still be in flight), so this recover must be
	// in place before the very first send attempt below.
	defer func() { _ = recover() }()

	select {
	case sub.ch <- segment:
		return
	default:
	}

	// Queue full: drop the oldest pending item, then retry once.
	select {
	case <-sub.ch:
		sub.mu.Lock()
		sub.dropped++
		sub.mu.Unlock()
	default:
	}

	select {
	case sub.ch <- segment:
	default:
		sub.mu.Lock()
		sub.dropped++
		sub.mu.Unlock()
	}
}

// Count returns the number of currently registered subscribers, used
// by the admission API's list() projection (connected_clients).
func (b *Bus) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// CloseAll unregisters and closes every currently registered
// subscriber's channel, waking their WS/SSE delivery loops (the
// closed-channel read they select on) so each observes session
// disappearance and emits its `end` event rather than blocking
// forever. Called when a session is removed — stop() or process
// shutdown.
func (b *Bus) CloseAll() {
	b.mu.Lock()
	subs := make([]*Subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[uint64]*Subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.ch)
	}
}
