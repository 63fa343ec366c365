package chunkstore

import (
	"sync"
	"sync/atomic"
)

// DefaultBroadcastCapacity is the per-subscriber event buffer used when no
// capacity is configured.
const DefaultBroadcastCapacity = 1024

// EventKind identifies the type of a broadcast event.
type EventKind uint8

const (
	// EventData carries one appended chunk.
	EventData EventKind = iota
	// EventDone marks normal completion of the object.
	EventDone
	// EventAbort marks an aborted upload or a deleted object.
	EventAbort
)

// String returns the lowercase name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventData:
		return "data"
	case EventDone:
		return "done"
	case EventAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// Event is a single notification published to live subscribers.
type Event struct {
	Kind EventKind
	Data []byte
}

// notifier fans events out to any number of subscribers. Each subscriber has
// its own bounded buffer and only sees events published after it subscribed.
// Publishing never blocks: a subscriber whose buffer is full when a data event
// arrives is severed.
type notifier struct {
	mu       sync.Mutex
	capacity int
	subs     map[*Subscription]struct{}
	closed   bool
	final    EventKind
}

func newNotifier(capacity int) *notifier {
	if capacity <= 0 {
		capacity = DefaultBroadcastCapacity
	}
	return &notifier{
		capacity: capacity,
		subs:     make(map[*Subscription]struct{}),
	}
}

// subscribe registers a new subscriber. Subscribing after the terminal event
// has been published returns an already-closed subscription.
func (n *notifier) subscribe() *Subscription {
	sub := &Subscription{
		events: make(chan Event, n.capacity),
		n:      n,
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		close(sub.events)
		return sub
	}
	n.subs[sub] = struct{}{}
	return sub
}

// publishData delivers a chunk to every subscriber, severing the ones that
// cannot keep up.
func (n *notifier) publishData(chunk []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}

	ev := Event{Kind: EventData, Data: chunk}
	for sub := range n.subs {
		select {
		case sub.events <- ev:
		default:
			sub.lagged.Store(true)
			delete(n.subs, sub)
			close(sub.events)
		}
	}
}

// publishTerminal delivers Done or Abort and then closes every subscriber.
// Only the first terminal event has any effect.
func (n *notifier) publishTerminal(kind EventKind) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	n.final = kind

	for sub := range n.subs {
		// A full buffer already holds every data event; closing the channel
		// ends the stream after those drain.
		select {
		case sub.events <- Event{Kind: kind}:
		default:
		}
		close(sub.events)
	}
	clear(n.subs)
}

func (n *notifier) unsubscribe(sub *Subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.subs[sub]; ok {
		delete(n.subs, sub)
		close(sub.events)
	}
}

// terminal returns the terminal event kind, or false if the feed is still
// open.
func (n *notifier) terminal() (EventKind, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.final, n.closed
}

func (n *notifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

// Subscription is one reader's position in an object's live feed.
type Subscription struct {
	events chan Event
	n      *notifier
	lagged atomic.Bool
}

// Events returns the channel of live events. It is closed after the terminal
// event, when the subscriber is severed, or after Close.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Lagged reports whether the subscription was severed because its buffer
// filled up.
func (s *Subscription) Lagged() bool {
	return s.lagged.Load()
}

// Terminal returns the object's terminal event kind once it has been
// published.
func (s *Subscription) Terminal() (EventKind, bool) {
	return s.n.terminal()
}

// Close releases the subscription. It is safe to call more than once and
// after the feed has ended.
func (s *Subscription) Close() {
	s.n.unsubscribe(s)
}
