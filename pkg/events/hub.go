// Package events implements the in-memory SSE hub: bounded per-topic
// ring buffers, subscriber fan-out, and Last-Event-ID replay. This
// re-targets the teacher's events.ConnectionManager (WebSocket fan-out
// over Postgres LISTEN/NOTIFY) onto a DB-less, SSE transport — see
// DESIGN.md for the accounting.
package events

import (
	"sync"
	"time"
)

// bufferSize is the default number of retained events per topic, used
// to satisfy Last-Event-ID replay after a brief disconnect.
const bufferSize = 200

// PingInterval is how often the hub asks subscribers to emit a ":ping"
// keep-alive comment.
const PingInterval = 15 * time.Second

// Event is one published message: ID is a monotonically increasing
// per-topic sequence number, usable as an SSE "id:" field.
type Event struct {
	ID    int64  `json:"id"`
	Topic string `json:"topic"`
	Type  string `json:"type"`
	Data  any    `json:"data"`
}

// topic holds one bounded ring buffer plus its subscriber set.
type topic struct {
	mu          sync.Mutex
	nextID      int64
	buf         []Event
	subscribers map[int64]chan Event
	nextSubID   int64
}

// Hub fans out published events to per-topic subscribers, replaying
// buffered events newer than a supplied Last-Event-ID on subscribe.
type Hub struct {
	mu     sync.Mutex
	topics map[string]*topic
	cap    int
}

// NewHub builds a Hub with the default per-topic ring buffer capacity.
func NewHub() *Hub {
	return &Hub{topics: make(map[string]*topic), cap: bufferSize}
}

func (h *Hub) topicFor(name string) *topic {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[name]
	if !ok {
		t = &topic{subscribers: make(map[int64]chan Event)}
		h.topics[name] = t
	}
	return t
}

// Publish appends an event to topicName's ring buffer and delivers it to
// every current subscriber without blocking: a subscriber whose channel
// is full misses this event but stays subscribed — its next read will observe a gap
// and must fall back to a full reload (no gap-detection id is sent here
// since subscribers already track their own last-seen id).
func (h *Hub) Publish(topicName, eventType string, data any) Event {
	t := h.topicFor(topicName)

	t.mu.Lock()
	t.nextID++
	ev := Event{ID: t.nextID, Topic: topicName, Type: eventType, Data: data}
	t.buf = append(t.buf, ev)
	if len(t.buf) > h.cap {
		t.buf = t.buf[len(t.buf)-h.cap:]
	}
	subs := make([]chan Event, 0, len(t.subscribers))
	for _, ch := range t.subscribers {
		subs = append(subs, ch)
	}
	t.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return ev
}

// Subscription is a live subscriber handle; Events delivers the replayed
// backlog (buffered events with id > lastEventID) followed by new events;
// Close unregisters it.
type Subscription struct {
	Events chan Event
	close  func()
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	if s.close != nil {
		s.close()
	}
}

// Subscribe registers a new subscriber on topicName, replaying any
// buffered events with ID > lastEventID (the SSE Last-Event-ID value)
// before live events start flowing.
func (h *Hub) Subscribe(topicName string, lastEventID int64) *Subscription {
	t := h.topicFor(topicName)

	t.mu.Lock()
	t.nextSubID++
	subID := t.nextSubID
	ch := make(chan Event, h.cap)
	var replay []Event
	for _, ev := range t.buf {
		if ev.ID > lastEventID {
			replay = append(replay, ev)
		}
	}
	t.subscribers[subID] = ch
	t.mu.Unlock()

	for _, ev := range replay {
		ch <- ev
	}

	return &Subscription{
		Events: ch,
		close: func() {
			t.mu.Lock()
			delete(t.subscribers, subID)
			t.mu.Unlock()
		},
	}
}

// SubscriberCount returns the number of live subscribers on topicName.
func (h *Hub) SubscriberCount(topicName string) int {
	t := h.topicFor(topicName)
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subscribers)
}
