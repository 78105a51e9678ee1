// Package events fans session activity out to SSE subscribers.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/swapisticated/Astro-Repo/internal/metrics"
	"github.com/swapisticated/Astro-Repo/pkg/protocol"
)

const (
	EventExpand   = "expand"
	EventContent  = "content"
	EventAnalysis = "analysis"
	EventSummary  = "summary"
	EventAnswer   = "answer"
	EventError    = "error"
	EventClosed   = "closed"
)

// Broadcaster manages SSE subscribers per session and publishes events.
type Broadcaster struct {
	mu     sync.RWMutex
	topics map[string]map[chan protocol.SSEEvent]struct{}
	total  int
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		topics: make(map[string]map[chan protocol.SSEEvent]struct{}),
	}
}

// Subscribe adds a subscriber for a session and returns its event channel.
// The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe(sessionID string) chan protocol.SSEEvent {
	ch := make(chan protocol.SSEEvent, 64)
	b.mu.Lock()
	subs, ok := b.topics[sessionID]
	if !ok {
		subs = make(map[chan protocol.SSEEvent]struct{})
		b.topics[sessionID] = subs
	}
	subs[ch] = struct{}{}
	b.total++
	total := b.total
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(total))
	return ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown channels
// are ignored, so it is safe after CloseSession.
func (b *Broadcaster) Unsubscribe(sessionID string, ch chan protocol.SSEEvent) {
	b.mu.Lock()
	subs := b.topics[sessionID]
	if _, ok := subs[ch]; ok {
		delete(subs, ch)
		close(ch)
		b.total--
		if len(subs) == 0 {
			delete(b.topics, sessionID)
		}
	}
	total := b.total
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(total))
}

// Publish sends an event to all subscribers of a session. Non-blocking:
// drops events for slow consumers.
func (b *Broadcaster) Publish(sessionID string, event protocol.SSEEvent) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.topics[sessionID] {
		select {
		case ch <- event:
		default:
			// Drop event for slow consumer
		}
	}
	metrics.RecordSSEEvent(event.Type)
}

// CloseSession sends a final closed event and detaches every subscriber of
// the session.
func (b *Broadcaster) CloseSession(sessionID string) {
	b.mu.Lock()
	subs := b.topics[sessionID]
	delete(b.topics, sessionID)
	closed := protocol.SSEEvent{Type: EventClosed, Timestamp: time.Now().Unix()}
	for ch := range subs {
		select {
		case ch <- closed:
		default:
		}
		close(ch)
		b.total--
	}
	total := b.total
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(total))
}

// Count returns the number of subscribers for a session.
func (b *Broadcaster) Count(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[sessionID])
}

// Total returns the number of subscribers across all sessions.
func (b *Broadcaster) Total() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}

// MarshalEvent serializes an event to JSON.
func MarshalEvent(e protocol.SSEEvent) ([]byte, error) {
	return json.Marshal(e)
}
