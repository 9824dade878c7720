// Package events fans out job, queue, health and model updates to
// streaming clients.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/snarg/juicer/internal/metrics"
)

// Event types.
const (
	TypeProgress     = "progress"
	TypeQueue        = "queue"
	TypeHealth       = "health"
	TypeModel        = "model"
	TypeNotification = "notification"
)

// Event is one published update as sent to stream clients.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	SubType   string          `json:"subtype,omitempty"`
	Timestamp string          `json:"timestamp"`
	JobID     string          `json:"job_id,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// Filter restricts which events a subscriber receives. Empty fields match
// everything.
type Filter struct {
	Types []string // "type" or "type:subtype"
	JobID string
}

// Data holds all fields needed to publish an event.
type Data struct {
	Type    string
	SubType string
	JobID   string
	Payload any
}

// Publisher is implemented by Bus. Components take it so tests can record
// what they publish.
type Publisher interface {
	Publish(e Data)
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Data) {}

// Bus provides pub-sub event distribution for stream subscribers.
// It keeps a ring buffer for replay on reconnect.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]subscriber
	nextID      uint64
	seq         atomic.Uint64

	ring     []Event
	ringSize int
	ringHead int
	ringMu   sync.RWMutex
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

// NewBus creates an event bus with the given ring buffer size.
func NewBus(ringSize int) *Bus {
	if ringSize < 1 {
		ringSize = 1
	}
	return &Bus{
		subscribers: make(map[uint64]subscriber),
		ring:        make([]Event, ringSize),
		ringSize:    ringSize,
	}
}

// Subscribe registers a new subscriber and returns a channel and cancel
// function. Cancel closes the channel.
func (b *Bus) Subscribe(filter Filter) (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, 64)
	b.subscribers[id] = subscriber{ch: ch, filter: filter}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// ReplaySince returns buffered events after the given event ID, or every
// buffered event when lastEventID is empty.
func (b *Bus) ReplaySince(lastEventID string, filter Filter) []Event {
	b.ringMu.RLock()
	defer b.ringMu.RUnlock()

	var events []Event
	found := lastEventID == ""

	for i := 0; i < b.ringSize; i++ {
		e := b.ring[(b.ringHead+i)%b.ringSize]
		if e.ID == "" {
			continue
		}
		if !found {
			if e.ID == lastEventID {
				found = true
			}
			continue
		}
		if filter.matches(e) {
			events = append(events, e)
		}
	}
	return events
}

// Publish sends an event to all matching subscribers and adds it to the
// ring buffer. Slow subscribers miss events rather than block publishers.
func (b *Bus) Publish(d Data) {
	data, err := json.Marshal(d.Payload)
	if err != nil {
		return
	}

	now := time.Now()
	seq := b.seq.Add(1)
	event := Event{
		ID:        fmt.Sprintf("%d-%d", now.UnixMilli(), seq),
		Type:      d.Type,
		SubType:   d.SubType,
		Timestamp: now.UTC().Format(time.RFC3339),
		JobID:     d.JobID,
		Data:      data,
	}

	b.ringMu.Lock()
	b.ring[b.ringHead] = event
	b.ringHead = (b.ringHead + 1) % b.ringSize
	b.ringMu.Unlock()

	b.mu.RLock()
	for _, sub := range b.subscribers {
		if sub.filter.matches(event) {
			select {
			case sub.ch <- event:
			default:
			}
		}
	}
	b.mu.RUnlock()

	metrics.EventsPublishedTotal.WithLabelValues(d.Type).Inc()
}

func (f Filter) matches(e Event) bool {
	if f.JobID != "" && e.JobID != "" && f.JobID != e.JobID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		t = strings.TrimSpace(t)
		if base, sub, ok := strings.Cut(t, ":"); ok {
			if base == e.Type && sub == e.SubType {
				return true
			}
		} else if t == e.Type {
			return true
		}
	}
	return false
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
