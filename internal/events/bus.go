package events

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// EventType identifies the kind of event.
type EventType string

const (
	EventModelSelected      EventType = "model_selected"
	EventNoEligibleModel    EventType = "no_eligible_model"
	EventPerformanceUpdated EventType = "performance_updated"
	EventProviderCall       EventType = "provider_call"
	EventProviderError      EventType = "provider_error"
	EventHealthChange       EventType = "health_change"
	EventRegistryChanged    EventType = "registry_changed"
)

// Event is a single modelhub event published on the bus.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Selection fields.
	Module   string  `json:"module,omitempty"`
	TaskType string  `json:"task_type,omitempty"`
	Score    float64 `json:"score,omitempty"`

	// Model / provider fields.
	ModelID    string  `json:"model_id,omitempty"`
	ProviderID string  `json:"provider_id,omitempty"`
	LatencyMs  float64 `json:"latency_ms,omitempty"`
	CostUSD    float64 `json:"cost_usd,omitempty"`
	Tokens     int     `json:"tokens,omitempty"`
	ErrorMsg   string  `json:"error_msg,omitempty"`
	Reason     string  `json:"reason,omitempty"`

	// Health fields (populated for health_change events).
	OldState string `json:"old_state,omitempty"`
	NewState string `json:"new_state,omitempty"`
}

// JSON returns the event as a JSON byte slice.
func (e *Event) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// ParseTypes splits a comma separated list of event types, ignoring blanks.
func ParseTypes(list string) []EventType {
	var out []EventType
	for _, t := range strings.Split(list, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, EventType(t))
		}
	}
	return out
}

// Subscriber receives events on C. When created with a type filter only
// matching events are delivered.
type Subscriber struct {
	C chan Event

	types   map[EventType]struct{}
	dropped atomic.Uint64
}

func (s *Subscriber) wants(t EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Dropped reports how many events were discarded because C was full.
func (s *Subscriber) Dropped() uint64 { return s.dropped.Load() }

// Bus fans events out to subscribers in process. A nil *Bus accepts and
// discards events.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscriber]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscriber]struct{})}
}

// Subscribe registers a subscriber with a channel buffer of bufSize (64 when
// not positive), optionally limited to the given event types.
func (b *Bus) Subscribe(bufSize int, types ...EventType) *Subscriber {
	if bufSize <= 0 {
		bufSize = 64
	}
	s := &Subscriber{C: make(chan Event, bufSize)}
	if len(types) > 0 {
		s.types = make(map[EventType]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

// Publish stamps e and delivers it to every interested subscriber. Slow
// subscribers lose the event instead of blocking the publisher.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.C <- e:
		default:
			s.dropped.Add(1)
		}
	}
}

func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
