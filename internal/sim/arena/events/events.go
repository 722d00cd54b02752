package events

import (
	"sync"
	"sync/atomic"
	"time"
)

type Kind string

const (
	ActivationBegun    Kind = "ACTIVATION_BEGUN"
	ActivationComplete Kind = "ACTIVATION_COMPLETE"
	FieldReset         Kind = "FIELD_RESET"
	WaveStarted        Kind = "WAVE_STARTED"
	RouteUpdated       Kind = "ROUTE_UPDATED"
	RouteStale         Kind = "ROUTE_STALE"
	WaveCompleted      Kind = "WAVE_COMPLETED"
)

// Event is a fire-and-forget notification about the field. Fields that do not
// apply to a kind are left zero; Entrance is -1 when no entrance is involved.
type Event struct {
	Kind     Kind      `json:"kind"`
	At       time.Time `json:"at"`
	Epoch    uint64    `json:"epoch,omitempty"`
	Entrance int       `json:"entrance"`
	Found    bool      `json:"found,omitempty"`
	Len      int       `json:"len,omitempty"`

	// Wave totals, set on WAVE_STARTED and WAVE_COMPLETED.
	Entrances int `json:"entrances,omitempty"`
	Routes    int `json:"routes,omitempty"`
	Missing   int `json:"missing,omitempty"`

	Seed    int64 `json:"seed,omitempty"`
	Cleared int   `json:"cleared,omitempty"`
	Filled  int   `json:"filled,omitempty"`
}

func New(kind Kind) Event {
	return Event{Kind: kind, At: time.Now().UTC(), Entrance: -1}
}

type Sink interface {
	Emit(ev Event)
}

type SinkFunc func(ev Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

type Discard struct{}

func (Discard) Emit(Event) {}

// Multi fans one event out to several sinks in order; nil sinks are skipped.
type Multi []Sink

func (m Multi) Emit(ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ev)
		}
	}
}

// Bus delivers events to subscribers over buffered channels. Emit never
// blocks: a subscriber whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]chan Event

	dropped atomic.Uint64
}

func NewBus() *Bus {
	return &Bus{subs: map[uint64]chan Event{}}
}

func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) Dropped() uint64 { return b.dropped.Load() }
