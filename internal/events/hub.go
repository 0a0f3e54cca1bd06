package events

import (
	"encoding/json"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Flags is a broadcast event-flag mask. Trusted services raise flags at any
// time, independently of the request/response channel.
type Flags uint32

// AllFlags subscribes a listener to every flag.
const AllFlags Flags = ^Flags(0)

// Listener accumulates the flags broadcast on a Hub that match its mask.
type Listener struct {
	mask    Flags
	pending atomic.Uint32
}

// GetAndClear returns the accumulated flags and resets them to zero in one step.
func (l *Listener) GetAndClear() Flags {
	return Flags(l.pending.Swap(0))
}

// Pending returns the accumulated flags without clearing them.
func (l *Listener) Pending() Flags {
	return Flags(l.pending.Load())
}

func (l *Listener) add(f Flags) {
	if f &= l.mask; f != 0 {
		l.pending.Or(uint32(f))
	}
}

// FlagsRaised is the payload of a "flags.raised" event.
type FlagsRaised struct {
	Source string `json:"source"`
	Flags  Flags  `json:"flags"`
}

// Hub is an in-memory pub/sub with a small ring buffer for late clients.
// It also carries the event-flag broadcast channel used by trusted services.
type Hub struct {
	nextID atomic.Int64

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]chan Event
	nextSubID int

	listeners []*Listener
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]chan Event),
	}
}

func (h *Hub) Publish(eventType string, data any) {
	id := h.nextID.Add(1)

	payload := []byte("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	ev := Event{
		ID:   id,
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}

	h.mu.Lock()
	h.pushLocked(ev)
	for _, ch := range h.subs {
		// Don't let slow clients block producers.
		select {
		case ch <- ev:
		default:
		}
	}
	h.mu.Unlock()
}

// Broadcast ORs flags into every listener whose mask matches, then records a
// "flags.raised" event for observers. Listeners see the flags before
// Broadcast returns.
func (h *Hub) Broadcast(source string, flags Flags) {
	if flags == 0 {
		return
	}
	h.mu.Lock()
	for _, l := range h.listeners {
		l.add(flags)
	}
	h.mu.Unlock()

	h.Publish("flags.raised", FlagsRaised{Source: source, Flags: flags})
}

// Listen registers a flag listener for the given mask.
func (h *Hub) Listen(mask Flags) *Listener {
	l := &Listener{mask: mask}
	h.mu.Lock()
	h.listeners = append(h.listeners, l)
	h.mu.Unlock()
	return l
}

// Unlisten detaches a listener. Its pending flags are left untouched.
func (h *Hub) Unlisten(l *Listener) {
	h.mu.Lock()
	h.listeners = slices.DeleteFunc(h.listeners, func(x *Listener) bool { return x == l })
	h.mu.Unlock()
}

func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, 128)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
		h.mu.Unlock()
	}

	return ch, cancel
}

// SnapshotSince returns buffered events with ID > lastID, oldest-first.
// If lastID is 0, the full ring buffer snapshot is returned.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if lastID == 0 || ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)
	if capacity == 0 {
		return
	}

	if h.size < capacity {
		idx := (h.start + h.size) % capacity
		h.ring[idx] = ev
		h.size++
		return
	}

	// Overwrite oldest.
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}
