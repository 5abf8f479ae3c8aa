package events

import (
	"sync"

	"skillchain/core/types"
)

const defaultBacklog = 256

// Stamped pairs an emitted event with the monotonically increasing sequence
// number assigned by the hub. Subscribers use the sequence as a resume cursor.
type Stamped struct {
	Seq   uint64       `json:"seq"`
	Event *types.Event `json:"event"`
}

// Hub fans emitted events out to live subscribers while retaining a bounded
// backlog so late subscribers can catch up from a cursor.
type Hub struct {
	mu      sync.Mutex
	seq     uint64
	backlog []Stamped
	limit   int
	subs    map[chan Stamped]struct{}
}

// NewHub constructs a hub retaining up to limit events. A non-positive limit
// selects the default backlog size.
func NewHub(limit int) *Hub {
	if limit <= 0 {
		limit = defaultBacklog
	}
	return &Hub{
		limit: limit,
		subs:  make(map[chan Stamped]struct{}),
	}
}

// Emit implements the Emitter interface. Slow subscribers are skipped rather
// than blocking the emitting operation.
func (h *Hub) Emit(evt Event) {
	if h == nil || evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}
	h.mu.Lock()
	h.seq++
	stamped := Stamped{Seq: h.seq, Event: payload}
	h.backlog = append(h.backlog, stamped)
	if len(h.backlog) > h.limit {
		h.backlog = h.backlog[len(h.backlog)-h.limit:]
	}
	for ch := range h.subs {
		select {
		case ch <- stamped:
		default:
		}
	}
	h.mu.Unlock()
}

// Subscribe registers a new subscriber and returns the channel of future
// events, a cancel function, and the retained backlog after the supplied
// cursor. A cursor of zero replays the full retained backlog.
func (h *Hub) Subscribe(afterSeq uint64) (<-chan Stamped, func(), []Stamped) {
	ch := make(chan Stamped, 64)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	var backlog []Stamped
	for _, stamped := range h.backlog {
		if stamped.Seq > afterSeq {
			backlog = append(backlog, stamped)
		}
	}
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel, backlog
}

// LastSeq reports the sequence number of the most recently emitted event.
func (h *Hub) LastSeq() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}
