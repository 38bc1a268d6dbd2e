package core

import (
	"errors"
	"sync"

	"github.com/skybeep/skybeep/pkg/beep"
)

// ErrNoAnalyzer is returned by MatchAircraft when no aircraft state
// source is configured.
var ErrNoAnalyzer = errors.New("aircraft matching not configured")

// hub fans newly created sightings out to stream subscribers. A slow
// subscriber drops messages instead of blocking the ingestion path.
type hub struct {
	mu     sync.Mutex
	subs   map[int]chan *beep.Sighting
	nextID int
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan *beep.Sighting)}
}

func (h *hub) subscribe() (<-chan *beep.Sighting, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan *beep.Sighting, 16)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (h *hub) publish(s *beep.Sighting) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
