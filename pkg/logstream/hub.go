package logstream

import (
	"sync"

	"github.com/google/uuid"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls more than this many entries behind starts losing lines rather than
// stalling the stream readers.
const subscriberBuffer = 64

// Hub fans experiment log entries out to subscribers keyed by experiment id.
//
// Publishing never blocks: a full subscriber channel drops the entry for that
// subscriber only. The supervisor's stream readers are the sole producers; any
// number of consumers may subscribe and unsubscribe concurrently.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[string]chan Entry // experiment id -> subscriber id -> channel
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[string]chan Entry)}
}

// Subscribe registers a new subscriber for the given experiment and returns
// its id plus the receive channel. The channel is closed on Unsubscribe,
// CloseExperiment, or Close.
func (h *Hub) Subscribe(experimentID string) (string, <-chan Entry) {
	id := uuid.New().String()
	ch := make(chan Entry, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return id, ch
	}
	set, ok := h.subs[experimentID]
	if !ok {
		set = make(map[string]chan Entry)
		h.subs[experimentID] = set
	}
	set[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown ids are a
// no-op so callers can defer it unconditionally.
func (h *Hub) Unsubscribe(experimentID, subscriberID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[experimentID]
	if !ok {
		return
	}
	if ch, ok := set[subscriberID]; ok {
		close(ch)
		delete(set, subscriberID)
	}
	if len(set) == 0 {
		delete(h.subs, experimentID)
	}
}

// Publish delivers an entry to every subscriber of its experiment. Slow
// subscribers are skipped, not waited for.
func (h *Hub) Publish(e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, ch := range h.subs[e.ExperimentID] {
		select {
		case ch <- e:
		default:
			// subscriber is full; drop rather than block the reader
		}
	}
}

// CloseExperiment closes and removes every subscriber of one experiment.
// Called when an experiment is deleted.
func (h *Hub) CloseExperiment(experimentID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs[experimentID] {
		close(ch)
		delete(h.subs[experimentID], id)
	}
	delete(h.subs, experimentID)
}

// Close shuts the hub down and closes all subscriber channels. Subsequent
// Publish calls are dropped and Subscribe returns an already-closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for expID, set := range h.subs {
		for id, ch := range set {
			close(ch)
			delete(set, id)
		}
		delete(h.subs, expID)
	}
}
