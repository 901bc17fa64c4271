package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/forceps/api/schemas"
	"github.com/xkilldash9x/forceps/internal/observability"
)

// Hub fans session lifecycle and action events out to any number of
// subscribers (websocket clients, the journal). Delivery is best-effort: a
// subscriber that cannot keep up loses events rather than stalling the
// action pipeline.
type Hub struct {
	logger     *zap.Logger
	bufferSize int

	mu          sync.Mutex
	subscribers map[uint64]chan schemas.Event
	nextID      uint64
	shutdown    bool
}

// NewHub initializes the event hub. bufferSize is each subscriber's channel
// capacity.
func NewHub(logger *zap.Logger, bufferSize int) *Hub {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Hub{
		logger:      logger.Named("events"),
		bufferSize:  bufferSize,
		subscribers: make(map[uint64]chan schemas.Event),
	}
}

// Publish stamps the event with an identifier and timestamp and delivers it
// to every subscriber. Publish never blocks: when a subscriber's buffer is
// full the event is dropped for that subscriber only.
func (h *Hub) Publish(ev schemas.Event) {
	ev.ID = uuid.New().String()
	ev.Timestamp = time.Now().UTC()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shutdown {
		return
	}
	for _, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			observability.EventsDropped.Inc()
			h.logger.Debug("Dropping event for slow subscriber.",
				zap.String("type", string(ev.Type)),
				zap.String("session_id", ev.SessionID))
		}
	}
}

// Subscribe registers a new feed and returns its channel plus a cancel
// function. The channel is closed by cancel or by Shutdown, whichever comes
// first; cancel is safe to call more than once.
func (h *Hub) Subscribe() (<-chan schemas.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.shutdown {
		closed := make(chan schemas.Event)
		close(closed)
		return closed, func() {}
	}

	id := h.nextID
	h.nextID++
	ch := make(chan schemas.Event, h.bufferSize)
	h.subscribers[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subscribers[id]; ok {
			delete(h.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Shutdown closes every subscriber channel and turns further Publish calls
// into no-ops.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shutdown {
		return
	}
	h.shutdown = true
	for id, ch := range h.subscribers {
		delete(h.subscribers, id)
		close(ch)
	}
	h.logger.Info("Event hub shut down.")
}
