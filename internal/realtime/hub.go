package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/maintenance-service/internal/domain"
	"github.com/spec-kit/maintenance-service/internal/events"
)

// DefaultSubscriberBuffer is used when the hub is built with a non-positive buffer.
const DefaultSubscriberBuffer = 64

// Subscription receives the live messages of one ticket. The channel is closed
// when the subscriber unsubscribes, the ticket is deleted, or the subscriber
// falls so far behind that its buffer fills; Lagged tells the last case apart.
type Subscription struct {
	TicketID string

	ch     chan domain.TicketMessage
	once   sync.Once
	mu     sync.Mutex
	lagged bool
}

// Messages returns the receive side of the subscription.
func (s *Subscription) Messages() <-chan domain.TicketMessage {
	return s.ch
}

// Lagged reports whether the subscription was dropped for being too slow. The
// consumer should resync from its last cursor.
func (s *Subscription) Lagged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lagged
}

func (s *Subscription) close(lagged bool) {
	s.once.Do(func() {
		s.mu.Lock()
		s.lagged = lagged
		s.mu.Unlock()
		close(s.ch)
	})
}

// Hub fans out posted chat messages to per-ticket subscribers.
type Hub struct {
	mu     sync.Mutex
	buffer int
	subs   map[string]map[*Subscription]struct{}
	logger *zap.Logger
}

// NewHub builds a hub whose subscribers buffer up to buffer messages.
func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		buffer: buffer,
		subs:   make(map[string]map[*Subscription]struct{}),
		logger: logger,
	}
}

// Register wires the hub to the event dispatcher. Posted messages are not
// taken from the dispatcher: the chat service broadcasts them itself, in store
// order, before the event is published.
func (h *Hub) Register(dispatcher events.Dispatcher) {
	dispatcher.Subscribe(events.EventTicketDeleted, h.handleTicketDeleted)
}

// Subscribe starts a live subscription for ticketID.
func (h *Hub) Subscribe(ticketID string) *Subscription {
	sub := &Subscription{TicketID: ticketID, ch: make(chan domain.TicketMessage, h.buffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[ticketID] == nil {
		h.subs[ticketID] = make(map[*Subscription]struct{})
	}
	h.subs[ticketID][sub] = struct{}{}
	return sub
}

// Unsubscribe removes sub and closes its channel. Safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	h.remove(sub)
	h.mu.Unlock()
	sub.close(false)
}

// Broadcast delivers msg to every subscriber of its ticket without blocking.
// A subscriber whose buffer is full is dropped.
func (h *Hub) Broadcast(msg domain.TicketMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[msg.TicketID] {
		select {
		case sub.ch <- msg:
		default:
			h.logger.Warn("dropping slow chat subscriber", zap.String("ticket_id", msg.TicketID))
			h.remove(sub)
			sub.close(true)
		}
	}
}

// CloseTicket ends every subscription for ticketID.
func (h *Hub) CloseTicket(ticketID string) {
	h.mu.Lock()
	subs := h.subs[ticketID]
	delete(h.subs, ticketID)
	h.mu.Unlock()
	for sub := range subs {
		sub.close(false)
	}
}

// SubscriberCount returns the number of live subscriptions for ticketID.
func (h *Hub) SubscriberCount(ticketID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[ticketID])
}

// remove must be called with h.mu held.
func (h *Hub) remove(sub *Subscription) {
	subs := h.subs[sub.TicketID]
	if subs == nil {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.subs, sub.TicketID)
	}
}

func (h *Hub) handleTicketDeleted(_ context.Context, event events.Event) error {
	h.CloseTicket(event.TicketID)
	return nil
}
