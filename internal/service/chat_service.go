package service

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/maintenance-service/internal/domain"
	"github.com/spec-kit/maintenance-service/internal/events"
	"github.com/spec-kit/maintenance-service/internal/realtime"
	"github.com/spec-kit/maintenance-service/internal/repository"
	apperrors "github.com/spec-kit/maintenance-service/pkg/util/errorutil"
)

const (
	maxMessageLength   = 2000
	defaultMessagePage = 50
	maxMessagePage     = 200
	replayBatchSize    = 200
	threadLockStripes  = 64
)

// ChatService is the per-ticket message relay. It never changes ticket state.
type ChatService struct {
	tickets    repository.TicketRepository
	messages   repository.TicketMessageRepository
	guard      *AuthorizationGuard
	hub        *realtime.Hub
	dispatcher events.Dispatcher
	logger     *zap.Logger
	now        func() time.Time

	// threadLocks order append and live delivery per ticket, so subscribers
	// see messages in store order.
	threadLocks [threadLockStripes]sync.Mutex
}

// ChatDependencies bundles collaborators for the chat service.
type ChatDependencies struct {
	TicketRepo  repository.TicketRepository
	MessageRepo repository.TicketMessageRepository
	Guard       *AuthorizationGuard
	Hub         *realtime.Hub
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
	Clock       func() time.Time
}

// MessagePage is one slice of a ticket's message log. NextCursor resumes after
// the last returned message, or echoes the request cursor when nothing is new.
type MessagePage struct {
	Messages   []domain.TicketMessage
	NextCursor string
}

// NewChatService constructs the service.
func NewChatService(deps ChatDependencies) *ChatService {
	guard := deps.Guard
	if guard == nil {
		guard = NewAuthorizationGuard()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &ChatService{
		tickets:    deps.TicketRepo,
		messages:   deps.MessageRepo,
		guard:      guard,
		hub:        deps.Hub,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		now:        clock,
	}
}

// PostMessage appends body to the ticket's thread. Only the requester and the
// assigned staff member may post, and only while the ticket is Active.
func (s *ChatService) PostMessage(ctx context.Context, actor domain.Actor, ticketID, body string) (*domain.TicketMessage, error) {
	body = strings.TrimSpace(body)
	switch n := utf8.RuneCountInString(body); {
	case n == 0:
		return nil, apperrors.NewValidationError("message body is required", map[string]any{"body": "required"})
	case n > maxMessageLength:
		return nil, apperrors.NewValidationError("message body is too long", map[string]any{"body": "too long"})
	}

	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, mapStoreError(err)
	}
	if !s.guard.CanMessage(actor, ticket) {
		return nil, apperrors.NewForbidden("messages can only be posted by the requester or assigned staff while the ticket is Active")
	}

	msg := &domain.TicketMessage{
		ID:         uuid.NewString(),
		TicketID:   ticket.ID,
		SenderID:   actor.ID,
		SenderRole: senderRoleFor(actor),
		Body:       body,
	}
	lock := s.threadLock(ticket.ID)
	lock.Lock()
	if err := s.messages.Append(ctx, msg); err != nil {
		lock.Unlock()
		s.logger.Error("append message failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
		return nil, mapStoreError(err)
	}
	if s.hub != nil {
		s.hub.Broadcast(*msg)
	}
	lock.Unlock()

	if s.dispatcher != nil {
		_ = s.dispatcher.Publish(ctx, events.Event{
			ID:        uuid.NewString(),
			Type:      events.EventTicketMessagePosted,
			TicketID:  ticket.ID,
			Actor:     events.ActorFrom(actor),
			Timestamp: s.now().UTC(),
			Payload:   events.MessagePostedPayload(msg),
		})
	}
	return msg, nil
}

// ListMessages returns messages strictly after since, oldest first.
func (s *ChatService) ListMessages(ctx context.Context, actor domain.Actor, ticketID, since string, limit int) (*MessagePage, error) {
	cursor, err := domain.ParseMessageCursor(since)
	if err != nil {
		return nil, apperrors.NewValidationError("invalid cursor", map[string]any{"since": since})
	}
	if _, err := s.readableTicket(ctx, actor, ticketID); err != nil {
		return nil, err
	}

	switch {
	case limit <= 0:
		limit = defaultMessagePage
	case limit > maxMessagePage:
		limit = maxMessagePage
	}
	msgs, err := s.messages.ListSince(ctx, ticketID, cursor, limit)
	if err != nil {
		return nil, mapStoreError(err)
	}
	page := &MessagePage{Messages: msgs, NextCursor: cursor.String()}
	if len(msgs) > 0 {
		page.NextCursor = msgs[len(msgs)-1].Cursor().String()
	}
	return page, nil
}

// Subscribe opens a live stream for the ticket. The returned stream holds every
// stored message after since as its backlog; live messages already covered by
// the backlog are filtered by Accept.
func (s *ChatService) Subscribe(ctx context.Context, actor domain.Actor, ticketID, since string) (*MessageStream, error) {
	if s.hub == nil {
		return nil, apperrors.NewInternalError(errNoHub)
	}
	cursor, err := domain.ParseMessageCursor(since)
	if err != nil {
		return nil, apperrors.NewValidationError("invalid cursor", map[string]any{"since": since})
	}
	if _, err := s.readableTicket(ctx, actor, ticketID); err != nil {
		return nil, err
	}

	// Register before replaying so nothing posted in between is missed.
	sub := s.hub.Subscribe(ticketID)
	stream := &MessageStream{hub: s.hub, sub: sub, cursor: cursor}
	for {
		batch, err := s.messages.ListSince(ctx, ticketID, cursor, replayBatchSize)
		if err != nil {
			s.hub.Unsubscribe(sub)
			return nil, mapStoreError(err)
		}
		stream.Backlog = append(stream.Backlog, batch...)
		if len(batch) < replayBatchSize {
			break
		}
		cursor = batch[len(batch)-1].Cursor()
	}
	return stream, nil
}

func (s *ChatService) threadLock(ticketID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(ticketID))
	return &s.threadLocks[h.Sum32()%threadLockStripes]
}

func (s *ChatService) readableTicket(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, mapStoreError(err)
	}
	if !s.guard.CanReadMessages(actor, ticket) {
		return nil, apperrors.NewForbidden("not allowed to read this conversation")
	}
	return ticket, nil
}

// MessageStream is a replay-then-live view of one ticket's messages.
type MessageStream struct {
	Backlog []domain.TicketMessage

	hub    *realtime.Hub
	sub    *realtime.Subscription
	cursor domain.MessageCursor
}

// Live returns the channel of messages posted after the subscription started.
func (m *MessageStream) Live() <-chan domain.TicketMessage {
	return m.sub.Messages()
}

// Accept reports whether msg is new to the consumer and advances the cursor.
func (m *MessageStream) Accept(msg domain.TicketMessage) bool {
	if !m.cursor.After(&msg) {
		return false
	}
	m.cursor = msg.Cursor()
	return true
}

// Cursor returns the position of the last accepted message.
func (m *MessageStream) Cursor() string {
	return m.cursor.String()
}

// Lagged reports whether the stream was dropped for falling behind.
func (m *MessageStream) Lagged() bool {
	return m.sub.Lagged()
}

// Close ends the live subscription.
func (m *MessageStream) Close() {
	m.hub.Unsubscribe(m.sub)
}
