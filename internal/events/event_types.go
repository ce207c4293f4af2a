package events

import (
	"time"

	"github.com/spec-kit/maintenance-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket_created"
	EventTicketStatusChanged EventType = "ticket_status_changed"
	EventTicketUpdated       EventType = "ticket_updated"
	EventTicketRated         EventType = "ticket_rated"
	EventTicketDeleted       EventType = "ticket_deleted"
	EventTicketMessagePosted EventType = "ticket_message_posted"
)

// AllEventTypes lists every event the services emit.
var AllEventTypes = []EventType{
	EventTicketCreated,
	EventTicketStatusChanged,
	EventTicketUpdated,
	EventTicketRated,
	EventTicketDeleted,
	EventTicketMessagePosted,
}

// Actor encapsulates actor metadata for an event.
type Actor struct {
	ID   string      `json:"id"`
	Role domain.Role `json:"role"`
}

// ActorFrom converts a domain actor.
func ActorFrom(actor domain.Actor) Actor {
	return Actor{ID: actor.ID, Role: actor.Role}
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	TicketID  string    `json:"ticket_id"`
	Actor     Actor     `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Code     string                `json:"code"`
	Title    string                `json:"title"`
	Category domain.TicketCategory `json:"category"`
	Priority domain.TicketPriority `json:"priority"`
}

// TicketStatusChangedPayload is the lifecycle event emitted for every applied transition.
type TicketStatusChangedPayload struct {
	From            domain.TicketStatus `json:"from"`
	To              domain.TicketStatus `json:"to"`
	AssignedStaffID *string             `json:"assigned_staff_id,omitempty"`
	Version         int64               `json:"version"`
}

// TicketUpdatedPayload lists the descriptive fields an edit changed.
type TicketUpdatedPayload struct {
	Fields  []string `json:"fields"`
	Version int64    `json:"version"`
}

// TicketRatedPayload payload.
type TicketRatedPayload struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment,omitempty"`
}

// TicketDeletedPayload payload.
type TicketDeletedPayload struct {
	Code   string              `json:"code"`
	Status domain.TicketStatus `json:"status"`
}

// TicketMessagePostedPayload carries the full message so downstream consumers need no read-back.
type TicketMessagePostedPayload struct {
	MessageID  string            `json:"message_id"`
	Seq        int64             `json:"seq"`
	SenderID   string            `json:"sender_id"`
	SenderRole domain.SenderRole `json:"sender_role"`
	Body       string            `json:"body"`
	CreatedAt  time.Time         `json:"created_at"`
	Cursor     string            `json:"cursor"`
}

// MessagePostedPayload builds the payload for msg.
func MessagePostedPayload(msg *domain.TicketMessage) TicketMessagePostedPayload {
	return TicketMessagePostedPayload{
		MessageID:  msg.ID,
		Seq:        msg.Seq,
		SenderID:   msg.SenderID,
		SenderRole: msg.SenderRole,
		Body:       msg.Body,
		CreatedAt:  msg.CreatedAt,
		Cursor:     msg.Cursor().String(),
	}
}
