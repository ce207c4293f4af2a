package dto

import (
	"time"

	"github.com/spec-kit/maintenance-service/internal/domain"
)

// CreateMessageRequest payload.
type CreateMessageRequest struct {
	Body string `json:"body"`
}

// TicketMessageResponse represents a chat message.
type TicketMessageResponse struct {
	ID         string            `json:"id"`
	TicketID   string            `json:"ticket_id"`
	SenderID   string            `json:"sender_id"`
	SenderRole domain.SenderRole `json:"sender_role"`
	Body       string            `json:"body"`
	CreatedAt  time.Time         `json:"created_at"`
	Cursor     string            `json:"cursor"`
}

// MessageListResponse is one page of a ticket's thread.
type MessageListResponse struct {
	Data       []TicketMessageResponse `json:"data"`
	NextCursor string                  `json:"next_cursor"`
}

// StreamFrame is written to websocket subscribers.
type StreamFrame struct {
	Type    string                 `json:"type"`
	Message *TicketMessageResponse `json:"message,omitempty"`
	Cursor  string                 `json:"cursor,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Stream frame types.
const (
	FrameMessage  = "message"
	FrameCaughtUp = "caught_up"
	FrameResync   = "resync"
	FrameClosed   = "closed"
	FrameError    = "error"
)
