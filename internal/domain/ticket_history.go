package domain

import "time"

// TicketChangeType captures what changed in a history entry.
type TicketChangeType string

const (
	ChangeTypeCreated TicketChangeType = "CREATED"
	ChangeTypeStatus  TicketChangeType = "STATUS_CHANGE"
	ChangeTypeRating  TicketChangeType = "RATING"
	ChangeTypeDetails TicketChangeType = "DETAILS_CHANGE"
)

// TicketHistory is an immutable audit trail entry.
type TicketHistory struct {
	ID         string
	TicketID   string
	ActorID    string
	ActorRole  Role
	ChangeType TicketChangeType
	FromStatus *TicketStatus
	ToStatus   *TicketStatus
	OldValue   map[string]any
	NewValue   map[string]any
	CreatedAt  time.Time
}
