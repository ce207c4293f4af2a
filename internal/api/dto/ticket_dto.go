package dto

import (
	"time"

	"github.com/spec-kit/maintenance-service/internal/domain"
)

// LocationPayload pins a ticket to a room.
type LocationPayload struct {
	Building string `json:"building"`
	Floor    string `json:"floor"`
	Room     string `json:"room"`
}

// CreateTicketRequest payload. ImageRef is a handle from blob storage; the
// service stores it as given.
type CreateTicketRequest struct {
	Title       string                `json:"title"`
	Category    domain.TicketCategory `json:"category"`
	Priority    domain.TicketPriority `json:"priority"`
	Location    LocationPayload       `json:"location"`
	Description string                `json:"description"`
	AccessNotes string                `json:"access_notes"`
	ImageRef    *string               `json:"image_ref"`
}

// CreateTicketResponse returns the identity of a new ticket.
type CreateTicketResponse struct {
	ID      string              `json:"id"`
	Code    string              `json:"code"`
	Status  domain.TicketStatus `json:"status"`
	Version int64               `json:"version"`
}

// TransitionRequest asks for a status change. ExpectedVersion is optional.
type TransitionRequest struct {
	TargetStatus    domain.TicketStatus `json:"target_status"`
	ExpectedVersion int64               `json:"expected_version"`
}

// RatingRequest payload.
type RatingRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// EditTicketRequest changes descriptive fields; omitted fields are unchanged.
type EditTicketRequest struct {
	Title           *string                `json:"title"`
	Category        *domain.TicketCategory `json:"category"`
	Priority        *domain.TicketPriority `json:"priority"`
	Building        *string                `json:"building"`
	Floor           *string                `json:"floor"`
	Room            *string                `json:"room"`
	Description     *string                `json:"description"`
	AccessNotes     *string                `json:"access_notes"`
	ImageRef        *string                `json:"image_ref"`
	ExpectedVersion int64                  `json:"expected_version"`
}

// TicketSummary response.
type TicketSummary struct {
	ID              string                `json:"id"`
	Code            string                `json:"code"`
	Title           string                `json:"title"`
	Category        domain.TicketCategory `json:"category"`
	Priority        domain.TicketPriority `json:"priority"`
	Status          domain.TicketStatus   `json:"status"`
	Location        LocationPayload       `json:"location"`
	RequesterID     string                `json:"requester_id"`
	AssignedStaffID *string               `json:"assigned_staff_id"`
	Version         int64                 `json:"version"`
	CreatedAt       time.Time             `json:"created_at"`
	TransitionedAt  time.Time             `json:"transitioned_at"`
}

// TicketDetailResponse provides full ticket info.
type TicketDetailResponse struct {
	TicketSummary
	Description   string    `json:"description"`
	AccessNotes   string    `json:"access_notes"`
	ImageRef      *string   `json:"image_ref"`
	Rating        *int      `json:"rating"`
	RatingComment *string   `json:"rating_comment"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TicketListResponse is one page of a scope.
type TicketListResponse struct {
	Data       []TicketSummary `json:"data"`
	Pagination Pagination      `json:"pagination"`
}

// Pagination metadata.
type Pagination struct {
	Scope    string `json:"scope"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
	Total    int64  `json:"total"`
}

// TicketHistoryResponse is one audit entry.
type TicketHistoryResponse struct {
	ID         string                  `json:"id"`
	ActorID    string                  `json:"actor_id"`
	ActorRole  domain.Role             `json:"actor_role"`
	ChangeType domain.TicketChangeType `json:"change_type"`
	FromStatus *domain.TicketStatus    `json:"from_status,omitempty"`
	ToStatus   *domain.TicketStatus    `json:"to_status,omitempty"`
	OldValue   map[string]any          `json:"old_value,omitempty"`
	NewValue   map[string]any          `json:"new_value,omitempty"`
	CreatedAt  time.Time               `json:"created_at"`
}

// TicketStatsResponse feeds the admin dashboard.
type TicketStatsResponse struct {
	Total            int64 `json:"total"`
	CreatedThisMonth int64 `json:"created_this_month"`
	Pending          int64 `json:"pending"`
	Approved         int64 `json:"approved"`
	Active           int64 `json:"active"`
	Complete         int64 `json:"complete"`
	Denied           int64 `json:"denied"`
}
