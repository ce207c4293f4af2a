package domain

import "time"

// TicketStatus enumerates lifecycle states for maintenance tickets.
type TicketStatus string

const (
	TicketStatusPending  TicketStatus = "Pending"
	TicketStatusApproved TicketStatus = "Approved"
	TicketStatusDenied   TicketStatus = "Denied"
	TicketStatusActive   TicketStatus = "Active"
	TicketStatusComplete TicketStatus = "Complete"
)

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusPending, TicketStatusApproved, TicketStatusDenied, TicketStatusActive, TicketStatusComplete:
		return true
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s TicketStatus) Terminal() bool {
	return s == TicketStatusComplete || s == TicketStatusDenied
}

// Cancellable reports whether the requester may still delete a ticket in status s.
func (s TicketStatus) Cancellable() bool {
	return s == TicketStatusPending || s == TicketStatusApproved || s == TicketStatusDenied
}

// RequiresAssignee reports whether a ticket in status s must carry an assigned staff member.
func (s TicketStatus) RequiresAssignee() bool {
	return s == TicketStatusActive || s == TicketStatusComplete
}

// TicketCategory enumerates the kind of maintenance work requested.
type TicketCategory string

const (
	CategoryPlumbing   TicketCategory = "Plumbing"
	CategoryElectrical TicketCategory = "Electrical"
	CategoryHVAC       TicketCategory = "HVAC"
	CategoryFurniture  TicketCategory = "Furniture"
	CategoryOther      TicketCategory = "Other"
)

// Valid reports whether c is a known category.
func (c TicketCategory) Valid() bool {
	switch c {
	case CategoryPlumbing, CategoryElectrical, CategoryHVAC, CategoryFurniture, CategoryOther:
		return true
	}
	return false
}

// TicketPriority enumerates urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "Low"
	TicketPriorityMedium TicketPriority = "Medium"
	TicketPriorityUrgent TicketPriority = "Urgent"
)

// Valid reports whether p is a known priority.
func (p TicketPriority) Valid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityUrgent:
		return true
	}
	return false
}

// Location pins a ticket to a room on campus.
type Location struct {
	Building string
	Floor    string
	Room     string
}

// Ticket is the aggregate for maintenance requests.
type Ticket struct {
	ID              string
	Code            string
	RequesterID     string
	Title           string
	Category        TicketCategory
	Priority        TicketPriority
	Location        Location
	Description     string
	AccessNotes     string
	ImageRef        *string
	Status          TicketStatus
	AssignedStaffID *string
	Rating          *int
	RatingComment   *string
	Version         int64
	CreatedAt       time.Time
	TransitionedAt  time.Time
	UpdatedAt       time.Time
}

// IsAssignedTo reports whether staffID is the ticket's assigned staff member.
func (t *Ticket) IsAssignedTo(staffID string) bool {
	return t.AssignedStaffID != nil && *t.AssignedStaffID == staffID
}

// Rated reports whether feedback has already been recorded.
func (t *Ticket) Rated() bool {
	return t.Rating != nil
}

// Clone returns a deep copy so callers cannot mutate shared state.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	cp := *t
	cp.ImageRef = cloneString(t.ImageRef)
	cp.AssignedStaffID = cloneString(t.AssignedStaffID)
	cp.RatingComment = cloneString(t.RatingComment)
	if t.Rating != nil {
		r := *t.Rating
		cp.Rating = &r
	}
	return &cp
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
