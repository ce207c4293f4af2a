package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spec-kit/maintenance-service/internal/domain"
)

// MemoryTicketRepository keeps tickets in process memory. It backs development
// runs without POSTGRES_DSN and the service tests; a single mutex gives every
// operation the same single-row atomicity the SQL store gets from Postgres.
type MemoryTicketRepository struct {
	mu      sync.Mutex
	now     func() time.Time
	tickets map[string]*domain.Ticket
	history map[string][]domain.TicketHistory
}

// NewMemoryTicketRepository builds an empty in-memory Ticket Store.
func NewMemoryTicketRepository(now func() time.Time) *MemoryTicketRepository {
	if now == nil {
		now = time.Now
	}
	return &MemoryTicketRepository{
		now:     now,
		tickets: make(map[string]*domain.Ticket),
		history: make(map[string][]domain.TicketHistory),
	}
}

func (r *MemoryTicketRepository) Create(ctx context.Context, ticket *domain.Ticket, history *domain.TicketHistory) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	ticket.Version = 1
	ticket.CreatedAt = now
	ticket.TransitionedAt = now
	ticket.UpdatedAt = now
	r.tickets[ticket.ID] = ticket.Clone()
	if history != nil {
		history.CreatedAt = now
		r.history[ticket.ID] = append(r.history[ticket.ID], *history)
	}
	return nil
}

func (r *MemoryTicketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ticket, ok := r.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return ticket.Clone(), nil
}

func (r *MemoryTicketRepository) Update(ctx context.Context, id string, patch TicketPatch, expectedVersion int64) (*domain.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	if stored.Version != expectedVersion {
		return nil, ErrVersionConflict
	}

	now := r.now()
	next := stored.Clone()
	applyPatch(next, patch, now)
	next.Version++
	next.UpdatedAt = now
	r.tickets[id] = next

	if patch.History != nil {
		patch.History.CreatedAt = now
		r.history[id] = append(r.history[id], *patch.History)
	}
	return next.Clone(), nil
}

func (r *MemoryTicketRepository) Delete(ctx context.Context, id, requesterID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.tickets[id]
	if !ok {
		return ErrNotFound
	}
	if stored.RequesterID != requesterID || !stored.Status.Cancellable() {
		return ErrDeleteRefused
	}
	delete(r.tickets, id)
	delete(r.history, id)
	return nil
}

func (r *MemoryTicketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	matched := r.matching(filter)
	r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if filter.Ascending {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		if filter.Ascending {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return []domain.Ticket{}, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (r *MemoryTicketRepository) Count(ctx context.Context, filter TicketFilter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.matching(filter))), nil
}

func (r *MemoryTicketRepository) ListHistory(ctx context.Context, ticketID string) ([]domain.TicketHistory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.history[ticketID]
	out := make([]domain.TicketHistory, len(entries))
	copy(out, entries)
	return out, nil
}

// matching must be called with r.mu held.
func (r *MemoryTicketRepository) matching(filter TicketFilter) []domain.Ticket {
	statuses := make(map[domain.TicketStatus]struct{}, len(filter.Statuses))
	for _, s := range filter.Statuses {
		statuses[s] = struct{}{}
	}

	var out []domain.Ticket
	for _, ticket := range r.tickets {
		if filter.RequesterID != nil && ticket.RequesterID != *filter.RequesterID {
			continue
		}
		if filter.AssignedStaffID != nil && !ticket.IsAssignedTo(*filter.AssignedStaffID) {
			continue
		}
		if len(statuses) > 0 {
			if _, ok := statuses[ticket.Status]; !ok {
				continue
			}
		}
		if filter.CreatedFrom != nil && ticket.CreatedAt.Before(*filter.CreatedFrom) {
			continue
		}
		if filter.CreatedTo != nil && !ticket.CreatedAt.Before(*filter.CreatedTo) {
			continue
		}
		out = append(out, *ticket.Clone())
	}
	return out
}

func applyPatch(ticket *domain.Ticket, patch TicketPatch, now time.Time) {
	if patch.Status != nil {
		ticket.Status = *patch.Status
		ticket.TransitionedAt = now
	}
	if patch.AssignedStaffID != nil {
		v := *patch.AssignedStaffID
		ticket.AssignedStaffID = &v
	}
	if patch.Rating != nil {
		v := *patch.Rating
		ticket.Rating = &v
	}
	if patch.RatingComment != nil {
		v := *patch.RatingComment
		ticket.RatingComment = &v
	}
	if patch.Title != nil {
		ticket.Title = *patch.Title
	}
	if patch.Category != nil {
		ticket.Category = *patch.Category
	}
	if patch.Priority != nil {
		ticket.Priority = *patch.Priority
	}
	if patch.Location != nil {
		ticket.Location = *patch.Location
	}
	if patch.Description != nil {
		ticket.Description = *patch.Description
	}
	if patch.AccessNotes != nil {
		ticket.AccessNotes = *patch.AccessNotes
	}
	if patch.ImageRef != nil {
		if *patch.ImageRef == "" {
			ticket.ImageRef = nil
		} else {
			v := *patch.ImageRef
			ticket.ImageRef = &v
		}
	}
}

// MemoryTicketMessageRepository is the in-memory counterpart of the message log.
type MemoryTicketMessageRepository struct {
	mu       sync.Mutex
	now      func() time.Time
	seq      int64
	last     time.Time
	messages map[string][]domain.TicketMessage
}

// NewMemoryTicketMessageRepository builds an empty in-memory message log.
func NewMemoryTicketMessageRepository(now func() time.Time) *MemoryTicketMessageRepository {
	if now == nil {
		now = time.Now
	}
	return &MemoryTicketMessageRepository{
		now:      now,
		messages: make(map[string][]domain.TicketMessage),
	}
}

func (r *MemoryTicketMessageRepository) Append(ctx context.Context, msg *domain.TicketMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	// Timestamps never go backwards within the log, so append order is sort order.
	now := r.now()
	if now.Before(r.last) {
		now = r.last
	}
	r.last = now
	r.seq++
	msg.Seq = r.seq
	msg.CreatedAt = now
	r.messages[msg.TicketID] = append(r.messages[msg.TicketID], *msg)
	return nil
}

func (r *MemoryTicketMessageRepository) ListSince(ctx context.Context, ticketID string, cursor domain.MessageCursor, limit int) ([]domain.TicketMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []domain.TicketMessage{}
	for i := range r.messages[ticketID] {
		msg := r.messages[ticketID][i]
		if !cursor.After(&msg) {
			continue
		}
		out = append(out, msg)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
