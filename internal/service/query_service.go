package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/maintenance-service/internal/domain"
	"github.com/spec-kit/maintenance-service/internal/repository"
	apperrors "github.com/spec-kit/maintenance-service/pkg/util/errorutil"
)

// TicketScope names a role-scoped ticket projection.
type TicketScope string

const (
	ScopeMine     TicketScope = "mine"
	ScopePending  TicketScope = "pending"
	ScopeApproved TicketScope = "approved"
	ScopeActive   TicketScope = "active"
	ScopeAll      TicketScope = "all"
)

// Valid reports whether s names a known scope.
func (s TicketScope) Valid() bool {
	switch s {
	case ScopeMine, ScopePending, ScopeApproved, ScopeActive, ScopeAll:
		return true
	}
	return false
}

var defaultScopes = map[domain.Role]TicketScope{
	domain.RoleRequester: ScopeMine,
	domain.RoleStaff:     ScopeActive,
	domain.RoleAdmin:     ScopePending,
}

// QueryService serves read-only, role-scoped projections of the Ticket Store.
type QueryService struct {
	tickets         repository.TicketRepository
	guard           *AuthorizationGuard
	logger          *zap.Logger
	defaultPageSize int
	maxPageSize     int
	now             func() time.Time
}

// QueryDependencies bundles collaborators for the query service.
type QueryDependencies struct {
	TicketRepo      repository.TicketRepository
	Guard           *AuthorizationGuard
	Logger          *zap.Logger
	DefaultPageSize int
	MaxPageSize     int
	Clock           func() time.Time
}

// TicketListQuery selects one page of a scope.
type TicketListQuery struct {
	Scope     TicketScope
	Page      int
	PageSize  int
	Ascending bool
}

// TicketPage is a page of tickets plus the scope's total size.
type TicketPage struct {
	Tickets  []domain.Ticket
	Scope    TicketScope
	Page     int
	PageSize int
	Total    int64
}

// TicketStats feeds the admin dashboard.
type TicketStats struct {
	Total            int64
	CreatedThisMonth int64
	Pending          int64
	Approved         int64
	Active           int64
	Complete         int64
	Denied           int64
}

// NewQueryService constructs the service.
func NewQueryService(deps QueryDependencies) *QueryService {
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
	defaultSize := deps.DefaultPageSize
	if defaultSize <= 0 {
		defaultSize = 20
	}
	maxSize := deps.MaxPageSize
	if maxSize < defaultSize {
		maxSize = defaultSize
	}
	return &QueryService{
		tickets:         deps.TicketRepo,
		guard:           guard,
		logger:          logger,
		defaultPageSize: defaultSize,
		maxPageSize:     maxSize,
		now:             clock,
	}
}

// ListTickets returns one page of the requested scope, newest first unless
// Ascending is set.
func (s *QueryService) ListTickets(ctx context.Context, actor domain.Actor, query TicketListQuery) (*TicketPage, error) {
	scope := TicketScope(strings.ToLower(strings.TrimSpace(string(query.Scope))))
	if scope == "" {
		scope = defaultScopes[actor.Role]
	}
	if !scope.Valid() {
		return nil, apperrors.NewValidationError("unknown scope", map[string]any{"scope": query.Scope})
	}
	filter, err := scopeFilter(actor, scope)
	if err != nil {
		return nil, err
	}

	page := query.Page
	if page < 1 {
		page = 1
	}
	size := query.PageSize
	switch {
	case size <= 0:
		size = s.defaultPageSize
	case size > s.maxPageSize:
		size = s.maxPageSize
	}
	filter.Ascending = query.Ascending
	filter.Limit = size
	filter.Offset = (page - 1) * size

	tickets, err := s.tickets.List(ctx, filter)
	if err != nil {
		s.logger.Error("list tickets failed", zap.String("scope", string(scope)), zap.Error(err))
		return nil, mapStoreError(err)
	}
	total, err := s.tickets.Count(ctx, filter)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return &TicketPage{Tickets: tickets, Scope: scope, Page: page, PageSize: size, Total: total}, nil
}

// GetTicket returns a single ticket the actor may see.
func (s *QueryService) GetTicket(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, mapStoreError(err)
	}
	if !s.guard.CanRead(actor, ticket) {
		return nil, apperrors.NewForbidden("not allowed to view this ticket")
	}
	return ticket, nil
}

// ListHistory returns the ticket's audit trail, oldest first.
func (s *QueryService) ListHistory(ctx context.Context, actor domain.Actor, ticketID string) ([]domain.TicketHistory, error) {
	if _, err := s.GetTicket(ctx, actor, ticketID); err != nil {
		return nil, err
	}
	history, err := s.tickets.ListHistory(ctx, ticketID)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return history, nil
}

// Stats counts tickets per status and those filed this calendar month (UTC).
func (s *QueryService) Stats(ctx context.Context, actor domain.Actor) (*TicketStats, error) {
	if actor.Role != domain.RoleAdmin {
		return nil, apperrors.NewForbidden("dashboard is restricted to admins")
	}
	now := s.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, 0)

	stats := &TicketStats{}
	counters := []struct {
		dst    *int64
		filter repository.TicketFilter
	}{
		{&stats.Total, repository.TicketFilter{}},
		{&stats.CreatedThisMonth, repository.TicketFilter{CreatedFrom: &monthStart, CreatedTo: &monthEnd}},
		{&stats.Pending, statusFilter(domain.TicketStatusPending)},
		{&stats.Approved, statusFilter(domain.TicketStatusApproved)},
		{&stats.Active, statusFilter(domain.TicketStatusActive)},
		{&stats.Complete, statusFilter(domain.TicketStatusComplete)},
		{&stats.Denied, statusFilter(domain.TicketStatusDenied)},
	}
	for _, c := range counters {
		n, err := s.tickets.Count(ctx, c.filter)
		if err != nil {
			return nil, mapStoreError(err)
		}
		*c.dst = n
	}
	return stats, nil
}

// scopeFilter composes the store filter for a role and scope. Combinations not
// listed are Forbidden.
func scopeFilter(actor domain.Actor, scope TicketScope) (repository.TicketFilter, error) {
	id := actor.ID
	switch actor.Role {
	case domain.RoleRequester:
		if scope == ScopeMine {
			return repository.TicketFilter{RequesterID: &id}, nil
		}
	case domain.RoleStaff:
		switch scope {
		case ScopeActive:
			return repository.TicketFilter{AssignedStaffID: &id, Statuses: []domain.TicketStatus{domain.TicketStatusActive}}, nil
		case ScopeApproved:
			return statusFilter(domain.TicketStatusApproved), nil
		case ScopeMine:
			return repository.TicketFilter{AssignedStaffID: &id}, nil
		}
	case domain.RoleAdmin:
		switch scope {
		case ScopePending:
			return statusFilter(domain.TicketStatusPending), nil
		case ScopeApproved:
			return statusFilter(domain.TicketStatusApproved), nil
		case ScopeActive:
			return statusFilter(domain.TicketStatusActive), nil
		case ScopeAll:
			return repository.TicketFilter{}, nil
		case ScopeMine:
			return repository.TicketFilter{RequesterID: &id}, nil
		}
	}
	return repository.TicketFilter{}, apperrors.NewForbidden("scope " + string(scope) + " is not available to role " + string(actor.Role))
}

func statusFilter(status domain.TicketStatus) repository.TicketFilter {
	return repository.TicketFilter{Statuses: []domain.TicketStatus{status}}
}
