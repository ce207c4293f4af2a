package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/maintenance-service/internal/domain"
	"github.com/spec-kit/maintenance-service/internal/events"
	"github.com/spec-kit/maintenance-service/internal/repository"
	apperrors "github.com/spec-kit/maintenance-service/pkg/util/errorutil"
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 4000
	maxNotesLength       = 1000
	maxCommentLength     = 1000
)

// LifecycleService validates and applies every write to a ticket.
type LifecycleService struct {
	tickets    repository.TicketRepository
	guard      *AuthorizationGuard
	dispatcher events.Dispatcher
	logger     *zap.Logger
	retries    int
	now        func() time.Time
}

// LifecycleDependencies bundles collaborators for the lifecycle service.
type LifecycleDependencies struct {
	TicketRepo      repository.TicketRepository
	Guard           *AuthorizationGuard
	Dispatcher      events.Dispatcher
	Logger          *zap.Logger
	ConflictRetries int
	Clock           func() time.Time
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Title       string
	Category    domain.TicketCategory
	Priority    domain.TicketPriority
	Location    domain.Location
	Description string
	AccessNotes string
	ImageRef    *string
}

// TransitionInput asks for a status change. ExpectedVersion zero means the
// caller accepts whatever version is current.
type TransitionInput struct {
	Target          domain.TicketStatus
	ExpectedVersion int64
}

// RatingInput is the requester's feedback on a completed ticket.
type RatingInput struct {
	Rating  int
	Comment string
}

// TicketEditInput carries the descriptive fields to change; nil means unchanged.
type TicketEditInput struct {
	Title           *string
	Category        *domain.TicketCategory
	Priority        *domain.TicketPriority
	Building        *string
	Floor           *string
	Room            *string
	Description     *string
	AccessNotes     *string
	ImageRef        *string
	ExpectedVersion int64
}

// NewLifecycleService constructs the service.
func NewLifecycleService(deps LifecycleDependencies) *LifecycleService {
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
	retries := deps.ConflictRetries
	if retries < 0 {
		retries = 0
	}
	if retries > 1 {
		retries = 1
	}
	return &LifecycleService{
		tickets:    deps.TicketRepo,
		guard:      guard,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		retries:    retries,
		now:        clock,
	}
}

// CreateTicket files a new Pending ticket for the requester.
func (s *LifecycleService) CreateTicket(ctx context.Context, actor domain.Actor, input TicketCreateInput) (*domain.Ticket, error) {
	if actor.Role != domain.RoleRequester {
		return nil, apperrors.NewForbidden("only requesters may file tickets")
	}
	if input.Priority == "" {
		input.Priority = domain.TicketPriorityMedium
	}
	ticket := &domain.Ticket{
		ID:          uuid.NewString(),
		Code:        generateTicketCode(),
		RequesterID: actor.ID,
		Title:       strings.TrimSpace(input.Title),
		Category:    input.Category,
		Priority:    input.Priority,
		Location: domain.Location{
			Building: strings.TrimSpace(input.Location.Building),
			Floor:    strings.TrimSpace(input.Location.Floor),
			Room:     strings.TrimSpace(input.Location.Room),
		},
		Description: strings.TrimSpace(input.Description),
		AccessNotes: strings.TrimSpace(input.AccessNotes),
		ImageRef:    trimmedRef(input.ImageRef),
		Status:      domain.TicketStatusPending,
	}
	if details := validateTicketFields(ticket); len(details) > 0 {
		return nil, apperrors.NewValidationError("invalid ticket", details)
	}

	to := domain.TicketStatusPending
	history := &domain.TicketHistory{
		ID:         uuid.NewString(),
		TicketID:   ticket.ID,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		ChangeType: domain.ChangeTypeCreated,
		ToStatus:   &to,
		NewValue:   map[string]any{"code": ticket.Code, "title": ticket.Title},
	}
	if err := s.tickets.Create(ctx, ticket, history); err != nil {
		s.logger.Error("create ticket failed", zap.String("requester_id", actor.ID), zap.Error(err))
		return nil, mapStoreError(err)
	}

	s.logger.Info("ticket created", zap.String("ticket_id", ticket.ID), zap.String("code", ticket.Code))
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: ticket.ID,
		Actor:    events.ActorFrom(actor),
		Payload: events.TicketCreatedPayload{
			Code:     ticket.Code,
			Title:    ticket.Title,
			Category: ticket.Category,
			Priority: ticket.Priority,
		},
	})
	return ticket, nil
}

// Transition moves a ticket to input.Target. A store conflict is retried once
// against freshly loaded state; a second conflict is surfaced.
func (s *LifecycleService) Transition(ctx context.Context, actor domain.Actor, ticketID string, input TransitionInput) (*domain.Ticket, error) {
	if !input.Target.Valid() {
		return nil, apperrors.NewValidationError("invalid target status", map[string]any{"targetStatus": input.Target})
	}

	var from domain.TicketStatus
	updated, err := s.applyVersioned(ctx, ticketID, input.ExpectedVersion, func(ticket *domain.Ticket) (*repository.TicketPatch, error) {
		if err := s.guard.CheckTransition(actor, ticket, input.Target); err != nil {
			return nil, err
		}
		from = ticket.Status
		to := input.Target
		patch := &repository.TicketPatch{
			Status: &to,
			History: &domain.TicketHistory{
				ID:         uuid.NewString(),
				TicketID:   ticket.ID,
				ActorID:    actor.ID,
				ActorRole:  actor.Role,
				ChangeType: domain.ChangeTypeStatus,
				FromStatus: &from,
				ToStatus:   &to,
			},
		}
		if to == domain.TicketStatusActive {
			assignee := actor.ID
			patch.AssignedStaffID = &assignee
			patch.History.NewValue = map[string]any{"assignedStaffId": assignee}
		}
		return patch, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("ticket transitioned",
		zap.String("ticket_id", updated.ID),
		zap.String("from", string(from)),
		zap.String("to", string(updated.Status)),
		zap.String("actor_id", actor.ID))
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketStatusChanged,
		TicketID: updated.ID,
		Actor:    events.ActorFrom(actor),
		Payload: events.TicketStatusChangedPayload{
			From:            from,
			To:              updated.Status,
			AssignedStaffID: updated.AssignedStaffID,
			Version:         updated.Version,
		},
	})
	return updated, nil
}

// RateTicket records the requester's one-time feedback on a completed ticket.
func (s *LifecycleService) RateTicket(ctx context.Context, actor domain.Actor, ticketID string, input RatingInput) (*domain.Ticket, error) {
	if input.Rating < 1 || input.Rating > 5 {
		return nil, apperrors.NewValidationError("rating must be between 1 and 5", map[string]any{"rating": input.Rating})
	}
	comment := strings.TrimSpace(input.Comment)
	if utf8.RuneCountInString(comment) > maxCommentLength {
		return nil, apperrors.NewValidationError("comment is too long", map[string]any{"comment": fmt.Sprintf("at most %d characters", maxCommentLength)})
	}

	updated, err := s.applyVersioned(ctx, ticketID, 0, func(ticket *domain.Ticket) (*repository.TicketPatch, error) {
		if err := s.guard.CheckRate(actor.ID, ticket); err != nil {
			return nil, err
		}
		rating := input.Rating
		newValue := map[string]any{"rating": rating}
		patch := &repository.TicketPatch{Rating: &rating}
		if comment != "" {
			patch.RatingComment = &comment
			newValue["comment"] = comment
		}
		patch.History = &domain.TicketHistory{
			ID:         uuid.NewString(),
			TicketID:   ticket.ID,
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			ChangeType: domain.ChangeTypeRating,
			NewValue:   newValue,
		}
		return patch, nil
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketRated,
		TicketID: updated.ID,
		Actor:    events.ActorFrom(actor),
		Payload:  events.TicketRatedPayload{Rating: input.Rating, Comment: comment},
	})
	return updated, nil
}

// EditTicket changes descriptive fields. A stale ExpectedVersion is a Conflict.
func (s *LifecycleService) EditTicket(ctx context.Context, actor domain.Actor, ticketID string, input TicketEditInput) (*domain.Ticket, error) {
	var changed []string
	updated, err := s.applyVersioned(ctx, ticketID, input.ExpectedVersion, func(ticket *domain.Ticket) (*repository.TicketPatch, error) {
		if err := s.guard.CheckEdit(actor, ticket); err != nil {
			return nil, err
		}
		patch, oldValue, newValue := editPatch(ticket, input)
		candidate := ticket.Clone()
		applyEdit(candidate, patch)
		if details := validateTicketFields(candidate); len(details) > 0 {
			return nil, apperrors.NewValidationError("invalid ticket", details)
		}
		changed = changed[:0]
		for field := range newValue {
			changed = append(changed, field)
		}
		if len(changed) == 0 {
			return nil, nil
		}
		patch.History = &domain.TicketHistory{
			ID:         uuid.NewString(),
			TicketID:   ticket.ID,
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			ChangeType: domain.ChangeTypeDetails,
			OldValue:   oldValue,
			NewValue:   newValue,
		}
		return patch, nil
	})
	if err != nil {
		return nil, err
	}
	if len(changed) == 0 {
		return updated, nil
	}

	sort.Strings(changed)
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketUpdated,
		TicketID: updated.ID,
		Actor:    events.ActorFrom(actor),
		Payload:  events.TicketUpdatedPayload{Fields: changed, Version: updated.Version},
	})
	return updated, nil
}

// CancelTicket physically removes the requester's ticket before assignment.
func (s *LifecycleService) CancelTicket(ctx context.Context, actor domain.Actor, ticketID string) error {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return mapStoreError(err)
	}
	if err := s.guard.CheckDelete(actor, ticket); err != nil {
		return err
	}
	// The store re-checks ownership and status in the same statement.
	if err := s.tickets.Delete(ctx, ticketID, actor.ID); err != nil {
		return mapStoreError(err)
	}

	s.logger.Info("ticket cancelled", zap.String("ticket_id", ticketID), zap.String("actor_id", actor.ID))
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketDeleted,
		TicketID: ticketID,
		Actor:    events.ActorFrom(actor),
		Payload:  events.TicketDeletedPayload{Code: ticket.Code, Status: ticket.Status},
	})
	return nil
}

// applyVersioned loads the ticket, builds a patch from it and writes it with a
// version check. On a store conflict the whole step repeats once, unless the
// caller pinned a version or abandoned the request. A nil patch means there is
// nothing to write and the loaded ticket is returned.
func (s *LifecycleService) applyVersioned(ctx context.Context, ticketID string, expectedVersion int64, build func(*domain.Ticket) (*repository.TicketPatch, error)) (*domain.Ticket, error) {
	for attempt := 0; ; attempt++ {
		ticket, err := s.tickets.GetByID(ctx, ticketID)
		if err != nil {
			return nil, mapStoreError(err)
		}
		if expectedVersion > 0 && ticket.Version != expectedVersion {
			return nil, apperrors.NewConflict("ticket version is stale", map[string]any{
				"expectedVersion": expectedVersion,
				"currentVersion":  ticket.Version,
			})
		}
		patch, err := build(ticket)
		if err != nil {
			return nil, err
		}
		if patch == nil {
			return ticket, nil
		}

		updated, err := s.tickets.Update(ctx, ticketID, *patch, ticket.Version)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			if !errors.Is(err, repository.ErrNotFound) {
				s.logger.Error("ticket update failed", zap.String("ticket_id", ticketID), zap.Error(err))
			}
			return nil, mapStoreError(err)
		}
		if attempt >= s.retries || expectedVersion > 0 || ctx.Err() != nil {
			return nil, mapStoreError(err)
		}
		s.logger.Debug("version conflict, retrying", zap.String("ticket_id", ticketID), zap.Int64("version", ticket.Version))
	}
}

func (s *LifecycleService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}
	_ = s.dispatcher.Publish(ctx, event)
}

func generateTicketCode() string {
	return "MNT-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func trimmedRef(ref *string) *string {
	if ref == nil {
		return nil
	}
	v := strings.TrimSpace(*ref)
	if v == "" {
		return nil
	}
	return &v
}

func validateTicketFields(ticket *domain.Ticket) map[string]any {
	details := map[string]any{}
	switch n := utf8.RuneCountInString(ticket.Title); {
	case n == 0:
		details["title"] = "required"
	case n > maxTitleLength:
		details["title"] = fmt.Sprintf("at most %d characters", maxTitleLength)
	}
	if !ticket.Category.Valid() {
		details["category"] = "must be one of Plumbing, Electrical, HVAC, Furniture, Other"
	}
	if !ticket.Priority.Valid() {
		details["priority"] = "must be one of Low, Medium, Urgent"
	}
	if ticket.Location.Building == "" {
		details["building"] = "required"
	}
	if ticket.Location.Room == "" {
		details["room"] = "required"
	}
	switch n := utf8.RuneCountInString(ticket.Description); {
	case n == 0:
		details["description"] = "required"
	case n > maxDescriptionLength:
		details["description"] = fmt.Sprintf("at most %d characters", maxDescriptionLength)
	}
	if utf8.RuneCountInString(ticket.AccessNotes) > maxNotesLength {
		details["accessNotes"] = fmt.Sprintf("at most %d characters", maxNotesLength)
	}
	return details
}

// editPatch diffs input against ticket and returns only the fields that change.
func editPatch(ticket *domain.Ticket, input TicketEditInput) (*repository.TicketPatch, map[string]any, map[string]any) {
	patch := &repository.TicketPatch{}
	oldValue := map[string]any{}
	newValue := map[string]any{}

	setText := func(field string, current string, next *string, assign func(string)) {
		if next == nil {
			return
		}
		v := strings.TrimSpace(*next)
		if v == current {
			return
		}
		assign(v)
		oldValue[field] = current
		newValue[field] = v
	}
	setText("title", ticket.Title, input.Title, func(v string) { patch.Title = &v })
	setText("description", ticket.Description, input.Description, func(v string) { patch.Description = &v })
	setText("accessNotes", ticket.AccessNotes, input.AccessNotes, func(v string) { patch.AccessNotes = &v })

	if input.Category != nil && *input.Category != ticket.Category {
		v := *input.Category
		patch.Category = &v
		oldValue["category"] = ticket.Category
		newValue["category"] = v
	}
	if input.Priority != nil && *input.Priority != ticket.Priority {
		v := *input.Priority
		patch.Priority = &v
		oldValue["priority"] = ticket.Priority
		newValue["priority"] = v
	}

	location := ticket.Location
	setText("building", ticket.Location.Building, input.Building, func(v string) { location.Building = v })
	setText("floor", ticket.Location.Floor, input.Floor, func(v string) { location.Floor = v })
	setText("room", ticket.Location.Room, input.Room, func(v string) { location.Room = v })
	if location != ticket.Location {
		patch.Location = &location
	}

	if input.ImageRef != nil {
		current := ""
		if ticket.ImageRef != nil {
			current = *ticket.ImageRef
		}
		setText("imageRef", current, input.ImageRef, func(v string) { patch.ImageRef = &v })
	}
	return patch, oldValue, newValue
}

func applyEdit(ticket *domain.Ticket, patch *repository.TicketPatch) {
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
}
