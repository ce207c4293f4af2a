package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/maintenance-service/internal/domain"
	"github.com/spec-kit/maintenance-service/internal/events"
	"github.com/spec-kit/maintenance-service/internal/repository"
	apperrors "github.com/spec-kit/maintenance-service/pkg/util/errorutil"
)

func TestCreateTicket(t *testing.T) {
	f := newFixture(t)

	ticket := f.create(t, requester)

	assert.Equal(t, domain.TicketStatusPending, ticket.Status)
	assert.Equal(t, requester.ID, ticket.RequesterID)
	assert.Regexp(t, `^MNT-[0-9A-F]{8}$`, ticket.Code)
	assert.Equal(t, int64(1), ticket.Version)
	assert.Nil(t, ticket.AssignedStaffID)
	assert.Equal(t, []events.EventType{events.EventTicketCreated}, f.recorded.types())

	history, err := f.query.ListHistory(context.Background(), requester, ticket.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.ChangeTypeCreated, history[0].ChangeType)
}

func TestCreateTicketValidation(t *testing.T) {
	f := newFixture(t)

	input := validInput()
	input.Title = "   "
	input.Category = "Gardening"
	input.Location.Room = ""
	_, err := f.lifecycle.CreateTicket(context.Background(), requester, input)

	var domainErr *apperrors.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, apperrors.CodeValidation, domainErr.Code)
	assert.Contains(t, domainErr.Details, "title")
	assert.Contains(t, domainErr.Details, "category")
	assert.Contains(t, domainErr.Details, "room")

	_, err = f.lifecycle.CreateTicket(context.Background(), staffOne, validInput())
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))
}

func TestLifecycleScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ticket := f.create(t, requester)
	approved := f.move(t, admin, ticket.ID, domain.TicketStatusApproved)
	assert.Equal(t, int64(2), approved.Version)

	active := f.move(t, staffOne, ticket.ID, domain.TicketStatusActive)
	require.NotNil(t, active.AssignedStaffID)
	assert.Equal(t, staffOne.ID, *active.AssignedStaffID)

	_, err := f.lifecycle.Transition(ctx, staffTwo, ticket.ID, TransitionInput{Target: domain.TicketStatusActive})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	complete := f.move(t, staffOne, ticket.ID, domain.TicketStatusComplete)
	assert.Equal(t, domain.TicketStatusComplete, complete.Status)
	assert.Equal(t, staffOne.ID, *complete.AssignedStaffID)

	rated, err := f.lifecycle.RateTicket(ctx, requester, ticket.ID, RatingInput{Rating: 4, Comment: "Great"})
	require.NoError(t, err)
	assert.Equal(t, 4, *rated.Rating)
	assert.Equal(t, "Great", *rated.RatingComment)

	_, err = f.lifecycle.RateTicket(ctx, requester, ticket.ID, RatingInput{Rating: 5})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))

	history, err := f.query.ListHistory(ctx, admin, ticket.ID)
	require.NoError(t, err)
	changes := make([]domain.TicketChangeType, 0, len(history))
	for _, h := range history {
		changes = append(changes, h.ChangeType)
	}
	assert.Equal(t, []domain.TicketChangeType{
		domain.ChangeTypeCreated,
		domain.ChangeTypeStatus,
		domain.ChangeTypeStatus,
		domain.ChangeTypeStatus,
		domain.ChangeTypeRating,
	}, changes)

	assert.Equal(t, []events.EventType{
		events.EventTicketCreated,
		events.EventTicketStatusChanged,
		events.EventTicketStatusChanged,
		events.EventTicketStatusChanged,
		events.EventTicketRated,
	}, f.recorded.types())
}

func TestAssigneeInvariantHoldsAcrossLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	denied := f.create(t, requester)
	f.move(t, admin, denied.ID, domain.TicketStatusDenied)
	active := f.activeTicket(t)
	pending := f.create(t, requester)

	for _, id := range []string{denied.ID, active.ID, pending.ID} {
		ticket, err := f.tickets.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, ticket.Status.RequiresAssignee(), ticket.AssignedStaffID != nil, ticket.Status)
		assert.Nil(t, ticket.Rating)
	}
}

func TestRequesterAlwaysForbiddenToTransition(t *testing.T) {
	f := newFixture(t)
	ticket := f.create(t, requester)

	for _, target := range []domain.TicketStatus{
		domain.TicketStatusApproved, domain.TicketStatusDenied, domain.TicketStatusActive, domain.TicketStatusComplete,
	} {
		_, err := f.lifecycle.Transition(context.Background(), requester, ticket.ID, TransitionInput{Target: target})
		assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden), target)
	}
}

func TestRatingRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.activeTicket(t)

	_, err := f.lifecycle.RateTicket(ctx, requester, ticket.ID, RatingInput{Rating: 3})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))

	f.move(t, staffOne, ticket.ID, domain.TicketStatusComplete)

	_, err = f.lifecycle.RateTicket(ctx, requester, ticket.ID, RatingInput{Rating: 6})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	_, err = f.lifecycle.RateTicket(ctx, requester, ticket.ID, RatingInput{Rating: 0})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	_, err = f.lifecycle.RateTicket(ctx, staffOne, ticket.ID, RatingInput{Rating: 3})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	rated, err := f.lifecycle.RateTicket(ctx, requester, ticket.ID, RatingInput{Rating: 1})
	require.NoError(t, err)
	assert.Nil(t, rated.RatingComment)
}

func TestConcurrentApproveHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ticket := f.create(t, requester)

	const callers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			_, err := f.lifecycle.Transition(context.Background(), admin, ticket.ID, TransitionInput{Target: domain.TicketStatusApproved})
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.True(t,
			apperrors.HasCode(err, apperrors.CodeConflict) || apperrors.HasCode(err, apperrors.CodeInvalidTransition),
			"unexpected error %v", err)
	}
	assert.Equal(t, 1, successes)

	stored, err := f.tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
}

// racingRepo lets a competing writer win the first compare-and-swap.
type racingRepo struct {
	repository.TicketRepository
	race    func()
	updates int
}

func (r *racingRepo) Update(ctx context.Context, id string, patch repository.TicketPatch, expectedVersion int64) (*domain.Ticket, error) {
	r.updates++
	if r.race != nil {
		race := r.race
		r.race = nil
		race()
	}
	return r.TicketRepository.Update(ctx, id, patch, expectedVersion)
}

func TestTransitionRetriesOnceOnConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.create(t, requester)
	f.move(t, admin, ticket.ID, domain.TicketStatusApproved)

	repo := &racingRepo{TicketRepository: f.tickets}
	repo.race = func() {
		_, err := f.tickets.Update(ctx, ticket.ID, repository.TicketPatch{Title: ptr("Leaking sink, hall A")}, 2)
		require.NoError(t, err)
	}
	lifecycle := NewLifecycleService(LifecycleDependencies{TicketRepo: repo, ConflictRetries: 1})

	updated, err := lifecycle.Transition(ctx, staffOne, ticket.ID, TransitionInput{Target: domain.TicketStatusActive})
	require.NoError(t, err)
	assert.Equal(t, 2, repo.updates)
	assert.Equal(t, int64(4), updated.Version)
	assert.Equal(t, "Leaking sink, hall A", updated.Title)
}

// conflictingRepo loses every compare-and-swap.
type conflictingRepo struct {
	repository.TicketRepository
	updates int
}

func (r *conflictingRepo) Update(context.Context, string, repository.TicketPatch, int64) (*domain.Ticket, error) {
	r.updates++
	return nil, repository.ErrVersionConflict
}

func TestTransitionSurfacesSecondConflict(t *testing.T) {
	f := newFixture(t)
	ticket := f.create(t, requester)

	repo := &conflictingRepo{TicketRepository: f.tickets}
	lifecycle := NewLifecycleService(LifecycleDependencies{TicketRepo: repo, ConflictRetries: 1})

	_, err := lifecycle.Transition(context.Background(), admin, ticket.ID, TransitionInput{Target: domain.TicketStatusApproved})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))
	assert.Equal(t, 2, repo.updates)
}

func TestTransitionDoesNotRetryAbandonedRequest(t *testing.T) {
	f := newFixture(t)
	ticket := f.create(t, requester)

	ctx, cancel := context.WithCancel(context.Background())
	repo := &conflictingRepo{TicketRepository: cancelAfterRead{f.tickets, cancel}}
	lifecycle := NewLifecycleService(LifecycleDependencies{TicketRepo: repo, ConflictRetries: 1})

	_, err := lifecycle.Transition(ctx, admin, ticket.ID, TransitionInput{Target: domain.TicketStatusApproved})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))
	assert.Equal(t, 1, repo.updates)
}

// cancelAfterRead cancels the caller's context once the ticket has been loaded.
type cancelAfterRead struct {
	repository.TicketRepository
	cancel context.CancelFunc
}

func (c cancelAfterRead) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	ticket, err := c.TicketRepository.GetByID(ctx, id)
	c.cancel()
	return ticket, err
}

func TestTransitionStaleExpectedVersion(t *testing.T) {
	f := newFixture(t)
	ticket := f.create(t, requester)

	repo := &racingRepo{TicketRepository: f.tickets}
	lifecycle := NewLifecycleService(LifecycleDependencies{TicketRepo: repo})

	_, err := lifecycle.Transition(context.Background(), admin, ticket.ID, TransitionInput{
		Target:          domain.TicketStatusApproved,
		ExpectedVersion: 7,
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))
	assert.Zero(t, repo.updates)

	updated, err := lifecycle.Transition(context.Background(), admin, ticket.ID, TransitionInput{
		Target:          domain.TicketStatusApproved,
		ExpectedVersion: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusApproved, updated.Status)
}

func TestTransitionUnknownTicket(t *testing.T) {
	f := newFixture(t)
	_, err := f.lifecycle.Transition(context.Background(), admin, "missing", TransitionInput{Target: domain.TicketStatusApproved})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	_, err = f.lifecycle.Transition(context.Background(), admin, "missing", TransitionInput{Target: "Archived"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestCancelTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := f.create(t, requester)
	assert.True(t, apperrors.HasCode(f.lifecycle.CancelTicket(ctx, otherReq, pending.ID), apperrors.CodeForbidden))
	require.NoError(t, f.lifecycle.CancelTicket(ctx, requester, pending.ID))
	_, err := f.query.GetTicket(ctx, requester, pending.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
	assert.True(t, apperrors.HasCode(f.lifecycle.CancelTicket(ctx, requester, pending.ID), apperrors.CodeNotFound))

	denied := f.create(t, requester)
	f.move(t, admin, denied.ID, domain.TicketStatusDenied)
	assert.NoError(t, f.lifecycle.CancelTicket(ctx, requester, denied.ID))

	active := f.activeTicket(t)
	assert.True(t, apperrors.HasCode(f.lifecycle.CancelTicket(ctx, requester, active.ID), apperrors.CodeForbidden))
	_, err = f.tickets.GetByID(ctx, active.ID)
	assert.NoError(t, err)

	assert.Contains(t, f.recorded.types(), events.EventTicketDeleted)
}

func TestEditTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.create(t, requester)

	edited, err := f.lifecycle.EditTicket(ctx, requester, ticket.ID, TicketEditInput{
		Title:           ptr("Leaking sink and tap"),
		Room:            ptr("205"),
		Description:     ptr(ticket.Description),
		ExpectedVersion: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "Leaking sink and tap", edited.Title)
	assert.Equal(t, "205", edited.Location.Room)
	assert.Equal(t, "Hall A", edited.Location.Building)
	assert.Equal(t, int64(2), edited.Version)

	history, err := f.query.ListHistory(ctx, requester, ticket.ID)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, domain.ChangeTypeDetails, last.ChangeType)
	assert.Equal(t, map[string]any{"title": "Leaking sink and tap", "room": "205"}, last.NewValue)
	assert.Equal(t, map[string]any{"title": "Leaking sink", "room": "204"}, last.OldValue)

	_, err = f.lifecycle.EditTicket(ctx, requester, ticket.ID, TicketEditInput{Title: ptr("Stale"), ExpectedVersion: 1})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))

	_, err = f.lifecycle.EditTicket(ctx, requester, ticket.ID, TicketEditInput{Title: ptr("")})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	unchanged, err := f.lifecycle.EditTicket(ctx, requester, ticket.ID, TicketEditInput{Title: ptr("Leaking sink and tap")})
	require.NoError(t, err)
	assert.Equal(t, int64(2), unchanged.Version)

	f.move(t, admin, ticket.ID, domain.TicketStatusApproved)
	_, err = f.lifecycle.EditTicket(ctx, requester, ticket.ID, TicketEditInput{Title: ptr("Late edit")})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	low := domain.TicketPriorityLow
	byAdmin, err := f.lifecycle.EditTicket(ctx, admin, ticket.ID, TicketEditInput{Priority: &low})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPriorityLow, byAdmin.Priority)
	assert.Equal(t, domain.TicketStatusApproved, byAdmin.Status)
}

func ptr[T any](v T) *T {
	return &v
}
