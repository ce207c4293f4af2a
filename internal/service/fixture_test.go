package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spec-kit/maintenance-service/internal/domain"
	"github.com/spec-kit/maintenance-service/internal/events"
	"github.com/spec-kit/maintenance-service/internal/realtime"
	"github.com/spec-kit/maintenance-service/internal/repository"
)

var (
	requester = domain.Actor{ID: "req-1", Role: domain.RoleRequester}
	otherReq  = domain.Actor{ID: "req-2", Role: domain.RoleRequester}
	admin     = domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}
	staffOne  = domain.Actor{ID: "staff-1", Role: domain.RoleStaff}
	staffTwo  = domain.Actor{ID: "staff-2", Role: domain.RoleStaff}
)

// stepClock advances one millisecond on every read.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type recordedEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordedEvents) handle(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordedEvents) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	clock     *stepClock
	tickets   *repository.MemoryTicketRepository
	messages  *repository.MemoryTicketMessageRepository
	hub       *realtime.Hub
	recorded  *recordedEvents
	lifecycle *LifecycleService
	chat      *ChatService
	query     *QueryService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := newStepClock()
	tickets := repository.NewMemoryTicketRepository(clock.Now)
	messages := repository.NewMemoryTicketMessageRepository(clock.Now)
	dispatcher := events.NewInMemoryDispatcher(nil)
	hub := realtime.NewHub(8, nil)
	hub.Register(dispatcher)
	recorded := &recordedEvents{}
	for _, eventType := range events.AllEventTypes {
		dispatcher.Subscribe(eventType, recorded.handle)
	}
	guard := NewAuthorizationGuard()

	return &fixture{
		clock:    clock,
		tickets:  tickets,
		messages: messages,
		hub:      hub,
		recorded: recorded,
		lifecycle: NewLifecycleService(LifecycleDependencies{
			TicketRepo:      tickets,
			Guard:           guard,
			Dispatcher:      dispatcher,
			ConflictRetries: 1,
			Clock:           clock.Now,
		}),
		chat: NewChatService(ChatDependencies{
			TicketRepo:  tickets,
			MessageRepo: messages,
			Guard:       guard,
			Hub:         hub,
			Dispatcher:  dispatcher,
			Clock:       clock.Now,
		}),
		query: NewQueryService(QueryDependencies{
			TicketRepo:      tickets,
			Guard:           guard,
			DefaultPageSize: 20,
			MaxPageSize:     100,
			Clock:           clock.Now,
		}),
	}
}

func validInput() TicketCreateInput {
	return TicketCreateInput{
		Title:       "Leaking sink",
		Category:    domain.CategoryPlumbing,
		Priority:    domain.TicketPriorityUrgent,
		Location:    domain.Location{Building: "Hall A", Floor: "2", Room: "204"},
		Description: "Water pooling under the sink",
		AccessNotes: "Knock twice",
	}
}

func (f *fixture) create(t *testing.T, actor domain.Actor) *domain.Ticket {
	t.Helper()
	ticket, err := f.lifecycle.CreateTicket(context.Background(), actor, validInput())
	require.NoError(t, err)
	return ticket
}

func (f *fixture) move(t *testing.T, actor domain.Actor, ticketID string, target domain.TicketStatus) *domain.Ticket {
	t.Helper()
	ticket, err := f.lifecycle.Transition(context.Background(), actor, ticketID, TransitionInput{Target: target})
	require.NoError(t, err)
	return ticket
}

// activeTicket returns a ticket claimed by staffOne.
func (f *fixture) activeTicket(t *testing.T) *domain.Ticket {
	t.Helper()
	ticket := f.create(t, requester)
	f.move(t, admin, ticket.ID, domain.TicketStatusApproved)
	return f.move(t, staffOne, ticket.ID, domain.TicketStatusActive)
}
