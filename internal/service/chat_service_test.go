package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/maintenance-service/internal/domain"
	"github.com/spec-kit/maintenance-service/internal/events"
	"github.com/spec-kit/maintenance-service/internal/repository"
	apperrors "github.com/spec-kit/maintenance-service/pkg/util/errorutil"
)

func TestPostMessageRequiresActiveTicket(t *testing.T) {
	f := newFixture(t)
	ticket := f.create(t, requester)

	_, err := f.chat.PostMessage(context.Background(), requester, ticket.ID, "hello?")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	_, err = f.chat.PostMessage(context.Background(), requester, "missing", "hello?")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestPostMessageParticipants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.activeTicket(t)

	first, err := f.chat.PostMessage(ctx, requester, ticket.ID, "  When can you come by?  ")
	require.NoError(t, err)
	second, err := f.chat.PostMessage(ctx, staffOne, ticket.ID, "This afternoon")
	require.NoError(t, err)

	assert.Equal(t, "When can you come by?", first.Body)
	assert.Equal(t, domain.SenderRoleRequester, first.SenderRole)
	assert.Equal(t, domain.SenderRoleStaff, second.SenderRole)

	_, err = f.chat.PostMessage(ctx, staffTwo, ticket.ID, "me too")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))
	_, err = f.chat.PostMessage(ctx, requester, ticket.ID, "   ")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	page, err := f.chat.ListMessages(ctx, admin, ticket.ID, "", 0)
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, first.ID, page.Messages[0].ID)
	assert.Equal(t, second.ID, page.Messages[1].ID)
	assert.False(t, page.Messages[1].CreatedAt.Before(page.Messages[0].CreatedAt))
	assert.Equal(t, second.Cursor().String(), page.NextCursor)

	assert.Contains(t, f.recorded.types(), events.EventTicketMessagePosted)
}

func TestListMessagesFromCursor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.activeTicket(t)

	for _, body := range []string{"one", "two", "three"} {
		_, err := f.chat.PostMessage(ctx, requester, ticket.ID, body)
		require.NoError(t, err)
	}

	page, err := f.chat.ListMessages(ctx, staffOne, ticket.ID, "", 2)
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)

	rest, err := f.chat.ListMessages(ctx, staffOne, ticket.ID, page.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, rest.Messages, 1)
	assert.Equal(t, "three", rest.Messages[0].Body)

	empty, err := f.chat.ListMessages(ctx, staffOne, ticket.ID, rest.NextCursor, 2)
	require.NoError(t, err)
	assert.Empty(t, empty.Messages)
	assert.Equal(t, rest.NextCursor, empty.NextCursor)

	_, err = f.chat.ListMessages(ctx, staffOne, ticket.ID, "not-a-cursor", 2)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	_, err = f.chat.ListMessages(ctx, staffTwo, ticket.ID, "", 2)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))
}

func TestSubscribeReplaysThenStreams(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.activeTicket(t)

	old, err := f.chat.PostMessage(ctx, requester, ticket.ID, "before")
	require.NoError(t, err)

	stream, err := f.chat.Subscribe(ctx, staffOne, ticket.ID, "")
	require.NoError(t, err)
	defer stream.Close()

	require.Len(t, stream.Backlog, 1)
	assert.True(t, stream.Accept(stream.Backlog[0]))
	assert.Equal(t, old.Cursor().String(), stream.Cursor())

	live, err := f.chat.PostMessage(ctx, staffOne, ticket.ID, "after")
	require.NoError(t, err)

	got := <-stream.Live()
	assert.True(t, stream.Accept(got))
	assert.Equal(t, live.ID, got.ID)
	assert.False(t, stream.Accept(*old), "replayed messages are not delivered twice")
	assert.False(t, stream.Lagged())
}

func TestSubscriptionEndsWhenTicketDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.create(t, requester)

	stream, err := f.chat.Subscribe(ctx, requester, ticket.ID, "")
	require.NoError(t, err)
	assert.Empty(t, stream.Backlog)

	require.NoError(t, f.lifecycle.CancelTicket(ctx, requester, ticket.ID))
	_, open := <-stream.Live()
	assert.False(t, open)
	assert.Zero(t, f.hub.SubscriberCount(ticket.ID))
}

// gatedMessageLog stores a message whose body equals gate, then holds the
// append open until release is closed.
type gatedMessageLog struct {
	repository.TicketMessageRepository
	gate    string
	stored  chan struct{}
	release chan struct{}
}

func (g *gatedMessageLog) Append(ctx context.Context, msg *domain.TicketMessage) error {
	if err := g.TicketMessageRepository.Append(ctx, msg); err != nil {
		return err
	}
	if msg.Body == g.gate {
		close(g.stored)
		<-g.release
	}
	return nil
}

func TestConcurrentPostsReachSubscribersInStoreOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.activeTicket(t)

	gated := &gatedMessageLog{
		TicketMessageRepository: f.messages,
		gate:                    "first",
		stored:                  make(chan struct{}),
		release:                 make(chan struct{}),
	}
	chat := NewChatService(ChatDependencies{
		TicketRepo:  f.tickets,
		MessageRepo: gated,
		Hub:         f.hub,
		Clock:       f.clock.Now,
	})

	stream, err := chat.Subscribe(ctx, staffOne, ticket.ID, "")
	require.NoError(t, err)
	defer stream.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := chat.PostMessage(ctx, requester, ticket.ID, "first")
		assert.NoError(t, err)
	}()
	<-gated.stored
	go func() {
		defer wg.Done()
		_, err := chat.PostMessage(ctx, staffOne, ticket.ID, "second")
		assert.NoError(t, err)
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case msg := <-stream.Live():
		t.Fatalf("%q delivered while an earlier append was still in flight", msg.Body)
	default:
	}

	close(gated.release)
	wg.Wait()

	var delivered []string
	for i := 0; i < 2; i++ {
		msg := <-stream.Live()
		require.True(t, stream.Accept(msg), msg.Body)
		delivered = append(delivered, msg.Body)
	}
	assert.Equal(t, []string{"first", "second"}, delivered)

	page, err := chat.ListMessages(ctx, requester, ticket.ID, "", 0)
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, page.NextCursor, stream.Cursor(), "resuming from the stream cursor skips nothing")
}
