package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageCursorRoundTrip(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 30, 0, 123456789, time.UTC)
	msg := &TicketMessage{CreatedAt: at, Seq: 42}

	raw := msg.Cursor().String()
	assert.Equal(t, "1709285400123456789.42", raw)

	parsed, err := ParseMessageCursor(raw)
	require.NoError(t, err)
	assert.True(t, parsed.At.Equal(at))
	assert.Equal(t, int64(42), parsed.Seq)
}

func TestParseMessageCursor(t *testing.T) {
	zero, err := ParseMessageCursor("  ")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())
	assert.Empty(t, zero.String())

	for _, raw := range []string{"abc", "12", "12.x", "x.3", "12.-1"} {
		_, err := ParseMessageCursor(raw)
		assert.Error(t, err, raw)
	}
}

func TestMessageCursorAfter(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	cursor := MessageCursor{At: at, Seq: 5}

	tests := []struct {
		name string
		msg  TicketMessage
		want bool
	}{
		{name: "earlier", msg: TicketMessage{CreatedAt: at.Add(-time.Second), Seq: 9}, want: false},
		{name: "same position", msg: TicketMessage{CreatedAt: at, Seq: 5}, want: false},
		{name: "same time lower seq", msg: TicketMessage{CreatedAt: at, Seq: 4}, want: false},
		{name: "same time higher seq", msg: TicketMessage{CreatedAt: at, Seq: 6}, want: true},
		{name: "later", msg: TicketMessage{CreatedAt: at.Add(time.Nanosecond), Seq: 1}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cursor.After(&tt.msg))
		})
	}

	assert.True(t, MessageCursor{}.After(&TicketMessage{CreatedAt: at.Add(-time.Hour)}))
}

func TestTicketStatusPredicates(t *testing.T) {
	assert.True(t, TicketStatusComplete.Terminal())
	assert.True(t, TicketStatusDenied.Terminal())
	assert.False(t, TicketStatusActive.Terminal())

	assert.True(t, TicketStatusApproved.Cancellable())
	assert.False(t, TicketStatusActive.Cancellable())
	assert.False(t, TicketStatusComplete.Cancellable())

	assert.True(t, TicketStatusActive.RequiresAssignee())
	assert.False(t, TicketStatus("Closed").Valid())
}
