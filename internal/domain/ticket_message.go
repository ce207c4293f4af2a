package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SenderRole is the side of the conversation a message came from.
type SenderRole string

const (
	SenderRoleRequester SenderRole = "requester"
	SenderRoleStaff     SenderRole = "staff"
)

// TicketMessage is one immutable entry in a ticket's chat thread. Seq is assigned
// by the store and breaks ties between messages sharing a timestamp.
type TicketMessage struct {
	ID         string
	TicketID   string
	Seq        int64
	SenderID   string
	SenderRole SenderRole
	Body       string
	CreatedAt  time.Time
}

// Cursor returns the position just after this message.
func (m *TicketMessage) Cursor() MessageCursor {
	return MessageCursor{At: m.CreatedAt, Seq: m.Seq}
}

// MessageCursor marks a position in a ticket's message log. The zero value
// addresses the start of the log.
type MessageCursor struct {
	At  time.Time
	Seq int64
}

// IsZero reports whether the cursor addresses the start of the log.
func (c MessageCursor) IsZero() bool {
	return c.At.IsZero() && c.Seq == 0
}

// After reports whether message m sorts strictly after the cursor.
func (c MessageCursor) After(m *TicketMessage) bool {
	if c.IsZero() {
		return true
	}
	if !m.CreatedAt.Equal(c.At) {
		return m.CreatedAt.After(c.At)
	}
	return m.Seq > c.Seq
}

// String encodes the cursor as "<unix-nanos>.<seq>".
func (c MessageCursor) String() string {
	if c.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d.%d", c.At.UnixNano(), c.Seq)
}

// ParseMessageCursor decodes a cursor produced by MessageCursor.String. An empty
// string yields the zero cursor.
func ParseMessageCursor(raw string) (MessageCursor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return MessageCursor{}, nil
	}
	nanosPart, seqPart, ok := strings.Cut(raw, ".")
	if !ok {
		return MessageCursor{}, fmt.Errorf("malformed cursor %q", raw)
	}
	nanos, err := strconv.ParseInt(nanosPart, 10, 64)
	if err != nil {
		return MessageCursor{}, fmt.Errorf("malformed cursor %q: %w", raw, err)
	}
	seq, err := strconv.ParseInt(seqPart, 10, 64)
	if err != nil || seq < 0 {
		return MessageCursor{}, fmt.Errorf("malformed cursor %q", raw)
	}
	return MessageCursor{At: time.Unix(0, nanos).UTC(), Seq: seq}, nil
}
