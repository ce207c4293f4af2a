package repository

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/maintenance-service/internal/domain"
)

// TicketMessageRepository is the append-only chat log kept per ticket.
type TicketMessageRepository interface {
	Append(ctx context.Context, msg *domain.TicketMessage) error
	ListSince(ctx context.Context, ticketID string, cursor domain.MessageCursor, limit int) ([]domain.TicketMessage, error)
}

type ticketMessageRepository struct {
	db DB
}

// NewTicketMessageRepository builds the Postgres-backed message log.
func NewTicketMessageRepository(db DB) TicketMessageRepository {
	return &ticketMessageRepository{db: db}
}

// Append stores msg; the database assigns its timestamp and sequence number.
// The ticket row is locked first so appends to one ticket take their seq and
// created_at in commit order and a cursor never passes an uncommitted message.
func (r *ticketMessageRepository) Append(ctx context.Context, msg *domain.TicketMessage) error {
	const insert = `
        INSERT INTO ticket_messages (id, ticket_id, sender_id, sender_role, body)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING seq, created_at`
	return withTx(ctx, r.db, func(tx pgx.Tx) error {
		var locked int
		err := tx.QueryRow(ctx, `SELECT 1 FROM tickets WHERE id=$1 FOR UPDATE`, msg.TicketID).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return tx.QueryRow(ctx, insert,
			msg.ID,
			msg.TicketID,
			msg.SenderID,
			msg.SenderRole,
			msg.Body,
		).Scan(&msg.Seq, &msg.CreatedAt)
	})
}

func (r *ticketMessageRepository) ListSince(ctx context.Context, ticketID string, cursor domain.MessageCursor, limit int) ([]domain.TicketMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
        SELECT id, ticket_id, seq, sender_id, sender_role, body, created_at
        FROM ticket_messages WHERE ticket_id=$1`
	args := []any{ticketID}
	if !cursor.IsZero() {
		query += ` AND (created_at, seq) > ($2, $3)`
		args = append(args, cursor.At, cursor.Seq)
	}
	query += ` ORDER BY created_at ASC, seq ASC LIMIT ` + strconv.Itoa(limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TicketMessage
	for rows.Next() {
		var msg domain.TicketMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.TicketID,
			&msg.Seq,
			&msg.SenderID,
			&msg.SenderRole,
			&msg.Body,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}
