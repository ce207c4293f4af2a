package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/maintenance-service/internal/domain"
)

// TicketFilter captures role-scoped query parameters.
type TicketFilter struct {
	RequesterID     *string
	AssignedStaffID *string
	Statuses        []domain.TicketStatus
	CreatedFrom     *time.Time
	CreatedTo       *time.Time
	Ascending       bool
	Limit           int
	Offset          int
}

// TicketPatch lists the fields an update may change. Nil fields are left untouched.
// History, when set, is recorded in the same write as the patch.
type TicketPatch struct {
	Status          *domain.TicketStatus
	AssignedStaffID *string
	Rating          *int
	RatingComment   *string
	Title           *string
	Category        *domain.TicketCategory
	Priority        *domain.TicketPriority
	Location        *domain.Location
	Description     *string
	AccessNotes     *string
	ImageRef        *string
	History         *domain.TicketHistory
}

// TicketRepository is the Ticket Store: tickets, their versions and their audit trail.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket, history *domain.TicketHistory) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	Update(ctx context.Context, id string, patch TicketPatch, expectedVersion int64) (*domain.Ticket, error)
	Delete(ctx context.Context, id, requesterID string) error
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	Count(ctx context.Context, filter TicketFilter) (int64, error)
	ListHistory(ctx context.Context, ticketID string) ([]domain.TicketHistory, error)
}

const ticketColumns = `id, code, requester_id, title, category, priority, building, floor, room,
        description, access_notes, image_ref, status, assigned_staff_id, rating, rating_comment,
        version, created_at, transitioned_at, updated_at`

type ticketRepository struct {
	db DB
}

// NewTicketRepository instantiates the Postgres-backed Ticket Store.
func NewTicketRepository(db DB) TicketRepository {
	return &ticketRepository{db: db}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket, history *domain.TicketHistory) error {
	const query = `
        INSERT INTO tickets (id, code, requester_id, title, category, priority, building, floor, room,
            description, access_notes, image_ref, status)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
        RETURNING version, created_at, transitioned_at, updated_at`
	return withTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, query,
			ticket.ID,
			ticket.Code,
			ticket.RequesterID,
			ticket.Title,
			ticket.Category,
			ticket.Priority,
			ticket.Location.Building,
			ticket.Location.Floor,
			ticket.Location.Room,
			ticket.Description,
			ticket.AccessNotes,
			ticket.ImageRef,
			ticket.Status,
		).Scan(&ticket.Version, &ticket.CreatedAt, &ticket.TransitionedAt, &ticket.UpdatedAt); err != nil {
			return err
		}
		if history == nil {
			return nil
		}
		return insertHistory(ctx, tx, history)
	})
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	ticket, err := scanTicket(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ticket, err
}

// Update applies patch only if the stored version still equals expectedVersion,
// bumping the version by one. The compare-and-swap is a single UPDATE statement.
func (r *ticketRepository) Update(ctx context.Context, id string, patch TicketPatch, expectedVersion int64) (*domain.Ticket, error) {
	sets, args := patchAssignments(patch)
	args = append(args, id, expectedVersion)
	query := fmt.Sprintf(`UPDATE tickets SET %s WHERE id=$%d AND version=$%d RETURNING %s`,
		strings.Join(sets, ", "), len(args)-1, len(args), ticketColumns)

	var updated *domain.Ticket
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		ticket, err := scanTicket(tx.QueryRow(ctx, query, args...))
		if errors.Is(err, pgx.ErrNoRows) {
			return classifyMiss(ctx, tx, id)
		}
		if err != nil {
			return err
		}
		if patch.History != nil {
			if err := insertHistory(ctx, tx, patch.History); err != nil {
				return err
			}
		}
		updated = ticket
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes the ticket only when requesterID owns it and it has not been assigned.
func (r *ticketRepository) Delete(ctx context.Context, id, requesterID string) error {
	const query = `
        DELETE FROM tickets
        WHERE id=$1 AND requester_id=$2 AND status IN ($3,$4,$5)`
	cmd, err := r.db.Exec(ctx, query, id, requesterID,
		domain.TicketStatusPending, domain.TicketStatusApproved, domain.TicketStatusDenied)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tickets WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrDeleteRefused
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	where, args := filterClauses(filter)

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	direction := "DESC"
	if filter.Ascending {
		direction = "ASC"
	}

	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY created_at %s, id %s LIMIT %d OFFSET %d`,
		ticketColumns, where, direction, direction, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func (r *ticketRepository) Count(ctx context.Context, filter TicketFilter) (int64, error) {
	where, args := filterClauses(filter)
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE `+where, args...).Scan(&count)
	return count, err
}

func (r *ticketRepository) ListHistory(ctx context.Context, ticketID string) ([]domain.TicketHistory, error) {
	const query = `
        SELECT id, ticket_id, actor_id, actor_role, change_type, from_status, to_status, old_value, new_value, created_at
        FROM ticket_history WHERE ticket_id=$1 ORDER BY created_at ASC, id ASC`
	rows, err := r.db.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TicketHistory
	for rows.Next() {
		var history domain.TicketHistory
		if err := rows.Scan(
			&history.ID,
			&history.TicketID,
			&history.ActorID,
			&history.ActorRole,
			&history.ChangeType,
			&history.FromStatus,
			&history.ToStatus,
			&history.OldValue,
			&history.NewValue,
			&history.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, history)
	}
	return result, rows.Err()
}

func insertHistory(ctx context.Context, tx pgx.Tx, history *domain.TicketHistory) error {
	const query = `
        INSERT INTO ticket_history (id, ticket_id, actor_id, actor_role, change_type, from_status, to_status, old_value, new_value)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        RETURNING created_at`
	return tx.QueryRow(ctx, query,
		history.ID,
		history.TicketID,
		history.ActorID,
		history.ActorRole,
		history.ChangeType,
		history.FromStatus,
		history.ToStatus,
		history.OldValue,
		history.NewValue,
	).Scan(&history.CreatedAt)
}

// classifyMiss tells a missing ticket apart from a lost compare-and-swap.
func classifyMiss(ctx context.Context, tx pgx.Tx, id string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tickets WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrVersionConflict
}

func patchAssignments(patch TicketPatch) ([]string, []any) {
	sets := []string{"version=version+1", "updated_at=NOW()"}
	args := []any{}

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}

	if patch.Status != nil {
		add("status", *patch.Status)
		sets = append(sets, "transitioned_at=NOW()")
	}
	if patch.AssignedStaffID != nil {
		add("assigned_staff_id", *patch.AssignedStaffID)
	}
	if patch.Rating != nil {
		add("rating", *patch.Rating)
	}
	if patch.RatingComment != nil {
		add("rating_comment", *patch.RatingComment)
	}
	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Category != nil {
		add("category", *patch.Category)
	}
	if patch.Priority != nil {
		add("priority", *patch.Priority)
	}
	if patch.Location != nil {
		add("building", patch.Location.Building)
		add("floor", patch.Location.Floor)
		add("room", patch.Location.Room)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.AccessNotes != nil {
		add("access_notes", *patch.AccessNotes)
	}
	if patch.ImageRef != nil {
		// An empty reference clears the image.
		if *patch.ImageRef == "" {
			add("image_ref", nil)
		} else {
			add("image_ref", *patch.ImageRef)
		}
	}
	return sets, args
}

func filterClauses(filter TicketFilter) (string, []any) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.RequesterID != nil {
		args = append(args, *filter.RequesterID)
		clauses = append(clauses, fmt.Sprintf("requester_id=$%d", len(args)))
	}
	if filter.AssignedStaffID != nil {
		args = append(args, *filter.AssignedStaffID)
		clauses = append(clauses, fmt.Sprintf("assigned_staff_id=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.CreatedFrom != nil {
		args = append(args, *filter.CreatedFrom)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.CreatedTo != nil {
		args = append(args, *filter.CreatedTo)
		clauses = append(clauses, fmt.Sprintf("created_at < $%d", len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.Code,
		&ticket.RequesterID,
		&ticket.Title,
		&ticket.Category,
		&ticket.Priority,
		&ticket.Location.Building,
		&ticket.Location.Floor,
		&ticket.Location.Room,
		&ticket.Description,
		&ticket.AccessNotes,
		&ticket.ImageRef,
		&ticket.Status,
		&ticket.AssignedStaffID,
		&ticket.Rating,
		&ticket.RatingComment,
		&ticket.Version,
		&ticket.CreatedAt,
		&ticket.TransitionedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}
