package repository

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/maintenance-service/internal/domain"
)

func TestTicketRepository_CreateWritesHistoryInSameTx(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO tickets").
		WillReturnRows(pgxmock.NewRows([]string{"version", "created_at", "transitioned_at", "updated_at"}).
			AddRow(int64(1), now, now, now))
	mock.ExpectQuery("INSERT INTO ticket_history").
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(now))
	mock.ExpectCommit()

	repo := NewTicketRepository(mock)
	ticket := &domain.Ticket{ID: "t1", Code: "MNT-1", RequesterID: "req-1", Status: domain.TicketStatusPending}
	history := &domain.TicketHistory{ID: "h1", TicketID: "t1", ChangeType: domain.ChangeTypeCreated}

	require.NoError(t, repo.Create(context.Background(), ticket, history))
	assert.Equal(t, int64(1), ticket.Version)
	assert.Equal(t, now, ticket.CreatedAt)
	assert.Equal(t, now, history.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketRepository_UpdateReportsVersionConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE tickets SET").
		WithArgs(domain.TicketStatusApproved, "t1", int64(3)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("t1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	repo := NewTicketRepository(mock)
	approved := domain.TicketStatusApproved
	_, err = repo.Update(context.Background(), "t1", TicketPatch{Status: &approved}, 3)
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketRepository_UpdateReportsMissingTicket(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE tickets SET").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("gone").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	repo := NewTicketRepository(mock)
	denied := domain.TicketStatusDenied
	_, err = repo.Update(context.Background(), "gone", TicketPatch{Status: &denied}, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketRepository_DeleteRefusedAfterAssignment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM tickets").
		WithArgs("t1", "req-1", domain.TicketStatusPending, domain.TicketStatusApproved, domain.TicketStatusDenied).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("t1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	repo := NewTicketRepository(mock)
	assert.ErrorIs(t, repo.Delete(context.Background(), "t1", "req-1"), ErrDeleteRefused)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketRepository_DeleteSucceeds(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM tickets").
		WithArgs("t1", "req-1", domain.TicketStatusPending, domain.TicketStatusApproved, domain.TicketStatusDenied).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	repo := NewTicketRepository(mock)
	assert.NoError(t, repo.Delete(context.Background(), "t1", "req-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketRepository_Count(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM tickets WHERE 1=1 AND requester_id=\$1 AND status IN \(\$2\)`).
		WithArgs("req-1", domain.TicketStatusActive).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(2)))

	repo := NewTicketRepository(mock)
	requester := "req-1"
	count, err := repo.Count(context.Background(), TicketFilter{
		RequesterID: &requester,
		Statuses:    []domain.TicketStatus{domain.TicketStatusActive},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPatchAssignments(t *testing.T) {
	status := domain.TicketStatusActive
	staff := "staff-1"
	sets, args := patchAssignments(TicketPatch{Status: &status, AssignedStaffID: &staff})

	assert.Equal(t, []string{
		"version=version+1",
		"updated_at=NOW()",
		"status=$1",
		"transitioned_at=NOW()",
		"assigned_staff_id=$2",
	}, sets)
	assert.Equal(t, []any{status, staff}, args)
}
