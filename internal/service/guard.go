package service

import (
	"fmt"

	"github.com/spec-kit/maintenance-service/internal/domain"
	apperrors "github.com/spec-kit/maintenance-service/pkg/util/errorutil"
)

// transitionRule describes who may move a ticket into a target status.
type transitionRule struct {
	from         domain.TicketStatus
	role         domain.Role
	assigneeOnly bool
}

// transitionRules is keyed by target status. Deletion is not a status and is
// checked by CheckDelete.
var transitionRules = map[domain.TicketStatus]transitionRule{
	domain.TicketStatusApproved: {from: domain.TicketStatusPending, role: domain.RoleAdmin},
	domain.TicketStatusDenied:   {from: domain.TicketStatusPending, role: domain.RoleAdmin},
	domain.TicketStatusActive:   {from: domain.TicketStatusApproved, role: domain.RoleStaff},
	domain.TicketStatusComplete: {from: domain.TicketStatusActive, role: domain.RoleStaff, assigneeOnly: true},
}

// AuthorizationGuard decides which actor may change, message, rate, read or
// delete a ticket. It is stateless.
type AuthorizationGuard struct{}

// NewAuthorizationGuard returns the guard.
func NewAuthorizationGuard() *AuthorizationGuard {
	return &AuthorizationGuard{}
}

// CanTransition reports whether actor may move ticket to target now.
func (g *AuthorizationGuard) CanTransition(actor domain.Actor, ticket *domain.Ticket, target domain.TicketStatus) bool {
	return g.CheckTransition(actor, ticket, target) == nil
}

// CheckTransition classifies a transition request. Role and ownership failures
// are Forbidden; a target that cannot follow the current status is
// InvalidTransition.
func (g *AuthorizationGuard) CheckTransition(actor domain.Actor, ticket *domain.Ticket, target domain.TicketStatus) error {
	rule, ok := transitionRules[target]
	if !ok {
		return apperrors.NewValidationError("unsupported target status", map[string]any{"targetStatus": target})
	}
	if actor.Role != rule.role {
		return apperrors.NewForbidden(fmt.Sprintf("role %s may not move a ticket to %s", actor.Role, target))
	}

	// A second staff member racing for an already claimed ticket is an ownership failure.
	if target == domain.TicketStatusActive && ticket.Status == domain.TicketStatusActive && !ticket.IsAssignedTo(actor.ID) {
		return apperrors.NewForbidden("ticket is already assigned to another staff member")
	}
	if rule.assigneeOnly && ticket.Status == rule.from && !ticket.IsAssignedTo(actor.ID) {
		return apperrors.NewForbidden("only the assigned staff member may complete the ticket")
	}
	if ticket.Status != rule.from {
		return apperrors.NewInvalidTransition(
			fmt.Sprintf("cannot move ticket from %s to %s", ticket.Status, target),
			map[string]any{"from": ticket.Status, "to": target},
		)
	}
	return nil
}

// CanMessage reports whether actor may post to the ticket's chat: the ticket must
// be Active and the actor its requester or assigned staff member.
func (g *AuthorizationGuard) CanMessage(actor domain.Actor, ticket *domain.Ticket) bool {
	if ticket.Status != domain.TicketStatusActive {
		return false
	}
	return isParticipant(actor, ticket)
}

// CanReadMessages reports whether actor may read the ticket's chat in any status.
func (g *AuthorizationGuard) CanReadMessages(actor domain.Actor, ticket *domain.Ticket) bool {
	return actor.Role == domain.RoleAdmin || isParticipant(actor, ticket)
}

// CanRate reports whether actorID may leave feedback on ticket.
func (g *AuthorizationGuard) CanRate(actorID string, ticket *domain.Ticket) bool {
	return g.CheckRate(actorID, ticket) == nil
}

// CheckRate classifies a rating request.
func (g *AuthorizationGuard) CheckRate(actorID string, ticket *domain.Ticket) error {
	if ticket.RequesterID != actorID {
		return apperrors.NewForbidden("only the requester may rate the ticket")
	}
	if ticket.Status != domain.TicketStatusComplete {
		return apperrors.NewInvalidTransition("ticket can only be rated once complete", map[string]any{"status": ticket.Status})
	}
	if ticket.Rated() {
		return apperrors.NewInvalidTransition("ticket has already been rated", nil)
	}
	return nil
}

// CanRead reports whether actor may see the ticket. Staff see the Approved pool
// and tickets assigned to them.
func (g *AuthorizationGuard) CanRead(actor domain.Actor, ticket *domain.Ticket) bool {
	switch actor.Role {
	case domain.RoleAdmin:
		return true
	case domain.RoleStaff:
		return ticket.Status == domain.TicketStatusApproved || ticket.IsAssignedTo(actor.ID)
	case domain.RoleRequester:
		return ticket.RequesterID == actor.ID
	}
	return false
}

// CheckDelete allows the requester to remove their own ticket before assignment.
func (g *AuthorizationGuard) CheckDelete(actor domain.Actor, ticket *domain.Ticket) error {
	if actor.Role != domain.RoleRequester || ticket.RequesterID != actor.ID {
		return apperrors.NewForbidden("only the requester may cancel the ticket")
	}
	if !ticket.Status.Cancellable() {
		return apperrors.NewForbidden(fmt.Sprintf("ticket cannot be cancelled once %s", ticket.Status))
	}
	return nil
}

// CheckEdit allows admins to edit open tickets and the requester to edit their
// own ticket while it is Pending.
func (g *AuthorizationGuard) CheckEdit(actor domain.Actor, ticket *domain.Ticket) error {
	switch {
	case actor.Role == domain.RoleAdmin:
	case actor.Role == domain.RoleRequester && ticket.RequesterID == actor.ID:
		if !ticket.Status.Terminal() && ticket.Status != domain.TicketStatusPending {
			return apperrors.NewForbidden("requesters may only edit pending tickets")
		}
	default:
		return apperrors.NewForbidden("not allowed to edit this ticket")
	}
	if ticket.Status.Terminal() {
		return apperrors.NewInvalidTransition(fmt.Sprintf("ticket is %s and can no longer be edited", ticket.Status), nil)
	}
	return nil
}

func isParticipant(actor domain.Actor, ticket *domain.Ticket) bool {
	switch actor.Role {
	case domain.RoleRequester:
		return ticket.RequesterID == actor.ID
	case domain.RoleStaff:
		return ticket.IsAssignedTo(actor.ID)
	}
	return false
}

// senderRoleFor maps an actor to its side of the conversation.
func senderRoleFor(actor domain.Actor) domain.SenderRole {
	if actor.Role == domain.RoleRequester {
		return domain.SenderRoleRequester
	}
	return domain.SenderRoleStaff
}
