package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/maintenance-service/internal/api/dto"
	"github.com/spec-kit/maintenance-service/internal/auth"
	"github.com/spec-kit/maintenance-service/internal/domain"
	"github.com/spec-kit/maintenance-service/internal/service"
	apperrors "github.com/spec-kit/maintenance-service/pkg/util/errorutil"
)

// TicketsHandler serves the ticket lifecycle and query endpoints.
type TicketsHandler struct {
	lifecycle *service.LifecycleService
	query     *service.QueryService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(lifecycle *service.LifecycleService, query *service.QueryService) *TicketsHandler {
	return &TicketsHandler{lifecycle: lifecycle, query: query}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	ticket, err := h.lifecycle.CreateTicket(c.UserContext(), actor, service.TicketCreateInput{
		Title:       req.Title,
		Category:    req.Category,
		Priority:    req.Priority,
		Location:    domain.Location(req.Location),
		Description: req.Description,
		AccessNotes: req.AccessNotes,
		ImageRef:    req.ImageRef,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.CreateTicketResponse{
		ID:      ticket.ID,
		Code:    ticket.Code,
		Status:  ticket.Status,
		Version: ticket.Version,
	}})
}

// ListTickets GET /tickets?scope=mine|pending|approved|active|all.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	query, err := parseTicketListQuery(c)
	if err != nil {
		return err
	}
	page, err := h.query.ListTickets(c.UserContext(), actor, query)
	if err != nil {
		return err
	}
	items := make([]dto.TicketSummary, 0, len(page.Tickets))
	for i := range page.Tickets {
		items = append(items, ticketSummary(&page.Tickets[i]))
	}
	return c.JSON(dto.TicketListResponse{
		Data: items,
		Pagination: dto.Pagination{
			Scope:    string(page.Scope),
			Page:     page.Page,
			PageSize: page.PageSize,
			Total:    page.Total,
		},
	})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	ticket, err := h.query.GetTicket(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketDetail(ticket)})
}

// EditTicket PATCH /tickets/:id.
func (h *TicketsHandler) EditTicket(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	var req dto.EditTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.lifecycle.EditTicket(c.UserContext(), actor, c.Params("id"), service.TicketEditInput{
		Title:           req.Title,
		Category:        req.Category,
		Priority:        req.Priority,
		Building:        req.Building,
		Floor:           req.Floor,
		Room:            req.Room,
		Description:     req.Description,
		AccessNotes:     req.AccessNotes,
		ImageRef:        req.ImageRef,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketDetail(ticket)})
}

// DeleteTicket DELETE /tickets/:id.
func (h *TicketsHandler) DeleteTicket(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	if err := h.lifecycle.CancelTicket(c.UserContext(), actor, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// Transition POST /tickets/:id/transition.
func (h *TicketsHandler) Transition(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	var req dto.TransitionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.TargetStatus == "" {
		return apperrors.NewValidationError("target_status required", map[string]any{"target_status": "required"})
	}
	if req.ExpectedVersion < 0 {
		return apperrors.NewValidationError("expected_version must be positive", nil)
	}
	ticket, err := h.lifecycle.Transition(c.UserContext(), actor, c.Params("id"), service.TransitionInput{
		Target:          req.TargetStatus,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketDetail(ticket)})
}

// RateTicket POST /tickets/:id/rating.
func (h *TicketsHandler) RateTicket(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	var req dto.RatingRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.lifecycle.RateTicket(c.UserContext(), actor, c.Params("id"), service.RatingInput{
		Rating:  req.Rating,
		Comment: req.Comment,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketDetail(ticket)})
}

// ListHistory GET /tickets/:id/history.
func (h *TicketsHandler) ListHistory(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	history, err := h.query.ListHistory(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": historyResponses(history)})
}

// Stats GET /tickets/stats.
func (h *TicketsHandler) Stats(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	stats, err := h.query.Stats(c.UserContext(), actor)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TicketStatsResponse{
		Total:            stats.Total,
		CreatedThisMonth: stats.CreatedThisMonth,
		Pending:          stats.Pending,
		Approved:         stats.Approved,
		Active:           stats.Active,
		Complete:         stats.Complete,
		Denied:           stats.Denied,
	}})
}

func currentActor(c *fiber.Ctx) (domain.Actor, error) {
	actor, ok := auth.ActorFromContext(c)
	if !ok {
		return domain.Actor{}, apperrors.NewUnauthorized("authentication required")
	}
	return actor, nil
}

func parseTicketListQuery(c *fiber.Ctx) (service.TicketListQuery, error) {
	query := service.TicketListQuery{
		Scope:    service.TicketScope(c.Query("scope")),
		Page:     parseInt(c.Query("page"), 1),
		PageSize: parseInt(c.Query("page_size"), 0),
	}
	switch strings.ToLower(c.Query("order", "desc")) {
	case "desc":
	case "asc":
		query.Ascending = true
	default:
		return query, apperrors.NewValidationError("order must be asc or desc", map[string]any{"order": c.Query("order")})
	}
	return query, nil
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func ticketSummary(ticket *domain.Ticket) dto.TicketSummary {
	return dto.TicketSummary{
		ID:              ticket.ID,
		Code:            ticket.Code,
		Title:           ticket.Title,
		Category:        ticket.Category,
		Priority:        ticket.Priority,
		Status:          ticket.Status,
		Location:        dto.LocationPayload(ticket.Location),
		RequesterID:     ticket.RequesterID,
		AssignedStaffID: ticket.AssignedStaffID,
		Version:         ticket.Version,
		CreatedAt:       ticket.CreatedAt,
		TransitionedAt:  ticket.TransitionedAt,
	}
}

func ticketDetail(ticket *domain.Ticket) dto.TicketDetailResponse {
	return dto.TicketDetailResponse{
		TicketSummary: ticketSummary(ticket),
		Description:   ticket.Description,
		AccessNotes:   ticket.AccessNotes,
		ImageRef:      ticket.ImageRef,
		Rating:        ticket.Rating,
		RatingComment: ticket.RatingComment,
		UpdatedAt:     ticket.UpdatedAt,
	}
}

func historyResponses(entries []domain.TicketHistory) []dto.TicketHistoryResponse {
	resp := make([]dto.TicketHistoryResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, dto.TicketHistoryResponse{
			ID:         entry.ID,
			ActorID:    entry.ActorID,
			ActorRole:  entry.ActorRole,
			ChangeType: entry.ChangeType,
			FromStatus: entry.FromStatus,
			ToStatus:   entry.ToStatus,
			OldValue:   entry.OldValue,
			NewValue:   entry.NewValue,
			CreatedAt:  entry.CreatedAt,
		})
	}
	return resp
}
