package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/spec-kit/field-ticket-service/internal/api/dto"
	"github.com/spec-kit/field-ticket-service/internal/auth"
	"github.com/spec-kit/field-ticket-service/internal/domain"
	"github.com/spec-kit/field-ticket-service/internal/service"
	apperrors "github.com/spec-kit/field-ticket-service/pkg/util/errorutil"
)

// TicketOperations is the workflow surface exposed over HTTP.
type TicketOperations interface {
	CreateTicket(ctx context.Context, input service.CreateTicketInput) (*service.Result, error)
	UpdateState(ctx context.Context, ticketID, newStateID string, extra service.StateExtra) (*service.Result, error)
	AssignTechnician(ctx context.Context, ticketID, technicianID, dispatcherID string) (*service.Result, error)
	UnassignTechnician(ctx context.Context, ticketID, technicianID, dispatcherID string) (*service.Result, error)
	AssignDispatcher(ctx context.Context, ticketID, newDispatcherID, currentDispatcherID string) (*service.Result, error)
	UnassignDispatcher(ctx context.Context, ticketID, dispatcherID string) (*service.Result, error)
	History(ctx context.Context, ticketID string, limit, offset int) ([]domain.StateHistoryEntry, error)
}

// TicketsHandler manages ticket lifecycle endpoints. The authenticated
// employee is the acting dispatcher of every assignment call.
type TicketsHandler struct {
	workflow TicketOperations
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(workflow TicketOperations) *TicketsHandler {
	return &TicketsHandler{workflow: workflow}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.CommerceID) == "" || strings.TrimSpace(req.TicketNumber) == "" {
		return apperrors.NewValidationError("commerceId and ticketNumber required", nil)
	}

	input := service.CreateTicketInput{
		CommerceID:    req.CommerceID,
		TicketNumber:  req.TicketNumber,
		Description:   req.Description,
		PlannedDate:   req.PlannedDate,
		Priority:      req.Priority,
		AttentionType: req.AttentionType,
		BranchID:      req.BranchID,
	}
	if principal.Employee.Role == domain.EmployeeRoleDispatcher {
		input.DispatcherID = principal.Employee.ID
	}
	res, err := h.workflow.CreateTicket(c.UserContext(), input)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": operationResponse(res)})
}

// UpdateState PUT /tickets/:id/states/:state.
func (h *TicketsHandler) UpdateState(c *fiber.Ctx) error {
	if _, err := requirePrincipal(c); err != nil {
		return err
	}
	var req dto.StateChangeRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	extra := service.StateExtra{
		CoordinatedDate:      req.CoordinatedDate,
		CoordinatedContactID: req.CoordinatedContactID,
		Customs:              req.Customs,
	}
	res, err := h.workflow.UpdateState(c.UserContext(), param(c, "id"), param(c, "state"), extra)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": operationResponse(res)})
}

// AssignTechnician POST /tickets/:id/technicians.
func (h *TicketsHandler) AssignTechnician(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.TechnicianRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.TechnicianID) == "" {
		return apperrors.NewValidationError("technicianId required", nil)
	}
	res, err := h.workflow.AssignTechnician(c.UserContext(), param(c, "id"), req.TechnicianID, principal.Employee.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": operationResponse(res)})
}

// UnassignTechnician DELETE /tickets/:id/technicians/:technicianId.
func (h *TicketsHandler) UnassignTechnician(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	res, err := h.workflow.UnassignTechnician(c.UserContext(), param(c, "id"), param(c, "technicianId"), principal.Employee.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": operationResponse(res)})
}

// AssignDispatcher POST /tickets/:id/dispatchers.
func (h *TicketsHandler) AssignDispatcher(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.DispatcherRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.DispatcherID) == "" {
		return apperrors.NewValidationError("dispatcherId required", nil)
	}
	res, err := h.workflow.AssignDispatcher(c.UserContext(), param(c, "id"), req.DispatcherID, principal.Employee.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": operationResponse(res)})
}

// UnassignDispatcher DELETE /tickets/:id/dispatchers. The caller removes itself.
func (h *TicketsHandler) UnassignDispatcher(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	res, err := h.workflow.UnassignDispatcher(c.UserContext(), param(c, "id"), principal.Employee.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": operationResponse(res)})
}

// History GET /tickets/:id/history.
func (h *TicketsHandler) History(c *fiber.Ctx) error {
	if _, err := requirePrincipal(c); err != nil {
		return err
	}
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)
	if limit <= 0 || limit > 200 || offset < 0 {
		return apperrors.NewValidationError("limit must be 1..200 and offset non-negative", nil)
	}
	entries, err := h.workflow.History(c.UserContext(), param(c, "id"), limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewHistoryResponse(entries)})
}

// param copies a route parameter out of fiber's reusable request buffer.
func param(c *fiber.Ctx, key string) string {
	return utils.CopyString(c.Params(key))
}

func requirePrincipal(c *fiber.Ctx) (*auth.Principal, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return nil, apperrors.NewUnauthorized("employee required")
	}
	return principal, nil
}

func operationResponse(res *service.Result) dto.OperationResponse {
	if res == nil {
		return dto.OperationResponse{}
	}
	return dto.OperationResponse{
		Message: res.Message,
		Changed: res.Changed,
		Ticket:  dto.NewTicketResponse(res.Ticket),
	}
}
