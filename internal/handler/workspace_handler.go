package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/kursadbilgin/delivery-tracker/internal/domain"
	"github.com/kursadbilgin/delivery-tracker/internal/observability"
	"github.com/kursadbilgin/delivery-tracker/internal/search"
	"github.com/kursadbilgin/delivery-tracker/internal/service"
	"github.com/kursadbilgin/delivery-tracker/internal/workspace"
	"go.uber.org/zap"
)

type WorkspaceRegistry interface {
	Create() *workspace.Workspace
	Get(id string) (*workspace.Workspace, error)
	Delete(id string) error
}

type LifecycleSubmitter interface {
	Submit(ctx context.Context, action domain.Action, records []domain.DeliveryRecord, opts service.SubmitOptions) (service.Result, error)
}

type WorkspaceHandler struct {
	workspaces WorkspaceRegistry
	lifecycle  LifecycleSubmitter
	logger     *zap.Logger
}

func NewWorkspaceHandler(workspaces WorkspaceRegistry, lifecycle LifecycleSubmitter, logger *zap.Logger) (*WorkspaceHandler, error) {
	if workspaces == nil {
		return nil, fmt.Errorf("workspace registry is required")
	}
	if lifecycle == nil {
		return nil, fmt.Errorf("lifecycle service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkspaceHandler{workspaces: workspaces, lifecycle: lifecycle, logger: logger}, nil
}

func RegisterWorkspaceRoutes(router fiber.Router, workspaces WorkspaceRegistry, lifecycle LifecycleSubmitter, logger *zap.Logger) error {
	h, err := NewWorkspaceHandler(workspaces, lifecycle, logger)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/workspaces", h.CreateWorkspace)
	v1.Get("/workspaces/:id", h.GetWorkspace)
	v1.Delete("/workspaces/:id", h.DeleteWorkspace)
	v1.Put("/workspaces/:id/search", h.UpdateSearch)
	v1.Put("/workspaces/:id/page", h.SetPage)
	v1.Post("/workspaces/:id/selection/toggle", h.Toggle)
	v1.Post("/workspaces/:id/selection/toggle-page", h.TogglePage)
	v1.Post("/workspaces/:id/selection/all", h.SelectAll)
	v1.Delete("/workspaces/:id/selection", h.ClearSelection)
	v1.Post("/workspaces/:id/actions/:action", h.SubmitAction)

	return nil
}

type updateSearchRequest struct {
	Mode       *string `json:"mode"`
	Term       *string `json:"term"`
	ActionType *string `json:"actionType"`
	FromDate   *string `json:"fromDate"`
	ToDate     *string `json:"toDate"`
}

type setPageRequest struct {
	Page int `json:"page"`
}

type toggleRequest struct {
	EntryNo int `json:"entryNo"`
}

type submitActionRequest struct {
	Actor           string `json:"actor"`
	Notes           string `json:"notes"`
	PharmacyID      string `json:"pharmacyId"`
	RequestedMonths int    `json:"requestedMonths"`
}

type itemResultResponse struct {
	EntryNo int    `json:"entryNo"`
	Message string `json:"message"`
}

type adjustmentResponse struct {
	EnrolleeID      string `json:"enrolleeId"`
	RequestedMonths int    `json:"requestedMonths"`
	AdjustedMonths  int    `json:"adjustedMonths"`
	AdjustedDate    string `json:"adjustedDate"`
	BoundaryDate    string `json:"boundaryDate,omitempty"`
	IsAdjusted      bool   `json:"isAdjusted"`
}

type queuedSideEffectResponse struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Recipient string `json:"recipient"`
	Status    string `json:"status"`
}

type submitActionResponse struct {
	Action        string                     `json:"action"`
	CorrelationID string                     `json:"correlationId"`
	Succeeded     []itemResultResponse       `json:"succeeded"`
	Failed        []itemResultResponse       `json:"failed"`
	Adjustments   []adjustmentResponse       `json:"adjustments,omitempty"`
	SideEffects   []queuedSideEffectResponse `json:"sideEffects,omitempty"`
	Warnings      []string                   `json:"warnings,omitempty"`
	Warning       string                     `json:"warning,omitempty"`
	Workspace     viewResponse               `json:"workspace"`
}

// CreateWorkspace opens a screen-scoped workspace and loads its first dataset.
func (h *WorkspaceHandler) CreateWorkspace(c *fiber.Ctx) error {
	ws := h.workspaces.Create()
	if err := ws.Load(h.requestContext(c, ws.ID())); err != nil {
		if deleteErr := h.workspaces.Delete(ws.ID()); deleteErr != nil {
			h.logger.Warn("failed to drop workspace after load error",
				zap.String("workspaceId", ws.ID()),
				zap.Error(deleteErr),
			)
		}
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toViewResponse(ws.View()))
}

func (h *WorkspaceHandler) GetWorkspace(c *fiber.Ctx) error {
	ws, err := h.workspace(c)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toViewResponse(ws.View()))
}

// DeleteWorkspace resets a workspace when its screen goes away.
func (h *WorkspaceHandler) DeleteWorkspace(c *fiber.Ctx) error {
	if err := h.workspaces.Delete(strings.TrimSpace(c.Params("id"))); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// UpdateSearch applies the fields present in the body as one change. Every
// field is parsed before anything is applied, so a bad value leaves the
// workspace untouched.
func (h *WorkspaceHandler) UpdateSearch(c *fiber.Ctx) error {
	ws, err := h.workspace(c)
	if err != nil {
		return err
	}

	var req updateSearchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	update, err := req.toUpdate()
	if err != nil {
		return toHTTPError(err)
	}
	if err := ws.UpdateCriteria(h.requestContext(c, ws.ID()), update); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toViewResponse(ws.View()))
}

func (r updateSearchRequest) toUpdate() (search.Update, error) {
	u := search.Update{Term: r.Term, ActionType: r.ActionType}
	if r.Mode != nil {
		mode, err := search.ParseModeFromString(*r.Mode)
		if err != nil {
			return search.Update{}, err
		}
		u.Mode = &mode
	}
	if r.FromDate != nil {
		from, err := parseDate(*r.FromDate, "fromDate")
		if err != nil {
			return search.Update{}, err
		}
		u.FromDate = &from
	}
	if r.ToDate != nil {
		to, err := parseDate(*r.ToDate, "toDate")
		if err != nil {
			return search.Update{}, err
		}
		u.ToDate = &to
	}
	return u, nil
}

func (h *WorkspaceHandler) SetPage(c *fiber.Ctx) error {
	ws, err := h.workspace(c)
	if err != nil {
		return err
	}

	var req setPageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Page < 1 {
		return toHTTPError(fmt.Errorf("%w: page must be >= 1", domain.ErrValidation))
	}

	ws.SetPage(req.Page)
	return c.Status(fiber.StatusOK).JSON(toViewResponse(ws.View()))
}

func (h *WorkspaceHandler) Toggle(c *fiber.Ctx) error {
	ws, err := h.workspace(c)
	if err != nil {
		return err
	}

	var req toggleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := ws.Toggle(req.EntryNo); err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toViewResponse(ws.View()))
}

func (h *WorkspaceHandler) TogglePage(c *fiber.Ctx) error {
	ws, err := h.workspace(c)
	if err != nil {
		return err
	}
	ws.TogglePage()
	return c.Status(fiber.StatusOK).JSON(toViewResponse(ws.View()))
}

func (h *WorkspaceHandler) SelectAll(c *fiber.Ctx) error {
	ws, err := h.workspace(c)
	if err != nil {
		return err
	}
	ws.SelectAllMatching()
	return c.Status(fiber.StatusOK).JSON(toViewResponse(ws.View()))
}

func (h *WorkspaceHandler) ClearSelection(c *fiber.Ctx) error {
	ws, err := h.workspace(c)
	if err != nil {
		return err
	}
	ws.ClearSelection()
	return c.Status(fiber.StatusOK).JSON(toViewResponse(ws.View()))
}

// SubmitAction runs a lifecycle action over the workspace selection. A
// partially failed batch is still a 200; the failures are in the body.
func (h *WorkspaceHandler) SubmitAction(c *fiber.Ctx) error {
	ws, err := h.workspace(c)
	if err != nil {
		return err
	}

	action, err := domain.ParseActionFromString(c.Params("action"))
	if err != nil {
		return toHTTPError(err)
	}

	var req submitActionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}
	opts := service.SubmitOptions{
		Actor:           strings.TrimSpace(req.Actor),
		Notes:           strings.TrimSpace(req.Notes),
		PharmacyID:      strings.TrimSpace(req.PharmacyID),
		RequestedMonths: req.RequestedMonths,
	}

	correlationID := requestCorrelationID(c)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	ctx := observability.WithWorkspaceID(observability.WithCorrelationID(c.UserContext(), correlationID), ws.ID())

	var result service.Result
	outcome, err := ws.Submit(ctx, action, func(ctx context.Context, selected []domain.DeliveryRecord) (domain.BatchOutcome, error) {
		res, err := h.lifecycle.Submit(ctx, action, selected, opts)
		result = res
		return res.Outcome, err
	})
	if err != nil && !service.IsPartial(err) {
		return toHTTPError(err)
	}

	resp := submitActionResponse{
		Action:        action.String(),
		CorrelationID: correlationID,
		Succeeded:     toItemResults(outcome.Succeeded),
		Failed:        toItemResults(outcome.Failed),
		Adjustments:   toAdjustmentResponses(result.Adjustments),
		SideEffects:   toQueuedSideEffects(result.SideEffects),
		Warnings:      result.Warnings,
		Workspace:     toViewResponse(ws.View()),
	}
	if err != nil {
		resp.Warning = err.Error()
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

func (h *WorkspaceHandler) workspace(c *fiber.Ctx) (*workspace.Workspace, error) {
	ws, err := h.workspaces.Get(strings.TrimSpace(c.Params("id")))
	if err != nil {
		return nil, toHTTPError(err)
	}
	return ws, nil
}

func (h *WorkspaceHandler) requestContext(c *fiber.Ctx, workspaceID string) context.Context {
	ctx := c.UserContext()
	if correlationID := requestCorrelationID(c); correlationID != "" {
		ctx = observability.WithCorrelationID(ctx, correlationID)
	}
	return observability.WithWorkspaceID(ctx, workspaceID)
}

func toItemResults(items []domain.ItemResult) []itemResultResponse {
	out := make([]itemResultResponse, 0, len(items))
	for _, item := range items {
		out = append(out, itemResultResponse{EntryNo: item.Key, Message: item.Message})
	}
	return out
}

func toAdjustmentResponses(adjustments []domain.DeliveryAdjustment) []adjustmentResponse {
	out := make([]adjustmentResponse, 0, len(adjustments))
	for _, a := range adjustments {
		out = append(out, adjustmentResponse{
			EnrolleeID:      a.EnrolleeID,
			RequestedMonths: a.RequestedMonths,
			AdjustedMonths:  a.AdjustedMonths,
			AdjustedDate:    formatDate(a.AdjustedDate),
			BoundaryDate:    formatDate(a.BoundaryDate),
			IsAdjusted:      a.IsAdjusted,
		})
	}
	return out
}

func toQueuedSideEffects(sideEffects []domain.SideEffect) []queuedSideEffectResponse {
	out := make([]queuedSideEffectResponse, 0, len(sideEffects))
	for _, s := range sideEffects {
		out = append(out, queuedSideEffectResponse{
			ID:        s.ID,
			Kind:      s.Kind.String(),
			Recipient: s.Recipient,
			Status:    s.Status.String(),
		})
	}
	return out
}
