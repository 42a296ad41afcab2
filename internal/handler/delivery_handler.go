package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/delivery-tracker/internal/domain"
	"github.com/kursadbilgin/delivery-tracker/internal/observability"
	"github.com/kursadbilgin/delivery-tracker/internal/service"
)

type DeliveryService interface {
	FindDuplicates(ctx context.Context, enrolleeID string, proposed []domain.ProcedureLine) ([]domain.DeliveryRecord, error)
	CreateDelivery(ctx context.Context, d domain.DeliveryRecord, confirmDuplicate bool) (service.CreateOutcome, error)
}

type DeliveryHandler struct {
	service DeliveryService
}

func NewDeliveryHandler(service DeliveryService) (*DeliveryHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("delivery service is required")
	}
	return &DeliveryHandler{service: service}, nil
}

func RegisterDeliveryRoutes(router fiber.Router, service DeliveryService) error {
	h, err := NewDeliveryHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/deliveries", h.CreateDelivery)
	v1.Post("/deliveries/duplicates", h.FindDuplicates)

	return nil
}

type createDeliveryRequest struct {
	EnrolleeID              string             `json:"enrolleeId"`
	EnrolleeName            string             `json:"enrolleeName"`
	EnrolleeEmail           string             `json:"enrolleeEmail"`
	SchemeID                string             `json:"schemeId"`
	Frequency               string             `json:"frequency"`
	StartDate               string             `json:"startDate"`
	FrequencyDurationMonths int                `json:"frequencyDurationMonths"`
	EndDate                 string             `json:"endDate"`
	Diagnoses               []diagnosisPayload `json:"diagnoses"`
	Procedures              []procedurePayload `json:"procedures"`
	PharmacyID              string             `json:"pharmacyId"`
	DeliveryAddress         string             `json:"deliveryAddress"`
	Region                  string             `json:"region"`
	PhoneNumber             string             `json:"phoneNumber"`
	Comment                 string             `json:"comment"`
	CreatedBy               string             `json:"createdBy"`
	ConfirmDuplicate        bool               `json:"confirmDuplicate"`
}

type findDuplicatesRequest struct {
	EnrolleeID string             `json:"enrolleeId"`
	Procedures []procedurePayload `json:"procedures"`
}

type duplicatesResponse struct {
	HasDuplicates bool               `json:"hasDuplicates"`
	Duplicates    []deliveryResponse `json:"duplicates"`
}

type createDeliveryResponse struct {
	DeliveryID string             `json:"deliveryId"`
	Message    string             `json:"message,omitempty"`
	Duplicates []deliveryResponse `json:"duplicates,omitempty"`
}

func (h *DeliveryHandler) CreateDelivery(c *fiber.Ctx) error {
	var req createDeliveryRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	delivery, err := requestToDomainDelivery(req)
	if err != nil {
		return toHTTPError(err)
	}

	ctx := c.UserContext()
	if correlationID := requestCorrelationID(c); correlationID != "" {
		ctx = observability.WithCorrelationID(ctx, correlationID)
	}

	created, err := h.service.CreateDelivery(ctx, delivery, req.ConfirmDuplicate)
	if err != nil {
		// The operator needs the duplicates to decide whether to confirm.
		if errors.Is(err, domain.ErrConflict) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error":      err.Error(),
				"duplicates": toDeliveryResponses(created.Duplicates),
			})
		}
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(createDeliveryResponse{
		DeliveryID: created.DeliveryID,
		Message:    created.Message,
		Duplicates: toDeliveryResponses(created.Duplicates),
	})
}

func (h *DeliveryHandler) FindDuplicates(c *fiber.Ctx) error {
	var req findDuplicatesRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	enrolleeID := strings.TrimSpace(req.EnrolleeID)
	if enrolleeID == "" {
		return toHTTPError(fmt.Errorf("%w: enrolleeId is required", domain.ErrValidation))
	}
	if len(req.Procedures) == 0 {
		return toHTTPError(fmt.Errorf("%w: procedures is required", domain.ErrValidation))
	}

	duplicates, err := h.service.FindDuplicates(c.UserContext(), enrolleeID, toProcedureLines(req.Procedures))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(duplicatesResponse{
		HasDuplicates: len(duplicates) > 0,
		Duplicates:    toDeliveryResponses(duplicates),
	})
}

func requestToDomainDelivery(req createDeliveryRequest) (domain.DeliveryRecord, error) {
	frequency, err := domain.ParseFrequencyFromString(req.Frequency)
	if err != nil {
		return domain.DeliveryRecord{}, err
	}
	start, err := parseDate(req.StartDate, "startDate")
	if err != nil {
		return domain.DeliveryRecord{}, err
	}
	end, err := parseDate(req.EndDate, "endDate")
	if err != nil {
		return domain.DeliveryRecord{}, err
	}

	diagnoses := make([]domain.DiagnosisLine, 0, len(req.Diagnoses))
	for _, dg := range req.Diagnoses {
		diagnoses = append(diagnoses, domain.DiagnosisLine{
			ID:   strings.TrimSpace(dg.ID),
			Name: strings.TrimSpace(dg.Name),
		})
	}

	return domain.DeliveryRecord{
		EnrolleeID:              strings.TrimSpace(req.EnrolleeID),
		EnrolleeName:            strings.TrimSpace(req.EnrolleeName),
		EnrolleeEmail:           strings.TrimSpace(req.EnrolleeEmail),
		SchemeID:                strings.TrimSpace(req.SchemeID),
		Frequency:               frequency,
		StartDate:               start,
		NextDeliveryDate:        start,
		FrequencyDurationMonths: req.FrequencyDurationMonths,
		EndDate:                 end,
		Diagnoses:               diagnoses,
		Procedures:              toProcedureLines(req.Procedures),
		PharmacyID:              strings.TrimSpace(req.PharmacyID),
		DeliveryAddress:         strings.TrimSpace(req.DeliveryAddress),
		Region:                  strings.TrimSpace(req.Region),
		PhoneNumber:             strings.TrimSpace(req.PhoneNumber),
		Status:                  domain.StatusPending,
		Comment:                 strings.TrimSpace(req.Comment),
		CreatedBy:               strings.TrimSpace(req.CreatedBy),
	}, nil
}
