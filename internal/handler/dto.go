package handler

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/delivery-tracker/internal/domain"
	"github.com/kursadbilgin/delivery-tracker/internal/workspace"
)

const dateLayout = "2006-01-02"

type diagnosisPayload struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type procedurePayload struct {
	ID                string  `json:"id"`
	Name              string  `json:"name,omitempty"`
	Quantity          int     `json:"quantity"`
	UnitCost          float64 `json:"unitCost,omitempty"`
	DosageDescription string  `json:"dosageDescription,omitempty"`
}

type deliveryResponse struct {
	EntryNo                 int                `json:"entryNo"`
	DeliveryID              string             `json:"deliveryId,omitempty"`
	EnrolleeID              string             `json:"enrolleeId"`
	EnrolleeName            string             `json:"enrolleeName,omitempty"`
	EnrolleeEmail           string             `json:"enrolleeEmail,omitempty"`
	SchemeID                string             `json:"schemeId,omitempty"`
	SchemeName              string             `json:"schemeName,omitempty"`
	Frequency               string             `json:"frequency"`
	StartDate               string             `json:"startDate,omitempty"`
	NextDeliveryDate        string             `json:"nextDeliveryDate,omitempty"`
	FrequencyDurationMonths int                `json:"frequencyDurationMonths,omitempty"`
	EndDate                 string             `json:"endDate,omitempty"`
	Diagnoses               []diagnosisPayload `json:"diagnoses"`
	Procedures              []procedurePayload `json:"procedures"`
	PharmacyID              string             `json:"pharmacyId,omitempty"`
	PharmacyName            string             `json:"pharmacyName,omitempty"`
	DeliveryAddress         string             `json:"deliveryAddress,omitempty"`
	Region                  string             `json:"region,omitempty"`
	PhoneNumber             string             `json:"phoneNumber,omitempty"`
	Status                  string             `json:"status"`
	IsDelivered             bool               `json:"isDelivered"`
	IsClaimed               bool               `json:"isClaimed"`
	ClaimNo                 string             `json:"claimNo,omitempty"`
}

type rowResponse struct {
	deliveryResponse
	Selected bool `json:"selected"`
}

type criteriaResponse struct {
	Mode       string `json:"mode"`
	Term       string `json:"term,omitempty"`
	ActionType string `json:"actionType,omitempty"`
	FromDate   string `json:"fromDate,omitempty"`
	ToDate     string `json:"toDate,omitempty"`
}

type viewResponse struct {
	ID            string           `json:"id"`
	Criteria      criteriaResponse `json:"criteria"`
	Page          int              `json:"page"`
	PageSize      int              `json:"pageSize"`
	TotalRows     int              `json:"totalRows"`
	TotalPages    int              `json:"totalPages"`
	Rows          []rowResponse    `json:"rows"`
	SelectionMode string           `json:"selectionMode"`
	SelectedCount int              `json:"selectedCount"`
	Stale         bool             `json:"stale"`
	LoadedAt      *time.Time       `json:"loadedAt,omitempty"`
}

func toViewResponse(v workspace.View) viewResponse {
	rows := make([]rowResponse, 0, len(v.Rows))
	for _, row := range v.Rows {
		rows = append(rows, rowResponse{
			deliveryResponse: toDeliveryResponse(row.DeliveryRecord),
			Selected:         row.Selected,
		})
	}

	out := viewResponse{
		ID: v.ID,
		Criteria: criteriaResponse{
			Mode:       v.Criteria.Mode.String(),
			Term:       v.Criteria.Term,
			ActionType: v.Criteria.ActionType,
			FromDate:   formatDate(v.Criteria.FromDate),
			ToDate:     formatDate(v.Criteria.ToDate),
		},
		Page:          v.Page,
		PageSize:      v.PageSize,
		TotalRows:     v.TotalRows,
		TotalPages:    v.TotalPages,
		Rows:          rows,
		SelectionMode: v.SelectionMode.String(),
		SelectedCount: v.SelectedCount,
		Stale:         v.Stale,
	}
	if !v.LoadedAt.IsZero() {
		loadedAt := v.LoadedAt
		out.LoadedAt = &loadedAt
	}
	return out
}

func toDeliveryResponses(records []domain.DeliveryRecord) []deliveryResponse {
	out := make([]deliveryResponse, 0, len(records))
	for _, d := range records {
		out = append(out, toDeliveryResponse(d))
	}
	return out
}

func toDeliveryResponse(d domain.DeliveryRecord) deliveryResponse {
	diagnoses := make([]diagnosisPayload, 0, len(d.Diagnoses))
	for _, dg := range d.Diagnoses {
		diagnoses = append(diagnoses, diagnosisPayload{ID: dg.ID, Name: dg.Name})
	}
	procedures := make([]procedurePayload, 0, len(d.Procedures))
	for _, p := range d.Procedures {
		procedures = append(procedures, procedurePayload{
			ID:                p.ID,
			Name:              p.Name,
			Quantity:          p.Quantity,
			UnitCost:          p.UnitCost,
			DosageDescription: p.DosageDescription,
		})
	}

	return deliveryResponse{
		EntryNo:                 d.EntryNo,
		DeliveryID:              d.DeliveryID,
		EnrolleeID:              d.EnrolleeID,
		EnrolleeName:            d.EnrolleeName,
		EnrolleeEmail:           d.EnrolleeEmail,
		SchemeID:                d.SchemeID,
		SchemeName:              d.SchemeName,
		Frequency:               d.Frequency.String(),
		StartDate:               formatDate(d.StartDate),
		NextDeliveryDate:        formatDate(d.NextDeliveryDate),
		FrequencyDurationMonths: d.FrequencyDurationMonths,
		EndDate:                 formatDate(d.EndDate),
		Diagnoses:               diagnoses,
		Procedures:              procedures,
		PharmacyID:              d.PharmacyID,
		PharmacyName:            d.PharmacyName,
		DeliveryAddress:         d.DeliveryAddress,
		Region:                  d.Region,
		PhoneNumber:             d.PhoneNumber,
		Status:                  d.Status.String(),
		IsDelivered:             d.IsDelivered,
		IsClaimed:               d.IsClaimed,
		ClaimNo:                 d.ClaimNo,
	}
}

func toProcedureLines(items []procedurePayload) []domain.ProcedureLine {
	out := make([]domain.ProcedureLine, 0, len(items))
	for _, p := range items {
		out = append(out, domain.ProcedureLine{
			ID:                strings.TrimSpace(p.ID),
			Name:              strings.TrimSpace(p.Name),
			Quantity:          p.Quantity,
			UnitCost:          p.UnitCost,
			DosageDescription: strings.TrimSpace(p.DosageDescription),
		})
	}
	return out
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

// parseDate accepts a calendar date or an RFC3339 timestamp. Blank input is
// the zero time.
func parseDate(value string, field string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(dateLayout, trimmed); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD or RFC3339", domain.ErrValidation, field)
	}
	return t, nil
}
