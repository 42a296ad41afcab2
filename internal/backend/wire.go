package backend

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/kursadbilgin/delivery-tracker/internal/domain"
)

// wireStatus accepts the status shapes the backend returns: strings, numbers
// and booleans.
type wireStatus string

func (s *wireStatus) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = wireStatus(str)
		return nil
	}
	*s = wireStatus(string(data))
	return nil
}

func (s wireStatus) ok() bool {
	switch strings.ToLower(strings.TrimSpace(string(s))) {
	case "success", "successful", "succeeded", "ok", "true", "1", "200":
		return true
	}
	return false
}

type wireDate string

var wireDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.DateOnly,
	"02/01/2006",
}

func (d wireDate) time() time.Time {
	value := strings.TrimSpace(string(d))
	if value == "" {
		return time.Time{}
	}
	for _, layout := range wireDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			if t.Year() <= 1 {
				return time.Time{}
			}
			return t
		}
	}
	return time.Time{}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}

type trackingResponse struct {
	Result []trackingRecord `json:"result"`
}

type trackingRecord struct {
	EntryNo           int             `json:"EntryNo"`
	DeliveryID        string          `json:"DeliveryId"`
	EnrolleeID        string          `json:"EnrolleeId"`
	EnrolleeName      string          `json:"EnrolleeName"`
	EnrolleeEmail     string          `json:"EnrolleeEmail"`
	SchemeID          string          `json:"SchemeId"`
	SchemeName        string          `json:"SchemeName"`
	DeliveryFrequency string          `json:"DeliveryFrequency"`
	StartDate         wireDate        `json:"DelStartDate"`
	NextDeliveryDate  wireDate        `json:"NextDeliveryDate"`
	FrequencyDuration int             `json:"FrequencyDuration"`
	EndDate           wireDate        `json:"EndDate"`
	Diagnoses         []wireDiagnosis `json:"Diagnosis"`
	Procedures        []wireProcedure `json:"Procedures"`
	PharmacyID        string          `json:"PharmacyId"`
	PharmacyName      string          `json:"PharmacyName"`
	DeliveryAddress   string          `json:"DeliveryAddress"`
	Region            string          `json:"Region"`
	PhoneNumber       string          `json:"PhoneNumber"`
	Status            string          `json:"Status"`
	IsDelivered       bool            `json:"IsDelivered"`
	IsClaimed         bool            `json:"IsClaimed"`
	ClaimNo           string          `json:"ClaimNo"`
	CreatedBy         string          `json:"CreatedBy"`
	Comment           string          `json:"Comment"`
}

type wireDiagnosis struct {
	DiagnosisID   string `json:"DiagnosisId"`
	DiagnosisName string `json:"DiagnosisName"`
}

type wireProcedure struct {
	ProcedureID       string  `json:"ProcedureId"`
	ProcedureName     string  `json:"ProcedureName"`
	ProcedureQuantity int     `json:"ProcedureQuantity"`
	Cost              float64 `json:"cost"`
	DosageDescription string  `json:"DosageDescription"`
}

func (r trackingRecord) toDomain() (domain.DeliveryRecord, error) {
	status, err := domain.ParseStatusFromString(r.Status)
	if err != nil {
		return domain.DeliveryRecord{}, err
	}
	frequency, err := domain.ParseFrequencyFromString(r.DeliveryFrequency)
	if err != nil {
		frequency = domain.FrequencyOneOff
	}
	d := domain.DeliveryRecord{
		EntryNo:                 r.EntryNo,
		DeliveryID:              strings.TrimSpace(r.DeliveryID),
		EnrolleeID:              strings.TrimSpace(r.EnrolleeID),
		EnrolleeName:            strings.TrimSpace(r.EnrolleeName),
		EnrolleeEmail:           strings.TrimSpace(r.EnrolleeEmail),
		SchemeID:                r.SchemeID,
		SchemeName:              r.SchemeName,
		Frequency:               frequency,
		StartDate:               r.StartDate.time(),
		NextDeliveryDate:        r.NextDeliveryDate.time(),
		FrequencyDurationMonths: r.FrequencyDuration,
		EndDate:                 r.EndDate.time(),
		PharmacyID:              strings.TrimSpace(r.PharmacyID),
		PharmacyName:            strings.TrimSpace(r.PharmacyName),
		DeliveryAddress:         r.DeliveryAddress,
		Region:                  r.Region,
		PhoneNumber:             strings.TrimSpace(r.PhoneNumber),
		Status:                  status,
		IsDelivered:             r.IsDelivered,
		IsClaimed:               r.IsClaimed,
		ClaimNo:                 r.ClaimNo,
		CreatedBy:               r.CreatedBy,
		Comment:                 r.Comment,
	}
	for _, dx := range r.Diagnoses {
		d.Diagnoses = append(d.Diagnoses, domain.DiagnosisLine{ID: dx.DiagnosisID, Name: dx.DiagnosisName})
	}
	d.Procedures = proceduresToDomain(r.Procedures)
	d.Normalize()
	return d, nil
}

func proceduresToDomain(lines []wireProcedure) []domain.ProcedureLine {
	out := make([]domain.ProcedureLine, 0, len(lines))
	for _, p := range lines {
		out = append(out, domain.ProcedureLine{
			ID:                p.ProcedureID,
			Name:              p.ProcedureName,
			Quantity:          p.ProcedureQuantity,
			UnitCost:          p.Cost,
			DosageDescription: p.DosageDescription,
		})
	}
	return out
}

func proceduresFromDomain(lines []domain.ProcedureLine) []wireProcedure {
	out := make([]wireProcedure, 0, len(lines))
	for _, p := range lines {
		out = append(out, wireProcedure{
			ProcedureID:       p.ID,
			ProcedureName:     p.Name,
			ProcedureQuantity: p.Quantity,
			Cost:              p.UnitCost,
			DosageDescription: p.DosageDescription,
		})
	}
	return out
}

type approveEntry struct {
	EntryNo int `json:"EntryNo"`
}

type statusResponse struct {
	ReturnMessage string     `json:"ReturnMessage"`
	Status        wireStatus `json:"status"`
}

type packEntry struct {
	DeliveryEntryNo int             `json:"DeliveryEntryNo"`
	PackedBy        string          `json:"PackedBy"`
	Notes           string          `json:"Notes"`
	NextPackDate    string          `json:"nextpackdate"`
	PharmacyID      string          `json:"PharmacyId"`
	Procedures      []wireProcedure `json:"Procedures"`
}

type sendEntry struct {
	DeliveryEntryNo int    `json:"DeliveryEntryNo"`
	SentBy          string `json:"SentBy"`
	Notes           string `json:"Notes"`
}

type resultsResponse struct {
	Results []statusResponse `json:"Results"`
}

type deliverEntry struct {
	DeliveryEntryNo int    `json:"DeliveryEntryNo"`
	DeliveredBy     string `json:"DeliveredBy"`
	Notes           string `json:"Notes"`
}

type individualResult struct {
	Status  wireStatus `json:"Status"`
	Message string     `json:"Message"`
}

type deliverResponse struct {
	IndividualResults []individualResult `json:"IndividualResults"`
}

type deleteRequest struct {
	DeliveryID  string `json:"DeliveryId"`
	ProcedureID string `json:"ProcedureId"`
	DiagnosisID string `json:"DiagnosisId"`
}

type claimEntry struct {
	DeliveryEntryNo int    `json:"DeliveryEntryNo"`
	DeliveryID      string `json:"DeliveryId"`
	EnrolleeID      string `json:"EnrolleeId"`
	RequestedBy     string `json:"RequestedBy"`
}

type claimResult struct {
	ClaimNo string     `json:"ClaimNo"`
	Status  wireStatus `json:"Status"`
	Message string     `json:"Message"`
}

type claimsResponse struct {
	Claims []claimResult `json:"Claims"`
}

type planResponse struct {
	PlanExpiryDate wireDate `json:"planExpiryDate"`
}

type createDeliveryRequest struct {
	EnrolleeID        string          `json:"EnrolleeId"`
	EnrolleeName      string          `json:"EnrolleeName"`
	EnrolleeEmail     string          `json:"EnrolleeEmail"`
	SchemeID          string          `json:"SchemeId"`
	DeliveryFrequency string          `json:"DeliveryFrequency"`
	StartDate         string          `json:"DelStartDate"`
	FrequencyDuration int             `json:"FrequencyDuration"`
	EndDate           string          `json:"EndDate,omitempty"`
	Diagnoses         []wireDiagnosis `json:"Diagnosis"`
	Procedures        []wireProcedure `json:"Procedures"`
	DeliveryAddress   string          `json:"DeliveryAddress"`
	PhoneNumber       string          `json:"PhoneNumber"`
	CreatedBy         string          `json:"CreatedBy"`
	Comment           string          `json:"Comment"`
	ConfirmDuplicate  bool            `json:"confirmDuplicate"`
}

type createDeliveryResponse struct {
	DeliveryID    string     `json:"DeliveryId"`
	ReturnMessage string     `json:"ReturnMessage"`
	Status        wireStatus `json:"status"`
}
