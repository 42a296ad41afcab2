package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a delivery.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusApproved        Status = "APPROVED"
	StatusPacked          Status = "PACKED"
	StatusSentForDelivery Status = "SENT_FOR_DELIVERY"
	StatusDelivered       Status = "DELIVERED"
	StatusCancelled       Status = "CANCELLED"
	StatusFailed          Status = "FAILED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusPacked, StatusSentForDelivery,
		StatusDelivered, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further lifecycle action can move the delivery.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	st := Status(normalized)
	if st == "SENT" {
		st = StatusSentForDelivery
	}
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Frequency distinguishes a single dispatch from a monthly refill.
type Frequency string

const (
	FrequencyOneOff  Frequency = "ONE_OFF"
	FrequencyRoutine Frequency = "ROUTINE"
)

func (f Frequency) String() string { return string(f) }

func (f Frequency) IsValid() bool {
	switch f {
	case FrequencyOneOff, FrequencyRoutine:
		return true
	}
	return false
}

func ParseFrequencyFromString(s string) (Frequency, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	f := Frequency(normalized)
	if f == "ONEOFF" {
		f = FrequencyOneOff
	}
	if !f.IsValid() {
		return "", fmt.Errorf("%w: invalid frequency %q", ErrValidation, s)
	}
	return f, nil
}

// MaxDiagnosesPerDelivery caps diagnosis lines in the creation flow.
const MaxDiagnosesPerDelivery = 5

type DiagnosisLine struct {
	ID   string
	Name string
}

type ProcedureLine struct {
	ID                string
	Name              string
	Quantity          int
	UnitCost          float64
	DosageDescription string
}

// DeliveryRecord is a scheduled medication dispatch to an enrollee.
type DeliveryRecord struct {
	EntryNo    int
	DeliveryID string

	EnrolleeID    string
	EnrolleeName  string
	EnrolleeEmail string
	SchemeID      string
	SchemeName    string

	Frequency               Frequency
	StartDate               time.Time
	NextDeliveryDate        time.Time
	FrequencyDurationMonths int
	EndDate                 time.Time

	Diagnoses  []DiagnosisLine
	Procedures []ProcedureLine

	PharmacyID      string
	PharmacyName    string
	DeliveryAddress string
	Region          string
	PhoneNumber     string
	Status          Status
	IsDelivered     bool
	IsClaimed       bool
	ClaimNo         string

	CreatedBy string
	Comment   string
}

// Key returns the selection/lifecycle key of the record.
func (d DeliveryRecord) Key() int { return d.EntryNo }

// Normalize enforces IsDelivered <=> Status == DELIVERED.
func (d *DeliveryRecord) Normalize() {
	if d == nil {
		return
	}
	if d.IsDelivered && d.Status != StatusDelivered && !d.Status.IsTerminal() {
		d.Status = StatusDelivered
	}
	d.IsDelivered = d.Status == StatusDelivered
}

// HasProcedure reports whether the delivery carries the given procedure ID.
func (d DeliveryRecord) HasProcedure(procedureID string) bool {
	id := strings.TrimSpace(procedureID)
	if id == "" {
		return false
	}
	for _, p := range d.Procedures {
		if strings.EqualFold(strings.TrimSpace(p.ID), id) {
			return true
		}
	}
	return false
}

// ValidateForCreate checks a delivery before it is submitted to the backend.
func (d *DeliveryRecord) ValidateForCreate() error {
	if d == nil {
		return fmt.Errorf("%w: delivery is required", ErrValidation)
	}
	if strings.TrimSpace(d.EnrolleeID) == "" {
		return fmt.Errorf("%w: enrollee id is required", ErrValidation)
	}
	if !d.Frequency.IsValid() {
		return fmt.Errorf("%w: invalid frequency %q", ErrValidation, d.Frequency)
	}
	if d.StartDate.IsZero() {
		return fmt.Errorf("%w: start date is required", ErrValidation)
	}
	if d.Frequency == FrequencyRoutine && d.FrequencyDurationMonths < 1 {
		return fmt.Errorf("%w: routine deliveries require a duration of at least one month", ErrValidation)
	}
	if len(d.Diagnoses) == 0 {
		return fmt.Errorf("%w: at least one diagnosis is required", ErrValidation)
	}
	if len(d.Diagnoses) > MaxDiagnosesPerDelivery {
		return fmt.Errorf("%w: at most %d diagnoses are allowed (got %d)", ErrValidation, MaxDiagnosesPerDelivery, len(d.Diagnoses))
	}
	if len(d.Procedures) == 0 {
		return fmt.Errorf("%w: at least one procedure is required", ErrValidation)
	}
	for i, p := range d.Procedures {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("%w: procedure %d has no id", ErrValidation, i+1)
		}
		if p.Quantity < 1 {
			return fmt.Errorf("%w: procedure %s quantity must be positive", ErrValidation, p.ID)
		}
	}
	return nil
}
