package domain

import (
	"errors"
	"testing"
	"time"
)

func TestParseStatusFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Status
		wantErr bool
	}{
		{name: "valid uppercase", input: "PACKED", want: StatusPacked},
		{name: "lowercase with spaces", input: " approved ", want: StatusApproved},
		{name: "human readable", input: "sent for delivery", want: StatusSentForDelivery},
		{name: "short sent alias", input: "sent", want: StatusSentForDelivery},
		{name: "invalid", input: "lost", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseStatusFromString(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseStatusFromString() error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseStatusFromString() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseStatusFromString() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseFrequencyFromString(t *testing.T) {
	t.Parallel()

	got, err := ParseFrequencyFromString("one-off")
	if err != nil {
		t.Fatalf("ParseFrequencyFromString() unexpected error = %v", err)
	}
	if got != FrequencyOneOff {
		t.Fatalf("ParseFrequencyFromString() = %s, want %s", got, FrequencyOneOff)
	}

	got, err = ParseFrequencyFromString("Routine")
	if err != nil {
		t.Fatalf("ParseFrequencyFromString() unexpected error = %v", err)
	}
	if got != FrequencyRoutine {
		t.Fatalf("ParseFrequencyFromString() = %s, want %s", got, FrequencyRoutine)
	}

	if _, err := ParseFrequencyFromString("weekly"); !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseFrequencyFromString() error = %v, want ErrValidation", err)
	}
}

func TestDeliveryRecordNormalize(t *testing.T) {
	t.Parallel()

	d := DeliveryRecord{Status: StatusSentForDelivery, IsDelivered: true}
	d.Normalize()
	if d.Status != StatusDelivered || !d.IsDelivered {
		t.Fatalf("Normalize() = (%s, %v), want (DELIVERED, true)", d.Status, d.IsDelivered)
	}

	d = DeliveryRecord{Status: StatusPacked, IsDelivered: false}
	d.Normalize()
	if d.IsDelivered {
		t.Fatal("IsDelivered should stay false for PACKED")
	}

	d = DeliveryRecord{Status: StatusDelivered}
	d.Normalize()
	if !d.IsDelivered {
		t.Fatal("IsDelivered should be true for DELIVERED")
	}
}

func TestDeliveryRecordValidateForCreate(t *testing.T) {
	t.Parallel()

	base := DeliveryRecord{
		EnrolleeID:              "ENR/001/A",
		Frequency:               FrequencyRoutine,
		StartDate:               time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		FrequencyDurationMonths: 3,
		Diagnoses:               []DiagnosisLine{{ID: "D1", Name: "Hypertension"}},
		Procedures:              []ProcedureLine{{ID: "P1", Name: "Amlodipine 5mg", Quantity: 30}},
	}

	tests := []struct {
		name    string
		mutate  func(*DeliveryRecord)
		wantErr bool
	}{
		{name: "valid delivery", mutate: func(d *DeliveryRecord) {}},
		{name: "missing enrollee", mutate: func(d *DeliveryRecord) { d.EnrolleeID = " " }, wantErr: true},
		{name: "invalid frequency", mutate: func(d *DeliveryRecord) { d.Frequency = "WEEKLY" }, wantErr: true},
		{name: "routine without duration", mutate: func(d *DeliveryRecord) { d.FrequencyDurationMonths = 0 }, wantErr: true},
		{
			name: "one-off without duration",
			mutate: func(d *DeliveryRecord) {
				d.Frequency = FrequencyOneOff
				d.FrequencyDurationMonths = 0
			},
		},
		{
			name: "too many diagnoses",
			mutate: func(d *DeliveryRecord) {
				d.Diagnoses = make([]DiagnosisLine, MaxDiagnosesPerDelivery+1)
				for i := range d.Diagnoses {
					d.Diagnoses[i] = DiagnosisLine{ID: "D"}
				}
			},
			wantErr: true,
		},
		{name: "no procedures", mutate: func(d *DeliveryRecord) { d.Procedures = nil }, wantErr: true},
		{
			name: "zero quantity",
			mutate: func(d *DeliveryRecord) {
				d.Procedures = []ProcedureLine{{ID: "P1", Quantity: 0}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			current := base
			current.Diagnoses = append([]DiagnosisLine(nil), base.Diagnoses...)
			current.Procedures = append([]ProcedureLine(nil), base.Procedures...)
			tt.mutate(&current)

			err := current.ValidateForCreate()
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ValidateForCreate() error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateForCreate() unexpected error = %v", err)
			}
		})
	}
}

func TestActionCanApply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		action Action
		status Status
		ok     bool
	}{
		{ActionApprove, StatusPending, true},
		{ActionApprove, StatusApproved, false},
		{ActionPack, StatusApproved, true},
		{ActionPack, StatusPending, false},
		{ActionSend, StatusPacked, true},
		{ActionDeliver, StatusSentForDelivery, true},
		{ActionDeliver, StatusPacked, false},
		{ActionDelete, StatusPending, true},
		{ActionDelete, StatusApproved, false},
		{ActionClaim, StatusSentForDelivery, true},
		{ActionClaim, StatusDelivered, true},
		{ActionClaim, StatusPacked, false},
	}

	for _, tt := range tests {
		err := tt.action.CanApply(DeliveryRecord{EntryNo: 1, Status: tt.status})
		if tt.ok && err != nil {
			t.Fatalf("%s from %s: unexpected error %v", tt.action, tt.status, err)
		}
		if !tt.ok && !errors.Is(err, ErrConflict) {
			t.Fatalf("%s from %s: error = %v, want ErrConflict", tt.action, tt.status, err)
		}
	}

	if err := ActionClaim.CanApply(DeliveryRecord{Status: StatusDelivered, IsClaimed: true}); !errors.Is(err, ErrConflict) {
		t.Fatalf("claim on claimed delivery error = %v, want ErrConflict", err)
	}
}

func TestActionTargetStatus(t *testing.T) {
	t.Parallel()

	if _, ok := ActionClaim.TargetStatus(); ok {
		t.Fatal("claim must not change status")
	}
	if got, ok := ActionPack.TargetStatus(); !ok || got != StatusPacked {
		t.Fatalf("TargetStatus(PACK) = %s, %v", got, ok)
	}
	if ActionApprove.SupportsPartialClear() {
		t.Fatal("approve is a single batched call and must not partially clear")
	}
}

func TestBatchOutcome(t *testing.T) {
	t.Parallel()

	var o BatchOutcome
	o.Succeed(1, "ok")
	o.Fail(2, "rejected")
	o.Succeed(3, "ok")

	if o.Total() != 3 {
		t.Fatalf("Total() = %d, want 3", o.Total())
	}
	if o.FullySucceeded() {
		t.Fatal("FullySucceeded() should be false with failures")
	}
	if got := o.FailedKeys(); len(got) != 1 || got[0] != 2 {
		t.Fatalf("FailedKeys() = %v, want [2]", got)
	}
	if got := o.SucceededKeys(); len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("SucceededKeys() = %v, want [1 3]", got)
	}
}
