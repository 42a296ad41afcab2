package queue

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kursadbilgin/delivery-tracker/internal/domain"
)

func TestSettle(t *testing.T) {
	t.Parallel()

	handlerErr := errors.New("provider down")

	tests := []struct {
		name        string
		err         error
		redelivered bool
		want        disposition
	}{
		{name: "success", err: nil, want: dispositionAck},
		{name: "success on redelivery", err: nil, redelivered: true, want: dispositionAck},
		{name: "first failure requeues", err: handlerErr, want: dispositionRequeue},
		{name: "second failure dead-letters", err: handlerErr, redelivered: true, want: dispositionDeadLetter},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := settle(tt.err, tt.redelivered); got != tt.want {
				t.Fatalf("settle() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecodeMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "valid", body: `{"sideEffectId":"s1","kind":"SMS","retry":true}`},
		{name: "malformed json", body: `{"sideEffectId":`, wantErr: true},
		{name: "missing id", body: `{"kind":"EMAIL"}`, wantErr: true},
		{name: "unknown kind", body: `{"sideEffectId":"s1","kind":"FAX"}`, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg, err := decodeMessage([]byte(tt.body))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("decodeMessage() = %+v, want error", msg)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeMessage() unexpected error: %v", err)
			}
			if msg.SideEffectID != "s1" || msg.Kind != domain.KindSMS || !msg.Retry {
				t.Fatalf("decodeMessage() = %+v", msg)
			}
		})
	}
}

func TestBuildPublishing(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.FixedZone("WAT", 3600))
	msg := SideEffectMessage{
		SideEffectID:  "s1",
		CorrelationID: "corr-1",
		Kind:          domain.KindDeliveryNote,
		Retry:         true,
	}

	pub, err := buildPublishing(msg, now)
	if err != nil {
		t.Fatalf("buildPublishing() unexpected error: %v", err)
	}

	if pub.DeliveryMode != amqp.Persistent {
		t.Fatalf("DeliveryMode = %d, want persistent", pub.DeliveryMode)
	}
	if pub.MessageId != "s1" || pub.CorrelationId != "corr-1" {
		t.Fatalf("ids = %q/%q", pub.MessageId, pub.CorrelationId)
	}
	if pub.Priority != PriorityValue(msg) {
		t.Fatalf("Priority = %d, want %d", pub.Priority, PriorityValue(msg))
	}
	if !pub.Timestamp.Equal(now) || pub.Timestamp.Location() != time.UTC {
		t.Fatalf("Timestamp = %v, want %v in UTC", pub.Timestamp, now)
	}
	if got := pub.Headers["x-side-effect-kind"]; got != "DELIVERY_NOTE" {
		t.Fatalf("kind header = %v", got)
	}

	var decoded SideEffectMessage
	if err := json.Unmarshal(pub.Body, &decoded); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if decoded != msg {
		t.Fatalf("body = %+v, want %+v", decoded, msg)
	}

	if _, err := buildPublishing(SideEffectMessage{Kind: domain.KindEmail}, now); err == nil {
		t.Fatal("expected error for message without side effect id")
	}
}
