package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/delivery-tracker/internal/domain"
)

// Publisher publishes side-effect messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg SideEffectMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg SideEffectMessage) error

// Consumer consumes side-effect messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

var supportedKinds = []domain.SideEffectKind{
	domain.KindEmail,
	domain.KindSMS,
	domain.KindDeliveryNote,
}

const (
	// queueMaxPriority is the RabbitMQ x-max-priority value for work queues.
	queueMaxPriority int32 = 2

	priorityFirstAttempt uint8 = 2
	priorityRetry        uint8 = 1
	priorityLateRetry    uint8 = 0

	// lateRetryAttempt is the attempt from which a retry drops to the
	// lowest priority.
	lateRetryAttempt = 3
)

// QueueName returns the work queue for a side-effect kind, e.g. delivery_note.
func QueueName(kind domain.SideEffectKind) string {
	return strings.ToLower(kind.String())
}

// DLQName returns the dead-letter queue name for a kind, e.g. dlq.email.
func DLQName(kind domain.SideEffectKind) string {
	return fmt.Sprintf("dlq.%s", QueueName(kind))
}

// WorkQueueNames returns all kind work queues (3 total).
func WorkQueueNames() []string {
	queues := make([]string, 0, len(supportedKinds))
	for _, kind := range supportedKinds {
		queues = append(queues, QueueName(kind))
	}
	return queues
}

// DLQNames returns all dead-letter queues (3 total).
func DLQNames() []string {
	queues := make([]string, 0, len(supportedKinds))
	for _, kind := range supportedKinds {
		queues = append(queues, DLQName(kind))
	}
	return queues
}

// PriorityValue ranks first attempts above retries, and early retries above
// ones that have already failed repeatedly.
func PriorityValue(msg SideEffectMessage) uint8 {
	switch {
	case !msg.Retry:
		return priorityFirstAttempt
	case msg.Attempt >= lateRetryAttempt:
		return priorityLateRetry
	default:
		return priorityRetry
	}
}
