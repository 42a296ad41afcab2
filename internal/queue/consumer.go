package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RabbitMQConsumer consumes one queue per call with manual acks and
// reconnects with backoff when the delivery channel closes.
type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	backoff := reconnectBackoff
	for {
		err := c.consumeOnce(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}
		c.logger.Warn("consumer interrupted, reconnecting",
			zap.String("queue", queue),
			zap.Duration("retryIn", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff = min(backoff*2, maxBackoff)
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			if err := c.handleDelivery(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

// disposition is what happens to a delivery after it has been handled.
type disposition int

const (
	dispositionAck disposition = iota
	dispositionRequeue
	dispositionDeadLetter
)

// settle decides the fate of a handled delivery. A message that already
// failed once is dead-lettered; transient provider errors are retried by the
// retry scanner, not by requeueing.
func settle(handlerErr error, redelivered bool) disposition {
	switch {
	case handlerErr == nil:
		return dispositionAck
	case redelivered:
		return dispositionDeadLetter
	default:
		return dispositionRequeue
	}
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler MessageHandler) error {
	msg, err := decodeMessage(d.Body)
	if err != nil {
		c.logger.Warn("rejecting undecodable side effect message",
			zap.String("routingKey", d.RoutingKey),
			zap.String("messageId", d.MessageId),
			zap.Error(err),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject invalid message: %w", rejectErr)
		}
		return nil
	}

	handlerErr := handler(ctx, msg)
	switch settle(handlerErr, d.Redelivered) {
	case dispositionAck:
		if err := d.Ack(false); err != nil {
			return fmt.Errorf("failed to ack delivery: %w", err)
		}
	case dispositionDeadLetter:
		c.logger.Warn("dead-lettering side effect after redelivered failure",
			zap.String("sideEffectId", msg.SideEffectID),
			zap.String("kind", msg.Kind.String()),
			zap.Error(handlerErr),
		)
		if err := d.Reject(false); err != nil {
			return fmt.Errorf("handler failed and reject failed: %w", err)
		}
	case dispositionRequeue:
		c.logger.Debug("requeueing side effect after handler error",
			zap.String("sideEffectId", msg.SideEffectID),
			zap.Error(handlerErr),
		)
		if err := d.Nack(false, true); err != nil {
			return fmt.Errorf("handler failed and nack failed: %w", err)
		}
	}

	return nil
}

func decodeMessage(body []byte) (SideEffectMessage, error) {
	var msg SideEffectMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return SideEffectMessage{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return SideEffectMessage{}, err
	}
	return msg, nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
