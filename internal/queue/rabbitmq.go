package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/delivery-tracker/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	dlxExchangeName  = "delivery.side_effects.dlx"
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
	dialTimeout      = 15 * time.Second
)

// kindTopology names the broker objects one side-effect kind is routed through.
type kindTopology struct {
	Queue      string
	DLQ        string
	RoutingKey string
}

func topologyFor(kind domain.SideEffectKind) kindTopology {
	return kindTopology{
		Queue:      QueueName(kind),
		DLQ:        DLQName(kind),
		RoutingKey: strings.ToLower(kind.String()),
	}
}

// RabbitMQ owns the broker connection. The topology is declared once per
// connection; a reconnect declares it again.
type RabbitMQ struct {
	url    string
	logger *zap.Logger

	mu          sync.RWMutex
	reconnectMu sync.Mutex
	conn        *amqp.Connection
	declared    bool
}

func NewRabbitMQ(ctx context.Context, url string, logger *zap.Logger) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &RabbitMQ{url: url, logger: logger}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	if err := r.ensureConnected(dialCtx); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.declared = false
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}

	return conn.Close()
}

// Healthy reports whether the broker connection is open.
func (r *RabbitMQ) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.conn != nil && !r.conn.IsClosed()
}

// channel opens a channel on a live connection, reconnecting once if the
// current connection refuses it.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	if err := r.ensureConnected(ctx); err != nil {
		return nil, err
	}

	ch, err := r.openChannel()
	if err != nil {
		r.logger.Warn("rabbitmq channel open failed, reconnecting", zap.Error(err))
		r.dropConnection()
		if err := r.ensureConnected(ctx); err != nil {
			return nil, err
		}
		if ch, err = r.openChannel(); err != nil {
			return nil, fmt.Errorf("failed to create rabbitmq channel after reconnect: %w", err)
		}
	}

	if err := r.ensureTopology(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}

	return ch, nil
}

func (r *RabbitMQ) openChannel() (*amqp.Channel, error) {
	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return nil, amqp.ErrClosed
	}
	return conn.Channel()
}

func (r *RabbitMQ) ensureTopology(ch *amqp.Channel) error {
	r.mu.RLock()
	declared := r.declared
	r.mu.RUnlock()
	if declared {
		return nil
	}

	if err := declareTopology(ch); err != nil {
		return err
	}

	r.mu.Lock()
	r.declared = true
	r.mu.Unlock()
	return nil
}

func (r *RabbitMQ) dropConnection() {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.declared = false
	r.mu.Unlock()

	if conn != nil && !conn.IsClosed() {
		_ = conn.Close()
	}
}

func (r *RabbitMQ) ensureConnected(ctx context.Context) error {
	if r.Healthy() {
		return nil
	}

	r.reconnectMu.Lock()
	defer r.reconnectMu.Unlock()

	if r.Healthy() {
		return nil
	}

	wait := reconnectBackoff
	for attempt := 1; ; attempt++ {
		conn, err := amqp.Dial(r.url)
		if err == nil {
			r.mu.Lock()
			r.conn = conn
			r.declared = false
			r.mu.Unlock()

			if attempt > 1 {
				r.logger.Info("rabbitmq reconnected", zap.Int("attempts", attempt))
			}
			return nil
		}

		r.logger.Warn("rabbitmq dial failed",
			zap.Int("attempt", attempt),
			zap.Duration("retryIn", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("rabbitmq connect canceled: %w", ctx.Err())
		case <-time.After(wait):
		}

		wait = min(wait*2, maxBackoff)
	}
}

// declareTopology sets up one priority work queue per kind, each dead-lettering
// into its own DLQ through a shared direct exchange.
func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(dlxExchangeName, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlx exchange: %w", err)
	}

	for _, kind := range supportedKinds {
		t := topologyFor(kind)

		if _, err := ch.QueueDeclare(t.DLQ, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare dlq %q: %w", t.DLQ, err)
		}
		if err := ch.QueueBind(t.DLQ, t.RoutingKey, dlxExchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind dlq %q: %w", t.DLQ, err)
		}

		args := amqp.Table{
			"x-dead-letter-exchange":    dlxExchangeName,
			"x-dead-letter-routing-key": t.RoutingKey,
			"x-max-priority":            queueMaxPriority,
		}
		if _, err := ch.QueueDeclare(t.Queue, true, false, false, false, args); err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", t.Queue, err)
		}
	}

	return nil
}
