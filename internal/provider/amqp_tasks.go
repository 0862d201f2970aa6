package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/courierhq/courier/internal/domain"
)

const amqpDialTimeout = 15 * time.Second

// AMQPTaskProvider enqueues tasks to a RabbitMQ broker, one durable queue
// per task queue name. The connection is shared across concurrent Enqueue
// calls; reconnectMu ensures only one goroutine redials after a broker drop.
type AMQPTaskProvider struct {
	name string
	url  string
	dial func(url string) (*amqp.Connection, error)

	mu          sync.RWMutex
	reconnectMu sync.Mutex
	conn        *amqp.Connection
}

func NewAMQPTaskProvider(name, url string) (*AMQPTaskProvider, error) {
	return newAMQPTaskProvider(name, url, amqpDial)
}

func newAMQPTaskProvider(name, url string, dial func(url string) (*amqp.Connection, error)) (*AMQPTaskProvider, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("provider name is required")
	}
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("broker url is required")
	}
	if dial == nil {
		dial = amqpDial
	}

	conn, err := dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial broker: %w", err)
	}

	return &AMQPTaskProvider{name: name, url: url, dial: dial, conn: conn}, nil
}

func amqpDial(url string) (*amqp.Connection, error) {
	return amqp.DialConfig(url, amqp.Config{Dial: amqp.DefaultDial(amqpDialTimeout)})
}

func (p *AMQPTaskProvider) Name() string { return p.name }

func (p *AMQPTaskProvider) Enqueue(ctx context.Context, task domain.Task) (*EnqueueResult, error) {
	if p == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}

	conn, err := p.connection()
	if err != nil {
		return nil, &ProviderError{Message: "broker connection lost", Transient: true, Cause: err}
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, classifyAMQPError("failed to open channel", err)
	}
	defer ch.Close() //nolint:errcheck

	if _, err := ch.QueueDeclare(task.Queue, true, false, false, false, nil); err != nil {
		return nil, classifyAMQPError(fmt.Sprintf("failed to declare queue %q", task.Queue), err)
	}

	publishing := amqp.Publishing{
		ContentType:  "application/octet-stream",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    task.ID,
		Headers:      amqpHeaders(task.Metadata),
		Body:         task.Payload,
	}

	if err := ch.PublishWithContext(ctx, "", task.Queue, false, false, publishing); err != nil {
		return nil, classifyAMQPError(fmt.Sprintf("failed to publish to queue %q", task.Queue), err)
	}

	return &EnqueueResult{TaskID: task.ID}, nil
}

func (p *AMQPTaskProvider) Health(ctx context.Context) HealthStatus {
	if p == nil {
		return HealthStatus{OK: false, Message: "provider is not initialized"}
	}

	p.mu.RLock()
	conn := p.conn
	p.mu.RUnlock()

	if conn == nil {
		return HealthStatus{OK: false, Message: "provider is not initialized"}
	}
	if conn.IsClosed() {
		return HealthStatus{OK: false, Message: "broker connection is closed"}
	}
	return HealthStatus{OK: true}
}

func (p *AMQPTaskProvider) Close() error {
	if p == nil {
		return nil
	}

	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// connection returns a live broker connection, redialing if the current one
// dropped.
func (p *AMQPTaskProvider) connection() (*amqp.Connection, error) {
	p.mu.RLock()
	conn := p.conn
	p.mu.RUnlock()

	if conn != nil && !conn.IsClosed() {
		return conn, nil
	}

	if err := p.reconnect(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	conn = p.conn
	p.mu.RUnlock()

	if conn == nil {
		return nil, fmt.Errorf("broker connection unavailable")
	}
	return conn, nil
}

func (p *AMQPTaskProvider) reconnect() error {
	p.reconnectMu.Lock()
	defer p.reconnectMu.Unlock()

	// Another goroutine may have redialed while this one waited.
	p.mu.RLock()
	conn := p.conn
	p.mu.RUnlock()
	if conn != nil && !conn.IsClosed() {
		return nil
	}

	newConn, err := p.dial(p.url)
	if err != nil {
		return err
	}

	p.mu.Lock()
	oldConn := p.conn
	p.conn = newConn
	p.mu.Unlock()

	if oldConn != nil && !oldConn.IsClosed() {
		_ = oldConn.Close()
	}

	return nil
}

func classifyAMQPError(message string, err error) error {
	transient := true
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		// Channel/connection-level broker errors recover on a fresh attempt;
		// access and precondition failures do not.
		switch amqpErr.Code {
		case amqp.AccessRefused, amqp.NotAllowed, amqp.PreconditionFailed, amqp.InvalidPath:
			transient = false
		}
	}

	return &ProviderError{Message: message, Transient: transient, Cause: err}
}

func amqpHeaders(metadata map[string]string) amqp.Table {
	if len(metadata) == 0 {
		return nil
	}
	headers := make(amqp.Table, len(metadata))
	for k, v := range metadata {
		headers[k] = v
	}
	return headers
}
