package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/courierhq/courier/internal/domain"
)

func TestNewAMQPTaskProviderValidation(t *testing.T) {
	t.Parallel()

	dial := func(string) (*amqp.Connection, error) { return &amqp.Connection{}, nil }

	if _, err := newAMQPTaskProvider("", "amqp://broker", dial); err == nil {
		t.Error("expected error for empty provider name")
	}
	if _, err := newAMQPTaskProvider("broker", "", dial); err == nil {
		t.Error("expected error for empty broker url")
	}

	dialErr := errors.New("dial tcp: connection refused")
	if _, err := newAMQPTaskProvider("broker", "amqp://broker", func(string) (*amqp.Connection, error) {
		return nil, dialErr
	}); !errors.Is(err, dialErr) {
		t.Errorf("expected dial error, got %v", err)
	}
}

func TestAMQPTaskProviderConcurrentReconnectDialsOnce(t *testing.T) {
	t.Parallel()

	var (
		dialMu sync.Mutex
		dials  int
	)
	dial := func(string) (*amqp.Connection, error) {
		dialMu.Lock()
		dials++
		dialMu.Unlock()

		// Hold the dial open so the other goroutines pile up behind it.
		time.Sleep(20 * time.Millisecond)
		return &amqp.Connection{}, nil
	}

	p := &AMQPTaskProvider{name: "broker", url: "amqp://broker", dial: dial}

	const goroutines = 8
	conns := make([]*amqp.Connection, goroutines)
	errs := make([]error, goroutines)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conns[i], errs[i] = p.connection()
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("goroutine %d: unexpected error: %v", i, err)
		}
	}

	dialMu.Lock()
	got := dials
	dialMu.Unlock()
	if got != 1 {
		t.Errorf("dialed %d times, want 1", got)
	}

	for i, conn := range conns {
		if conn == nil {
			t.Fatalf("goroutine %d: got nil connection", i)
		}
		if conn != conns[0] {
			t.Errorf("goroutine %d observed a different connection", i)
		}
	}
}

func TestAMQPTaskProviderEnqueueRedialFailureIsTransient(t *testing.T) {
	t.Parallel()

	dialErr := errors.New("dial tcp: connection refused")
	p := &AMQPTaskProvider{
		name: "broker",
		url:  "amqp://broker",
		dial: func(string) (*amqp.Connection, error) { return nil, dialErr },
	}

	task := domain.Task{ID: "task-1", Queue: "render.pdf", Payload: []byte(`{"doc":"report"}`)}

	_, err := p.Enqueue(context.Background(), task)
	if err == nil {
		t.Fatal("expected enqueue to fail without a broker connection")
	}

	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ProviderError, got %T", err)
	}
	if !perr.Transient {
		t.Error("expected a lost broker connection to classify as transient")
	}
	if !errors.Is(err, dialErr) {
		t.Errorf("expected dial cause to be preserved, got %v", err)
	}
}

func TestAMQPTaskProviderHealthAndClose(t *testing.T) {
	t.Parallel()

	p := &AMQPTaskProvider{name: "broker", url: "amqp://broker"}

	if status := p.Health(context.Background()); status.OK {
		t.Error("expected health failure without a connection")
	}
	if err := p.Close(); err != nil {
		t.Errorf("close without a connection: %v", err)
	}
}

func TestClassifyAMQPError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		err           error
		wantTransient bool
	}{
		{name: "plain network error", err: errors.New("connection reset"), wantTransient: true},
		{name: "channel error", err: &amqp.Error{Code: amqp.ChannelError}, wantTransient: true},
		{name: "access refused", err: &amqp.Error{Code: amqp.AccessRefused}, wantTransient: false},
		{name: "precondition failed", err: &amqp.Error{Code: amqp.PreconditionFailed}, wantTransient: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			classified := classifyAMQPError("enqueue failed", tt.err)

			var perr *ProviderError
			if !errors.As(classified, &perr) {
				t.Fatalf("expected *ProviderError, got %T", classified)
			}
			if perr.Transient != tt.wantTransient {
				t.Errorf("Transient = %v, want %v", perr.Transient, tt.wantTransient)
			}
		})
	}
}
