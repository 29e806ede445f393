package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/raphaelgruber/memcp-go/internal/models"
	"github.com/raphaelgruber/memcp-go/internal/queue"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func receiveOne(t *testing.T, broker queue.Broker, queueName string) *queue.Lease {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	lease, err := broker.Receive(ctx, queueName, queue.DefaultLockDuration)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	return lease
}

func TestWorkerProcessDeadLettersMalformedMessage(t *testing.T) {
	broker := queue.NewMemoryBroker()
	ctx := context.Background()
	if err := broker.Enqueue(ctx, "q", queue.Message{Body: []byte("not json")}, 0); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	lease := receiveOne(t, broker, "q")

	w := NewWorker("q", models.StageWrite, broker, nil, func(ctx context.Context, msg models.StageMessage) (StageResult, error) {
		t.Fatal("handler should not run for a malformed message")
		return StageResult{}, nil
	}, discardLogger())

	w.process(ctx, lease, discardLogger())

	dl, err := broker.DeadLetters(ctx, "q")
	if err != nil {
		t.Fatalf("DeadLetters() error = %v", err)
	}
	if len(dl) != 1 {
		t.Fatalf("DeadLetters() = %d entries, want 1", len(dl))
	}
}

func TestWorkerProcessDeadLettersMissingOwnerID(t *testing.T) {
	broker := queue.NewMemoryBroker()
	ctx := context.Background()
	msg := models.StageMessage{JobID: "j1"}
	body, err := msg.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}
	if err := broker.Enqueue(ctx, "q", queue.Message{Body: body}, 0); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	lease := receiveOne(t, broker, "q")

	called := false
	w := NewWorker("q", models.StageWrite, broker, nil, func(ctx context.Context, msg models.StageMessage) (StageResult, error) {
		called = true
		return StageResult{}, nil
	}, discardLogger())

	w.process(ctx, lease, discardLogger())

	if called {
		t.Fatal("handler should not run for a message with no owner_id")
	}
	dl, err := broker.DeadLetters(ctx, "q")
	if err != nil {
		t.Fatalf("DeadLetters() error = %v", err)
	}
	if len(dl) != 1 {
		t.Fatalf("DeadLetters() = %d entries, want 1", len(dl))
	}
}

func TestWorkerProcessAbandonsOnTransientError(t *testing.T) {
	broker := queue.NewMemoryBroker()
	ctx := context.Background()
	msg := models.StageMessage{JobID: "j1", OwnerID: "o1"}
	body, err := msg.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}
	if err := broker.Enqueue(ctx, "q", queue.Message{Body: body}, 0); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	lease := receiveOne(t, broker, "q")

	w := NewWorker("q", models.StageWrite, broker, nil, func(ctx context.Context, msg models.StageMessage) (StageResult, error) {
		return StageResult{}, Transientf("upstream unavailable")
	}, discardLogger())

	w.process(ctx, lease, discardLogger())

	dl, err := broker.DeadLetters(ctx, "q")
	if err != nil {
		t.Fatalf("DeadLetters() error = %v", err)
	}
	if len(dl) != 0 {
		t.Fatalf("DeadLetters() = %d entries, want 0 (transient errors are abandoned, not dead-lettered)", len(dl))
	}

	// Abandon() re-queues the message; it should be receivable again.
	redelivered := receiveOne(t, broker, "q")
	if redelivered.DeliveryCount != 2 {
		t.Errorf("DeliveryCount = %d, want 2 after one abandon", redelivered.DeliveryCount)
	}
}

func TestWorkerProcessAbandonsWithDelayOnDependencyNotReady(t *testing.T) {
	broker := queue.NewMemoryBroker()
	ctx := context.Background()
	msg := models.StageMessage{JobID: "j1", OwnerID: "o1"}
	body, err := msg.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}
	if err := broker.Enqueue(ctx, "q", queue.Message{Body: body}, 0); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	lease := receiveOne(t, broker, "q")

	w := NewWorker("q", models.StageWrite, broker, nil, func(ctx context.Context, msg models.StageMessage) (StageResult, error) {
		return StageResult{}, TransientWithDelay(200*time.Millisecond, "section not dependency-ready yet")
	}, discardLogger())

	w.process(ctx, lease, discardLogger())

	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := broker.Receive(shortCtx, "q", queue.DefaultLockDuration); err == nil {
		t.Error("expected no redelivery before the configured delay elapses")
	}

	redelivered := receiveOne(t, broker, "q")
	if redelivered.DeliveryCount != 2 {
		t.Errorf("DeliveryCount = %d, want 2 after one delayed abandon", redelivered.DeliveryCount)
	}
}

func TestWorkerProcessDeadLettersOnValidationError(t *testing.T) {
	broker := queue.NewMemoryBroker()
	ctx := context.Background()
	msg := models.StageMessage{JobID: "j1", OwnerID: "o1"}
	body, err := msg.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}
	if err := broker.Enqueue(ctx, "q", queue.Message{Body: body}, 0); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	lease := receiveOne(t, broker, "q")

	w := NewWorker("q", models.StageWrite, broker, nil, func(ctx context.Context, msg models.StageMessage) (StageResult, error) {
		return StageResult{}, Validationf("missing required field")
	}, discardLogger())

	w.process(ctx, lease, discardLogger())

	dl, err := broker.DeadLetters(ctx, "q")
	if err != nil {
		t.Fatalf("DeadLetters() error = %v", err)
	}
	if len(dl) != 1 {
		t.Fatalf("DeadLetters() = %d entries, want 1", len(dl))
	}
}

func TestWorkerProcessRecoversPanic(t *testing.T) {
	broker := queue.NewMemoryBroker()
	ctx := context.Background()
	msg := models.StageMessage{JobID: "j1", OwnerID: "o1"}
	body, err := msg.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}
	if err := broker.Enqueue(ctx, "q", queue.Message{Body: body}, 0); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	lease := receiveOne(t, broker, "q")

	w := NewWorker("q", models.StageWrite, broker, nil, func(ctx context.Context, msg models.StageMessage) (StageResult, error) {
		panic("boom")
	}, discardLogger())

	w.process(ctx, lease, discardLogger())

	// A panic becomes a durable StageError, which is abandoned (redelivered)
	// rather than dead-lettered.
	dl, err := broker.DeadLetters(ctx, "q")
	if err != nil {
		t.Fatalf("DeadLetters() error = %v", err)
	}
	if len(dl) != 0 {
		t.Fatalf("DeadLetters() = %d entries, want 0", len(dl))
	}
}

func TestWorkerProcessCompletesOnSuccess(t *testing.T) {
	broker := queue.NewMemoryBroker()
	ctx := context.Background()
	msg := models.StageMessage{JobID: "j1", OwnerID: "o1"}
	body, err := msg.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}
	if err := broker.Enqueue(ctx, "q", queue.Message{Body: body}, 0); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	lease := receiveOne(t, broker, "q")

	w := NewWorker("q", models.StageWrite, broker, nil, func(ctx context.Context, msg models.StageMessage) (StageResult, error) {
		return StageResult{Message: "WRITE_DONE"}, nil
	}, discardLogger())

	w.process(ctx, lease, discardLogger())

	// Complete() on an already-completed token should now report expiry.
	if err := broker.Complete(ctx, lease.LockToken); !errors.Is(err, queue.ErrLockExpired) {
		t.Errorf("Complete() after process = %v, want ErrLockExpired (already completed)", err)
	}
}
