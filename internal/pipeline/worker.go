package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/memcp-go/internal/config"
	"github.com/raphaelgruber/memcp-go/internal/metrics"
	"github.com/raphaelgruber/memcp-go/internal/models"
	"github.com/raphaelgruber/memcp-go/internal/queue"
	"github.com/raphaelgruber/memcp-go/internal/statustopic"
)

// StageResult is what a Handler reports back to Worker.Run for the
// STAGE_DONE event; every field is optional.
type StageResult struct {
	Artifact string
	Tokens   int
	Model    string
	Notes    string
	// Message is the stage-specific human-readable label attached to the
	// DONE event, e.g. "INTAKE_READY", "PLAN_DONE", "WRITE_DONE" — distinct
	// from the Phase enum, which stays DONE for all of them.
	Message string
}

// Handler implements one stage's core work: load inputs, execute stage
// logic, write outputs, enqueue the next stage(s). Worker.Run owns
// everything else (parse/validate, status publication, lock renewal,
// completion decisions, panic recovery).
type Handler func(ctx context.Context, msg models.StageMessage) (StageResult, error)

// Worker runs one stage's receive loop against a single queue: one map of
// in-flight job bookkeeping generalized into one queue of leased messages,
// specialized per call site via Handler.
type Worker struct {
	QueueName    string
	Stage        models.Stage
	Broker       queue.Broker
	Topic        *statustopic.Topic
	Handler      Handler
	LockDuration time.Duration
	Log          *slog.Logger
	Collector    *metrics.Collector
}

// NewWorker builds a Worker with the default lease lock duration.
func NewWorker(queueName string, stage models.Stage, broker queue.Broker, topic *statustopic.Topic, handler Handler, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		QueueName:    queueName,
		Stage:        stage,
		Broker:       broker,
		Topic:        topic,
		Handler:      handler,
		LockDuration: queue.DefaultLockDuration,
		Log:          log,
	}
}

// Run blocks, processing one message at a time until ctx is cancelled. Call
// it from its own goroutine per worker instance; multiple parallel instances
// per stage are safe and expected for horizontal scale.
func (w *Worker) Run(ctx context.Context) {
	log := w.Log.With("stage", string(w.Stage), "queue", w.QueueName)
	for {
		lease, err := w.Broker.Receive(ctx, w.QueueName, w.LockDuration)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("worker: receive failed", "error", err)
			continue
		}
		w.process(ctx, lease, log)
	}
}

func (w *Worker) process(ctx context.Context, lease *queue.Lease, log *slog.Logger) {
	start := time.Now()

	var msg models.StageMessage
	if err := json.Unmarshal(lease.Message.Body, &msg); err != nil {
		log.Error("worker: malformed message, dead-lettering", "error", err)
		_ = w.Broker.DeadLetter(ctx, lease.LockToken, fmt.Sprintf("malformed message: %v", err))
		return
	}
	log = config.StageLogger(log, msg.JobID, msg.OwnerID, "", msg.Cycle)

	// A message with an empty owner_id is dead-lettered before any other
	// processing.
	if msg.OwnerID == "" {
		log.Error("worker: message missing owner_id, dead-lettering")
		_ = w.Broker.DeadLetter(ctx, lease.LockToken, "missing owner_id")
		return
	}

	renewCtx, stopRenew := context.WithCancel(ctx)
	defer stopRenew()
	go w.renewLoop(renewCtx, lease.LockToken, log)

	w.publish(ctx, msg, models.PhaseStart, "", "", models.TimelineDetails{})

	result, err := w.invoke(ctx, msg)
	if err != nil {
		kind := KindOf(err)
		log.Error("worker: stage failed", "kind", kind, "error", err, "delivery_count", lease.DeliveryCount)
		w.publish(ctx, msg, models.PhaseFailed, "", "", models.TimelineDetails{
			DurationS:     time.Since(start).Seconds(),
			ErrorKind:     string(kind),
			Notes:         err.Error(),
			ParsedMessage: &msg,
		})
		switch kind {
		case KindValidation, KindLogic, KindNotAuthorized:
			_ = w.Broker.DeadLetter(ctx, lease.LockToken, err.Error())
		default:
			_ = w.Broker.Abandon(ctx, lease.LockToken, AbandonDelayOf(err))
		}
		return
	}

	duration := time.Since(start)
	if w.Collector != nil {
		w.Collector.RecordStageDuration(string(w.Stage), duration)
	}
	w.publish(ctx, msg, models.PhaseDone, result.Artifact, result.Message, models.TimelineDetails{
		DurationS: duration.Seconds(),
		Tokens:    result.Tokens,
		Model:     result.Model,
		Notes:     result.Notes,
	})
	if err := w.Broker.Complete(ctx, lease.LockToken); err != nil {
		log.Warn("worker: complete failed after successful processing", "error", err)
	}
}

// invoke runs Handler with panic recovery: a panicking handler becomes a
// durable StageError rather than crashing the worker goroutine.
func (w *Worker) invoke(ctx context.Context, msg models.StageMessage) (result StageResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewStageError(KindDurable, fmt.Errorf("panic: %v", r))
		}
	}()
	return w.Handler(ctx, msg)
}

// renewLoop extends the lock at half its duration until ctx is cancelled, so
// a handler running past half the lock duration doesn't lose its lease.
func (w *Worker) renewLoop(ctx context.Context, lockToken string, log *slog.Logger) {
	interval := w.LockDuration / 2
	if interval <= 0 {
		interval = queue.DefaultLockDuration / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Broker.RenewLock(ctx, lockToken, w.LockDuration); err != nil {
				log.Warn("worker: lock renewal failed", "error", err)
				return
			}
		}
	}
}

func (w *Worker) publish(ctx context.Context, msg models.StageMessage, phase models.Phase, artifact, message string, details models.TimelineDetails) {
	if w.Topic == nil {
		return
	}
	w.Topic.Publish(ctx, models.TimelineEvent{
		JobID:    msg.JobID,
		OwnerID:  msg.OwnerID,
		Stage:    w.Stage,
		Phase:    phase,
		TS:       time.Now(),
		Cycle:    msg.Cycle,
		Artifact: artifact,
		Message:  message,
		Details:  details,
	})
}

// EnqueueAndAnnounce enqueues msg on queueName and publishes a QUEUED event
// on topic, the pairing every stage handler and the kernel's admit_job use
// so a timeline subscriber always sees a QUEUED event before the
// corresponding STAGE_START.
func EnqueueAndAnnounce(ctx context.Context, broker queue.Broker, topic *statustopic.Topic, queueName string, stage models.Stage, msg models.StageMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("pipeline: marshal message for %s: %w", queueName, err)
	}
	if err := broker.Enqueue(ctx, queueName, queue.Message{Body: body}, 0); err != nil {
		return fmt.Errorf("pipeline: enqueue %s: %w", queueName, err)
	}
	if topic != nil {
		topic.Publish(ctx, models.TimelineEvent{
			JobID:   msg.JobID,
			OwnerID: msg.OwnerID,
			Stage:   stage,
			Phase:   models.PhaseQueued,
			TS:      time.Now(),
			Cycle:   msg.Cycle,
		})
	}
	return nil
}
