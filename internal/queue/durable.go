package queue

import (
	"context"
	"log/slog"
	"time"
)

// DeadLetterSink persists a terminal message somewhere a human or
// resume_failed can find it later. The Status Store satisfies this.
type DeadLetterSink interface {
	RecordDeadLetter(ctx context.Context, entry DeadLetterEntry) error
}

// DurableBroker wraps a Broker and mirrors every dead-lettered message into
// a DeadLetterSink, so a process restart does not lose visibility into
// messages MemoryBroker would otherwise only hold in process memory.
type DurableBroker struct {
	Broker
	sink DeadLetterSink
	log  *slog.Logger
}

// NewDurableBroker wraps inner, persisting dead letters through sink. log
// may be nil, in which case slog.Default() is used.
func NewDurableBroker(inner Broker, sink DeadLetterSink, log *slog.Logger) *DurableBroker {
	if log == nil {
		log = slog.Default()
	}
	return &DurableBroker{Broker: inner, sink: sink, log: log}
}

func (b *DurableBroker) Abandon(ctx context.Context, lockToken string, delay time.Duration) error {
	if err := b.Broker.Abandon(ctx, lockToken, delay); err != nil {
		return err
	}
	b.mirrorDeadLetters(ctx)
	return nil
}

func (b *DurableBroker) DeadLetter(ctx context.Context, lockToken string, reason string) error {
	if err := b.Broker.DeadLetter(ctx, lockToken, reason); err != nil {
		return err
	}
	b.mirrorDeadLetters(ctx)
	return nil
}

// mirrorDeadLetters pushes every dead letter the inner broker knows about
// through sink. The sink is expected to be idempotent on (queue, message)
// identity so re-mirroring an already-persisted entry is harmless.
func (b *DurableBroker) mirrorDeadLetters(ctx context.Context) {
	entries, err := b.Broker.DeadLetters(ctx, "")
	if err != nil {
		b.log.Warn("durable broker: could not list dead letters to mirror", "error", err)
		return
	}
	for _, entry := range entries {
		if err := b.sink.RecordDeadLetter(ctx, entry); err != nil {
			b.log.Error("durable broker: failed to persist dead letter", "queue", entry.Queue, "error", err)
		}
	}
}

var _ Broker = (*DurableBroker)(nil)
