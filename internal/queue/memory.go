package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// pendingItem is a message waiting to become visible to a consumer.
type pendingItem struct {
	message       Message
	visibleAt     time.Time
	deliveryCount int
}

// leasedItem is a message currently checked out by a consumer.
type leasedItem struct {
	queue     string
	message   Message
	expiresAt time.Time
	pendingItem
}

type queueState struct {
	mu      sync.Mutex
	pending []pendingItem
	leased  map[string]*leasedItem // lockToken -> leasedItem
	woke    chan struct{}
}

func newQueueState() *queueState {
	return &queueState{
		leased: make(map[string]*leasedItem),
		woke:   make(chan struct{}, 1),
	}
}

func (q *queueState) wake() {
	select {
	case q.woke <- struct{}{}:
	default:
	}
}

// MemoryBroker is an in-process Broker built from a map-plus-mutex
// bookkeeping structure generalized from "one job per ID" to "one lease
// per lock token, many pending messages per queue name".
type MemoryBroker struct {
	mu          sync.Mutex
	queues      map[string]*queueState
	deadLetters []DeadLetterEntry
	now         func() time.Time
}

// NewMemoryBroker creates an empty broker. now defaults to time.Now and is
// overridable in tests that need deterministic lock-expiry behavior.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues: make(map[string]*queueState),
		now:    time.Now,
	}
}

func (b *MemoryBroker) queueFor(name string) *queueState {
	b.mu.Lock()
	defer b.mu.Unlock()
	qs, ok := b.queues[name]
	if !ok {
		qs = newQueueState()
		b.queues[name] = qs
	}
	return qs
}

func (b *MemoryBroker) Enqueue(ctx context.Context, queue string, message Message, delay time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	qs := b.queueFor(queue)
	qs.mu.Lock()
	qs.pending = append(qs.pending, pendingItem{
		message:   message,
		visibleAt: b.now().Add(delay),
	})
	qs.mu.Unlock()
	qs.wake()
	return nil
}

func (b *MemoryBroker) Receive(ctx context.Context, queue string, lockDuration time.Duration) (*Lease, error) {
	if lockDuration <= 0 {
		lockDuration = DefaultLockDuration
	}
	qs := b.queueFor(queue)
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		qs.mu.Lock()
		b.reclaimExpiredLocked(qs)
		now := b.now()
		idx := -1
		for i, item := range qs.pending {
			if !item.visibleAt.After(now) {
				idx = i
				break
			}
		}
		if idx == -1 {
			qs.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-qs.woke:
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		item := qs.pending[idx]
		qs.pending = append(qs.pending[:idx], qs.pending[idx+1:]...)
		item.deliveryCount++
		token := uuid.New().String()
		qs.leased[token] = &leasedItem{
			queue:       queue,
			message:     item.message,
			expiresAt:   now.Add(lockDuration),
			pendingItem: item,
		}
		qs.mu.Unlock()

		return &Lease{
			Message:       item.message,
			LockToken:     token,
			DeliveryCount: item.deliveryCount,
			Queue:         queue,
		}, nil
	}
}

// reclaimExpiredLocked moves leases whose lock has expired back to pending,
// dead-lettering any that have exceeded MaxDeliveryCount. Caller must hold
// qs.mu.
func (b *MemoryBroker) reclaimExpiredLocked(qs *queueState) {
	now := b.now()
	for token, l := range qs.leased {
		if l.expiresAt.After(now) {
			continue
		}
		delete(qs.leased, token)
		if l.deliveryCount >= MaxDeliveryCount {
			b.recordDeadLetter(l.queue, l.message, "max delivery count exceeded", l.deliveryCount)
			continue
		}
		qs.pending = append(qs.pending, l.pendingItem)
	}
}

func (b *MemoryBroker) findLease(lockToken string) (*queueState, *leasedItem) {
	b.mu.Lock()
	queues := make([]*queueState, 0, len(b.queues))
	for _, qs := range b.queues {
		queues = append(queues, qs)
	}
	b.mu.Unlock()

	for _, qs := range queues {
		qs.mu.Lock()
		if l, ok := qs.leased[lockToken]; ok {
			qs.mu.Unlock()
			return qs, l
		}
		qs.mu.Unlock()
	}
	return nil, nil
}

func (b *MemoryBroker) RenewLock(ctx context.Context, lockToken string, lockDuration time.Duration) error {
	qs, _ := b.findLease(lockToken)
	if qs == nil {
		return ErrLockExpired
	}
	qs.mu.Lock()
	defer qs.mu.Unlock()
	l, ok := qs.leased[lockToken]
	if !ok {
		return ErrLockExpired
	}
	if lockDuration <= 0 {
		lockDuration = DefaultLockDuration
	}
	l.expiresAt = b.now().Add(lockDuration)
	return nil
}

func (b *MemoryBroker) Complete(ctx context.Context, lockToken string) error {
	qs, _ := b.findLease(lockToken)
	if qs == nil {
		return ErrLockExpired
	}
	qs.mu.Lock()
	defer qs.mu.Unlock()
	if _, ok := qs.leased[lockToken]; !ok {
		return ErrLockExpired
	}
	delete(qs.leased, lockToken)
	return nil
}

func (b *MemoryBroker) Abandon(ctx context.Context, lockToken string, delay time.Duration) error {
	qs, _ := b.findLease(lockToken)
	if qs == nil {
		return ErrLockExpired
	}
	qs.mu.Lock()
	l, ok := qs.leased[lockToken]
	if !ok {
		qs.mu.Unlock()
		return ErrLockExpired
	}
	delete(qs.leased, lockToken)
	if l.deliveryCount >= MaxDeliveryCount {
		qs.mu.Unlock()
		b.recordDeadLetter(l.queue, l.message, "max delivery count exceeded", l.deliveryCount)
		return nil
	}
	item := l.pendingItem
	item.visibleAt = b.now().Add(delay)
	qs.pending = append(qs.pending, item)
	qs.mu.Unlock()
	qs.wake()
	return nil
}

func (b *MemoryBroker) DeadLetter(ctx context.Context, lockToken string, reason string) error {
	qs, _ := b.findLease(lockToken)
	if qs == nil {
		return ErrLockExpired
	}
	qs.mu.Lock()
	l, ok := qs.leased[lockToken]
	if !ok {
		qs.mu.Unlock()
		return ErrLockExpired
	}
	delete(qs.leased, lockToken)
	qs.mu.Unlock()
	b.recordDeadLetter(l.queue, l.message, reason, l.deliveryCount)
	return nil
}

func (b *MemoryBroker) recordDeadLetter(queue string, message Message, reason string, deliveryCount int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deadLetters = append(b.deadLetters, DeadLetterEntry{
		Queue:          queue,
		Message:        message,
		Reason:         reason,
		DeliveryCount:  deliveryCount,
		DeadLetteredAt: b.now(),
	})
}

func (b *MemoryBroker) DeadLetters(ctx context.Context, queue string) ([]DeadLetterEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if queue == "" {
		out := make([]DeadLetterEntry, len(b.deadLetters))
		copy(out, b.deadLetters)
		return out, nil
	}
	var out []DeadLetterEntry
	for _, e := range b.deadLetters {
		if e.Queue == queue {
			out = append(out, e)
		}
	}
	return out, nil
}

var _ Broker = (*MemoryBroker)(nil)
