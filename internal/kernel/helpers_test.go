package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/raphaelgruber/memcp-go/internal/queue"
)

const defaultTestTimeout = time.Second

// drainQueue receives exactly one message from queueName, failing the test
// if none arrives within defaultTestTimeout.
func drainQueue(t *testing.T, broker queue.Broker, queueName string) *queue.Lease {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), defaultTestTimeout)
	defer cancel()
	lease, err := broker.Receive(ctx, queueName, queue.DefaultLockDuration)
	if err != nil {
		t.Fatalf("Receive() on queue %q error = %v", queueName, err)
	}
	return lease
}
