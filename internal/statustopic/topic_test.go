package statustopic

import (
	"context"
	"testing"
	"time"

	"github.com/raphaelgruber/memcp-go/internal/models"
)

func TestTopic_PublishFansOutToAllSubscribers(t *testing.T) {
	topic := New(nil)
	ctx := context.Background()

	a := topic.Subscribe("status-writer")
	b := topic.Subscribe("console")

	event := models.TimelineEvent{JobID: "job-1", Stage: models.StagePlan, Phase: models.PhaseStart, TS: time.Now()}
	topic.Publish(ctx, event)

	select {
	case got := <-a:
		if got.JobID != "job-1" {
			t.Errorf("subscriber a got JobID %q, want job-1", got.JobID)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber a did not receive event")
	}

	select {
	case got := <-b:
		if got.JobID != "job-1" {
			t.Errorf("subscriber b got JobID %q, want job-1", got.JobID)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber b did not receive event")
	}
}

func TestTopic_UnsubscribeClosesChannel(t *testing.T) {
	topic := New(nil)
	ch := topic.Subscribe("status-writer")
	topic.Unsubscribe("status-writer")

	_, ok := <-ch
	if ok {
		t.Error("channel still open after Unsubscribe")
	}
}

func TestTopic_ResubscribeClosesPriorChannel(t *testing.T) {
	topic := New(nil)
	first := topic.Subscribe("status-writer")
	second := topic.Subscribe("status-writer")

	if _, ok := <-first; ok {
		t.Error("prior channel still open after re-Subscribe")
	}

	topic.Publish(context.Background(), models.TimelineEvent{JobID: "job-1"})
	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("new subscription did not receive event")
	}
}

func TestTopic_FullSubscriberBufferDropsWithoutBlockingOthers(t *testing.T) {
	topic := New(nil)
	slow := topic.Subscribe("slow")
	fast := topic.Subscribe("fast")

	for i := 0; i < subscriberBuffer+10; i++ {
		topic.Publish(context.Background(), models.TimelineEvent{JobID: "job-1"})
	}

	select {
	case <-fast:
	default:
		t.Error("fast subscriber got nothing despite buffer headroom")
	}
	_ = slow
}
