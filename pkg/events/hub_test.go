package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("order:1", 0)
	defer sub.Close()

	h.Publish("order:1", "ingest_pipeline", map[string]string{"order_id": "1"})

	select {
	case ev := <-sub.Events:
		require.Equal(t, "ingest_pipeline", ev.Type)
		require.Equal(t, int64(1), ev.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribeReplaysBufferedEventsAfterLastEventID(t *testing.T) {
	h := NewHub()
	h.Publish("order:1", "a", nil)
	h.Publish("order:1", "b", nil)
	h.Publish("order:1", "c", nil)

	sub := h.Subscribe("order:1", 1)
	defer sub.Close()

	var got []string
	for i := 0; i < 2; i++ {
		select {
		case ev := <-sub.Events:
			got = append(got, ev.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for replay")
		}
	}
	require.Equal(t, []string{"b", "c"}, got)
}

func TestRingBufferCapsRetainedEvents(t *testing.T) {
	h := &Hub{topics: make(map[string]*topic), cap: 3}
	for i := 0; i < 10; i++ {
		h.Publish("t", "x", i)
	}
	sub := h.Subscribe("t", 0)
	defer sub.Close()
	require.Len(t, h.topicFor("t").buf, 3)
}

func TestCloseUnregistersSubscriber(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("order:1", 0)
	require.Equal(t, 1, h.SubscriberCount("order:1"))
	sub.Close()
	require.Equal(t, 0, h.SubscriberCount("order:1"))
}
