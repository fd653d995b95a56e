package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	b.Publish(Event{Kind: MessageUpserted, Timestamp: time.Now(), Payload: MessageRef{ConversationID: "c1", MessageID: "m1"}})

	select {
	case evt := <-ch:
		if evt.Kind != MessageUpserted {
			t.Errorf("got kind %q, want %q", evt.Kind, MessageUpserted)
		}
		ref, ok := evt.Payload.(MessageRef)
		if !ok || ref.MessageID != "m1" {
			t.Errorf("payload = %v, want MessageRef m1", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("enrich.", 10)
	defer unsub()

	b.Publish(Event{Kind: MessageUpserted})
	b.Publish(Event{Kind: EnrichApplied})

	select {
	case evt := <-ch:
		if evt.Kind != EnrichApplied {
			t.Errorf("got kind %q, want %q", evt.Kind, EnrichApplied)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// The message event must not have been delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestExactKindSubscription(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(MessagesUpdated, 10)
	defer unsub()

	// "messages.updated" is not a prefix of "message.upserted".
	b.Publish(Event{Kind: MessageUpserted})
	b.Publish(Event{Kind: MessagesUpdated, Payload: "c1"})

	select {
	case evt := <-ch:
		if evt.Kind != MessagesUpdated {
			t.Errorf("got kind %q, want %q", evt.Kind, MessagesUpdated)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	unsub()

	b.Publish(Event{Kind: MessageUpserted})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe("message.", 1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(Event{Kind: MessageUpserted})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}
