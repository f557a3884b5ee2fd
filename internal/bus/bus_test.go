package bus

import (
	"testing"
	"time"
)

func TestPublishReachesMatchingScope(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("messages/conv-1", 4)
	defer unsub()

	b.Publish(Event{Scope: "messages/conv-1", Kind: KindMessageInserted, Timestamp: time.Now()})

	select {
	case evt := <-ch:
		if evt.Kind != KindMessageInserted {
			t.Errorf("kind = %q, want %q", evt.Kind, KindMessageInserted)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestPublishSkipsOtherScopes(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("messages/conv-1", 4)
	defer unsub()

	b.Publish(Event{Scope: "messages/conv-2", Kind: KindMessageInserted})
	b.Publish(Event{Scope: "conversations/group", Kind: KindUnreadChanged})

	select {
	case evt := <-ch:
		t.Fatalf("unexpected event for scope %q", evt.Scope)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPrefixSubscription(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("messages/", 4)
	defer unsub()

	b.Publish(Event{Scope: "messages/conv-1", Kind: KindMessageInserted})
	b.Publish(Event{Scope: "messages/conv-2", Kind: KindMessageInserted})

	for i := 0; i < 2; i++ {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for event %d", i)
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 4)
	unsub()

	b.Publish(Event{Scope: "messages/conv-1", Kind: KindMessageInserted})

	select {
	case <-ch:
		t.Fatal("received event after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFullSubscriberDoesNotBlock(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe("", 1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Scope: "messages/conv-1", Kind: KindMessageInserted})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on full subscriber")
	}
}
