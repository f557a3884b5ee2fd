package status

import (
	"testing"
	"time"

	"github.com/huddle-im/huddle/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if got := m.Current(); got != Idle {
		t.Errorf("Current() = %v, want %v", got, Idle)
	}
}

func TestValidTransitionChain(t *testing.T) {
	m := NewMachine(nil)
	chain := []State{Connecting, Live, Reconnecting, Connecting, Live, Stopped}
	for _, to := range chain {
		if err := m.Transition(to); err != nil {
			t.Fatalf("Transition(%v) error = %v", to, err)
		}
	}
	if got := m.Current(); got != Stopped {
		t.Errorf("Current() = %v, want %v", got, Stopped)
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Live); err == nil {
		t.Error("Transition(Idle -> Live) expected error")
	}
	if got := m.Current(); got != Idle {
		t.Errorf("state changed on invalid transition: %v", got)
	}
}

func TestTransitionPublishesChange(t *testing.T) {
	b := bus.New()
	m := NewMachine(b)
	ch, unsub := b.Subscribe("feed", 4)
	defer unsub()

	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		change, ok := evt.Payload.(StatusChange)
		if !ok {
			t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
		}
		if change.From != Idle || change.To != Connecting {
			t.Errorf("change = %+v, want Idle -> Connecting", change)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for status change event")
	}
}
