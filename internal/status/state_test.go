package status

import (
	"testing"
	"time"

	"github.com/lucasreze/dmsync/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(bus.New())
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
}

func TestValidTransitionPath(t *testing.T) {
	m := NewMachine(bus.New())
	path := []State{Listening, Ready, Degraded, Listening, Ready, Stopped, Booting}
	for _, s := range path {
		if err := m.Transition(s); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}
	if m.Current() != Booting {
		t.Errorf("final state = %s, want BOOTING", m.Current())
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	m := NewMachine(bus.New())
	// BOOTING cannot jump straight to READY.
	if err := m.Transition(Ready); err == nil {
		t.Error("expected error for BOOTING -> READY")
	}
	if m.Current() != Booting {
		t.Errorf("state changed on invalid transition: %s", m.Current())
	}
}

func TestErrorRecoversThroughBooting(t *testing.T) {
	m := NewMachine(bus.New())
	if err := m.Transition(Error); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(Listening); err == nil {
		t.Error("expected error for ERROR -> LISTENING")
	}
	if err := m.Transition(Booting); err != nil {
		t.Fatal(err)
	}
}

func TestTransitionPublishesEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Listening); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		change, ok := evt.Payload.(StatusChange)
		if !ok {
			t.Fatalf("payload = %T", evt.Payload)
		}
		if change.From != Booting || change.To != Listening {
			t.Errorf("change = %+v", change)
		}
	case <-time.After(time.Second):
		t.Fatal("no status event")
	}
}
