package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/huddle-im/huddle/internal/bus"
)

// State represents the realtime feed's connection state.
type State string

const (
	Idle         State = "IDLE"
	Connecting   State = "CONNECTING"
	Live         State = "LIVE"
	Reconnecting State = "RECONNECTING"
	Stopped      State = "STOPPED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Idle:         {Connecting, Stopped},
	Connecting:   {Live, Reconnecting, Stopped},
	Live:         {Reconnecting, Stopped},
	Reconnecting: {Connecting, Live, Stopped},
	Stopped:      {Connecting},
}

// Machine tracks and enforces feed state transitions, publishing each change
// so UI surfaces can show link state.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Idle.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Idle,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Scope:     "feed",
			Kind:      bus.KindFeedStatus,
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for feed status change events.
type StatusChange struct {
	From State
	To   State
}
