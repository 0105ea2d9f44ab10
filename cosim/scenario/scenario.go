// Package scenario runs an execution for a given duration with uniform
// steps, applying timed variable changes (a scenario) as their time points
// are reached.
package scenario

import (
	"fmt"
	"sort"

	"github.com/inference-sim/cosim/cosim"
)

// Event sets a variable to a value at a point in logical time.
type Event struct {
	Time     float64
	Variable cosim.Variable
	Value    cosim.ScalarValue
}

func (e Event) String() string {
	return fmt.Sprintf("t=%g %s=%s", e.Time, e.Variable, e.Value)
}

// Scenario is a queue of events ordered by non-decreasing time. Events with
// equal times keep the order they were given in.
type Scenario struct {
	events []Event
}

// New returns a scenario holding the given events.
func New(events ...Event) *Scenario {
	sorted := append([]Event(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })
	return &Scenario{events: sorted}
}

// Len returns the number of pending events. A nil scenario is empty.
func (s *Scenario) Len() int {
	if s == nil {
		return 0
	}
	return len(s.events)
}

// Peek returns the earliest pending event without removing it.
func (s *Scenario) Peek() (Event, bool) {
	if s.Len() == 0 {
		return Event{}, false
	}
	return s.events[0], true
}

// Pop removes and returns the earliest pending event.
func (s *Scenario) Pop() (Event, bool) {
	ev, ok := s.Peek()
	if ok {
		s.events = s.events[1:]
	}
	return ev, ok
}

// Events returns the pending events in order.
func (s *Scenario) Events() []Event {
	if s == nil {
		return nil
	}
	return append([]Event(nil), s.events...)
}
