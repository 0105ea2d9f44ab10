package scenario

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/inference-sim/cosim/cosim"
	"github.com/inference-sim/cosim/cosim/model"
)

// NamedEvent is an event that refers to its variable by slave and variable
// name, before the model has been applied.
type NamedEvent struct {
	Time     float64
	Slave    string
	Variable string
	Value    cosim.ScalarValue
}

// TimeGroup holds the events sharing one time point.
type TimeGroup struct {
	Time   float64
	Events []NamedEvent
}

// Builder collects named events and resolves them against an applied model.
type Builder struct {
	events []NamedEvent
}

// NewBuilder returns an empty scenario builder.
func NewBuilder() *Builder { return &Builder{} }

// AddEvent schedules value to be set on slave.variable at time t.
func (b *Builder) AddEvent(t float64, slave, variable string, value cosim.ScalarValue) error {
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return fmt.Errorf("event time must be finite, got %v: %w", t, cosim.ErrInvalidArgument)
	}
	b.events = append(b.events, NamedEvent{Time: t, Slave: slave, Variable: variable, Value: value})
	return nil
}

// Events returns the events in insertion order.
func (b *Builder) Events() []NamedEvent {
	return append([]NamedEvent(nil), b.events...)
}

// EventsByTime returns the events grouped by exact time point, in time
// order. Within a group, insertion order is kept.
func (b *Builder) EventsByTime() []TimeGroup {
	sorted := b.Events()
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })
	var groups []TimeGroup
	for _, ev := range sorted {
		if n := len(groups); n > 0 && groups[n-1].Time == ev.Time {
			groups[n-1].Events = append(groups[n-1].Events, ev)
			continue
		}
		groups = append(groups, TimeGroup{Time: ev.Time, Events: []NamedEvent{ev}})
	}
	return groups
}

// Build resolves every event against slaves. All resolution errors are
// reported together.
func (b *Builder) Build(slaves *model.SlaveMap) (*Scenario, error) {
	events := make([]Event, 0, len(b.events))
	var errs []error
	for _, ev := range b.events {
		v, desc, err := slaves.Variable(ev.Slave, ev.Variable)
		if err != nil {
			errs = append(errs, fmt.Errorf("event at t=%g: %w", ev.Time, err))
			continue
		}
		if desc.Causality != cosim.CausalityInput && desc.Causality != cosim.CausalityParameter {
			errs = append(errs, fmt.Errorf("event at t=%g: %s.%s is a %s variable and cannot be set: %w",
				ev.Time, ev.Slave, ev.Variable, desc.Causality, cosim.ErrInvalidArgument))
			continue
		}
		if ev.Value.DataType() != desc.DataType {
			errs = append(errs, fmt.Errorf("event at t=%g: variable %s.%s is of type '%s', got a value of type '%s': %w",
				ev.Time, ev.Slave, ev.Variable, desc.DataType, ev.Value.DataType(), cosim.ErrTypeMismatch))
			continue
		}
		events = append(events, Event{Time: ev.Time, Variable: v, Value: ev.Value})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return New(events...), nil
}
