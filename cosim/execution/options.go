package execution

import (
	"fmt"
	"math"
	"time"

	"github.com/inference-sim/cosim/cosim"
)

// Options groups the configuration of one execution.
type Options struct {
	StartTime float64 // logical start time (default 0)
	MaxTime   float64 // latest reachable logical time (default +Inf)
	// SlaveVariableRecvTimeout is passed to each slave and bounds how long it
	// waits for connected input values during a step (default 1s).
	SlaveVariableRecvTimeout time.Duration
	// MaxParallelism caps concurrent per-slave commands inside one bulk
	// operation. Values <= 0 mean one goroutine per slave.
	MaxParallelism int
}

// DefaultOptions returns the default execution options.
func DefaultOptions() Options {
	return Options{
		StartTime:                0,
		MaxTime:                  math.Inf(1),
		SlaveVariableRecvTimeout: time.Second,
	}
}

// Validate checks the simulation time interval and timeouts.
func (o Options) Validate() error {
	if err := validateTimeInterval(o.StartTime, o.MaxTime); err != nil {
		return err
	}
	if o.SlaveVariableRecvTimeout < 0 {
		return fmt.Errorf("slave variable receive timeout must be non-negative, got %v: %w",
			o.SlaveVariableRecvTimeout, cosim.ErrInvalidArgument)
	}
	return nil
}

func validateTimeInterval(start, max float64) error {
	if math.IsNaN(start) || math.IsInf(start, 0) {
		return fmt.Errorf("start time must be finite, got %v: %w", start, cosim.ErrInvalidArgument)
	}
	if math.IsNaN(max) || max < start {
		return fmt.Errorf("max time must be >= start time %v, got %v: %w", start, max, cosim.ErrInvalidArgument)
	}
	return nil
}

func validateTimeout(name string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %v: %w", name, d, cosim.ErrInvalidArgument)
	}
	return nil
}
