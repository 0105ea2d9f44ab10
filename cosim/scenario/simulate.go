package scenario

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/cosim/cosim"
	"github.com/inference-sim/cosim/cosim/execution"
	"github.com/inference-sim/cosim/cosim/trace"
)

// Controller is the part of an execution the scheduler drives.
// *execution.Execution implements it.
type Controller interface {
	CurrentTime() float64
	BeginConfig() error
	EndConfig() error
	Reconfigure(configs []execution.SlaveConfig, timeout time.Duration) error
	Step(size float64, timeout time.Duration) (cosim.StepResult, error)
	AcceptStep(timeout time.Duration) error
	Slaves() []execution.SlaveInfo
}

// ProgressFunc is called with the current time after every step. Returning
// false aborts the simulation.
type ProgressFunc func(t float64) bool

// Config parameterizes Simulate.
type Config struct {
	Duration     float64
	StepSize     float64
	StepTimeout  time.Duration          // bounds each Step
	OtherTimeout time.Duration          // bounds AcceptStep and Reconfigure
	Progress     ProgressFunc           // optional
	Trace        *trace.SimulationTrace // optional
}

func (c Config) validate() error {
	if !(c.Duration > 0) || math.IsInf(c.Duration, 0) {
		return fmt.Errorf("duration must be positive and finite, got %g: %w", c.Duration, cosim.ErrInvalidArgument)
	}
	if !(c.StepSize > 0) || math.IsInf(c.StepSize, 0) {
		return fmt.Errorf("step size must be positive and finite, got %g: %w", c.StepSize, cosim.ErrInvalidArgument)
	}
	if c.StepTimeout <= 0 || c.OtherTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive, got %v and %v: %w", c.StepTimeout, c.OtherTimeout, cosim.ErrInvalidArgument)
	}
	return nil
}

// Simulate advances ctrl by cfg.Duration in steps of cfg.StepSize, pausing
// to apply the events of sc as their time points are reached. Events whose
// time lies before the current time are discarded. Events closer together
// than StepSize*1e-6 are applied in one reconfiguration. Events at or after
// the end time stay in sc.
//
// If cfg.Progress returns false the run stops and Simulate returns nil. A
// step that a slave fails to complete ends the run with a
// *cosim.StepFailedError.
func Simulate(ctrl Controller, sc *Scenario, cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	if err := ctrl.EndConfig(); err != nil {
		return err
	}
	if sc == nil {
		sc = New()
	}

	start := ctrl.CurrentTime()
	for ev, ok := sc.Peek(); ok && ev.Time < start; ev, ok = sc.Peek() {
		logrus.Debugf("[t=%g] discarding stale scenario event %s", start, ev)
		sc.Pop()
	}

	endTime := start + cfg.Duration
	epsilon := cfg.StepSize * 1e-6
	logrus.Infof("[t=%g] simulating until t=%g with step size %g, %d scenario events", start, endTime, cfg.StepSize, sc.Len())

	r := &runner{ctrl: ctrl, cfg: cfg, epsilon: epsilon}
	for {
		nextStop := endTime
		if ev, ok := sc.Peek(); ok && ev.Time < endTime {
			nextStop = ev.Time
		}
		aborted, err := r.simulateUntil(nextStop)
		if err != nil {
			return err
		}
		if aborted {
			logrus.Infof("[t=%g] simulation aborted by progress callback", ctrl.CurrentTime())
			return nil
		}
		if nextStop >= endTime {
			break
		}
		if err := r.applyEvents(sc, nextStop); err != nil {
			return err
		}
	}
	logrus.Infof("[t=%g] simulation finished", ctrl.CurrentTime())
	return nil
}

type runner struct {
	ctrl    Controller
	cfg     Config
	epsilon float64
}

// simulateUntil steps from the current time to target in steps of
// StepSize, shortening the last one so that it lands on target. A
// remainder shorter than epsilon is folded into the previous step.
func (r *runner) simulateUntil(target float64) (aborted bool, err error) {
	for {
		now := r.ctrl.CurrentTime()
		if now >= target {
			return false, nil
		}
		dt, last := r.cfg.StepSize, false
		if now+dt >= target-r.epsilon {
			dt, last = target-now, true
		}
		if err := r.forceStep(now, dt); err != nil {
			return false, err
		}
		if r.cfg.Progress != nil && !r.cfg.Progress(r.ctrl.CurrentTime()) {
			return true, nil
		}
		if last {
			return false, nil
		}
	}
}

// forceStep performs one step and accepts it, failing if the step could
// not be completed.
func (r *runner) forceStep(now, dt float64) error {
	res, err := r.ctrl.Step(dt, r.cfg.StepTimeout)
	r.cfg.Trace.RecordStep(trace.StepRecord{Time: now, StepSize: dt, Complete: err == nil && res == cosim.StepComplete})
	if err != nil {
		return err
	}
	if res != cosim.StepComplete {
		return &cosim.StepFailedError{Time: now, StepSize: dt}
	}
	return r.ctrl.AcceptStep(r.cfg.OtherTimeout)
}

// applyEvents dequeues every event due within epsilon of at and applies
// them in one reconfiguration, one entry per slave.
func (r *runner) applyEvents(sc *Scenario, at float64) error {
	bySlave := make(map[cosim.SlaveID][]cosim.VariableSetting)
	for ev, ok := sc.Peek(); ok && ev.Time < at+r.epsilon; ev, ok = sc.Peek() {
		sc.Pop()
		bySlave[ev.Variable.Slave] = append(bySlave[ev.Variable.Slave], cosim.ValueSetting(ev.Variable.ID, ev.Value))
	}
	configs := make([]execution.SlaveConfig, 0, len(bySlave))
	for id, settings := range bySlave {
		configs = append(configs, execution.SlaveConfig{Slave: id, Settings: settings})
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].Slave < configs[j].Slave })

	if err := r.ctrl.BeginConfig(); err != nil {
		return err
	}
	if err := r.ctrl.Reconfigure(configs, r.cfg.OtherTimeout); err != nil {
		return fmt.Errorf("applying scenario events at t=%g: %w", at, err)
	}
	if err := r.ctrl.EndConfig(); err != nil {
		return err
	}

	if r.cfg.Trace != nil {
		names := make(map[cosim.SlaveID]string)
		for _, s := range r.ctrl.Slaves() {
			names[s.ID] = s.Name
		}
		rec := trace.ReconfigRecord{Time: r.ctrl.CurrentTime(), Settings: make(map[string]int, len(configs))}
		for _, c := range configs {
			name, ok := names[c.Slave]
			if !ok {
				name = fmt.Sprintf("slave%d", c.Slave)
			}
			rec.Settings[name] += len(c.Settings)
		}
		r.cfg.Trace.RecordReconfig(rec)
	}
	logrus.Infof("[t=%g] applied scenario events to %d slave(s)", r.ctrl.CurrentTime(), len(configs))
	return nil
}
