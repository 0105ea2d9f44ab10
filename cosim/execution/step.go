package execution

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/inference-sim/cosim/cosim"
)

// Step asks every slave to advance from CurrentTime by size. It returns
// cosim.StepFailed if any slave could not complete the step; since failed
// steps cannot be discarded this is terminal, and later calls to Step fail
// with cosim.ErrInvalidState. A transport fault on any slave is returned as
// an error wrapping cosim.ErrTransportFault, never as cosim.StepFailed.
//
// A cosim.StepComplete result must be followed by exactly one AcceptStep.
func (e *Execution) Step(size float64, timeout time.Duration) (cosim.StepResult, error) {
	if err := e.checkSimulating("step"); err != nil {
		return cosim.StepFailed, err
	}
	if e.fault != nil {
		return cosim.StepFailed, fmt.Errorf("stepping is no longer possible (%v): %w", e.fault, cosim.ErrInvalidState)
	}
	if e.stepPending {
		return cosim.StepFailed, fmt.Errorf("the previous step has not been accepted: %w", cosim.ErrInvalidState)
	}
	if !(size > 0) || math.IsInf(size, 0) {
		return cosim.StepFailed, fmt.Errorf("step size must be positive and finite, got %g: %w", size, cosim.ErrInvalidArgument)
	}
	if exceedsMaxTime(e.simTime, size, e.opts.MaxTime) {
		return cosim.StepFailed, fmt.Errorf("a step of %g from t=%g would pass the max time %g: %w",
			size, e.simTime, e.opts.MaxTime, cosim.ErrInvalidArgument)
	}
	if err := validateTimeout("step timeout", timeout); err != nil {
		return cosim.StepFailed, err
	}

	spanCtx, span := e.startSpan("cosim.step", attribute.Float64("cosim.step_size", size))
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var (
		mu     sync.Mutex
		failed bool
	)
	agg := &cosim.AggregatedSlaveError{Op: "step"}
	g := e.newGroup()
	for _, s := range e.snapshot() {
		s := s
		g.Go(func() error {
			res, err := s.channel.Step(ctx, e.simTime, size)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				agg.Failures = append(agg.Failures, cosim.SlaveFailure{Slave: s.name, Err: transportFault(s.name, err)})
			case res == cosim.StepFailed:
				logrus.Warnf("[t=%g] slave %q failed to complete a step of size %g", e.simTime, s.name, size)
				failed = true
			}
			return nil
		})
	}
	_ = g.Wait()
	e.lastStepSize = size

	if err := aggregated(agg); err != nil {
		e.fault = err
		e.count(spanCtx, "cosim.step_failures", attribute.String("cosim.cause", "transport"))
		endSpan(span, err)
		return cosim.StepFailed, err
	}
	if failed {
		e.fault = &cosim.StepFailedError{Time: e.simTime, StepSize: size}
		e.count(spanCtx, "cosim.step_failures", attribute.String("cosim.cause", "slave"))
		endSpan(span, e.fault)
		return cosim.StepFailed, nil
	}
	e.stepPending = true
	e.count(spanCtx, "cosim.steps")
	endSpan(span, nil)
	logrus.Debugf("[t=%g] step of size %g complete", e.simTime, size)
	return cosim.StepComplete, nil
}

// AcceptStep confirms the last completed step on every slave and advances
// CurrentTime by its size.
func (e *Execution) AcceptStep(timeout time.Duration) error {
	if err := e.checkSimulating("accept step"); err != nil {
		return err
	}
	if !e.stepPending {
		return fmt.Errorf("accept step requires a preceding completed step: %w", cosim.ErrInvalidState)
	}
	if err := validateTimeout("accept step timeout", timeout); err != nil {
		return err
	}

	_, span := e.startSpan("cosim.accept_step", attribute.Float64("cosim.step_size", e.lastStepSize))
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var mu sync.Mutex
	agg := &cosim.AggregatedSlaveError{Op: "accept step"}
	g := e.newGroup()
	for _, s := range e.snapshot() {
		s := s
		g.Go(func() error {
			if err := s.channel.AcceptStep(ctx); err != nil {
				mu.Lock()
				agg.Failures = append(agg.Failures, cosim.SlaveFailure{Slave: s.name, Err: transportFault(s.name, err)})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	e.stepPending = false

	if err := aggregated(agg); err != nil {
		e.fault = err
		endSpan(span, err)
		return err
	}
	e.simTime += e.lastStepSize
	endSpan(span, nil)
	return nil
}

// Failure returns the error that made stepping terminal, or nil.
func (e *Execution) Failure() error { return e.fault }

// exceedsMaxTime allows for rounding in the final remainder step that lands
// on max.
func exceedsMaxTime(now, size, max float64) bool {
	if math.IsInf(max, 1) {
		return false
	}
	return now+size-max > size*1e-9
}
