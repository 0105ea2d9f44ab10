package cosim

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every fallible operation returns an error that wraps one of
// these (directly or through a typed error), so callers can use errors.Is.
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrInvalidName      = errors.New("invalid slave name")
	ErrUnknownSlave     = errors.New("unknown slave")
	ErrUnknownVariable  = errors.New("unknown variable")
	ErrUnknownSlaveType = errors.New("unknown slave type")
	ErrDuplicateSlave   = errors.New("duplicate slave")
	ErrConnection       = errors.New("invalid connection")
	ErrTypeMismatch     = errors.New("type mismatch")
	ErrInvalidState     = errors.New("invalid state")
	ErrStepFailed       = errors.New("step failed")
	ErrTransportFault   = errors.New("transport fault")
)

// ConnectionRule names the rule a rejected connection violated.
type ConnectionRule string

const (
	RuleCausality   ConnectionRule = "causality"
	RuleVariability ConnectionRule = "variability"
	RuleDataType    ConnectionRule = "data-type"
)

// ConnectionError reports a proposed connection that violates causality,
// variability or data type rules.
type ConnectionError struct {
	Output Endpoint
	Input  Endpoint
	Rule   ConnectionRule
	Detail string
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("error connecting variable %s to %s: %s", e.Output, e.Input, e.Detail)
}

// Is makes errors.Is(err, ErrConnection) hold for every ConnectionError.
func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// SlaveFailure is the error one slave reported during a bulk operation.
type SlaveFailure struct {
	Slave string
	Err   error
}

// AggregatedSlaveError collects the per-slave failures of a bulk operation.
// It is returned only after every sub-operation has completed or timed out.
type AggregatedSlaveError struct {
	Op       string
	Failures []SlaveFailure
}

func (e *AggregatedSlaveError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Slave, f.Err))
	}
	return fmt.Sprintf("%s failed for %d slave(s): %s", e.Op, len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes every per-slave cause to errors.Is and errors.As.
func (e *AggregatedSlaveError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Slaves returns the names of the failing slaves in reporting order.
func (e *AggregatedSlaveError) Slaves() []string {
	names := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		names = append(names, f.Slave)
	}
	return names
}

// StepFailedError reports that one or more slaves could not complete a step.
type StepFailedError struct {
	Time     float64
	StepSize float64
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("the simulation was aborted at t=%g because one or more slaves failed to complete a time step of length dt=%g",
		e.Time, e.StepSize)
}

// Is makes errors.Is(err, ErrStepFailed) hold for every StepFailedError.
func (e *StepFailedError) Is(target error) bool { return target == ErrStepFailed }
