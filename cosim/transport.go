package cosim

import (
	"context"
	"time"
)

// ProviderCluster discovers slave types and instantiates slaves.
// Deadlines are carried by ctx.
type ProviderCluster interface {
	// SlaveTypes returns the slave types currently known to the cluster.
	// Discovery is asynchronous, so the list may be incomplete shortly after
	// the cluster was started.
	SlaveTypes(ctx context.Context) ([]SlaveType, error)

	// InstantiateSlave asks the given provider to start a new slave of the
	// type identified by typeUUID and returns where it can be reached.
	InstantiateSlave(ctx context.Context, providerID, typeUUID string) (SlaveLocator, error)
}

// SlaveSetup is passed to a slave when its channel is established.
type SlaveSetup struct {
	ID                  SlaveID
	Name                string
	ExecutionName       string
	StartTime           float64
	StopTime            float64
	VariableRecvTimeout time.Duration
}

// SlaveConnector establishes communication channels to instantiated slaves.
type SlaveConnector interface {
	Connect(ctx context.Context, locator SlaveLocator, setup SlaveSetup) (SlaveChannel, error)
}

// SlaveChannel is an established channel to one slave. An implementation
// must return an error wrapping context.DeadlineExceeded when ctx expires.
type SlaveChannel interface {
	// Describe returns the type description of the slave.
	Describe(ctx context.Context) (SlaveTypeDescription, error)

	// SetVariables applies value and connection settings.
	SetVariables(ctx context.Context, settings []VariableSetting) error

	// Step asks the slave to advance from t to t+dt. A StepFailed result is
	// a computational failure; a non-nil error is a transport fault.
	Step(ctx context.Context, t, dt float64) (StepResult, error)

	// AcceptStep confirms the last completed step.
	AcceptStep(ctx context.Context) error

	// Close terminates the slave and releases the channel.
	Close() error
}
