// Package execution implements the execution state machine: slave
// admission, configuration, and lockstep time stepping.
//
// An Execution alternates between two modes. In StateConfiguring slaves may
// be added and their variables set or connected; in StateSimulating the
// slaves are advanced with Step followed by AcceptStep. Bulk operations fan
// out one task per slave and join before returning, so the caller observes
// a synchronous call. An Execution must be driven by a single goroutine.
package execution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/inference-sim/cosim/cosim"
)

// State is the mode of an execution.
type State int

const (
	StateConfiguring State = iota
	StateSimulating
)

func (s State) String() string {
	if s == StateSimulating {
		return "simulating"
	}
	return "configuring"
}

// slave is an admitted slave with an established channel.
type slave struct {
	id      cosim.SlaveID
	name    string
	channel cosim.SlaveChannel
	desc    cosim.SlaveTypeDescription
}

// SlaveInfo describes an admitted slave.
type SlaveInfo struct {
	ID   cosim.SlaveID
	Name string
	Type cosim.SlaveTypeDescription
}

// Execution is one simulation run.
type Execution struct {
	id        string
	name      string
	connector cosim.SlaveConnector
	opts      Options

	state        State
	simTime      float64
	lastStepSize float64
	stepPending  bool  // a Complete step awaits AcceptStep
	fault        error // set once stepping has failed; stepping is terminal
	closed       bool

	// mu guards the slave registry, which is updated by operation workers.
	mu       sync.Mutex
	nextID   cosim.SlaveID
	reserved map[string]cosim.SlaveID // names of added or in-flight slaves
	slaves   map[cosim.SlaveID]*slave

	pending []waiter // operations issued since the last EndConfig
}

// New creates an execution in StateConfiguring.
// Panics if connector is nil.
func New(name string, connector cosim.SlaveConnector, opts Options) (*Execution, error) {
	if connector == nil {
		panic("execution.New: connector is nil")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	e := &Execution{
		id:        uuid.New().String(),
		name:      name,
		connector: connector,
		opts:      opts,
		state:     StateConfiguring,
		simTime:   opts.StartTime,
		nextID:    1,
		reserved:  make(map[string]cosim.SlaveID),
		slaves:    make(map[cosim.SlaveID]*slave),
	}
	logrus.Infof("created execution %q (%s), start time %g", name, e.id, opts.StartTime)
	return e, nil
}

// ID returns the unique identifier of this execution.
func (e *Execution) ID() string { return e.id }

// Name returns the name given at creation.
func (e *Execution) Name() string { return e.name }

// State returns the current mode.
func (e *Execution) State() State { return e.state }

// CurrentTime returns the logical time of the last accepted step.
func (e *Execution) CurrentTime() float64 { return e.simTime }

// MaxTime returns the latest logical time the execution may reach.
func (e *Execution) MaxTime() float64 { return e.opts.MaxTime }

// Slaves returns the admitted slaves ordered by ID.
func (e *Execution) Slaves() []SlaveInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	infos := make([]SlaveInfo, 0, len(e.slaves))
	for _, s := range e.slaves {
		infos = append(infos, SlaveInfo{ID: s.id, Name: s.name, Type: s.desc})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// BeginConfig switches to StateConfiguring. It is a no-op if the execution
// is already configuring.
func (e *Execution) BeginConfig() error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if e.stepPending {
		return fmt.Errorf("a completed step must be accepted before configuring: %w", cosim.ErrInvalidState)
	}
	if e.state == StateConfiguring {
		return nil
	}
	e.state = StateConfiguring
	logrus.Debugf("[t=%g] execution %q: begin config", e.simTime, e.name)
	return nil
}

// EndConfig switches to StateSimulating after every add-slave and
// set-variables operation issued during configuration has completed.
// It does not report failures of those operations; their handles do.
func (e *Execution) EndConfig() error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if e.state == StateSimulating {
		return nil
	}
	for _, op := range e.pending {
		op.Wait()
	}
	e.pending = nil
	e.state = StateSimulating
	logrus.Debugf("[t=%g] execution %q: end config", e.simTime, e.name)
	return nil
}

// SetSimulationTime sets the start and max time. It is only legal while
// configuring and before any slave has been added. Pass math.Inf(1) as max
// for an unbounded simulation.
func (e *Execution) SetSimulationTime(start, max float64) error {
	if err := e.checkConfiguring("set simulation time"); err != nil {
		return err
	}
	e.mu.Lock()
	hasSlaves := len(e.reserved) > 0
	e.mu.Unlock()
	if hasSlaves {
		return fmt.Errorf("simulation time cannot be changed after slaves have been added: %w", cosim.ErrInvalidState)
	}
	if err := validateTimeInterval(start, max); err != nil {
		return err
	}
	e.opts.StartTime, e.opts.MaxTime = start, max
	e.simTime = start
	return nil
}

// AddSlave issues a single add-slave command and returns its handle. The
// name must be a valid, unused slave name; an empty name is replaced by
// "slave<ID>".
func (e *Execution) AddSlave(locator cosim.SlaveLocator, name string, timeout time.Duration) *Operation[cosim.SlaveID] {
	if err := e.checkConfiguring("add slave"); err != nil {
		return failedOperation[cosim.SlaveID](err)
	}
	if err := validateTimeout("add slave timeout", timeout); err != nil {
		return failedOperation[cosim.SlaveID](err)
	}
	id, name, err := e.reserve(name)
	if err != nil {
		return failedOperation[cosim.SlaveID](err)
	}
	op := startOperation(func() (cosim.SlaveID, error) {
		if err := e.connect(locator, id, name, timeout); err != nil {
			return cosim.InvalidSlaveID, err
		}
		return id, nil
	})
	e.pending = append(e.pending, op)
	return op
}

// SetVariables issues a single set-variables command for one slave and
// returns its handle. Settings are checked against the slave's variable
// descriptions before anything is sent.
func (e *Execution) SetVariables(id cosim.SlaveID, settings []cosim.VariableSetting, timeout time.Duration) *Operation[struct{}] {
	if err := e.checkConfiguring("set variables"); err != nil {
		return failedOperation[struct{}](err)
	}
	if err := validateTimeout("set variables timeout", timeout); err != nil {
		return failedOperation[struct{}](err)
	}
	s, err := e.prepareSettings(id, settings)
	if err != nil {
		return failedOperation[struct{}](err)
	}
	op := startOperation(func() (struct{}, error) {
		return struct{}{}, e.sendSettings(s, settings, timeout)
	})
	e.pending = append(e.pending, op)
	return op
}

// Close terminates every slave channel. The execution is unusable afterwards.
func (e *Execution) Close() error {
	if e.closed {
		return nil
	}
	for _, op := range e.pending {
		op.Wait()
	}
	e.pending = nil
	e.closed = true

	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	for _, s := range e.slaves {
		if err := s.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing slave %q: %w", s.name, err))
		}
	}
	logrus.Infof("[t=%g] execution %q closed", e.simTime, e.name)
	return errors.Join(errs...)
}

func (e *Execution) checkOpen() error {
	if e.closed {
		return fmt.Errorf("execution %q has been closed: %w", e.name, cosim.ErrInvalidState)
	}
	return nil
}

func (e *Execution) checkConfiguring(op string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if e.state != StateConfiguring {
		return fmt.Errorf("%s is only allowed while configuring, execution is %s: %w", op, e.state, cosim.ErrInvalidState)
	}
	return nil
}

func (e *Execution) checkSimulating(op string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if e.state != StateSimulating {
		return fmt.Errorf("%s is only allowed while simulating, execution is %s: %w", op, e.state, cosim.ErrInvalidState)
	}
	return nil
}

// reserve allocates an ID and claims the name. IDs are never reused, even
// if the slave later fails to connect.
func (e *Execution) reserve(name string) (cosim.SlaveID, string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	if name == "" {
		name = fmt.Sprintf("slave%d", id)
	}
	if !cosim.IsValidSlaveName(name) {
		return cosim.InvalidSlaveID, name, fmt.Errorf("%q: %w", name, cosim.ErrInvalidName)
	}
	if _, taken := e.reserved[name]; taken {
		return cosim.InvalidSlaveID, name, fmt.Errorf("a slave named %q already exists: %w", name, cosim.ErrDuplicateSlave)
	}
	e.nextID++
	e.reserved[name] = id
	return id, name, nil
}

func (e *Execution) release(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.reserved, name)
}

// connect establishes the channel for a reserved slave and registers it.
func (e *Execution) connect(locator cosim.SlaveLocator, id cosim.SlaveID, name string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	setup := cosim.SlaveSetup{
		ID:                  id,
		Name:                name,
		ExecutionName:       e.name,
		StartTime:           e.opts.StartTime,
		StopTime:            e.opts.MaxTime,
		VariableRecvTimeout: e.opts.SlaveVariableRecvTimeout,
	}
	ch, err := e.connector.Connect(ctx, locator, setup)
	if err != nil {
		e.release(name)
		return transportFault(name, err)
	}
	desc, err := ch.Describe(ctx)
	if err != nil {
		_ = ch.Close()
		e.release(name)
		return transportFault(name, err)
	}

	e.mu.Lock()
	e.slaves[id] = &slave{id: id, name: name, channel: ch, desc: desc}
	e.mu.Unlock()
	logrus.Debugf("added slave %q (id %d, type %q)", name, id, desc.Name)
	return nil
}

// prepareSettings resolves the slave and validates each setting against the
// variable descriptions of the slave and of any connection source.
func (e *Execution) prepareSettings(id cosim.SlaveID, settings []cosim.VariableSetting) (*slave, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.slaves[id]
	if !ok {
		return nil, fmt.Errorf("slave ID %d: %w", id, cosim.ErrUnknownSlave)
	}
	for _, vs := range settings {
		target, ok := s.desc.VariableByID(vs.Variable())
		if !ok {
			return s, fmt.Errorf("slave %q has no variable with ID %d: %w", s.name, vs.Variable(), cosim.ErrUnknownVariable)
		}
		if v, ok := vs.Value(); ok {
			if v.DataType() != target.DataType {
				return s, fmt.Errorf("variable %s.%s is of type '%s', got a value of type '%s': %w",
					s.name, target.Name, target.DataType, v.DataType(), cosim.ErrTypeMismatch)
			}
			continue
		}
		src, connected := vs.Source()
		if !connected {
			continue
		}
		srcSlave, ok := e.slaves[src.Slave]
		if !ok {
			return s, fmt.Errorf("connection source slave ID %d: %w", src.Slave, cosim.ErrUnknownSlave)
		}
		srcVar, ok := srcSlave.desc.VariableByID(src.ID)
		if !ok {
			return s, fmt.Errorf("slave %q has no variable with ID %d: %w", srcSlave.name, src.ID, cosim.ErrUnknownVariable)
		}
		if err := cosim.ValidateConnection(
			cosim.Endpoint{Slave: srcSlave.name, Variable: srcVar},
			cosim.Endpoint{Slave: s.name, Variable: target},
		); err != nil {
			return s, err
		}
	}
	return s, nil
}

func (e *Execution) sendSettings(s *slave, settings []cosim.VariableSetting, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.channel.SetVariables(ctx, settings); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return transportFault(s.name, err)
		}
		return err
	}
	return nil
}

func (e *Execution) slaveName(id cosim.SlaveID) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.slaves[id]; ok {
		return s.name
	}
	return fmt.Sprintf("slave ID %d", id)
}

// snapshot returns the admitted slaves ordered by ID.
func (e *Execution) snapshot() []*slave {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := make([]*slave, 0, len(e.slaves))
	for _, s := range e.slaves {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })
	return list
}

func (e *Execution) newGroup() *errgroup.Group {
	g := &errgroup.Group{}
	if e.opts.MaxParallelism > 0 {
		g.SetLimit(e.opts.MaxParallelism)
	}
	return g
}

func transportFault(slave string, err error) error {
	if errors.Is(err, cosim.ErrTransportFault) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("slave %q timed out: %w: %w", slave, cosim.ErrTransportFault, err)
	}
	return fmt.Errorf("slave %q: %w: %w", slave, cosim.ErrTransportFault, err)
}
