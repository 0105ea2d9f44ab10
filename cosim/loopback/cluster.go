// Package loopback is an in-process slave transport. A Cluster acts as a
// single slave provider hosting the built-in sine, identity and constant
// slave types, and as the connector for the slaves it instantiates.
//
// Connected input values travel over an in-memory bus. Each slave publishes
// its outputs when a step is accepted, and reads its connected inputs at the
// start of the next step, so all slaves see the values of the same instant.
package loopback

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/cosim/cosim"
)

// Options tune the behaviour of the hosted slaves.
type Options struct {
	// MaxStepSize makes slaves report cosim.StepFailed for steps longer
	// than this. Zero means no limit.
	MaxStepSize float64
}

// Cluster implements cosim.ProviderCluster and cosim.SlaveConnector.
type Cluster struct {
	providerID string
	opts       Options

	mu        sync.Mutex
	next      int
	instances map[string]*instance // by control endpoint
	bus       map[busKey]cosim.ScalarValue
}

type busKey struct {
	execution string
	variable  cosim.Variable
}

// NewCluster returns a cluster with a single provider.
func NewCluster(opts Options) *Cluster {
	return &Cluster{
		providerID: uuid.NewString(),
		opts:       opts,
		instances:  make(map[string]*instance),
		bus:        make(map[busKey]cosim.ScalarValue),
	}
}

// ProviderID returns the ID of the cluster's only provider.
func (c *Cluster) ProviderID() string { return c.providerID }

// SlaveTypes returns the built-in slave types.
func (c *Cluster) SlaveTypes(ctx context.Context) ([]cosim.SlaveType, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("listing slave types: %w", err)
	}
	descs := Descriptions()
	types := make([]cosim.SlaveType, 0, len(descs))
	for _, d := range descs {
		types = append(types, cosim.SlaveType{Description: d, Providers: []string{c.providerID}})
	}
	return types, nil
}

// InstantiateSlave creates a new slave of the given type.
func (c *Cluster) InstantiateSlave(ctx context.Context, providerID, typeUUID string) (cosim.SlaveLocator, error) {
	if err := ctx.Err(); err != nil {
		return cosim.SlaveLocator{}, fmt.Errorf("instantiating slave: %w", err)
	}
	if providerID != c.providerID {
		return cosim.SlaveLocator{}, fmt.Errorf("unknown provider %q: %w", providerID, cosim.ErrInvalidArgument)
	}
	var desc cosim.SlaveTypeDescription
	found := false
	for _, d := range Descriptions() {
		if d.UUID == typeUUID {
			desc, found = d, true
			break
		}
	}
	if !found {
		return cosim.SlaveLocator{}, fmt.Errorf("no slave type with UUID %s: %w", typeUUID, cosim.ErrUnknownSlaveType)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	endpoint := fmt.Sprintf("loopback://%s/%d", c.providerID, c.next)
	c.instances[endpoint] = &instance{cluster: c, desc: desc, vals: initialValues(desc)}
	logrus.Debugf("loopback: instantiated %s slave at %s", desc.Name, endpoint)
	return cosim.SlaveLocator{ControlEndpoint: endpoint, DataEndpoint: endpoint + "/data"}, nil
}

// Connect attaches to a slave created by InstantiateSlave. Each slave
// accepts a single connection.
func (c *Cluster) Connect(ctx context.Context, locator cosim.SlaveLocator, setup cosim.SlaveSetup) (cosim.SlaveChannel, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", locator.ControlEndpoint, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	inst, ok := c.instances[locator.ControlEndpoint]
	if !ok {
		return nil, fmt.Errorf("no slave at %s", locator.ControlEndpoint)
	}
	if inst.connected {
		return nil, fmt.Errorf("slave at %s is already in use", locator.ControlEndpoint)
	}
	inst.connected = true
	inst.setup = setup
	inst.time = setup.StartTime
	inst.inputs = make(map[cosim.VariableID]cosim.Variable)
	evaluators[inst.desc.Name](inst.vals, inst.time)
	c.publishLocked(inst)
	return inst, nil
}

// Value returns the last published value of an output variable in the
// named execution.
func (c *Cluster) Value(execution string, v cosim.Variable) (cosim.ScalarValue, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	val, ok := c.bus[busKey{execution: execution, variable: v}]
	return val, ok
}

func (c *Cluster) publishLocked(inst *instance) {
	for _, v := range inst.desc.Variables {
		if v.Causality == cosim.CausalityOutput || v.Causality == cosim.CausalityCalculatedParameter {
			key := busKey{execution: inst.setup.ExecutionName, variable: cosim.Variable{Slave: inst.setup.ID, ID: v.ID}}
			c.bus[key] = inst.vals[v.ID]
		}
	}
}

// instance is one hosted slave. All fields are guarded by cluster.mu.
type instance struct {
	cluster   *Cluster
	desc      cosim.SlaveTypeDescription
	setup     cosim.SlaveSetup
	vals      map[cosim.VariableID]cosim.ScalarValue
	inputs    map[cosim.VariableID]cosim.Variable
	time      float64
	connected bool
	closed    bool
}

func (s *instance) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s on slave %q: %w", op, s.setup.Name, err)
	}
	if s.closed {
		return fmt.Errorf("%s on slave %q: channel is closed", op, s.setup.Name)
	}
	return nil
}

// Describe returns the slave type description.
func (s *instance) Describe(ctx context.Context) (cosim.SlaveTypeDescription, error) {
	c := s.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := s.check(ctx, "describe"); err != nil {
		return cosim.SlaveTypeDescription{}, err
	}
	return s.desc, nil
}

// SetVariables applies values and connections, then republishes outputs.
func (s *instance) SetVariables(ctx context.Context, settings []cosim.VariableSetting) error {
	c := s.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := s.check(ctx, "set variables"); err != nil {
		return err
	}
	for _, vs := range settings {
		desc, ok := s.desc.VariableByID(vs.Variable())
		if !ok {
			return fmt.Errorf("slave %q has no variable %d: %w", s.setup.Name, vs.Variable(), cosim.ErrUnknownVariable)
		}
		if v, ok := vs.Value(); ok {
			if v.DataType() != desc.DataType {
				return fmt.Errorf("variable %q expects %s, got %s: %w", desc.Name, desc.DataType, v.DataType(), cosim.ErrTypeMismatch)
			}
			s.vals[desc.ID] = v
			continue
		}
		if src, ok := vs.Source(); ok {
			s.inputs[desc.ID] = src
		} else {
			delete(s.inputs, desc.ID)
		}
	}
	if err := s.pullInputsLocked(); err != nil {
		return err
	}
	evaluators[s.desc.Name](s.vals, s.time)
	c.publishLocked(s)
	return nil
}

// pullInputsLocked copies the published source values into connected inputs.
func (s *instance) pullInputsLocked() error {
	for in, src := range s.inputs {
		key := busKey{execution: s.setup.ExecutionName, variable: src}
		v, ok := s.cluster.bus[key]
		if !ok {
			return fmt.Errorf("slave %q: no value received for input %d from %s within %v",
				s.setup.Name, in, src, s.setup.VariableRecvTimeout)
		}
		s.vals[in] = v
	}
	return nil
}

// Step reads connected inputs and computes outputs at t+dt. StepFailed is
// only reported for steps longer than MaxStepSize; every other problem is
// an error with a zero result.
func (s *instance) Step(ctx context.Context, t, dt float64) (cosim.StepResult, error) {
	c := s.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := s.check(ctx, "step"); err != nil {
		return 0, err
	}
	if c.opts.MaxStepSize > 0 && dt > c.opts.MaxStepSize {
		return cosim.StepFailed, nil
	}
	if math.Abs(t-s.time) > 1e-9*math.Max(1, math.Abs(t)) {
		logrus.Warnf("loopback: slave %q asked to step from t=%g but is at t=%g", s.setup.Name, t, s.time)
	}
	if err := s.pullInputsLocked(); err != nil {
		return 0, err
	}
	s.time = t + dt
	evaluators[s.desc.Name](s.vals, s.time)
	return cosim.StepComplete, nil
}

// AcceptStep publishes the outputs computed by the last step.
func (s *instance) AcceptStep(ctx context.Context) error {
	c := s.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := s.check(ctx, "accept step"); err != nil {
		return err
	}
	c.publishLocked(s)
	return nil
}

// Close terminates the slave.
func (s *instance) Close() error {
	c := s.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	s.closed = true
	return nil
}
