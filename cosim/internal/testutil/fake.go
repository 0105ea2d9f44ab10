// Package testutil provides a scriptable fake slave transport and assertion
// helpers shared by the cosim test packages.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/inference-sim/cosim/cosim"
	"github.com/inference-sim/cosim/cosim/loopback"
)

// ProviderID is the provider every fake slave type is offered by.
const ProviderID = "fake-provider"

// Behavior scripts how the fake treats one slave, selected by the name the
// slave is given when its channel is established.
type Behavior struct {
	ConnectErr   error
	ConnectDelay time.Duration
	DescribeErr  error
	SetErr       error
	// FailStep makes the n-th step (1-based) return cosim.StepFailed.
	FailStep int
	// FaultStep makes the n-th step (1-based) return a transport error.
	FaultStep int
	StepDelay time.Duration
	AcceptErr error
}

// StepCall records one Step request.
type StepCall struct {
	T, DT float64
}

// Fake is a ProviderCluster and SlaveConnector with scripted per-slave
// behaviour. It records every command it receives.
type Fake struct {
	mu        sync.Mutex
	types     []cosim.SlaveType
	behaviors map[string]Behavior
	instErr   map[string]error // by type UUID
	typeLists int
	next      int
	located   map[string]cosim.SlaveTypeDescription // by control endpoint
	setups    []cosim.SlaveSetup
	settings  map[string][][]cosim.VariableSetting
	steps     map[string][]StepCall
	accepts   map[string]int
	closed    map[string]bool
}

// NewFake returns a fake offering the loopback sine, identity and constant
// slave types.
func NewFake() *Fake {
	f := &Fake{
		behaviors: make(map[string]Behavior),
		instErr:   make(map[string]error),
		located:   make(map[string]cosim.SlaveTypeDescription),
		settings:  make(map[string][][]cosim.VariableSetting),
		steps:     make(map[string][]StepCall),
		accepts:   make(map[string]int),
		closed:    make(map[string]bool),
	}
	for _, d := range loopback.Descriptions() {
		f.AddType(d)
	}
	return f
}

// AddType offers another slave type.
func (f *Fake) AddType(d cosim.SlaveTypeDescription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.types = append(f.types, cosim.SlaveType{Description: d, Providers: []string{ProviderID}})
}

// Script sets the behaviour of the slave with the given name.
func (f *Fake) Script(name string, b Behavior) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.behaviors[name] = b
}

// FailInstantiation makes instantiating the given type fail with err.
func (f *Fake) FailInstantiation(typeName string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, st := range f.types {
		if st.Description.Name == typeName {
			f.instErr[st.Description.UUID] = err
		}
	}
}

// Locator instantiates a slave of the named type and returns its locator.
func (f *Fake) Locator(typeName string) cosim.SlaveLocator {
	f.mu.Lock()
	var uuid string
	for _, st := range f.types {
		if st.Description.Name == typeName {
			uuid = st.Description.UUID
		}
	}
	f.mu.Unlock()
	loc, err := f.InstantiateSlave(context.Background(), ProviderID, uuid)
	if err != nil {
		panic(err)
	}
	return loc
}

// SlaveTypes implements cosim.ProviderCluster.
func (f *Fake) SlaveTypes(ctx context.Context) ([]cosim.SlaveType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typeLists++
	return append([]cosim.SlaveType(nil), f.types...), nil
}

// InstantiateSlave implements cosim.ProviderCluster.
func (f *Fake) InstantiateSlave(ctx context.Context, providerID, typeUUID string) (cosim.SlaveLocator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.instErr[typeUUID]; err != nil {
		return cosim.SlaveLocator{}, err
	}
	for _, st := range f.types {
		if st.Description.UUID == typeUUID {
			f.next++
			endpoint := fmt.Sprintf("fake://%d", f.next)
			f.located[endpoint] = st.Description
			return cosim.SlaveLocator{ControlEndpoint: endpoint}, nil
		}
	}
	return cosim.SlaveLocator{}, fmt.Errorf("fake: no type %s: %w", typeUUID, cosim.ErrUnknownSlaveType)
}

// Connect implements cosim.SlaveConnector.
func (f *Fake) Connect(ctx context.Context, locator cosim.SlaveLocator, setup cosim.SlaveSetup) (cosim.SlaveChannel, error) {
	f.mu.Lock()
	b := f.behaviors[setup.Name]
	desc, ok := f.located[locator.ControlEndpoint]
	f.mu.Unlock()

	if err := sleep(ctx, b.ConnectDelay); err != nil {
		return nil, err
	}
	if b.ConnectErr != nil {
		return nil, b.ConnectErr
	}
	if !ok {
		return nil, fmt.Errorf("fake: nothing at %s", locator.ControlEndpoint)
	}
	f.mu.Lock()
	f.setups = append(f.setups, setup)
	f.mu.Unlock()
	return &channel{fake: f, name: setup.Name, desc: desc, behavior: b}, nil
}

// TypeListings returns how often SlaveTypes was called.
func (f *Fake) TypeListings() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.typeLists
}

// Setups returns the setup of every established channel in connection order.
func (f *Fake) Setups() []cosim.SlaveSetup {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cosim.SlaveSetup(nil), f.setups...)
}

// Settings returns the SetVariables batches received by the named slave.
func (f *Fake) Settings(name string) [][]cosim.VariableSetting {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]cosim.VariableSetting(nil), f.settings[name]...)
}

// Steps returns the Step requests received by the named slave.
func (f *Fake) Steps(name string) []StepCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]StepCall(nil), f.steps[name]...)
}

// Accepts returns how many steps the named slave accepted.
func (f *Fake) Accepts(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accepts[name]
}

// Closed reports whether the named slave's channel was closed.
func (f *Fake) Closed(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed[name]
}

type channel struct {
	fake     *Fake
	name     string
	desc     cosim.SlaveTypeDescription
	behavior Behavior
}

func (c *channel) Describe(ctx context.Context) (cosim.SlaveTypeDescription, error) {
	if c.behavior.DescribeErr != nil {
		return cosim.SlaveTypeDescription{}, c.behavior.DescribeErr
	}
	return c.desc, nil
}

func (c *channel) SetVariables(ctx context.Context, settings []cosim.VariableSetting) error {
	if c.behavior.SetErr != nil {
		return c.behavior.SetErr
	}
	c.fake.mu.Lock()
	defer c.fake.mu.Unlock()
	c.fake.settings[c.name] = append(c.fake.settings[c.name], append([]cosim.VariableSetting(nil), settings...))
	return nil
}

func (c *channel) Step(ctx context.Context, t, dt float64) (cosim.StepResult, error) {
	if err := sleep(ctx, c.behavior.StepDelay); err != nil {
		return 0, err
	}
	c.fake.mu.Lock()
	defer c.fake.mu.Unlock()
	c.fake.steps[c.name] = append(c.fake.steps[c.name], StepCall{T: t, DT: dt})
	n := len(c.fake.steps[c.name])
	if n == c.behavior.FaultStep {
		return 0, fmt.Errorf("fake: connection to %q lost", c.name)
	}
	if n == c.behavior.FailStep {
		return cosim.StepFailed, nil
	}
	return cosim.StepComplete, nil
}

func (c *channel) AcceptStep(ctx context.Context) error {
	if c.behavior.AcceptErr != nil {
		return c.behavior.AcceptErr
	}
	c.fake.mu.Lock()
	defer c.fake.mu.Unlock()
	c.fake.accepts[c.name]++
	return nil
}

func (c *channel) Close() error {
	c.fake.mu.Lock()
	defer c.fake.mu.Unlock()
	c.fake.closed[c.name] = true
	return nil
}

// sleep waits for d or until ctx expires.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("fake: %w", ctx.Err())
	}
}
