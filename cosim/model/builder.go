// Package model builds the structure of a co-simulation offline: which
// slaves it consists of, their initial variable values, and the connections
// between them. A Builder validates every change as it is made and can then
// be applied to an execution.
//
// A Builder is not safe for concurrent use.
package model

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/cosim/cosim"
)

// VariableRef names a variable of a slave in the model.
type VariableRef struct {
	Slave    string
	Variable string
}

func (r VariableRef) String() string { return r.Slave + "." + r.Variable }

// Connection is a directed link from an output to an input.
type Connection struct {
	Output VariableRef
	Input  VariableRef
}

// Builder accumulates a model. Slave types are resolved through a
// ProviderCluster.
type Builder struct {
	cluster     cosim.ProviderCluster
	commTimeout time.Duration

	types        map[string]cosim.SlaveType // by type name, filled on first lookup
	typesFetched bool

	slaves      map[string]cosim.SlaveType
	initial     map[string]map[cosim.VariableID]cosim.ScalarValue
	connections map[string]map[cosim.VariableID]VariableRef // input slave -> input -> source
}

// NewBuilder returns an empty model. commTimeout bounds requests to the
// cluster. Panics if cluster is nil.
func NewBuilder(cluster cosim.ProviderCluster, commTimeout time.Duration) *Builder {
	if cluster == nil {
		panic("model.NewBuilder: cluster is nil")
	}
	return &Builder{
		cluster:     cluster,
		commTimeout: commTimeout,
		slaves:      make(map[string]cosim.SlaveType),
		initial:     make(map[string]map[cosim.VariableID]cosim.ScalarValue),
		connections: make(map[string]map[cosim.VariableID]VariableRef),
	}
}

// AddSlave adds a slave of the named type.
func (b *Builder) AddSlave(name, typeName string) error {
	if !cosim.IsValidSlaveName(name) {
		return fmt.Errorf("%q: %w", name, cosim.ErrInvalidName)
	}
	if _, exists := b.slaves[name]; exists {
		return fmt.Errorf("a slave named %q already exists in the model: %w", name, cosim.ErrDuplicateSlave)
	}
	st, err := b.lookupType(typeName)
	if err != nil {
		return err
	}
	b.slaves[name] = st
	return nil
}

// lookupType resolves a slave type by name. The cluster is asked once, on
// the first lookup; the list is not re-fetched for names it lacks.
func (b *Builder) lookupType(typeName string) (cosim.SlaveType, error) {
	if !b.typesFetched {
		if b.commTimeout <= 0 {
			return cosim.SlaveType{}, fmt.Errorf("cluster timeout must be positive, got %v: %w", b.commTimeout, cosim.ErrInvalidArgument)
		}
		ctx, cancel := context.WithTimeout(context.Background(), b.commTimeout)
		defer cancel()
		list, err := b.cluster.SlaveTypes(ctx)
		if err != nil {
			return cosim.SlaveType{}, fmt.Errorf("listing slave types: %w: %w", cosim.ErrTransportFault, err)
		}
		b.types = make(map[string]cosim.SlaveType, len(list))
		for _, st := range list {
			b.types[st.Description.Name] = st
		}
		b.typesFetched = true
		logrus.Debugf("model: %d slave types available", len(list))
	}
	st, ok := b.types[typeName]
	if !ok {
		return cosim.SlaveType{}, fmt.Errorf("%q: %w", typeName, cosim.ErrUnknownSlaveType)
	}
	return st, nil
}

// SlaveNames returns the names of all slaves in the model, sorted.
func (b *Builder) SlaveNames() []string {
	names := make([]string, 0, len(b.slaves))
	for name := range b.slaves {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SlaveTypeOf returns the type of the named slave.
func (b *Builder) SlaveTypeOf(name string) (cosim.SlaveType, error) {
	st, ok := b.slaves[name]
	if !ok {
		return cosim.SlaveType{}, fmt.Errorf("%q: %w", name, cosim.ErrUnknownSlave)
	}
	return st, nil
}

// Variable returns the description of a variable of a slave in the model.
func (b *Builder) Variable(slave, variable string) (cosim.VariableDescription, error) {
	st, err := b.SlaveTypeOf(slave)
	if err != nil {
		return cosim.VariableDescription{}, err
	}
	v, ok := st.Description.VariableByName(variable)
	if !ok {
		return cosim.VariableDescription{}, fmt.Errorf("slave %q of type %q has no variable %q: %w",
			slave, st.Description.Name, variable, cosim.ErrUnknownVariable)
	}
	return v, nil
}

// SetInitialValue sets, or replaces, the initial value of a variable.
func (b *Builder) SetInitialValue(slave, variable string, value cosim.ScalarValue) error {
	v, err := b.Variable(slave, variable)
	if err != nil {
		return err
	}
	if value.DataType() != v.DataType {
		return fmt.Errorf("variable %s.%s is of type '%s', got a value of type '%s': %w",
			slave, variable, v.DataType, value.DataType(), cosim.ErrTypeMismatch)
	}
	if b.initial[slave] == nil {
		b.initial[slave] = make(map[cosim.VariableID]cosim.ScalarValue)
	}
	b.initial[slave][v.ID] = value
	return nil
}

// InitialValue returns the initial value of a variable, if one has been set.
func (b *Builder) InitialValue(slave, variable string) (cosim.ScalarValue, bool, error) {
	v, err := b.Variable(slave, variable)
	if err != nil {
		return cosim.ScalarValue{}, false, err
	}
	val, ok := b.initial[slave][v.ID]
	return val, ok, nil
}

// Connect connects an output (or calculated parameter) to an input (or
// parameter). An existing connection to the input is replaced.
func (b *Builder) Connect(outSlave, outVar, inSlave, inVar string) error {
	out, err := b.Variable(outSlave, outVar)
	if err != nil {
		return err
	}
	in, err := b.Variable(inSlave, inVar)
	if err != nil {
		return err
	}
	if err := cosim.ValidateConnection(
		cosim.Endpoint{Slave: outSlave, Variable: out},
		cosim.Endpoint{Slave: inSlave, Variable: in},
	); err != nil {
		return err
	}
	if b.connections[inSlave] == nil {
		b.connections[inSlave] = make(map[cosim.VariableID]VariableRef)
	}
	b.connections[inSlave][in.ID] = VariableRef{Slave: outSlave, Variable: outVar}
	return nil
}

// Disconnect removes the connection to an input, if any.
func (b *Builder) Disconnect(inSlave, inVar string) error {
	in, err := b.Variable(inSlave, inVar)
	if err != nil {
		return err
	}
	delete(b.connections[inSlave], in.ID)
	return nil
}

// ConnectionsTo returns the connections into the named slave's variables,
// ordered by input variable ID.
func (b *Builder) ConnectionsTo(slave string) ([]Connection, error) {
	if _, ok := b.slaves[slave]; !ok {
		return nil, fmt.Errorf("%q: %w", slave, cosim.ErrUnknownSlave)
	}
	return b.connectionsTo(slave), nil
}

func (b *Builder) connectionsTo(slave string) []Connection {
	conns := b.connections[slave]
	ids := make([]cosim.VariableID, 0, len(conns))
	for id := range conns {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	desc := b.slaves[slave].Description
	list := make([]Connection, 0, len(ids))
	for _, id := range ids {
		in, _ := desc.VariableByID(id)
		list = append(list, Connection{
			Output: conns[id],
			Input:  VariableRef{Slave: slave, Variable: in.Name},
		})
	}
	return list
}

// Connections returns every connection in the model, grouped by input
// slave in name order.
func (b *Builder) Connections() []Connection {
	var list []Connection
	for _, name := range b.SlaveNames() {
		list = append(list, b.connectionsTo(name)...)
	}
	return list
}

// UnconnectedInputs returns every input variable without a source, grouped
// by slave in name order.
func (b *Builder) UnconnectedInputs() []VariableRef {
	var list []VariableRef
	for _, name := range b.SlaveNames() {
		for _, v := range b.slaves[name].Description.Variables {
			if v.Causality != cosim.CausalityInput {
				continue
			}
			if _, connected := b.connections[name][v.ID]; !connected {
				list = append(list, VariableRef{Slave: name, Variable: v.Name})
			}
		}
	}
	return list
}
