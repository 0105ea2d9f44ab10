package model

import (
	"fmt"
	"sort"

	"github.com/inference-sim/cosim/cosim"
)

// SlaveMap maps the slave names of an applied model to the IDs the
// execution assigned them. It does not change when the Builder does.
type SlaveMap struct {
	ids   map[string]cosim.SlaveID
	types map[string]cosim.SlaveTypeDescription
}

func newSlaveMap() *SlaveMap {
	return &SlaveMap{
		ids:   make(map[string]cosim.SlaveID),
		types: make(map[string]cosim.SlaveTypeDescription),
	}
}

func (m *SlaveMap) add(name string, id cosim.SlaveID, desc cosim.SlaveTypeDescription) {
	vars := append([]cosim.VariableDescription(nil), desc.Variables...)
	desc.Variables = vars
	m.ids[name] = id
	m.types[name] = desc
}

// Names returns the mapped slave names, sorted.
func (m *SlaveMap) Names() []string {
	names := make([]string, 0, len(m.ids))
	for name := range m.ids {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of mapped slaves.
func (m *SlaveMap) Len() int { return len(m.ids) }

// SlaveID returns the ID of the named slave.
func (m *SlaveMap) SlaveID(name string) (cosim.SlaveID, error) {
	id, ok := m.ids[name]
	if !ok {
		return cosim.InvalidSlaveID, fmt.Errorf("%q: %w", name, cosim.ErrUnknownSlave)
	}
	return id, nil
}

// Name returns the name of the slave with the given ID.
func (m *SlaveMap) Name(id cosim.SlaveID) (string, bool) {
	for name, sid := range m.ids {
		if sid == id {
			return name, true
		}
	}
	return "", false
}

// Description returns the type description of the named slave.
func (m *SlaveMap) Description(name string) (cosim.SlaveTypeDescription, error) {
	desc, ok := m.types[name]
	if !ok {
		return cosim.SlaveTypeDescription{}, fmt.Errorf("%q: %w", name, cosim.ErrUnknownSlave)
	}
	return desc, nil
}

// Variable resolves a named variable of a named slave.
func (m *SlaveMap) Variable(slave, variable string) (cosim.Variable, cosim.VariableDescription, error) {
	desc, err := m.Description(slave)
	if err != nil {
		return cosim.Variable{}, cosim.VariableDescription{}, err
	}
	v, ok := desc.VariableByName(variable)
	if !ok {
		return cosim.Variable{}, cosim.VariableDescription{}, fmt.Errorf("slave %q has no variable %q: %w",
			slave, variable, cosim.ErrUnknownVariable)
	}
	return cosim.Variable{Slave: m.ids[slave], ID: v.ID}, v, nil
}
