package model

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/cosim/cosim"
	"github.com/inference-sim/cosim/cosim/execution"
)

// Target is the part of an execution a model is applied to.
// *execution.Execution implements it.
type Target interface {
	AddSlaves(slaves []execution.AddedSlave, timeout time.Duration) error
	Reconfigure(configs []execution.SlaveConfig, timeout time.Duration) error
}

// Apply instantiates every slave of the model, adds them to target in one
// bulk call, and then sets initial values and connections in one bulk
// reconfiguration. target should be a freshly created execution.
//
// The returned map holds every slave that was admitted, even when the error
// is non-nil, so the caller can close them out. Per-slave failures of any
// stage are collected into a single *cosim.AggregatedSlaveError. Slaves that
// could not be admitted are skipped, and connections from them are reported
// as failures of the receiving slave.
func (b *Builder) Apply(target Target, instantiateTimeout, commandTimeout time.Duration) (*SlaveMap, error) {
	if instantiateTimeout <= 0 || commandTimeout <= 0 {
		return nil, fmt.Errorf("timeouts must be positive, got %v and %v: %w",
			instantiateTimeout, commandTimeout, cosim.ErrInvalidArgument)
	}
	agg := &cosim.AggregatedSlaveError{Op: "apply model"}

	// Instantiate every slave through the first provider offering its type.
	var toAdd []execution.AddedSlave
	for _, name := range b.SlaveNames() {
		loc, err := b.instantiate(b.slaves[name], instantiateTimeout)
		if err != nil {
			agg.Failures = append(agg.Failures, cosim.SlaveFailure{Slave: name, Err: err})
			continue
		}
		toAdd = append(toAdd, execution.AddedSlave{Locator: loc, Name: name})
	}

	slaveMap := newSlaveMap()
	if len(toAdd) > 0 {
		if err := target.AddSlaves(toAdd, commandTimeout); err != nil && !isAggregated(err) {
			return slaveMap, err
		}
	}
	for _, s := range toAdd {
		if s.Err != nil {
			agg.Failures = append(agg.Failures, cosim.SlaveFailure{Slave: s.Name, Err: s.Err})
			continue
		}
		slaveMap.add(s.Name, s.ID, b.slaves[s.Name].Description)
	}

	configs, names := b.slaveConfigs(slaveMap, agg)
	if len(configs) > 0 {
		if err := target.Reconfigure(configs, commandTimeout); err != nil && !isAggregated(err) {
			return slaveMap, err
		}
		for i, c := range configs {
			if c.Err != nil {
				agg.Failures = append(agg.Failures, cosim.SlaveFailure{Slave: names[i], Err: c.Err})
			}
		}
	}

	if len(agg.Failures) > 0 {
		sort.SliceStable(agg.Failures, func(i, j int) bool { return agg.Failures[i].Slave < agg.Failures[j].Slave })
		return slaveMap, agg
	}
	logrus.Infof("applied model with %d slaves and %d connections", slaveMap.Len(), len(b.Connections()))
	return slaveMap, nil
}

func (b *Builder) instantiate(st cosim.SlaveType, timeout time.Duration) (cosim.SlaveLocator, error) {
	if len(st.Providers) == 0 {
		return cosim.SlaveLocator{}, fmt.Errorf("no provider offers slave type %q: %w",
			st.Description.Name, cosim.ErrUnknownSlaveType)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	loc, err := b.cluster.InstantiateSlave(ctx, st.Providers[0], st.Description.UUID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return cosim.SlaveLocator{}, fmt.Errorf("instantiating %q timed out: %w: %w", st.Description.Name, cosim.ErrTransportFault, err)
		}
		return cosim.SlaveLocator{}, fmt.Errorf("instantiating %q: %w", st.Description.Name, err)
	}
	return loc, nil
}

// slaveConfigs merges initial values and connections into one settings
// list per admitted slave. names[i] is the slave of configs[i].
func (b *Builder) slaveConfigs(slaveMap *SlaveMap, agg *cosim.AggregatedSlaveError) (configs []execution.SlaveConfig, names []string) {
	for _, name := range slaveMap.Names() {
		var settings []cosim.VariableSetting

		ids := make([]cosim.VariableID, 0, len(b.initial[name]))
		for id := range b.initial[name] {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			settings = append(settings, cosim.ValueSetting(id, b.initial[name][id]))
		}

		for _, conn := range b.connectionsTo(name) {
			src, _, err := slaveMap.Variable(conn.Output.Slave, conn.Output.Variable)
			if err != nil {
				agg.Failures = append(agg.Failures, cosim.SlaveFailure{
					Slave: name,
					Err:   fmt.Errorf("connection %s -> %s skipped: source slave was not added: %w", conn.Output, conn.Input, err),
				})
				continue
			}
			in, _ := b.Variable(name, conn.Input.Variable)
			settings = append(settings, cosim.ConnectSetting(in.ID, src))
		}

		if len(settings) > 0 {
			id, _ := slaveMap.SlaveID(name)
			configs = append(configs, execution.SlaveConfig{Slave: id, Settings: settings})
			names = append(names, name)
		}
	}
	return configs, names
}

func isAggregated(err error) bool {
	var agg *cosim.AggregatedSlaveError
	return errors.As(err, &agg)
}
