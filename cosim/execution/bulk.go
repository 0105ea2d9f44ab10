package execution

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/inference-sim/cosim/cosim"
)

// AddedSlave is one entry of an AddSlaves call. ID and Err are filled in
// by the call.
type AddedSlave struct {
	Locator cosim.SlaveLocator
	Name    string

	ID  cosim.SlaveID
	Err error
}

// SlaveConfig is one entry of a Reconfigure call. Err is filled in by the
// call.
type SlaveConfig struct {
	Slave    cosim.SlaveID
	Settings []cosim.VariableSetting

	Err error
}

// AddSlaves establishes a channel to every listed slave concurrently. Each
// slave succeeds or fails independently; on return every entry has either
// a valid ID or a non-nil Err. If any entry failed, the returned error is a
// *cosim.AggregatedSlaveError naming every failing slave.
func (e *Execution) AddSlaves(slaves []AddedSlave, timeout time.Duration) error {
	if err := e.checkConfiguring("add slaves"); err != nil {
		return err
	}
	if err := validateTimeout("add slaves timeout", timeout); err != nil {
		return err
	}
	_, span := e.startSpan("cosim.add_slaves", attribute.Int("cosim.slave_count", len(slaves)))

	// Names and IDs are claimed in list order before anything is sent, so
	// duplicates within the list are detected deterministically.
	for i := range slaves {
		slaves[i].ID, slaves[i].Name, slaves[i].Err = e.reserve(slaves[i].Name)
	}

	g := e.newGroup()
	for i := range slaves {
		s := &slaves[i]
		if s.Err != nil {
			continue
		}
		g.Go(func() error {
			if err := e.connect(s.Locator, s.ID, s.Name, timeout); err != nil {
				s.ID, s.Err = cosim.InvalidSlaveID, err
			}
			return nil
		})
	}
	_ = g.Wait()

	agg := &cosim.AggregatedSlaveError{Op: "add slaves"}
	for _, s := range slaves {
		if s.Err != nil {
			logrus.Warnf("adding slave %q failed: %v", s.Name, s.Err)
			agg.Failures = append(agg.Failures, cosim.SlaveFailure{Slave: s.Name, Err: s.Err})
		}
	}
	err := aggregated(agg)
	endSpan(span, err)
	return err
}

// Reconfigure applies value and connection settings to several slaves
// concurrently. There may be at most one entry per slave. Settings are
// validated locally first; an entry that fails validation is not sent.
func (e *Execution) Reconfigure(configs []SlaveConfig, timeout time.Duration) error {
	if err := e.checkConfiguring("reconfigure"); err != nil {
		return err
	}
	if err := validateTimeout("reconfigure timeout", timeout); err != nil {
		return err
	}
	seen := make(map[cosim.SlaveID]bool, len(configs))
	for _, c := range configs {
		if seen[c.Slave] {
			return fmt.Errorf("slave %s listed more than once in one reconfiguration: %w",
				e.slaveName(c.Slave), cosim.ErrInvalidArgument)
		}
		seen[c.Slave] = true
	}
	ctx, span := e.startSpan("cosim.reconfigure", attribute.Int("cosim.slave_count", len(configs)))

	g := e.newGroup()
	for i := range configs {
		c := &configs[i]
		s, err := e.prepareSettings(c.Slave, c.Settings)
		if err != nil {
			c.Err = err
			continue
		}
		g.Go(func() error {
			c.Err = e.sendSettings(s, c.Settings, timeout)
			return nil
		})
	}
	_ = g.Wait()

	agg := &cosim.AggregatedSlaveError{Op: "reconfigure"}
	for _, c := range configs {
		if c.Err != nil {
			name := e.slaveName(c.Slave)
			logrus.Warnf("[t=%g] reconfiguring slave %s failed: %v", e.simTime, name, c.Err)
			agg.Failures = append(agg.Failures, cosim.SlaveFailure{Slave: name, Err: c.Err})
		}
	}
	err := aggregated(agg)
	e.count(ctx, "cosim.reconfigurations", attribute.Bool("cosim.ok", err == nil))
	endSpan(span, err)
	return err
}

// aggregated returns agg as an error, or nil if it holds no failures.
func aggregated(agg *cosim.AggregatedSlaveError) error {
	if len(agg.Failures) == 0 {
		return nil
	}
	return agg
}
