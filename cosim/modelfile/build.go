package modelfile

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/cosim/cosim"
	"github.com/inference-sim/cosim/cosim/model"
	"github.com/inference-sim/cosim/cosim/scenario"
)

// Build adds the slaves, initial values and connections of f to b. It stops
// at the first error.
func (f *File) Build(b *model.Builder) error {
	for _, s := range f.Slaves {
		if err := b.AddSlave(s.Name, s.Type); err != nil {
			return fmt.Errorf("adding slave %q: %w", s.Name, err)
		}
	}
	for _, s := range f.Slaves {
		names := make([]string, 0, len(s.Initial))
		for name := range s.Initial {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			value, err := coerce(b, s.Name, name, s.Initial[name])
			if err != nil {
				return fmt.Errorf("initial value of %s.%s: %w", s.Name, name, err)
			}
			if err := b.SetInitialValue(s.Name, name, value); err != nil {
				return fmt.Errorf("initial value of %s.%s: %w", s.Name, name, err)
			}
		}
	}
	for _, c := range f.Connections {
		outSlave, outVar, err := splitRef(c.From)
		if err != nil {
			return err
		}
		inSlave, inVar, err := splitRef(c.To)
		if err != nil {
			return err
		}
		if err := b.Connect(outSlave, outVar, inSlave, inVar); err != nil {
			return fmt.Errorf("connecting %s -> %s: %w", c.From, c.To, err)
		}
	}
	logrus.Debugf("model file: %d slaves, %d connections, %d events", len(f.Slaves), len(f.Connections), len(f.Events))
	return nil
}

// ScenarioBuilder returns a scenario builder holding the events of f, with
// values coerced to the data types of their variables as known to b.
func (f *File) ScenarioBuilder(b *model.Builder) (*scenario.Builder, error) {
	sb := scenario.NewBuilder()
	for i, ev := range f.Events {
		value, err := coerce(b, ev.Slave, ev.Variable, ev.Value)
		if err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}
		if err := sb.AddEvent(ev.Time, ev.Slave, ev.Variable, value); err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}
	}
	return sb, nil
}

func coerce(b *model.Builder, slave, variable string, raw any) (cosim.ScalarValue, error) {
	desc, err := b.Variable(slave, variable)
	if err != nil {
		return cosim.ScalarValue{}, err
	}
	return cosim.CoerceValue(desc.DataType, raw)
}
