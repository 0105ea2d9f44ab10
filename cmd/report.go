package cmd

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/cosim/cosim"
	"github.com/inference-sim/cosim/cosim/execution"
	"github.com/inference-sim/cosim/cosim/loopback"
	"github.com/inference-sim/cosim/cosim/model"
	"github.com/inference-sim/cosim/cosim/trace"
)

// report is what `cosim run` prints when a simulation ends.
type report struct {
	Execution string  `yaml:"execution"`
	ID        string  `yaml:"id"`
	FinalTime float64 `yaml:"final_time"`
	Failure   string  `yaml:"failure,omitempty"`
	// Outputs maps "slave.variable" to the last published value.
	Outputs map[string]any      `yaml:"outputs"`
	Trace   *trace.TraceSummary `yaml:"trace,omitempty"`
}

func newReport(e *execution.Execution, cluster *loopback.Cluster, slaves *model.SlaveMap, tr *trace.SimulationTrace) report {
	r := report{
		Execution: e.Name(),
		ID:        e.ID(),
		FinalTime: e.CurrentTime(),
		Outputs:   make(map[string]any),
	}
	if err := e.Failure(); err != nil {
		r.Failure = err.Error()
	}
	for _, name := range slaves.Names() {
		id, _ := slaves.SlaveID(name)
		desc, _ := slaves.Description(name)
		for _, v := range desc.Variables {
			if v.Causality != cosim.CausalityOutput && v.Causality != cosim.CausalityCalculatedParameter {
				continue
			}
			if val, ok := cluster.Value(e.Name(), cosim.Variable{Slave: id, ID: v.ID}); ok {
				r.Outputs[name+"."+v.Name] = nativeValue(val)
			}
		}
	}
	if tr != nil {
		r.Trace = trace.Summarize(tr)
	}
	return r
}

func nativeValue(v cosim.ScalarValue) any {
	switch v.DataType() {
	case cosim.DataTypeReal:
		x, _ := v.Real()
		return x
	case cosim.DataTypeInteger:
		x, _ := v.Integer()
		return x
	case cosim.DataTypeBoolean:
		x, _ := v.Boolean()
		return x
	default:
		x, _ := v.Str()
		return x
	}
}

// writeReport prints the report as YAML under a header.
func writeReport(out io.Writer, r report) error {
	if _, err := fmt.Fprintln(out, "=== Co-simulation Report ==="); err != nil {
		return err
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return enc.Close()
}
