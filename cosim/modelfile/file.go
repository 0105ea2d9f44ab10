// Package modelfile loads co-simulation model files. A model file lists the
// slaves of a system, their initial values and connections, the scenario
// events to apply while running, and the run settings. YAML and HCL files
// decode into the same File.
package modelfile

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/cosim/cosim/trace"
)

// File is a decoded model file.
type File struct {
	Slaves      []Slave      `yaml:"slaves"`
	Connections []Connection `yaml:"connections"`
	Events      []Event      `yaml:"events"`
	Run         Run          `yaml:"run"`
}

// Slave declares one slave of the model by name and type.
type Slave struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	// Initial maps variable names to values. Values are coerced to the
	// variable's data type when the model is built.
	Initial map[string]any `yaml:"initial"`
}

// Connection links an output ("slave.variable") to an input.
type Connection struct {
	From string `yaml:"from" hcl:"from"`
	To   string `yaml:"to" hcl:"to"`
}

// Event sets Slave.Variable to Value at Time.
type Event struct {
	Time     float64 `yaml:"time"`
	Slave    string  `yaml:"slave"`
	Variable string  `yaml:"variable"`
	Value    any     `yaml:"value"`
}

// Run holds the run settings. Timeouts are Go duration strings ("500ms").
type Run struct {
	Duration  float64  `yaml:"duration" hcl:"duration,optional"`
	StepSize  float64  `yaml:"step_size" hcl:"step_size,optional"`
	StartTime float64  `yaml:"start_time" hcl:"start_time,optional"`
	MaxTime   *float64 `yaml:"max_time" hcl:"max_time,optional"` // nil means unbounded

	InstantiateTimeout string `yaml:"instantiate_timeout" hcl:"instantiate_timeout,optional"`
	StepTimeout        string `yaml:"step_timeout" hcl:"step_timeout,optional"`
	CommandTimeout     string `yaml:"command_timeout" hcl:"command_timeout,optional"`
	RecvTimeout        string `yaml:"recv_timeout" hcl:"recv_timeout,optional"`

	Trace string `yaml:"trace" hcl:"trace,optional"`
}

// Timeouts are the parsed timeouts of a Run.
type Timeouts struct {
	Instantiate time.Duration
	Step        time.Duration
	Command     time.Duration
	Recv        time.Duration
}

const defaultTimeout = time.Second

// Timeouts parses the run timeouts. Empty values default to one second.
func (r Run) Timeouts() (Timeouts, error) {
	var t Timeouts
	for _, f := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"instantiate_timeout", r.InstantiateTimeout, &t.Instantiate},
		{"step_timeout", r.StepTimeout, &t.Step},
		{"command_timeout", r.CommandTimeout, &t.Command},
		{"recv_timeout", r.RecvTimeout, &t.Recv},
	} {
		if f.raw == "" {
			*f.dst = defaultTimeout
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return Timeouts{}, fmt.Errorf("run.%s: %w", f.name, err)
		}
		if d <= 0 {
			return Timeouts{}, fmt.Errorf("run.%s must be positive, got %v", f.name, d)
		}
		*f.dst = d
	}
	return t, nil
}

// EffectiveMaxTime returns MaxTime, or +Inf when it is unset.
func (r Run) EffectiveMaxTime() float64 {
	if r.MaxTime == nil {
		return math.Inf(1)
	}
	return *r.MaxTime
}

// Validate checks the structural rules that do not need slave type
// information: slave names are unique, types are given, connection
// endpoints have the "slave.variable" form and run numbers are sane.
func (f *File) Validate() error {
	seen := make(map[string]bool, len(f.Slaves))
	for i, s := range f.Slaves {
		if s.Type == "" {
			return fmt.Errorf("slaves[%d] (%q): type is required", i, s.Name)
		}
		if s.Name != "" && seen[s.Name] {
			return fmt.Errorf("slaves[%d]: duplicate slave name %q", i, s.Name)
		}
		seen[s.Name] = true
	}
	for i, c := range f.Connections {
		if _, _, err := splitRef(c.From); err != nil {
			return fmt.Errorf("connections[%d].from: %w", i, err)
		}
		if _, _, err := splitRef(c.To); err != nil {
			return fmt.Errorf("connections[%d].to: %w", i, err)
		}
	}
	for i, ev := range f.Events {
		if math.IsNaN(ev.Time) || math.IsInf(ev.Time, 0) {
			return fmt.Errorf("events[%d]: time must be finite, got %v", i, ev.Time)
		}
		if ev.Value == nil {
			return fmt.Errorf("events[%d]: value is required", i)
		}
	}
	if f.Run.Duration < 0 || math.IsNaN(f.Run.Duration) {
		return fmt.Errorf("run.duration must be non-negative, got %v", f.Run.Duration)
	}
	if f.Run.StepSize < 0 || math.IsNaN(f.Run.StepSize) {
		return fmt.Errorf("run.step_size must be non-negative, got %v", f.Run.StepSize)
	}
	if f.Run.MaxTime != nil && *f.Run.MaxTime < f.Run.StartTime {
		return fmt.Errorf("run.max_time %v is before run.start_time %v", *f.Run.MaxTime, f.Run.StartTime)
	}
	if !trace.IsValidTraceLevel(f.Run.Trace) {
		return fmt.Errorf("run.trace: unknown level %q; valid: none, events, steps", f.Run.Trace)
	}
	if _, err := f.Run.Timeouts(); err != nil {
		return err
	}
	return nil
}

// splitRef splits "slave.variable" at the first dot. Slave names cannot
// contain dots; variable names may.
func splitRef(ref string) (slave, variable string, err error) {
	slave, variable, ok := strings.Cut(ref, ".")
	if !ok || slave == "" || variable == "" {
		return "", "", fmt.Errorf("%q is not of the form slave.variable", ref)
	}
	return slave, variable, nil
}

// Load reads a model file, choosing the format by extension: .yaml and .yml
// are YAML, .hcl is HCL.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(data)
	case ".hcl":
		return LoadHCL(data, path)
	default:
		return nil, fmt.Errorf("model file %s: unsupported extension %q (want .yaml, .yml or .hcl)", path, filepath.Ext(path))
	}
}

// LoadYAML decodes a YAML model file. Unknown fields are rejected.
func LoadYAML(data []byte) (*File, error) {
	var f File
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("parsing model file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model file: %w", err)
	}
	return &f, nil
}
