package cosim

import (
	"fmt"
	"strings"
)

// DataType is the data type of a variable or a value.
type DataType int

const (
	DataTypeReal DataType = iota
	DataTypeInteger
	DataTypeBoolean
	DataTypeString
)

var dataTypeNames = map[DataType]string{
	DataTypeReal:    "real",
	DataTypeInteger: "integer",
	DataTypeBoolean: "boolean",
	DataTypeString:  "string",
}

func (d DataType) String() string {
	if name, ok := dataTypeNames[d]; ok {
		return name
	}
	return fmt.Sprintf("DataType(%d)", int(d))
}

// ParseDataType converts a case-insensitive name ("real", "integer", ...) to a DataType.
func ParseDataType(s string) (DataType, error) {
	for d, name := range dataTypeNames {
		if strings.EqualFold(s, name) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown data type %q; valid: real, integer, boolean, string: %w", s, ErrInvalidArgument)
}

// Causality classifies the role of a variable.
type Causality int

const (
	CausalityParameter Causality = iota
	CausalityCalculatedParameter
	CausalityInput
	CausalityOutput
	CausalityLocal
)

var causalityNames = map[Causality]string{
	CausalityParameter:           "parameter",
	CausalityCalculatedParameter: "calculated_parameter",
	CausalityInput:               "input",
	CausalityOutput:              "output",
	CausalityLocal:               "local",
}

func (c Causality) String() string {
	if name, ok := causalityNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Causality(%d)", int(c))
}

// ParseCausality converts a case-insensitive name to a Causality.
// Both "calculated_parameter" and "calculatedParameter" are accepted.
func ParseCausality(s string) (Causality, error) {
	normalized := strings.ReplaceAll(s, "_", "")
	for c, name := range causalityNames {
		if strings.EqualFold(normalized, strings.ReplaceAll(name, "_", "")) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown causality %q: %w", s, ErrInvalidArgument)
}

// Variability describes how often a variable's value may change.
// The constants are ordered from least to most volatile, and the numeric
// order is used by ValidateConnection.
type Variability int

const (
	VariabilityConstant Variability = iota
	VariabilityFixed
	VariabilityTunable
	VariabilityDiscrete
	VariabilityContinuous
)

var variabilityNames = map[Variability]string{
	VariabilityConstant:   "constant",
	VariabilityFixed:      "fixed",
	VariabilityTunable:    "tunable",
	VariabilityDiscrete:   "discrete",
	VariabilityContinuous: "continuous",
}

func (v Variability) String() string {
	if name, ok := variabilityNames[v]; ok {
		return name
	}
	return fmt.Sprintf("Variability(%d)", int(v))
}

// ParseVariability converts a case-insensitive name to a Variability.
func ParseVariability(s string) (Variability, error) {
	for v, name := range variabilityNames {
		if strings.EqualFold(s, name) {
			return v, nil
		}
	}
	return 0, fmt.Errorf("unknown variability %q: %w", s, ErrInvalidArgument)
}

// VariableID identifies a variable within a slave type.
type VariableID int

// VariableDescription is the immutable metadata of one slave variable.
type VariableDescription struct {
	ID          VariableID
	Name        string
	DataType    DataType
	Causality   Causality
	Variability Variability
}

// Validate checks the internal consistency of the description.
// Continuous variability is only meaningful for real variables.
func (v VariableDescription) Validate() error {
	if v.Name == "" {
		return fmt.Errorf("variable %d has no name: %w", v.ID, ErrInvalidArgument)
	}
	if v.Variability == VariabilityContinuous && v.DataType != DataTypeReal {
		return fmt.Errorf("variable %q: continuous variability requires data type real, got %s: %w",
			v.Name, v.DataType, ErrInvalidArgument)
	}
	return nil
}

// SlaveTypeDescription describes a type of slave, i.e. a model that a
// provider can instantiate.
type SlaveTypeDescription struct {
	Name        string
	UUID        string
	Description string
	Author      string
	Version     string
	Variables   []VariableDescription
}

// VariableByName returns the variable with the given name.
func (d SlaveTypeDescription) VariableByName(name string) (VariableDescription, bool) {
	for _, v := range d.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return VariableDescription{}, false
}

// VariableByID returns the variable with the given ID.
func (d SlaveTypeDescription) VariableByID(id VariableID) (VariableDescription, bool) {
	for _, v := range d.Variables {
		if v.ID == id {
			return v, true
		}
	}
	return VariableDescription{}, false
}

// SlaveType is a slave type as seen through a provider cluster: its
// description plus the IDs of the providers able to instantiate it.
type SlaveType struct {
	Description SlaveTypeDescription
	Providers   []string
}

// SlaveID identifies a slave within one execution. IDs are assigned when a
// slave is admitted, start at 1 and are never reused. The zero value is
// not a valid ID.
type SlaveID int

// InvalidSlaveID is the zero SlaveID, never assigned to an admitted slave.
const InvalidSlaveID SlaveID = 0

// Variable refers to a variable of an admitted slave.
type Variable struct {
	Slave SlaveID
	ID    VariableID
}

func (v Variable) String() string {
	return fmt.Sprintf("%d:%d", v.Slave, v.ID)
}

// SlaveLocator is an opaque description of how to reach an instantiated slave.
type SlaveLocator struct {
	ControlEndpoint string
	DataEndpoint    string
}

// StepResult is the outcome of asking slaves to perform a time step.
type StepResult int

const (
	// StepComplete means every slave completed the step.
	StepComplete StepResult = iota
	// StepFailed means at least one slave could not complete a step of the
	// requested size. Discarding and retrying a step is not supported, so
	// callers must treat this as terminal.
	StepFailed
)

func (r StepResult) String() string {
	switch r {
	case StepComplete:
		return "complete"
	case StepFailed:
		return "failed"
	default:
		return fmt.Sprintf("StepResult(%d)", int(r))
	}
}
