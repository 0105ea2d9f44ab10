package loopback

import (
	"math"

	"github.com/google/uuid"

	"github.com/inference-sim/cosim/cosim"
)

// Names of the built-in slave types.
const (
	SineType     = "sine"
	IdentityType = "identity"
	ConstantType = "constant"
)

// typeNamespace seeds the name-based UUIDs of the built-in types, so a type
// has the same UUID in every process.
var typeNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/inference-sim/cosim/loopback"))

func typeUUID(name string) string {
	return uuid.NewSHA1(typeNamespace, []byte(name)).String()
}

func variable(id cosim.VariableID, name string, dt cosim.DataType, c cosim.Causality, v cosim.Variability) cosim.VariableDescription {
	return cosim.VariableDescription{ID: id, Name: name, DataType: dt, Causality: c, Variability: v}
}

// SineDescription describes a slave with output y = a + b*sin(w*t + phi).
func SineDescription() cosim.SlaveTypeDescription {
	return cosim.SlaveTypeDescription{
		Name:        SineType,
		UUID:        typeUUID(SineType),
		Description: "y = a + b*sin(w*t + phi)",
		Author:      "cosim",
		Version:     "1.0",
		Variables: []cosim.VariableDescription{
			variable(0, "a", cosim.DataTypeReal, cosim.CausalityParameter, cosim.VariabilityFixed),
			variable(1, "b", cosim.DataTypeReal, cosim.CausalityParameter, cosim.VariabilityFixed),
			variable(2, "w", cosim.DataTypeReal, cosim.CausalityParameter, cosim.VariabilityFixed),
			variable(3, "phi", cosim.DataTypeReal, cosim.CausalityParameter, cosim.VariabilityFixed),
			variable(4, "y", cosim.DataTypeReal, cosim.CausalityOutput, cosim.VariabilityContinuous),
		},
	}
}

// IdentityDescription describes a slave that copies each input to the
// output of the same type.
func IdentityDescription() cosim.SlaveTypeDescription {
	return cosim.SlaveTypeDescription{
		Name:        IdentityType,
		UUID:        typeUUID(IdentityType),
		Description: "Copies each input to the output of the same type",
		Author:      "cosim",
		Version:     "1.0",
		Variables: []cosim.VariableDescription{
			variable(0, "realIn", cosim.DataTypeReal, cosim.CausalityInput, cosim.VariabilityContinuous),
			variable(1, "integerIn", cosim.DataTypeInteger, cosim.CausalityInput, cosim.VariabilityDiscrete),
			variable(2, "booleanIn", cosim.DataTypeBoolean, cosim.CausalityInput, cosim.VariabilityDiscrete),
			variable(3, "stringIn", cosim.DataTypeString, cosim.CausalityInput, cosim.VariabilityDiscrete),
			variable(4, "realOut", cosim.DataTypeReal, cosim.CausalityOutput, cosim.VariabilityContinuous),
			variable(5, "integerOut", cosim.DataTypeInteger, cosim.CausalityOutput, cosim.VariabilityDiscrete),
			variable(6, "booleanOut", cosim.DataTypeBoolean, cosim.CausalityOutput, cosim.VariabilityDiscrete),
			variable(7, "stringOut", cosim.DataTypeString, cosim.CausalityOutput, cosim.VariabilityDiscrete),
		},
	}
}

// ConstantDescription describes a slave whose output out mirrors the
// calculated parameter value. The parameter can feed parameters of other
// slaves, such as the amplitude of a sine.
func ConstantDescription() cosim.SlaveTypeDescription {
	return cosim.SlaveTypeDescription{
		Name:        ConstantType,
		UUID:        typeUUID(ConstantType),
		Description: "Holds a constant real value",
		Author:      "cosim",
		Version:     "1.0",
		Variables: []cosim.VariableDescription{
			variable(0, "value", cosim.DataTypeReal, cosim.CausalityCalculatedParameter, cosim.VariabilityFixed),
			variable(1, "out", cosim.DataTypeReal, cosim.CausalityOutput, cosim.VariabilityFixed),
		},
	}
}

// Descriptions returns every built-in slave type.
func Descriptions() []cosim.SlaveTypeDescription {
	return []cosim.SlaveTypeDescription{SineDescription(), IdentityDescription(), ConstantDescription()}
}

// evaluator recomputes the outputs of a slave at time t from its current
// variable values.
type evaluator func(vals map[cosim.VariableID]cosim.ScalarValue, t float64)

func realOf(vals map[cosim.VariableID]cosim.ScalarValue, id cosim.VariableID) float64 {
	v, _ := vals[id].Real()
	return v
}

var evaluators = map[string]evaluator{
	SineType: func(vals map[cosim.VariableID]cosim.ScalarValue, t float64) {
		a, b, w, phi := realOf(vals, 0), realOf(vals, 1), realOf(vals, 2), realOf(vals, 3)
		vals[4] = cosim.RealValue(a + b*math.Sin(w*t+phi))
	},
	IdentityType: func(vals map[cosim.VariableID]cosim.ScalarValue, _ float64) {
		for in := cosim.VariableID(0); in < 4; in++ {
			vals[in+4] = vals[in]
		}
	},
	ConstantType: func(vals map[cosim.VariableID]cosim.ScalarValue, _ float64) {
		vals[1] = vals[0]
	},
}

// defaults holds the initial values that differ from the zero value of the
// variable's type.
var defaults = map[string]map[cosim.VariableID]cosim.ScalarValue{
	SineType: {1: cosim.RealValue(1), 2: cosim.RealValue(1)},
}

func zeroValue(dt cosim.DataType) cosim.ScalarValue {
	switch dt {
	case cosim.DataTypeInteger:
		return cosim.IntegerValue(0)
	case cosim.DataTypeBoolean:
		return cosim.BooleanValue(false)
	case cosim.DataTypeString:
		return cosim.StringValue("")
	default:
		return cosim.RealValue(0)
	}
}

// initialValues returns the start values for a new slave of the given type.
func initialValues(desc cosim.SlaveTypeDescription) map[cosim.VariableID]cosim.ScalarValue {
	vals := make(map[cosim.VariableID]cosim.ScalarValue, len(desc.Variables))
	for _, v := range desc.Variables {
		vals[v.ID] = zeroValue(v.DataType)
	}
	for id, v := range defaults[desc.Name] {
		vals[id] = v
	}
	return vals
}
