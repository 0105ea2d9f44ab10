package cosim

import "fmt"

// Endpoint is one side of a proposed connection: a variable of a named slave.
type Endpoint struct {
	Slave    string
	Variable VariableDescription
}

func (e Endpoint) String() string {
	return e.Slave + "." + e.Variable.Name
}

// ValidateConnection checks whether output may feed input. The rules are
// checked in order and the first violation is returned as a *ConnectionError:
//
//  1. causality: an output may only feed an input; a calculated parameter
//     may feed a parameter or an input; nothing else may act as a source.
//  2. variability: the source must not be more volatile than the target.
//  3. data type: both sides must have the same data type.
//
// ValidateConnection performs no I/O.
func ValidateConnection(output, input Endpoint) error {
	reject := func(rule ConnectionRule, format string, args ...any) error {
		return &ConnectionError{Output: output, Input: input, Rule: rule, Detail: fmt.Sprintf(format, args...)}
	}

	out, in := output.Variable, input.Variable
	switch out.Causality {
	case CausalityOutput:
		if in.Causality != CausalityInput {
			return reject(RuleCausality, "an output variable may only be connected to an input variable")
		}
	case CausalityCalculatedParameter:
		if in.Causality != CausalityParameter && in.Causality != CausalityInput {
			return reject(RuleCausality, "a calculated parameter variable may only be connected to a parameter or input variable")
		}
	default:
		return reject(RuleCausality, "only output variables or calculated parameters may be used as outputs")
	}

	if out.Variability > in.Variability {
		return reject(RuleVariability, "incompatible variability: a %s variable cannot be connected to a %s variable",
			out.Variability, in.Variability)
	}

	if out.DataType != in.DataType {
		return reject(RuleDataType, "incompatible data types: a variable of type '%s' cannot be connected to a variable of type '%s'",
			out.DataType, in.DataType)
	}
	return nil
}

// IsValidSlaveName reports whether s matches ^[A-Za-z][A-Za-z0-9_]*$.
func IsValidSlaveName(s string) bool {
	if s == "" || !isASCIILetter(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		if !isASCIILetter(c) && !(c >= '0' && c <= '9') && c != '_' {
			return false
		}
	}
	return true
}

func isASCIILetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}
