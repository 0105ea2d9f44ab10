package cosim

import "fmt"

type settingKind int

const (
	settingValue settingKind = iota
	settingConnect
	settingDisconnect
)

// VariableSetting is either a value assignment for a variable or a change
// to the connection of an input variable. Exactly one form is active.
// Connection settings are always given for the slave that owns the input.
type VariableSetting struct {
	variable VariableID
	kind     settingKind
	value    ScalarValue
	source   Variable
}

// ValueSetting assigns value to the variable.
func ValueSetting(variable VariableID, value ScalarValue) VariableSetting {
	return VariableSetting{variable: variable, kind: settingValue, value: value}
}

// ConnectSetting connects the input variable to the output variable source.
func ConnectSetting(input VariableID, source Variable) VariableSetting {
	return VariableSetting{variable: input, kind: settingConnect, source: source}
}

// DisconnectSetting breaks any existing connection to the input variable.
func DisconnectSetting(input VariableID) VariableSetting {
	return VariableSetting{variable: input, kind: settingDisconnect}
}

// Variable returns the ID of the variable being set or (re)connected.
func (s VariableSetting) Variable() VariableID { return s.variable }

// HasValue reports whether this setting assigns a value.
func (s VariableSetting) HasValue() bool { return s.kind == settingValue }

// Value returns the assigned value; ok is false for connection changes.
func (s VariableSetting) Value() (v ScalarValue, ok bool) {
	return s.value, s.kind == settingValue
}

// IsConnectionChange reports whether this setting connects or disconnects an input.
func (s VariableSetting) IsConnectionChange() bool { return s.kind != settingValue }

// Source returns the output connected to the input; ok is false for value
// settings and for disconnections.
func (s VariableSetting) Source() (v Variable, ok bool) {
	return s.source, s.kind == settingConnect
}

func (s VariableSetting) String() string {
	switch s.kind {
	case settingValue:
		return fmt.Sprintf("var %d = %s", s.variable, s.value)
	case settingConnect:
		return fmt.Sprintf("var %d <- %s", s.variable, s.source)
	default:
		return fmt.Sprintf("var %d <- (disconnected)", s.variable)
	}
}
