package cosim

import (
	"fmt"
	"math"
	"strconv"
)

// ScalarValue holds a single real, integer, boolean or string value along
// with its data type. The zero value is the real number 0.
type ScalarValue struct {
	dataType DataType
	real     float64
	integer  int
	boolean  bool
	str      string
}

// RealValue returns a ScalarValue of type real.
func RealValue(v float64) ScalarValue { return ScalarValue{dataType: DataTypeReal, real: v} }

// IntegerValue returns a ScalarValue of type integer.
func IntegerValue(v int) ScalarValue { return ScalarValue{dataType: DataTypeInteger, integer: v} }

// BooleanValue returns a ScalarValue of type boolean.
func BooleanValue(v bool) ScalarValue { return ScalarValue{dataType: DataTypeBoolean, boolean: v} }

// StringValue returns a ScalarValue of type string.
func StringValue(v string) ScalarValue { return ScalarValue{dataType: DataTypeString, str: v} }

// DataType returns the type of the held value.
func (s ScalarValue) DataType() DataType { return s.dataType }

// Real returns the held real value; ok is false if the value is not real.
func (s ScalarValue) Real() (v float64, ok bool) {
	return s.real, s.dataType == DataTypeReal
}

// Integer returns the held integer value; ok is false if the value is not an integer.
func (s ScalarValue) Integer() (v int, ok bool) {
	return s.integer, s.dataType == DataTypeInteger
}

// Boolean returns the held boolean value; ok is false if the value is not a boolean.
func (s ScalarValue) Boolean() (v bool, ok bool) {
	return s.boolean, s.dataType == DataTypeBoolean
}

// Str returns the held string value; ok is false if the value is not a string.
func (s ScalarValue) Str() (v string, ok bool) {
	return s.str, s.dataType == DataTypeString
}

// Equal reports whether two values have the same type and value.
func (s ScalarValue) Equal(o ScalarValue) bool {
	if s.dataType != o.dataType {
		return false
	}
	switch s.dataType {
	case DataTypeReal:
		return s.real == o.real
	case DataTypeInteger:
		return s.integer == o.integer
	case DataTypeBoolean:
		return s.boolean == o.boolean
	default:
		return s.str == o.str
	}
}

func (s ScalarValue) String() string {
	switch s.dataType {
	case DataTypeReal:
		return strconv.FormatFloat(s.real, 'g', -1, 64)
	case DataTypeInteger:
		return strconv.Itoa(s.integer)
	case DataTypeBoolean:
		return strconv.FormatBool(s.boolean)
	default:
		return strconv.Quote(s.str)
	}
}

// CoerceValue converts a loosely typed Go value (as produced by YAML or HCL
// decoding) to a ScalarValue of the given data type. Integral floats are
// accepted for integer variables and integers are accepted for real ones;
// every other mismatch fails with ErrTypeMismatch.
func CoerceValue(dt DataType, raw any) (ScalarValue, error) {
	mismatch := func() (ScalarValue, error) {
		return ScalarValue{}, fmt.Errorf("value %v (%T) cannot be used as %s: %w", raw, raw, dt, ErrTypeMismatch)
	}
	switch dt {
	case DataTypeReal:
		switch v := raw.(type) {
		case float64:
			return RealValue(v), nil
		case float32:
			return RealValue(float64(v)), nil
		case int:
			return RealValue(float64(v)), nil
		case int64:
			return RealValue(float64(v)), nil
		}
	case DataTypeInteger:
		switch v := raw.(type) {
		case int:
			return IntegerValue(v), nil
		case int64:
			return IntegerValue(int(v)), nil
		case float64:
			if v == math.Trunc(v) && !math.IsInf(v, 0) {
				return IntegerValue(int(v)), nil
			}
		}
	case DataTypeBoolean:
		if v, ok := raw.(bool); ok {
			return BooleanValue(v), nil
		}
	case DataTypeString:
		if v, ok := raw.(string); ok {
			return StringValue(v), nil
		}
	}
	return mismatch()
}
