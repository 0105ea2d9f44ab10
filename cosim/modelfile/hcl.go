package modelfile

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// hclFile is the HCL layout of a model file:
//
//	slave "sine" {
//	  type    = "sine"
//	  initial = { a = 2 }
//	}
//	connection {
//	  from = "sine.y"
//	  to   = "id.realIn"
//	}
//	event {
//	  time     = 0.5
//	  slave    = "sine"
//	  variable = "a"
//	  value    = 3
//	}
//	run {
//	  duration  = 1
//	  step_size = 0.1
//	}
type hclFile struct {
	Slaves      []hclSlave   `hcl:"slave,block"`
	Connections []Connection `hcl:"connection,block"`
	Events      []hclEvent   `hcl:"event,block"`
	Run         *Run         `hcl:"run,block"`
}

type hclSlave struct {
	Name    string    `hcl:"name,label"`
	Type    string    `hcl:"type"`
	Initial cty.Value `hcl:"initial,optional"`
}

type hclEvent struct {
	Time     float64   `hcl:"time"`
	Slave    string    `hcl:"slave"`
	Variable string    `hcl:"variable"`
	Value    cty.Value `hcl:"value"`
}

// LoadHCL decodes an HCL model file. filename is used in diagnostics.
func LoadHCL(data []byte, filename string) (*File, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL model file %s: %s", filename, diags.Error())
	}
	var raw hclFile
	if diags := gohcl.DecodeBody(file.Body, nil, &raw); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL model file %s: %s", filename, diags.Error())
	}

	f, err := raw.file()
	if err != nil {
		return nil, fmt.Errorf("model file %s: %w", filename, err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model file %s: %w", filename, err)
	}
	return f, nil
}

func (h *hclFile) file() (*File, error) {
	f := &File{Connections: h.Connections}
	for _, s := range h.Slaves {
		slave := Slave{Name: s.Name, Type: s.Type}
		initial, err := ctyToNative(s.Initial)
		if err != nil {
			return nil, fmt.Errorf("slave %q: initial: %w", s.Name, err)
		}
		switch m := initial.(type) {
		case nil:
		case map[string]any:
			slave.Initial = m
		default:
			return nil, fmt.Errorf("slave %q: initial must be an object, got %s", s.Name, s.Initial.Type().FriendlyName())
		}
		f.Slaves = append(f.Slaves, slave)
	}
	for i, e := range h.Events {
		v, err := ctyToNative(e.Value)
		if err != nil {
			return nil, fmt.Errorf("event %d: value: %w", i, err)
		}
		if _, nested := v.(map[string]any); nested {
			return nil, fmt.Errorf("event %d: value must be a scalar", i)
		}
		if _, nested := v.([]any); nested {
			return nil, fmt.Errorf("event %d: value must be a scalar", i)
		}
		f.Events = append(f.Events, Event{Time: e.Time, Slave: e.Slave, Variable: e.Variable, Value: v})
	}
	if h.Run != nil {
		f.Run = *h.Run
	}
	return f, nil
}

// ctyToNative converts a cty value to the Go shapes the YAML decoder
// produces: float64, bool, string, map[string]any and []any. Null and
// unknown values become nil.
func ctyToNative(val cty.Value) (any, error) {
	if !val.IsKnown() || val.IsNull() {
		return nil, nil
	}
	ty := val.Type()
	switch {
	case ty == cty.String:
		return val.AsString(), nil
	case ty == cty.Number:
		f, _ := val.AsBigFloat().Float64()
		return f, nil
	case ty == cty.Bool:
		return val.True(), nil
	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any, val.LengthInt())
		for it := val.ElementIterator(); it.Next(); {
			k, v := it.Element()
			nv, err := ctyToNative(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k.AsString(), err)
			}
			out[k.AsString()] = nv
		}
		return out, nil
	case ty.IsTupleType() || ty.IsListType():
		var out []any
		for it := val.ElementIterator(); it.Next(); {
			_, v := it.Element()
			nv, err := ctyToNative(v)
			if err != nil {
				return nil, err
			}
			out = append(out, nv)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported value type %s", ty.FriendlyName())
}
