package dag

import (
	"encoding/json"
	"fmt"
)

// InputKind discriminates where an argument gets its data from.
type InputKind string

const (
	InputDirect    InputKind = "direct"
	InputParameter InputKind = "parameter"
	InputTask      InputKind = "task"
	InputList      InputKind = "list"
)

// Input is a tagged union: a literal value, a named parameter, an output of
// another task, or a list of inputs. Task inputs are the edges of the graph.
type Input struct {
	Kind      InputKind
	Value     Value
	Parameter string
	Output    Output
	Elems     []Input
}

func Direct(v Value) Input { return Input{Kind: InputDirect, Value: v.clone()} }
func Param(name string) Input { return Input{Kind: InputParameter, Parameter: name} }
func TaskOutput(task, slot string) Input { return Input{Kind: InputTask, Output: Output{Task: task, Name: slot}} }

// ListInputs groups several inputs into one. The slice is copied.
func ListInputs(elems ...Input) Input {
	out := make([]Input, len(elems))
	for i, e := range elems {
		out[i] = e.clone()
	}
	return Input{Kind: InputList, Elems: out}
}

// Outputs returns every task output the input refers to, in encounter order.
func (in Input) Outputs() []Output {
	var out []Output
	in.walk(func(x Input) {
		if x.Kind == InputTask {
			out = append(out, x.Output)
		}
	})
	return out
}

// Parameters returns every parameter name the input refers to, in encounter order.
func (in Input) Parameters() []string {
	var out []string
	in.walk(func(x Input) {
		if x.Kind == InputParameter {
			out = append(out, x.Parameter)
		}
	})
	return out
}

// Files returns the file paths of direct values nested in the input.
func (in Input) Files() []string {
	var out []string
	in.walk(func(x Input) {
		if x.Kind == InputDirect {
			out = append(out, x.Value.Files()...)
		}
	})
	return out
}

func (in Input) walk(fn func(Input)) {
	fn(in)
	if in.Kind == InputList {
		for _, e := range in.Elems {
			e.walk(fn)
		}
	}
}

func (in Input) clone() Input {
	in.Value = in.Value.clone()
	if in.Elems != nil {
		elems := make([]Input, len(in.Elems))
		for i, e := range in.Elems {
			elems[i] = e.clone()
		}
		in.Elems = elems
	}
	return in
}

func (in Input) validate() error {
	switch in.Kind {
	case InputDirect:
		return in.Value.validate()
	case InputParameter:
		if in.Parameter == "" {
			return fmt.Errorf("parameter input has no name")
		}
		return nil
	case InputTask:
		if in.Output.Task == "" || in.Output.Name == "" {
			return fmt.Errorf("task input %q is incomplete", in.Output.String())
		}
		return nil
	case InputList:
		for i, e := range in.Elems {
			if err := e.validate(); err != nil {
				return fmt.Errorf("list input %d: %w", i, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown input kind %q", in.Kind)
	}
}

type inputWire struct {
	Type      InputKind `json:"type"`
	Value     *Value    `json:"value,omitempty"`
	Parameter string    `json:"parameter,omitempty"`
	Output    *Output   `json:"output,omitempty"`
	Inputs    []Input   `json:"inputs,omitempty"`
}

func (in Input) MarshalJSON() ([]byte, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	w := inputWire{Type: in.Kind}
	switch in.Kind {
	case InputDirect:
		v := in.Value
		w.Value = &v
	case InputParameter:
		w.Parameter = in.Parameter
	case InputTask:
		o := in.Output
		w.Output = &o
	case InputList:
		w.Inputs = in.Elems
	}
	return json.Marshal(w)
}

func (in *Input) UnmarshalJSON(data []byte) error {
	var w inputWire
	if err := decodeStrict(data, &w); err != nil {
		return fmt.Errorf("decode input: %w", err)
	}
	out := Input{Kind: w.Type}
	switch w.Type {
	case InputDirect:
		if w.Value == nil {
			return fmt.Errorf("decode input: direct input is missing \"value\"")
		}
		out.Value = *w.Value
	case InputParameter:
		out.Parameter = w.Parameter
	case InputTask:
		if w.Output == nil {
			return fmt.Errorf("decode input: task input is missing \"output\"")
		}
		out.Output = *w.Output
	case InputList:
		out.Elems = w.Inputs
		if out.Elems == nil {
			out.Elems = []Input{}
		}
	default:
		return fmt.Errorf("decode input: unknown input kind %q", w.Type)
	}
	if err := out.validate(); err != nil {
		return fmt.Errorf("decode input: %w", err)
	}
	*in = out
	return nil
}
