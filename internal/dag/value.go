package dag

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// ValueKind discriminates the literal values a pipeline can carry.
type ValueKind string

const (
	ValueFile     ValueKind = "file"
	ValueArtifact ValueKind = "artifact"
	ValueTool     ValueKind = "tool"
	ValueString   ValueKind = "string"
	ValueList     ValueKind = "list"
)

// ListOrdering says whether a list value's order is significant.
//
// Classpaths need OrderOriginal. Lists with OrderContents are treated as sets:
// their canonical encoding sorts the elements, so permutations share an identity.
type ListOrdering string

const (
	OrderOriginal ListOrdering = "original"
	OrderContents ListOrdering = "contents"
)

// Value is a tagged union. Text holds the payload of the scalar kinds (path,
// coordinate, tool name or literal); Elems and Ordering are used by lists only.
type Value struct {
	Kind     ValueKind
	Text     string
	Elems    []Value
	Ordering ListOrdering
}

func FileValue(path string) Value { return Value{Kind: ValueFile, Text: path} }
func ArtifactValue(coordinate string) Value { return Value{Kind: ValueArtifact, Text: coordinate} }
func ToolValue(name string) Value { return Value{Kind: ValueTool, Text: name} }
func StringValue(s string) Value { return Value{Kind: ValueString, Text: s} }

// ListValue builds a list value. The element slice is copied.
func ListValue(ordering ListOrdering, elems ...Value) Value {
	out := make([]Value, len(elems))
	for i, e := range elems {
		out[i] = e.clone()
	}
	return Value{Kind: ValueList, Elems: out, Ordering: ordering}
}

// Files returns every file path reachable from the value, in encounter order.
func (v Value) Files() []string {
	var out []string
	var walk func(Value)
	walk = func(v Value) {
		switch v.Kind {
		case ValueFile:
			out = append(out, v.Text)
		case ValueList:
			for _, e := range v.Elems {
				walk(e)
			}
		case ValueArtifact, ValueTool, ValueString:
		}
	}
	walk(v)
	return out
}

func (v Value) clone() Value {
	if v.Elems == nil {
		return v
	}
	elems := make([]Value, len(v.Elems))
	for i, e := range v.Elems {
		elems[i] = e.clone()
	}
	v.Elems = elems
	return v
}

// Equal reports whether two values have the same canonical encoding.
func (v Value) Equal(o Value) bool {
	a, errA := json.Marshal(v)
	b, errB := json.Marshal(o)
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

func (v Value) validate() error {
	switch v.Kind {
	case ValueFile, ValueArtifact, ValueTool:
		if v.Text == "" {
			return fmt.Errorf("%s value is empty", v.Kind)
		}
		return nil
	case ValueString:
		return nil
	case ValueList:
		switch v.Ordering {
		case OrderOriginal, OrderContents:
		default:
			return fmt.Errorf("invalid list ordering %q", v.Ordering)
		}
		for i, e := range v.Elems {
			if err := e.validate(); err != nil {
				return fmt.Errorf("list element %d: %w", i, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown value kind %q", v.Kind)
	}
}

type valueWire struct {
	Type     ValueKind         `json:"type"`
	Path     string            `json:"path,omitempty"`
	Artifact string            `json:"artifact,omitempty"`
	Tool     string            `json:"tool,omitempty"`
	Value    *string           `json:"value,omitempty"`
	Ordering ListOrdering      `json:"ordering,omitempty"`
	Values   []json.RawMessage `json:"values,omitempty"`
}

// MarshalJSON encodes the canonical form of the value.
func (v Value) MarshalJSON() ([]byte, error) {
	if err := v.validate(); err != nil {
		return nil, err
	}
	w := valueWire{Type: v.Kind}
	switch v.Kind {
	case ValueFile:
		w.Path = v.Text
	case ValueArtifact:
		w.Artifact = v.Text
	case ValueTool:
		w.Tool = v.Text
	case ValueString:
		s := v.Text
		w.Value = &s
	case ValueList:
		w.Ordering = v.Ordering
		w.Values = make([]json.RawMessage, 0, len(v.Elems))
		for _, e := range v.Elems {
			b, err := json.Marshal(e)
			if err != nil {
				return nil, err
			}
			w.Values = append(w.Values, b)
		}
		if v.Ordering == OrderContents {
			sort.SliceStable(w.Values, func(i, j int) bool {
				return bytes.Compare(w.Values[i], w.Values[j]) < 0
			})
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a value, rejecting unknown kinds and fields.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w valueWire
	if err := decodeStrict(data, &w); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	out := Value{Kind: w.Type}
	switch w.Type {
	case ValueFile:
		out.Text = w.Path
	case ValueArtifact:
		out.Text = w.Artifact
	case ValueTool:
		out.Text = w.Tool
	case ValueString:
		if w.Value == nil {
			return fmt.Errorf("decode value: string value is missing \"value\"")
		}
		out.Text = *w.Value
	case ValueList:
		out.Ordering = w.Ordering
		out.Elems = make([]Value, len(w.Values))
		for i, raw := range w.Values {
			if err := json.Unmarshal(raw, &out.Elems[i]); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("decode value: unknown value kind %q", w.Type)
	}
	if err := out.validate(); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	*v = out
	return nil
}
