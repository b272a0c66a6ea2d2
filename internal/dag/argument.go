package dag

import (
	"encoding/json"
	"fmt"
)

// ArgumentKind says what role an argument plays for the worker.
type ArgumentKind string

const (
	ArgValue         ArgumentKind = "value"
	ArgFileInput     ArgumentKind = "fileInput"
	ArgFileOutput    ArgumentKind = "fileOutput"
	ArgClasspath     ArgumentKind = "classpath"
	ArgZip           ArgumentKind = "zip"
	ArgLibrariesFile ArgumentKind = "librariesFile"
)

// PathSensitivity tells the worker how much of an input file's path is part
// of the task's identity.
type PathSensitivity string

const (
	PathNone     PathSensitivity = "none"
	PathNameOnly PathSensitivity = "nameOnly"
	PathAbsolute PathSensitivity = "absolute"
)

// DefaultPattern is substituted by the rendered argument.
const DefaultPattern = "{}"

// Argument is one command-line argument handle with role metadata.
//
// Input is used by value and fileInput arguments, Inputs by classpath, zip and
// librariesFile. Name and Extension declare the slot of a fileOutput.
type Argument struct {
	Kind        ArgumentKind
	Pattern     string
	Input       Input
	Inputs      []Input
	Name        string
	Extension   string
	Sensitivity PathSensitivity
	Prefix      string
}

// Literal is a value argument carrying a fixed string.
func Literal(s string) Argument {
	return Argument{Kind: ArgValue, Pattern: DefaultPattern, Input: Direct(StringValue(s))}
}

func ValueArg(pattern string, in Input) Argument {
	return Argument{Kind: ArgValue, Pattern: patternOr(pattern), Input: in.clone()}
}

func FileInputArg(pattern string, in Input, sensitivity PathSensitivity) Argument {
	return Argument{Kind: ArgFileInput, Pattern: patternOr(pattern), Input: in.clone(), Sensitivity: sensitivityOr(sensitivity)}
}

func FileOutputArg(pattern, name, extension string) Argument {
	return Argument{Kind: ArgFileOutput, Pattern: patternOr(pattern), Name: name, Extension: extension}
}

func ClasspathArg(pattern string, inputs ...Input) Argument {
	return Argument{Kind: ArgClasspath, Pattern: patternOr(pattern), Inputs: cloneInputs(inputs)}
}

func ZipArg(pattern string, sensitivity PathSensitivity, inputs ...Input) Argument {
	return Argument{Kind: ArgZip, Pattern: patternOr(pattern), Inputs: cloneInputs(inputs), Sensitivity: sensitivityOr(sensitivity)}
}

func LibrariesFileArg(pattern, prefix string, inputs ...Input) Argument {
	return Argument{Kind: ArgLibrariesFile, Pattern: patternOr(pattern), Inputs: cloneInputs(inputs), Prefix: prefix}
}

func patternOr(p string) string {
	if p == "" {
		return DefaultPattern
	}
	return p
}

func sensitivityOr(s PathSensitivity) PathSensitivity {
	if s == "" {
		return PathNone
	}
	return s
}

// AllInputs returns the inputs the argument consumes.
func (a Argument) AllInputs() []Input {
	switch a.Kind {
	case ArgValue, ArgFileInput:
		return []Input{a.Input}
	case ArgClasspath, ArgZip, ArgLibrariesFile:
		return a.Inputs
	default:
		return nil
	}
}

func cloneInputs(in []Input) []Input {
	if in == nil {
		return nil
	}
	out := make([]Input, len(in))
	for i, x := range in {
		out[i] = x.clone()
	}
	return out
}

func (a Argument) clone() Argument {
	a.Input = a.Input.clone()
	a.Inputs = cloneInputs(a.Inputs)
	return a
}

func validSensitivity(s PathSensitivity) bool {
	switch s {
	case PathNone, PathNameOnly, PathAbsolute:
		return true
	}
	return false
}

func (a Argument) validate() error {
	switch a.Kind {
	case ArgValue:
		return a.Input.validate()
	case ArgFileInput:
		if !validSensitivity(a.Sensitivity) {
			return fmt.Errorf("fileInput has invalid path sensitivity %q", a.Sensitivity)
		}
		return a.Input.validate()
	case ArgFileOutput:
		if a.Name == "" {
			return fmt.Errorf("fileOutput has no name")
		}
		return nil
	case ArgZip:
		if !validSensitivity(a.Sensitivity) {
			return fmt.Errorf("zip has invalid path sensitivity %q", a.Sensitivity)
		}
	case ArgClasspath, ArgLibrariesFile:
	default:
		return fmt.Errorf("unknown argument kind %q", a.Kind)
	}
	for i, in := range a.Inputs {
		if err := in.validate(); err != nil {
			return fmt.Errorf("%s input %d: %w", a.Kind, i, err)
		}
	}
	return nil
}

type argumentWire struct {
	Type            ArgumentKind    `json:"type"`
	Pattern         string          `json:"pattern"`
	Input           *Input          `json:"input,omitempty"`
	Inputs          []Input         `json:"inputs,omitempty"`
	Name            string          `json:"name,omitempty"`
	Extension       string          `json:"extension,omitempty"`
	PathSensitivity PathSensitivity `json:"pathSensitivity,omitempty"`
	Prefix          string          `json:"prefix,omitempty"`
}

func (a Argument) MarshalJSON() ([]byte, error) {
	if err := a.validate(); err != nil {
		return nil, err
	}
	w := argumentWire{
		Type:            a.Kind,
		Pattern:         patternOr(a.Pattern),
		Inputs:          a.Inputs,
		Name:            a.Name,
		Extension:       a.Extension,
		PathSensitivity: a.Sensitivity,
		Prefix:          a.Prefix,
	}
	if a.Kind == ArgValue || a.Kind == ArgFileInput {
		in := a.Input
		w.Input = &in
	}
	return json.Marshal(w)
}

func (a *Argument) UnmarshalJSON(data []byte) error {
	var w argumentWire
	if err := decodeStrict(data, &w); err != nil {
		return fmt.Errorf("decode argument: %w", err)
	}
	out := Argument{
		Kind:        w.Type,
		Pattern:     patternOr(w.Pattern),
		Inputs:      w.Inputs,
		Name:        w.Name,
		Extension:   w.Extension,
		Sensitivity: w.PathSensitivity,
		Prefix:      w.Prefix,
	}
	switch w.Type {
	case ArgValue, ArgFileInput:
		if w.Input == nil {
			return fmt.Errorf("decode argument: %s is missing \"input\"", w.Type)
		}
		out.Input = *w.Input
	}
	if err := out.validate(); err != nil {
		return fmt.Errorf("decode argument: %w", err)
	}
	*a = out
	return nil
}
