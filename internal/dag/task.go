package dag

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TaskType selects how the worker executes a task.
type TaskType string

const (
	TaskTool               TaskType = "tool"
	TaskDaemonExecutedTool TaskType = "daemonExecutedTool"
	TaskTransformMappings  TaskType = "transformMappings"
	TaskCopyMappings       TaskType = "copyMappings"
)

// MappingsFormat names an on-disk renaming table format understood by the worker.
type MappingsFormat string

const (
	FormatTiny1    MappingsFormat = "tiny1"
	FormatTiny2    MappingsFormat = "tiny2"
	FormatSRG      MappingsFormat = "srg"
	FormatXSRG     MappingsFormat = "xsrg"
	FormatCSRG     MappingsFormat = "csrg"
	FormatTSRG     MappingsFormat = "tsrg"
	FormatTSRG2    MappingsFormat = "tsrg2"
	FormatProguard MappingsFormat = "proguard"
)

// MappingsSlot is the output slot of transformMappings and copyMappings tasks.
const MappingsSlot = "output"

// Task is one named node of the graph.
type Task struct {
	Name string
	Type TaskType

	// Tool and Args are used by tool and daemonExecutedTool tasks.
	Tool *Input
	Args []Argument

	// Source, Format and SourceJar are used by the mappings task types.
	Source    *MappingsSource
	Format    MappingsFormat
	SourceJar *Input

	// Parallelism names an advisory concurrency group.
	Parallelism        string
	ClasspathScopedJVM bool
}

// Slots returns the declared output slot names in declaration order.
func (t Task) Slots() []string {
	var out []string
	for _, a := range t.Args {
		if a.Kind == ArgFileOutput {
			out = append(out, a.Name)
		}
	}
	if t.Type == TaskTransformMappings || t.Type == TaskCopyMappings {
		out = append(out, MappingsSlot)
	}
	return out
}

// HasSlot reports whether the task declares the named output slot.
func (t Task) HasSlot(name string) bool {
	for _, s := range t.Slots() {
		if s == name {
			return true
		}
	}
	return false
}

// Inputs returns every input tree the task consumes.
func (t Task) Inputs() []Input {
	var out []Input
	if t.Tool != nil {
		out = append(out, *t.Tool)
	}
	for _, a := range t.Args {
		out = append(out, a.AllInputs()...)
	}
	if t.Source != nil {
		out = append(out, t.Source.Inputs()...)
	}
	if t.SourceJar != nil {
		out = append(out, *t.SourceJar)
	}
	return out
}

// References returns every task output the task depends on.
func (t Task) References() []Output {
	var out []Output
	for _, in := range t.Inputs() {
		out = append(out, in.Outputs()...)
	}
	return out
}

// Parameters returns every parameter name the task reads.
func (t Task) Parameters() []string {
	var out []string
	for _, in := range t.Inputs() {
		out = append(out, in.Parameters()...)
	}
	return out
}

func (t Task) clone() Task {
	if t.Tool != nil {
		tool := t.Tool.clone()
		t.Tool = &tool
	}
	if t.Args != nil {
		args := make([]Argument, len(t.Args))
		for i, a := range t.Args {
			args[i] = a.clone()
		}
		t.Args = args
	}
	if t.Source != nil {
		src := t.Source.clone()
		t.Source = &src
	}
	if t.SourceJar != nil {
		jar := t.SourceJar.clone()
		t.SourceJar = &jar
	}
	return t
}

// validateShape checks the task in isolation. Cross-task references are
// checked when the graph is frozen.
func (t Task) validateShape() error {
	if t.Name == "" {
		return invalidf("task name is empty")
	}
	if strings.Contains(t.Name, ".") {
		return invalidf("task %q: name must not contain '.'", t.Name)
	}
	switch t.Type {
	case TaskTool, TaskDaemonExecutedTool:
		if t.Tool == nil {
			return invalidf("task %q: %s task has no tool", t.Name, t.Type)
		}
		if err := t.Tool.validate(); err != nil {
			return invalidf("task %q: tool: %v", t.Name, err)
		}
		if t.Source != nil || t.SourceJar != nil || t.Format != "" {
			return invalidf("task %q: %s task carries mappings fields", t.Name, t.Type)
		}
	case TaskTransformMappings, TaskCopyMappings:
		if t.Source == nil {
			return invalidf("task %q: %s task has no source", t.Name, t.Type)
		}
		if t.Format == "" {
			return invalidf("task %q: %s task has no format", t.Name, t.Type)
		}
		if t.Tool != nil {
			return invalidf("task %q: %s task carries a tool", t.Name, t.Type)
		}
		if err := t.Source.validate(); err != nil {
			return invalidf("task %q: source: %v", t.Name, err)
		}
		if t.Type == TaskCopyMappings && t.Source.Kind != SourceFile {
			return invalidf("task %q: copyMappings needs a file source, got %s", t.Name, t.Source.Kind)
		}
		if t.SourceJar != nil {
			if err := t.SourceJar.validate(); err != nil {
				return invalidf("task %q: source jar: %v", t.Name, err)
			}
		}
	default:
		return invalidf("task %q: unknown task type %q", t.Name, t.Type)
	}

	seen := make(map[string]struct{})
	for i, a := range t.Args {
		if err := a.validate(); err != nil {
			return invalidf("task %q: argument %d: %v", t.Name, i, err)
		}
	}
	for _, s := range t.Slots() {
		if _, dup := seen[s]; dup {
			return invalidf("task %q: output slot %q declared twice", t.Name, s)
		}
		seen[s] = struct{}{}
	}
	return nil
}

type taskWire struct {
	Name               string          `json:"name"`
	Type               TaskType        `json:"type"`
	Tool               *Input          `json:"tool,omitempty"`
	Args               []Argument      `json:"args,omitempty"`
	Source             *MappingsSource `json:"source,omitempty"`
	Format             MappingsFormat  `json:"format,omitempty"`
	SourceJar          *Input          `json:"sourceJar,omitempty"`
	Parallelism        string          `json:"parallelism,omitempty"`
	ClasspathScopedJVM bool            `json:"classpathScopedJvm,omitempty"`
}

func (t Task) MarshalJSON() ([]byte, error) {
	return json.Marshal(taskWire(t))
}

func (t *Task) UnmarshalJSON(data []byte) error {
	var w taskWire
	if err := decodeStrict(data, &w); err != nil {
		return fmt.Errorf("decode task: %w", err)
	}
	out := Task(w)
	if err := out.validateShape(); err != nil {
		return fmt.Errorf("decode task: %w", err)
	}
	*t = out
	return nil
}
