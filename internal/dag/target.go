package dag

import (
	"fmt"
	"sort"
	"strings"
)

// Output names one declared output slot of one task.
type Output struct {
	Task string `json:"task"`
	Name string `json:"name"`
}

func (o Output) String() string { return o.Task + "." + o.Name }

// Target is what a caller asks for: either an alias or a task output.
// A zero Alias means the target is Output.
type Target struct {
	Alias  string
	Output Output
}

func AliasTarget(name string) Target { return Target{Alias: name} }
func OutputTarget(o Output) Target { return Target{Output: o} }

// ParseTarget splits on the first '.': "task.slot" is an output, a bare name is an alias.
func ParseTarget(s string) Target {
	task, slot, ok := strings.Cut(s, ".")
	if !ok {
		return AliasTarget(s)
	}
	return OutputTarget(Output{Task: task, Name: slot})
}

func (t Target) IsAlias() bool { return t.Alias != "" }

func (t Target) String() string {
	if t.IsAlias() {
		return t.Alias
	}
	return t.Output.String()
}

func (t Target) MarshalText() ([]byte, error) {
	if !t.IsAlias() && (t.Output.Task == "" || t.Output.Name == "") {
		return nil, fmt.Errorf("empty target")
	}
	return []byte(t.String()), nil
}

func (t *Target) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("empty target")
	}
	parsed := ParseTarget(string(b))
	if !parsed.IsAlias() && (parsed.Output.Task == "" || parsed.Output.Name == "") {
		return fmt.Errorf("malformed target %q", string(b))
	}
	*t = parsed
	return nil
}

// WorkItem maps each requested target to the path its result is copied to.
type WorkItem map[Target]string

// Targets returns the keys sorted by their string form.
func (w WorkItem) Targets() []Target {
	out := make([]Target, 0, len(w))
	for t := range w {
		out = append(out, t)
	}
	sortTargets(out)
	return out
}

// Destinations returns the destination paths in target order.
func (w WorkItem) Destinations() []string {
	targets := w.Targets()
	out := make([]string, len(targets))
	for i, t := range targets {
		out[i] = w[t]
	}
	return out
}

func sortTargets(ts []Target) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].String() < ts[j].String() })
}
