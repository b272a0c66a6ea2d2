package dag

import (
	"sort"
)

// Config is a frozen, validated pipeline. Accessors return copies.
type Config struct {
	tasks      map[string]Task
	parameters map[string]Value
	aliases    map[string]Target
	order      []string
}

func (c *Config) Task(name string) (Task, bool) {
	t, ok := c.tasks[name]
	if !ok {
		return Task{}, false
	}
	return t.clone(), true
}

// TaskNames returns all task names in lexicographic order.
func (c *Config) TaskNames() []string { return sortedKeys(c.tasks) }

func (c *Config) Len() int { return len(c.tasks) }

func (c *Config) Parameter(name string) (Value, bool) {
	v, ok := c.parameters[name]
	if !ok {
		return Value{}, false
	}
	return v.clone(), true
}

func (c *Config) Parameters() map[string]Value {
	out := make(map[string]Value, len(c.parameters))
	for k, v := range c.parameters {
		out[k] = v.clone()
	}
	return out
}

func (c *Config) Aliases() map[string]Target {
	out := make(map[string]Target, len(c.aliases))
	for k, v := range c.aliases {
		out[k] = v
	}
	return out
}

// Resolve follows aliases until it reaches a task output.
func (c *Config) Resolve(t Target) (Output, error) {
	return resolveTarget(c.tasks, c.aliases, t)
}

// TopologicalOrder returns task names so that every task follows the tasks it
// depends on. Ties are broken lexicographically.
func (c *Config) TopologicalOrder() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Builder reopens the config for further splicing.
func (c *Config) Builder() *Builder {
	b := NewBuilder()
	for name, t := range c.tasks {
		b.tasks[name] = t.clone()
	}
	for name, v := range c.parameters {
		b.parameters[name] = v.clone()
	}
	for name, t := range c.aliases {
		b.aliases[name] = t
	}
	return b
}

// Prune returns the part of the config a work item can reach: the tasks its
// targets depend on, the parameters those tasks read and the aliases its
// targets go through.
func (c *Config) Prune(work WorkItem) (*Config, error) {
	out := &Config{
		tasks:      make(map[string]Task),
		parameters: make(map[string]Value),
		aliases:    make(map[string]Target),
	}

	var queue []string
	for _, target := range work.Targets() {
		o, err := c.Resolve(target)
		if err != nil {
			return nil, err
		}
		for cur := target; cur.IsAlias(); cur = c.aliases[cur.Alias] {
			if _, seen := out.aliases[cur.Alias]; seen {
				break
			}
			out.aliases[cur.Alias] = c.aliases[cur.Alias]
		}
		queue = append(queue, o.Task)
	}

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if _, seen := out.tasks[name]; seen {
			continue
		}
		t := c.tasks[name]
		out.tasks[name] = t.clone()
		for _, ref := range t.References() {
			queue = append(queue, ref.Task)
		}
		for _, p := range t.Parameters() {
			out.parameters[p] = c.parameters[p].clone()
		}
	}

	for _, name := range c.order {
		if _, ok := out.tasks[name]; ok {
			out.order = append(out.order, name)
		}
	}
	return out, nil
}

// Files returns, sorted and deduplicated, every file path the pipeline reads
// directly: file values in task inputs and in parameters.
func (c *Config) Files() []string {
	set := make(map[string]struct{})
	for _, t := range c.tasks {
		for _, in := range t.Inputs() {
			for _, f := range in.Files() {
				set[f] = struct{}{}
			}
		}
	}
	for _, v := range c.parameters {
		for _, f := range v.Files() {
			set[f] = struct{}{}
		}
	}
	return sortedKeys(set)
}

// Document renders the config and the given work items as a pipeline document.
func (c *Config) Document(work ...WorkItem) *Document {
	doc := &Document{
		Version:    DocumentVersion,
		Tasks:      make([]Task, 0, len(c.tasks)),
		Parameters: c.Parameters(),
		Aliases:    c.Aliases(),
		WorkItems:  make([]WorkItem, 0, len(work)),
	}
	for _, name := range sortedKeys(c.tasks) {
		doc.Tasks = append(doc.Tasks, c.tasks[name].clone())
	}
	for _, w := range work {
		cp := make(WorkItem, len(w))
		for k, v := range w {
			cp[k] = v
		}
		doc.WorkItems = append(doc.WorkItems, cp)
	}
	return doc
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
