package dag

import (
	"strings"
)

// Builder is the open form of a pipeline. Stages add tasks, parameters and
// aliases to it, splice arguments into existing tasks and rebind aliases.
// Freeze validates it and produces an immutable Config.
//
// A Builder is not safe for concurrent use.
type Builder struct {
	tasks      map[string]Task
	parameters map[string]Value
	aliases    map[string]Target
}

func NewBuilder() *Builder {
	return &Builder{
		tasks:      make(map[string]Task),
		parameters: make(map[string]Value),
		aliases:    make(map[string]Target),
	}
}

// AddTask adds a task. The task is copied; later changes to t do not leak in.
func (b *Builder) AddTask(t Task) error {
	if err := t.validateShape(); err != nil {
		return err
	}
	if _, exists := b.tasks[t.Name]; exists {
		return duplicateTask(t.Name)
	}
	b.tasks[t.Name] = t.clone()
	return nil
}

func (b *Builder) HasTask(name string) bool {
	_, ok := b.tasks[name]
	return ok
}

// Task returns a copy of the named task.
func (b *Builder) Task(name string) (Task, bool) {
	t, ok := b.tasks[name]
	if !ok {
		return Task{}, false
	}
	return t.clone(), true
}

// AppendArgs appends arguments to an existing task. This is the only mutation
// allowed on a task once it has been added.
func (b *Builder) AppendArgs(name string, args ...Argument) error {
	t, ok := b.tasks[name]
	if !ok {
		return danglingf("cannot append arguments to missing task %q", name)
	}
	updated := t.clone()
	for _, a := range args {
		updated.Args = append(updated.Args, a.clone())
	}
	if err := updated.validateShape(); err != nil {
		return err
	}
	b.tasks[name] = updated
	return nil
}

// AddAlias binds a new alias. Binding an existing name fails; use RebindAlias.
func (b *Builder) AddAlias(name string, target Target) error {
	if err := validAliasName(name); err != nil {
		return err
	}
	if _, exists := b.aliases[name]; exists {
		return invalidf("alias %q already exists", name)
	}
	b.aliases[name] = target
	return nil
}

// RebindAlias points an alias at a new target, creating it if needed.
func (b *Builder) RebindAlias(name string, target Target) error {
	if err := validAliasName(name); err != nil {
		return err
	}
	b.aliases[name] = target
	return nil
}

func (b *Builder) Alias(name string) (Target, bool) {
	t, ok := b.aliases[name]
	return t, ok
}

func (b *Builder) Aliases() map[string]Target {
	out := make(map[string]Target, len(b.aliases))
	for k, v := range b.aliases {
		out[k] = v
	}
	return out
}

// SetParameter binds or replaces a named parameter. Values are validated by Freeze.
func (b *Builder) SetParameter(name string, v Value) {
	b.parameters[name] = v.clone()
}

func (b *Builder) Parameter(name string) (Value, bool) {
	v, ok := b.parameters[name]
	if !ok {
		return Value{}, false
	}
	return v.clone(), true
}

// Merge copies another fragment into b. Task names must not collide; a
// parameter or alias present in both must be bound identically. Nothing is
// changed when Merge fails.
func (b *Builder) Merge(other *Builder) error {
	for _, name := range sortedKeys(other.tasks) {
		if _, exists := b.tasks[name]; exists {
			return duplicateTask(name)
		}
	}
	for _, name := range sortedKeys(other.parameters) {
		if mine, exists := b.parameters[name]; exists && !mine.Equal(other.parameters[name]) {
			return invalidf("parameter %q is bound differently in merged fragments", name)
		}
	}
	for _, name := range sortedKeys(other.aliases) {
		if mine, exists := b.aliases[name]; exists && mine != other.aliases[name] {
			return invalidf("alias %q is bound differently in merged fragments", name)
		}
	}
	for name, t := range other.tasks {
		b.tasks[name] = t.clone()
	}
	for name, v := range other.parameters {
		b.parameters[name] = v.clone()
	}
	for name, t := range other.aliases {
		b.aliases[name] = t
	}
	return nil
}

// Clone returns an independent copy of the builder.
func (b *Builder) Clone() *Builder {
	out := NewBuilder()
	_ = out.Merge(b)
	return out
}

// Resolve follows aliases until it reaches a task output.
func (b *Builder) Resolve(t Target) (Output, error) {
	return resolveTarget(b.tasks, b.aliases, t)
}

// Freeze validates the builder and returns an immutable Config. The builder
// stays usable; later changes do not affect the returned Config.
func (b *Builder) Freeze() (*Config, error) {
	c := &Config{
		tasks:      make(map[string]Task, len(b.tasks)),
		parameters: make(map[string]Value, len(b.parameters)),
		aliases:    make(map[string]Target, len(b.aliases)),
	}
	for name, t := range b.tasks {
		c.tasks[name] = t.clone()
	}
	for name, v := range b.parameters {
		c.parameters[name] = v.clone()
	}
	for name, t := range b.aliases {
		c.aliases[name] = t
	}
	order, err := validateConfig(c)
	if err != nil {
		return nil, err
	}
	c.order = order
	return c, nil
}

func validAliasName(name string) error {
	if name == "" {
		return invalidf("alias name is empty")
	}
	if strings.Contains(name, ".") {
		return invalidf("alias %q: name must not contain '.'", name)
	}
	return nil
}

func resolveTarget(tasks map[string]Task, aliases map[string]Target, t Target) (Output, error) {
	var path []string
	cur := t
	for hops := 0; cur.IsAlias(); hops++ {
		for i, seen := range path {
			if seen == cur.Alias {
				return Output{}, aliasCycle(append(path[i:], cur.Alias))
			}
		}
		next, ok := aliases[cur.Alias]
		if !ok {
			if len(path) == 0 {
				return Output{}, danglingf("unknown alias %q", cur.Alias)
			}
			return Output{}, danglingf("alias %q points at unknown alias %q", path[len(path)-1], cur.Alias)
		}
		path = append(path, cur.Alias)
		if hops >= len(aliases) {
			return Output{}, aliasCycle(path)
		}
		cur = next
	}
	task, ok := tasks[cur.Output.Task]
	if !ok {
		return Output{}, danglingf("target %q: no task %q", t.String(), cur.Output.Task)
	}
	if !task.HasSlot(cur.Output.Name) {
		return Output{}, danglingf("target %q: task %q declares no output %q", t.String(), cur.Output.Task, cur.Output.Name)
	}
	return cur.Output, nil
}
