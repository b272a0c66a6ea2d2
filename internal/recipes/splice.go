package recipes

import (
	"fmt"

	"crochet/internal/dag"
)

const (
	AccessTransformersTask      = "accessTransformers"
	TransformAccessWidenersTask = "transformAccessWideners"
	AccessWidenersParam         = "accessWideners"

	InterfaceInjectionTask          = "interfaceInjection"
	TransformInterfaceInjectionTask = "transformInterfaceInjection"
	InjectedInterfacesParam         = "fabricInjectedInterfaces"
)

// AccessWidenerOptions configures SpliceAccessWideners.
type AccessWidenerOptions struct {
	// Files are access widener files; their order is not significant.
	Files []string
	// Mappings is an intermediary to named table.
	Mappings dag.Input
	// Task is the access transformer task to extend. Defaults to
	// AccessTransformersTask.
	Task string
	Tool dag.Value
}

// SpliceAccessWideners converts access wideners into an access transformer
// file and feeds it to an existing access transformer task. The converter
// targets the jar the existing task reads after its --inJar flag. Without
// files it does nothing.
func SpliceAccessWideners(b *dag.Builder, opts AccessWidenerOptions) error {
	if len(opts.Files) == 0 {
		return nil
	}
	name := opts.Task
	if name == "" {
		name = AccessTransformersTask
	}
	existing, ok := b.Task(name)
	if !ok {
		return fmt.Errorf("access wideners: no task %q: %w", name, dag.ErrDanglingReference)
	}
	target, ok := inputAfterFlag(existing, "--inJar")
	if !ok {
		return fmt.Errorf("access wideners: task %q has no --inJar file input: %w", name, dag.ErrInvalidGraph)
	}

	tool := toolInput(opts.Tool)
	if err := b.AddTask(dag.Task{
		Name: TransformAccessWidenersTask,
		Type: dag.TaskDaemonExecutedTool,
		Tool: &tool,
		Args: []dag.Argument{
			dag.Literal("transform-access-wideners"),
			dag.FileOutputArg("--output={}", "output", "cfg"),
			dag.FileInputArg("--mappings={}", opts.Mappings, dag.PathNone),
			dag.ZipArg("--input={}", dag.PathNone, dag.Param(AccessWidenersParam)),
			dag.FileInputArg("--target={}", target, dag.PathNone),
		},
		ClasspathScopedJVM: true,
	}); err != nil {
		return err
	}
	b.SetParameter(AccessWidenersParam, fileList(opts.Files))
	return b.AppendArgs(name,
		dag.FileInputArg("--atFile={}", dag.TaskOutput(TransformAccessWidenersTask, "output"), dag.PathNone))
}

// InterfaceInjectionOptions configures SpliceInterfaceInjection.
type InterfaceInjectionOptions struct {
	// Files are interface injection files in the intermediary namespace.
	Files []string
	// Mappings is an intermediary to named table.
	Mappings dag.Input
	// Existing is injection data the task already consumes; it is merged
	// into the converted output.
	Existing []dag.Input
	// Task is the injecting task to extend. Defaults to InterfaceInjectionTask.
	Task string
	Tool dag.Value
}

// SpliceInterfaceInjection converts interface injection files to the named
// namespace and feeds the result to an existing injecting task. Without
// files it does nothing.
func SpliceInterfaceInjection(b *dag.Builder, opts InterfaceInjectionOptions) error {
	if len(opts.Files) == 0 {
		return nil
	}
	name := opts.Task
	if name == "" {
		name = InterfaceInjectionTask
	}
	if !b.HasTask(name) {
		return fmt.Errorf("interface injection: no task %q: %w", name, dag.ErrDanglingReference)
	}

	args := []dag.Argument{
		dag.Literal("transform-interface-injection"),
		dag.FileOutputArg("--output={}", "output", "json"),
		dag.FileInputArg("--mappings={}", opts.Mappings, dag.PathNone),
		dag.ZipArg("--input={}", dag.PathNone, dag.Param(InjectedInterfacesParam)),
	}
	if len(opts.Existing) > 0 {
		args = append(args, dag.ZipArg("--neo-input={}", dag.PathNone, opts.Existing...))
	}
	tool := toolInput(opts.Tool)
	if err := b.AddTask(dag.Task{
		Name:               TransformInterfaceInjectionTask,
		Type:               dag.TaskDaemonExecutedTool,
		Tool:               &tool,
		Args:               args,
		ClasspathScopedJVM: true,
	}); err != nil {
		return err
	}
	b.SetParameter(InjectedInterfacesParam, fileList(opts.Files))
	return b.AppendArgs(name,
		dag.FileInputArg("--interface-injection={}", dag.TaskOutput(TransformInterfaceInjectionTask, "output"), dag.PathNone))
}

// inputAfterFlag finds the first file input following the literal flag.
func inputAfterFlag(t dag.Task, flag string) (dag.Input, bool) {
	capture := false
	for _, arg := range t.Args {
		switch {
		case arg.Kind == dag.ArgValue && arg.Input.Kind == dag.InputDirect &&
			arg.Input.Value.Kind == dag.ValueString && arg.Input.Value.Text == flag:
			capture = true
		case capture && arg.Kind == dag.ArgFileInput:
			return arg.Input, true
		}
	}
	return dag.Input{}, false
}

func toolInput(v dag.Value) dag.Input {
	if v.Kind == "" {
		v = Tools("latest")
	}
	return dag.Direct(v)
}

func fileList(files []string) dag.Value {
	elems := make([]dag.Value, 0, len(files))
	for _, f := range files {
		elems = append(elems, dag.FileValue(f))
	}
	return dag.ListValue(dag.OrderContents, elems...)
}
