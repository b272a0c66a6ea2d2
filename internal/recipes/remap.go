// Package recipes builds the standard pipelines a mod build asks for:
// remapping mod jars between namespaces, and splicing access wideners,
// interface injection and intermediary mappings into an installation
// pipeline.
package recipes

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"crochet/internal/artifact"
	"crochet/internal/dag"
)

// ToolsModule is the coordinate, without version, of the worker-side tool
// collection the recipes invoke.
const ToolsModule = "dev.lukebemish.crochet:tools"

// Tools returns the artifact value of the tool collection at version.
func Tools(version string) dag.Value {
	return dag.ArtifactValue(ToolsModule + ":" + version)
}

// Distribution selects which side of the game a remapped jar is split for.
type Distribution string

const (
	DistJoined Distribution = "joined"
	DistClient Distribution = "client"
	DistServer Distribution = "server"
)

func (d Distribution) validate() error {
	switch d {
	case DistJoined, DistClient, DistServer:
		return nil
	}
	return fmt.Errorf("unknown distribution %q", d)
}

const (
	RemapTask      = "remapMods"
	remapGroup     = "remapMods"
	splitPrefix    = "split_"
	splitTool      = "unmergetool"
	modParamPrefix = "mod_"

	MappingsParam  = "mappings"
	ClasspathParam = "remappingClasspath"
)

var ErrNothingToRemap = errors.New("no mods to remap")

// RemapOptions describes one remapMods invocation.
type RemapOptions struct {
	// Sources are the mod jars to remap.
	Sources []string
	// Dir receives the remapped jars.
	Dir string
	// Mappings is the table to remap with.
	Mappings string
	// Classpath is the remapping classpath, in order.
	Classpath []string

	IncludedJars        []string
	InterfaceInjections []string

	// KeepNestedJars leaves jar-in-jar entries in place.
	KeepNestedJars bool
	// Reobf remaps named jars back to intermediary.
	Reobf bool
	// Distribution other than joined splits every remapped jar.
	Distribution Distribution

	// Tool defaults to Tools("latest").
	Tool dag.Value
}

// RemapPlan is the pipeline RemapMods built and where its targets go.
type RemapPlan struct {
	Builder *dag.Builder
	// Destinations are in Sources order.
	Destinations []artifact.Destination
	// Targets maps each alias to its destination path, ready for a request.
	Targets map[string]string
}

// RemapMods builds a single remapMods task that remaps every source jar. Each
// jar gets a file input, a file output slot and an alias named after its
// unique destination.
func RemapMods(opts RemapOptions) (*RemapPlan, error) {
	if len(opts.Sources) == 0 {
		return nil, ErrNothingToRemap
	}
	if opts.Distribution == "" {
		opts.Distribution = DistJoined
	}
	if err := opts.Distribution.validate(); err != nil {
		return nil, err
	}
	tool := opts.Tool
	if tool.Kind == "" {
		tool = Tools("latest")
	}

	dests := artifact.UniqueTargets(opts.Dir, opts.Sources)
	bySlot := make(map[string]int, len(dests))
	slots := make([]string, 0, len(dests))
	for i, d := range dests {
		bySlot[d.Slot] = i
		slots = append(slots, d.Slot)
	}
	sort.Strings(slots)

	args := []dag.Argument{dag.Literal("remap-mods")}
	for _, slot := range slots {
		ext := strings.TrimPrefix(filepath.Ext(dests[bySlot[slot]].Path), ".")
		if ext == "" {
			ext = "jar"
		}
		args = append(args,
			dag.FileInputArg("", dag.Param(modParamPrefix+slot), dag.PathNone),
			dag.FileOutputArg("", slot, ext),
		)
	}
	if opts.Reobf {
		args = append(args, dag.Literal("--from-ns=named"), dag.Literal("--to-ns=intermediary"))
	} else {
		args = append(args, dag.Literal("--from-ns=intermediary"), dag.Literal("--to-ns=named"))
	}
	if opts.KeepNestedJars {
		args = append(args, dag.Literal("--strip-nested-jars=false"))
	}
	for _, f := range opts.IncludedJars {
		args = append(args, dag.FileInputArg("--include-jar={}", dag.Direct(dag.FileValue(f)), dag.PathNone))
	}
	for _, f := range opts.InterfaceInjections {
		args = append(args, dag.FileInputArg("--include-interface-injection={}", dag.Direct(dag.FileValue(f)), dag.PathNone))
	}
	args = append(args,
		dag.FileInputArg("--mappings={}", dag.Param(MappingsParam), dag.PathNone),
		dag.ClasspathArg("--classpath={}", dag.Param(ClasspathParam)),
	)

	toolIn := dag.Direct(tool)
	b := dag.NewBuilder()
	if err := b.AddTask(dag.Task{
		Name:               RemapTask,
		Type:               dag.TaskDaemonExecutedTool,
		Tool:               &toolIn,
		Args:               args,
		Parallelism:        remapGroup,
		ClasspathScopedJVM: true,
	}); err != nil {
		return nil, err
	}

	b.SetParameter(MappingsParam, dag.FileValue(opts.Mappings))
	classpath := make([]dag.Value, 0, len(opts.Classpath))
	for _, f := range opts.Classpath {
		classpath = append(classpath, dag.FileValue(f))
	}
	b.SetParameter(ClasspathParam, dag.ListValue(dag.OrderOriginal, classpath...))

	targets := make(map[string]string, len(dests))
	for _, slot := range slots {
		d := dests[bySlot[slot]]
		b.SetParameter(modParamPrefix+slot, dag.FileValue(opts.Sources[bySlot[slot]]))
		if err := b.AddAlias(slot, dag.OutputTarget(dag.Output{Task: RemapTask, Name: slot})); err != nil {
			return nil, err
		}
		targets[slot] = d.Path
	}

	if opts.Distribution != DistJoined {
		for _, slot := range slots {
			if err := spliceSplit(b, slot, opts.Distribution); err != nil {
				return nil, err
			}
		}
	}

	return &RemapPlan{Builder: b, Destinations: dests, Targets: targets}, nil
}

// spliceSplit puts a split task behind alias and points the alias at the
// split jar.
func spliceSplit(b *dag.Builder, alias string, dist Distribution) error {
	current, ok := b.Alias(alias)
	if !ok {
		return fmt.Errorf("split %s: %w", alias, dag.ErrDanglingReference)
	}
	out, err := b.Resolve(current)
	if err != nil {
		return err
	}
	tool := dag.Direct(dag.ToolValue(splitTool))
	name := splitPrefix + alias
	if err := b.AddTask(dag.Task{
		Name: name,
		Type: dag.TaskDaemonExecutedTool,
		Tool: &tool,
		Args: []dag.Argument{
			dag.Literal("--input"),
			dag.FileInputArg("", dag.TaskOutput(out.Task, out.Name), dag.PathNone),
			dag.Literal("--output"),
			dag.FileOutputArg("", "output", "jar"),
			dag.Literal("--target-classes"),
			dag.FileOutputArg("", "targetClasses", "txt"),
			dag.Literal("--distribution"),
			dag.Literal(strings.ToUpper(string(dist))),
		},
		ClasspathScopedJVM: true,
	}); err != nil {
		return err
	}
	return b.RebindAlias(alias, dag.OutputTarget(dag.Output{Task: name, Name: "output"}))
}
