package mappings

import (
	"crochet/internal/dag"
)

// Result is a table produced by an emitted task.
type Result struct {
	Output dag.Output
	From   string
	To     []string
}

// Source returns the result as a source usable in further compositions.
func (r Result) Source(format dag.MappingsFormat) Source {
	return FromResult(r, format)
}

// Algebra lowers sources into tasks of a builder. Every emitted table is
// written in Format.
type Algebra struct {
	Builder *dag.Builder
	Format  dag.MappingsFormat

	// SourceJar, when set, lets the worker fill in inherited members.
	SourceJar *dag.Input
}

// Emit adds a task named name that produces the table described by s.
//
// A file already in the target format becomes a copyMappings pass-through;
// anything else becomes one transformMappings task carrying the lowered
// description.
func (a *Algebra) Emit(name string, s Source) (Result, error) {
	from, to, err := s.Namespaces()
	if err != nil {
		return Result{}, err
	}
	desc, err := s.Lower()
	if err != nil {
		return Result{}, err
	}

	task := dag.Task{
		Name:   name,
		Type:   dag.TaskTransformMappings,
		Source: &desc,
		Format: a.Format,
	}
	n := s.Normalize()
	if n.kind == kindFile && n.file.Format == a.Format {
		task.Type = dag.TaskCopyMappings
	} else if a.SourceJar != nil {
		jar := *a.SourceJar
		task.SourceJar = &jar
	}
	if err := a.Builder.AddTask(task); err != nil {
		return Result{}, err
	}
	return Result{
		Output: dag.Output{Task: name, Name: dag.MappingsSlot},
		From:   from,
		To:     to,
	}, nil
}
