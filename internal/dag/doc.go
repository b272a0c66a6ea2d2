// Package dag defines the pipeline IR handed to the task-graph worker.
//
// It is split into:
//   - Open construction (Builder): tasks, typed parameters and aliases that later
//     stages may splice into and rebind
//   - Frozen graph (Config): validated for referential integrity, alias
//     termination and acyclicity, with a deterministic topological order
//   - Wire form (Document): a self-contained canonical JSON document checked
//     against an embedded schema
//
// References between tasks are by name only, so a frozen Config holds no
// pointers into caller memory.
package dag
