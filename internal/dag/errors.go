package dag

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidGraph      = errors.New("invalid task graph")
	ErrDuplicateTaskName = errors.New("duplicate task name")
	ErrDanglingReference = errors.New("dangling reference")
	ErrAliasCycle        = errors.New("alias cycle")
	ErrDependencyCycle   = errors.New("dependency cycle")
)

// GraphError wraps deterministic graph construction and validation failures.
type GraphError struct {
	Kind error
	Msg  string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

func invalidf(format string, args ...any) error {
	return &GraphError{Kind: ErrInvalidGraph, Msg: fmt.Sprintf(format, args...)}
}

func danglingf(format string, args ...any) error {
	return &GraphError{Kind: ErrDanglingReference, Msg: fmt.Sprintf(format, args...)}
}

func duplicateTask(name string) error {
	return &GraphError{Kind: ErrDuplicateTaskName, Msg: fmt.Sprintf("task %q already exists", name)}
}

func aliasCycle(path []string) error {
	return &GraphError{Kind: ErrAliasCycle, Msg: "alias " + strings.Join(path, " -> ")}
}

func cycleError(path []string) error {
	msg := "cycle"
	if len(path) > 0 {
		msg = "cycle: " + strings.Join(path, " -> ")
	}
	return &GraphError{Kind: ErrDependencyCycle, Msg: msg}
}
