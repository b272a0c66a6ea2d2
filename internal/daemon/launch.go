// Package daemon manages the long-lived task-graph worker process.
//
// A Session lazily starts one Worker and reuses it for every invocation. A
// Worker speaks a line protocol over stdio: each request is one JSON object
// on stdin and is answered by one JSON object on stdout. Calls are
// serialized; the worker handles one invocation at a time.
package daemon

import (
	"os"
	"sort"
	"strings"
	"time"
)

// DefaultCloseGrace is how long Close waits for the worker to exit after its
// stdin is closed before killing it.
const DefaultCloseGrace = 10 * time.Second

// LaunchSpec describes how to start the worker.
type LaunchSpec struct {
	Executable string
	// Properties are passed as -Dkey=value, sorted by key.
	Properties map[string]string
	JVMOptions []string
	Classpath  []string
	MainClass  string
	Args       []string
	// Env is appended to the current process environment.
	Env []string
	Dir string

	CloseGrace time.Duration
}

// Command returns the full argv: executable, properties, JVM options,
// classpath, main class and arguments.
func (s LaunchSpec) Command() []string {
	exe := s.Executable
	if exe == "" {
		exe = "java"
	}
	argv := []string{exe}

	keys := make([]string, 0, len(s.Properties))
	for k := range s.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		argv = append(argv, "-D"+k+"="+s.Properties[k])
	}
	argv = append(argv, s.JVMOptions...)
	if len(s.Classpath) > 0 {
		argv = append(argv, "-cp", strings.Join(s.Classpath, string(os.PathListSeparator)))
	}
	if s.MainClass != "" {
		argv = append(argv, s.MainClass)
	}
	return append(argv, s.Args...)
}

func (s LaunchSpec) closeGrace() time.Duration {
	if s.CloseGrace <= 0 {
		return DefaultCloseGrace
	}
	return s.CloseGrace
}
