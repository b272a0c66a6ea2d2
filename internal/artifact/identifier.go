// Package artifact derives stable identifiers for resolved dependency files
// and writes the manifest the worker uses to find them.
package artifact

import (
	"path/filepath"
	"strings"
)

// ModuleID is the coordinate of a repository module.
type ModuleID struct {
	Group   string `json:"group" yaml:"group"`
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
}

// Capability is a published capability of a non-module component.
type Capability struct {
	Group   string `json:"group" yaml:"group"`
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
}

// Resolved is one resolved dependency file. Module is nil for components
// that do not come from a repository, such as project or file dependencies.
type Resolved struct {
	File         string       `json:"file" yaml:"file"`
	Module       *ModuleID    `json:"module,omitempty" yaml:"module,omitempty"`
	Capabilities []Capability `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
}

// Identifier returns the coordinate the worker knows the file by, or "" if
// the file has none.
//
// Module files map to group:module:version, plus :classifier when the base
// name is module-version-classifier, plus @ext when the extension is not jar.
// Other files map to their capability when they have exactly one.
func Identifier(r Resolved) string {
	if r.Module == nil {
		if len(r.Capabilities) == 1 {
			c := r.Capabilities[0]
			return c.Group + ":" + c.Name + ":" + c.Version
		}
		return ""
	}

	m := r.Module
	id := m.Group + ":" + m.Name + ":" + m.Version
	name := filepath.Base(r.File)
	base, ext := name, ""
	if dot := strings.LastIndexByte(name, '.'); dot >= 0 {
		base, ext = name[:dot], name[dot+1:]
	}
	prefix := m.Name + "-" + m.Version + "-"
	if classifier, ok := strings.CutPrefix(base, prefix); ok && classifier != "" {
		id += ":" + classifier
	}
	if ext != "" && ext != "jar" {
		id += "@" + ext
	}
	return id
}
