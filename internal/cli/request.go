package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"crochet/internal/artifact"
	"crochet/internal/coordinator"
	"crochet/internal/dag"
)

// requestFile is the on-disk form of an execution request. Tasks, parameters
// and aliases use the pipeline document encoding; targets map "alias" or
// "task.slot" to a destination path.
type requestFile struct {
	Tasks      []dag.Task            `json:"tasks"`
	Parameters map[string]dag.Value  `json:"parameters,omitempty"`
	Aliases    map[string]dag.Target `json:"aliases,omitempty"`
	Targets    map[string]string     `json:"targets"`
	Artifacts  []artifact.Resolved   `json:"artifacts,omitempty"`
	TaskRecord bool                  `json:"taskRecord,omitempty"`
}

type artifactsFile struct {
	Artifacts []artifact.Resolved `json:"artifacts"`
}

// LoadRequest reads a request file (JSON by extension, YAML otherwise).
// Relative destinations and artifact files are resolved against the file's
// directory.
func LoadRequest(path string) (coordinator.Request, error) {
	var rf requestFile
	if err := decodeFile(path, &rf); err != nil {
		return coordinator.Request{}, err
	}
	if len(rf.Tasks) == 0 {
		return coordinator.Request{}, fmt.Errorf("request %s: no tasks", path)
	}

	b := dag.NewBuilder()
	for _, t := range rf.Tasks {
		if err := b.AddTask(t); err != nil {
			return coordinator.Request{}, fmt.Errorf("request %s: %w", path, err)
		}
	}
	for _, name := range sortedNames(rf.Aliases) {
		if err := b.AddAlias(name, rf.Aliases[name]); err != nil {
			return coordinator.Request{}, fmt.Errorf("request %s: %w", path, err)
		}
	}

	dir := filepath.Dir(path)
	targets := make(map[string]string, len(rf.Targets))
	for target, dest := range rf.Targets {
		if strings.TrimSpace(dest) == "" {
			return coordinator.Request{}, fmt.Errorf("request %s: target %q has no destination", path, target)
		}
		targets[target] = absFrom(dir, dest)
	}
	return coordinator.Request{
		Config:     b,
		Parameters: rf.Parameters,
		Targets:    targets,
		Artifacts:  resolveArtifacts(dir, rf.Artifacts),
		TaskRecord: rf.TaskRecord,
	}, nil
}

// LoadArtifacts reads a file holding {"artifacts": [...]}.
func LoadArtifacts(path string) ([]artifact.Resolved, error) {
	var af artifactsFile
	if err := decodeFile(path, &af); err != nil {
		return nil, err
	}
	return resolveArtifacts(filepath.Dir(path), af.Artifacts), nil
}

func resolveArtifacts(dir string, rs []artifact.Resolved) []artifact.Resolved {
	out := make([]artifact.Resolved, len(rs))
	for i, r := range rs {
		r.File = absFrom(dir, r.File)
		out[i] = r
	}
	return out
}

func absFrom(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

func decodeFile(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if strings.ToLower(filepath.Ext(path)) != ".json" {
		if b, err = yamlToJSON(b); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := decodeJSONStrict(b, v); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func decodeJSONStrict(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("json: multiple top-level values are not allowed")
		}
		return err
	}
	return nil
}

// yamlToJSON re-encodes a single YAML document as JSON so the strict JSON
// decoders of the pipeline types apply to both formats.
func yamlToJSON(b []byte) ([]byte, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	var doc any
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return []byte("{}"), nil
		}
		return nil, err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("yaml: multiple documents are not allowed")
		}
		return nil, err
	}
	norm, err := jsonCompatible(doc)
	if err != nil {
		return nil, err
	}
	return json.Marshal(norm)
}

func jsonCompatible(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			n, err := jsonCompatible(e)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			key, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("yaml: mapping key %v is not a string", k)
			}
			n, err := jsonCompatible(e)
			if err != nil {
				return nil, err
			}
			out[key] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			n, err := jsonCompatible(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	}
	return v, nil
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
