package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"crochet/internal/dag"
	"crochet/internal/mappings"
)

// sourceFile describes a mappings composition over Tiny v2 files. Exactly
// one field is set per node.
type sourceFile struct {
	File    string       `json:"file,omitempty"`
	Chain   []sourceFile `json:"chain,omitempty"`
	Merge   []sourceFile `json:"merge,omitempty"`
	Reverse *sourceFile  `json:"reverse,omitempty"`
}

// tinyTables loads each Tiny v2 file at most once.
type tinyTables map[string]*mappings.Table

func (tt tinyTables) load(path string) (*mappings.Table, error) {
	if t, ok := tt[path]; ok {
		return t, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := mappings.ReadTiny(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	tt[path] = t
	return t, nil
}

func (tt tinyTables) source(dir string, sf sourceFile) (mappings.Source, error) {
	set := 0
	for _, ok := range []bool{sf.File != "", sf.Chain != nil, sf.Merge != nil, sf.Reverse != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return mappings.Source{}, fmt.Errorf("mappings source needs exactly one of file, chain, merge, reverse")
	}

	switch {
	case sf.File != "":
		path := absFrom(dir, sf.File)
		t, err := tt.load(path)
		if err != nil {
			return mappings.Source{}, err
		}
		return mappings.FromFile(mappings.File{
			Input:  dag.Direct(dag.FileValue(path)),
			Format: dag.FormatTiny2,
			From:   t.Namespaces[0],
			To:     t.Namespaces[1:],
		}), nil
	case sf.Reverse != nil:
		inner, err := tt.source(dir, *sf.Reverse)
		if err != nil {
			return mappings.Source{}, err
		}
		return mappings.Reverse(inner), nil
	}

	parts := sf.Chain
	combine := mappings.Chain
	if sf.Merge != nil {
		parts, combine = sf.Merge, mappings.Merge
	}
	srcs := make([]mappings.Source, 0, len(parts))
	for _, p := range parts {
		s, err := tt.source(dir, p)
		if err != nil {
			return mappings.Source{}, err
		}
		srcs = append(srcs, s)
	}
	return combine(srcs...), nil
}

func (tt tinyTables) loader(f mappings.File) (*mappings.Table, error) {
	if f.Input.Kind != dag.InputDirect {
		return nil, fmt.Errorf("mappings input %s is not a file", f.Input.Kind)
	}
	return tt.load(f.Input.Value.Text)
}

// executeMappings evaluates a composition and writes the result as Tiny v2.
func executeMappings(inv Invocation, stdout io.Writer) (CLIResult, error) {
	var sf sourceFile
	if err := decodeFile(inv.SourcePath, &sf); err != nil {
		return CLIResult{}, configErrorf("%v", err)
	}
	tables := tinyTables{}
	src, err := tables.source(filepath.Dir(inv.SourcePath), sf)
	if err != nil {
		return CLIResult{}, configErrorf("%s: %v", inv.SourcePath, err)
	}
	table, err := mappings.Evaluate(src, tables.loader)
	if err != nil {
		return CLIResult{}, configErrorf("%s: %v", inv.SourcePath, err)
	}

	var buf bytes.Buffer
	if err := mappings.WriteTiny(&buf, table); err != nil {
		return CLIResult{}, err
	}
	if inv.OutputPath == "" {
		_, err = stdout.Write(buf.Bytes())
		return CLIResult{}, err
	}
	if err := os.MkdirAll(filepath.Dir(inv.OutputPath), 0o755); err != nil {
		return CLIResult{}, err
	}
	return CLIResult{}, os.WriteFile(inv.OutputPath, buf.Bytes(), 0o644)
}
