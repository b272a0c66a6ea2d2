// Package mappings composes renaming tables across namespaces.
//
// A Source describes a table without materializing it: a file, or the chain,
// reversal or merge of other sources. Builder-side code lowers sources into
// transformMappings tasks with an Algebra; Table and Evaluate give the same
// operations concrete semantics over Tiny v2 tables.
package mappings

import (
	"errors"
	"fmt"
	"strings"

	"crochet/internal/dag"
)

// Well-known namespaces. Any non-empty string is a valid namespace.
const (
	Obfuscated   = "obf"
	Intermediary = "intermediary"
	Named        = "named"
	SRG          = "srg"
)

var (
	ErrNamespaceMismatch = errors.New("namespace mismatch")
	ErrEmptySource       = errors.New("empty mappings source")
)

// AlgebraError reports a precondition violation while composing sources.
type AlgebraError struct {
	Kind error
	Msg  string
}

func (e *AlgebraError) Error() string {
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Msg
}

func (e *AlgebraError) Unwrap() error { return e.Kind }

func mismatchf(format string, args ...any) error {
	return &AlgebraError{Kind: ErrNamespaceMismatch, Msg: fmt.Sprintf(format, args...)}
}

type sourceKind int

const (
	kindFile sourceKind = iota
	kindChain
	kindReverse
	kindMerge
)

// File is a table available as a pipeline input. To lists every target
// namespace the file carries; most files carry one.
type File struct {
	Input     dag.Input
	Format    dag.MappingsFormat
	Extension string
	From      string
	To        []string
}

// Source is an immutable, namespace-aware description of a table.
type Source struct {
	kind  sourceKind
	file  File
	parts []Source
}

func FromFile(f File) Source {
	f.To = append([]string(nil), f.To...)
	return Source{kind: kindFile, file: f}
}

// FromResult turns a previously emitted table into a file source.
func FromResult(r Result, format dag.MappingsFormat) Source {
	return FromFile(File{
		Input:  dag.TaskOutput(r.Output.Task, r.Output.Name),
		Format: format,
		From:   r.From,
		To:     r.To,
	})
}

func Chain(sources ...Source) Source {
	return Source{kind: kindChain, parts: append([]Source(nil), sources...)}
}

func Reverse(s Source) Source {
	return Source{kind: kindReverse, parts: []Source{s}}
}

func Merge(sources ...Source) Source {
	return Source{kind: kindMerge, parts: append([]Source(nil), sources...)}
}

// Namespaces computes the source and target namespaces bottom-up, checking
// the preconditions of every operation on the way.
func (s Source) Namespaces() (string, []string, error) {
	switch s.kind {
	case kindFile:
		if s.file.From == "" || len(s.file.To) == 0 {
			return "", nil, mismatchf("file source must name its namespaces")
		}
		return s.file.From, append([]string(nil), s.file.To...), nil
	case kindReverse:
		from, to, err := s.parts[0].Namespaces()
		if err != nil {
			return "", nil, err
		}
		if len(to) != 1 {
			return "", nil, mismatchf("cannot reverse %s -> [%s]: more than one target namespace", from, strings.Join(to, ","))
		}
		return to[0], []string{from}, nil
	case kindChain:
		if len(s.parts) == 0 {
			return "", nil, &AlgebraError{Kind: ErrEmptySource, Msg: "chain of zero sources"}
		}
		var from, cur string
		for i, p := range s.parts {
			pf, pt, err := p.Namespaces()
			if err != nil {
				return "", nil, err
			}
			if len(pt) != 1 {
				return "", nil, mismatchf("chain element %d maps %s to %d namespaces", i, pf, len(pt))
			}
			if i == 0 {
				from = pf
			} else if pf != cur {
				return "", nil, mismatchf("chain element %d starts at %s, previous element ends at %s", i, pf, cur)
			}
			cur = pt[0]
		}
		return from, []string{cur}, nil
	case kindMerge:
		if len(s.parts) == 0 {
			return "", nil, &AlgebraError{Kind: ErrEmptySource, Msg: "merge of zero sources"}
		}
		var from string
		var to []string
		seen := make(map[string]struct{})
		for i, p := range s.parts {
			pf, pt, err := p.Namespaces()
			if err != nil {
				return "", nil, err
			}
			if i == 0 {
				from = pf
			} else if pf != from {
				return "", nil, mismatchf("merge element %d starts at %s, expected %s", i, pf, from)
			}
			for _, ns := range pt {
				if _, dup := seen[ns]; !dup {
					seen[ns] = struct{}{}
					to = append(to, ns)
				}
			}
		}
		return from, to, nil
	}
	return "", nil, fmt.Errorf("unknown source kind %d", s.kind)
}

// Normalize rewrites the source into a canonical form: nested chains and
// merges are flattened, single-element chains and merges collapse, and a double
// reversal cancels. Equivalent compositions normalize to equal sources.
func (s Source) Normalize() Source {
	switch s.kind {
	case kindReverse:
		inner := s.parts[0].Normalize()
		if inner.kind == kindReverse {
			return inner.parts[0]
		}
		return Reverse(inner)
	case kindChain, kindMerge:
		var flat []Source
		for _, p := range s.parts {
			n := p.Normalize()
			if n.kind == s.kind {
				flat = append(flat, n.parts...)
				continue
			}
			flat = append(flat, n)
		}
		if len(flat) == 1 {
			return flat[0]
		}
		return Source{kind: s.kind, parts: flat}
	}
	return s
}

// Lower validates the source and converts its normal form into the
// description carried by a transformMappings task.
func (s Source) Lower() (dag.MappingsSource, error) {
	if _, _, err := s.Namespaces(); err != nil {
		return dag.MappingsSource{}, err
	}
	return s.Normalize().lower(), nil
}

func (s Source) lower() dag.MappingsSource {
	switch s.kind {
	case kindFile:
		return dag.FileSource(s.file.Input, s.file.Extension)
	case kindReverse:
		return dag.ReversedSource(s.parts[0].lower())
	case kindChain:
		return dag.ChainedSource(lowerAll(s.parts)...)
	default:
		return dag.MergedSource(lowerAll(s.parts)...)
	}
}

func lowerAll(ps []Source) []dag.MappingsSource {
	out := make([]dag.MappingsSource, len(ps))
	for i, p := range ps {
		out[i] = p.lower()
	}
	return out
}
