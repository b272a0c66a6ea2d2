package dag

import (
	"encoding/json"
	"fmt"
)

// MappingsSourceKind discriminates a renaming-table description.
type MappingsSourceKind string

const (
	SourceFile     MappingsSourceKind = "file"
	SourceChained  MappingsSourceKind = "chained"
	SourceReversed MappingsSourceKind = "reversed"
	SourceMerged   MappingsSourceKind = "merged"
)

// MappingsSource describes how a transformMappings task builds its table.
// It is pure data; namespace bookkeeping lives in package mappings.
type MappingsSource struct {
	Kind MappingsSourceKind

	// Input and Extension describe a file source. Extension is a format hint.
	Input     Input
	Extension string

	// Sources holds the operands of chained and merged sources, and the single
	// operand of a reversed source.
	Sources []MappingsSource
}

func FileSource(in Input, extension string) MappingsSource {
	return MappingsSource{Kind: SourceFile, Input: in.clone(), Extension: extension}
}

func ChainedSource(sources ...MappingsSource) MappingsSource {
	return MappingsSource{Kind: SourceChained, Sources: cloneSources(sources)}
}

func ReversedSource(source MappingsSource) MappingsSource {
	return MappingsSource{Kind: SourceReversed, Sources: []MappingsSource{source.clone()}}
}

func MergedSource(sources ...MappingsSource) MappingsSource {
	return MappingsSource{Kind: SourceMerged, Sources: cloneSources(sources)}
}

// Inputs returns the file inputs of the whole description, depth first.
func (s MappingsSource) Inputs() []Input {
	if s.Kind == SourceFile {
		return []Input{s.Input}
	}
	var out []Input
	for _, sub := range s.Sources {
		out = append(out, sub.Inputs()...)
	}
	return out
}

func cloneSources(in []MappingsSource) []MappingsSource {
	out := make([]MappingsSource, len(in))
	for i, s := range in {
		out[i] = s.clone()
	}
	return out
}

func (s MappingsSource) clone() MappingsSource {
	s.Input = s.Input.clone()
	if s.Sources != nil {
		s.Sources = cloneSources(s.Sources)
	}
	return s
}

func (s MappingsSource) validate() error {
	switch s.Kind {
	case SourceFile:
		return s.Input.validate()
	case SourceReversed:
		if len(s.Sources) != 1 {
			return fmt.Errorf("reversed source needs exactly one operand, has %d", len(s.Sources))
		}
	case SourceChained, SourceMerged:
		if len(s.Sources) == 0 {
			return fmt.Errorf("%s source has no operands", s.Kind)
		}
	default:
		return fmt.Errorf("unknown mappings source kind %q", s.Kind)
	}
	for _, sub := range s.Sources {
		if err := sub.validate(); err != nil {
			return err
		}
	}
	return nil
}

type mappingsSourceWire struct {
	Type      MappingsSourceKind `json:"type"`
	Input     *Input             `json:"input,omitempty"`
	Extension string             `json:"extension,omitempty"`
	Source    *MappingsSource    `json:"source,omitempty"`
	Sources   []MappingsSource   `json:"sources,omitempty"`
}

func (s MappingsSource) MarshalJSON() ([]byte, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	w := mappingsSourceWire{Type: s.Kind}
	switch s.Kind {
	case SourceFile:
		in := s.Input
		w.Input = &in
		w.Extension = s.Extension
	case SourceReversed:
		sub := s.Sources[0]
		w.Source = &sub
	case SourceChained, SourceMerged:
		w.Sources = s.Sources
	}
	return json.Marshal(w)
}

func (s *MappingsSource) UnmarshalJSON(data []byte) error {
	var w mappingsSourceWire
	if err := decodeStrict(data, &w); err != nil {
		return fmt.Errorf("decode mappings source: %w", err)
	}
	out := MappingsSource{Kind: w.Type}
	switch w.Type {
	case SourceFile:
		if w.Input == nil {
			return fmt.Errorf("decode mappings source: file source is missing \"input\"")
		}
		out.Input = *w.Input
		out.Extension = w.Extension
	case SourceReversed:
		if w.Source == nil {
			return fmt.Errorf("decode mappings source: reversed source is missing \"source\"")
		}
		out.Sources = []MappingsSource{*w.Source}
	case SourceChained, SourceMerged:
		out.Sources = w.Sources
	default:
		return fmt.Errorf("decode mappings source: unknown kind %q", w.Type)
	}
	if err := out.validate(); err != nil {
		return fmt.Errorf("decode mappings source: %w", err)
	}
	*s = out
	return nil
}
