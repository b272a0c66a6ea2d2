package dag

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DocumentVersion is the pipeline document format understood by the worker.
const DocumentVersion = 1

// Document is the self-contained serialized form of a pipeline handed to the
// worker. Every reference inside it is by name.
type Document struct {
	Version    int               `json:"version"`
	Tasks      []Task            `json:"tasks"`
	Parameters map[string]Value  `json:"parameters"`
	Aliases    map[string]Target `json:"aliases"`
	WorkItems  []WorkItem        `json:"workItems"`
}

// EncodeDocument returns the canonical JSON form: object keys sorted, two-space
// indentation, trailing newline. Equal documents encode to equal bytes.
func EncodeDocument(doc *Document) ([]byte, error) {
	if doc == nil {
		return nil, errors.New("nil document")
	}
	cp := *doc
	if cp.Tasks == nil {
		cp.Tasks = []Task{}
	}
	if cp.Parameters == nil {
		cp.Parameters = map[string]Value{}
	}
	if cp.Aliases == nil {
		cp.Aliases = map[string]Target{}
	}
	if cp.WorkItems == nil {
		cp.WorkItems = []WorkItem{}
	}
	b, err := json.MarshalIndent(&cp, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return append(b, '\n'), nil
}

// DecodeDocument parses a document, rejecting unknown fields, unknown variant
// kinds and trailing data.
func DecodeDocument(data []byte) (*Document, error) {
	var doc Document
	if err := decodeStrict(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if doc.Version != DocumentVersion {
		return nil, fmt.Errorf("decode document: unsupported version %d", doc.Version)
	}
	return &doc, nil
}

// Config rebuilds and validates the graph described by the document.
func (d *Document) Config() (*Config, error) {
	b := NewBuilder()
	for _, t := range d.Tasks {
		if err := b.AddTask(t); err != nil {
			return nil, err
		}
	}
	for name, v := range d.Parameters {
		b.SetParameter(name, v)
	}
	for name, t := range d.Aliases {
		if err := b.AddAlias(name, t); err != nil {
			return nil, err
		}
	}
	return b.Freeze()
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		if err == nil {
			return errors.New("unexpected trailing data")
		}
		return err
	}
	return nil
}
