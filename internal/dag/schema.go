package dag

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed document.schema.json
var documentSchemaJSON []byte

const documentSchemaURL = "document.schema.json"

var (
	schemaOnce     sync.Once
	documentSchema *jsonschema.Schema
	schemaErr      error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(documentSchemaURL, bytes.NewReader(documentSchemaJSON)); err != nil {
			schemaErr = err
			return
		}
		documentSchema, schemaErr = c.Compile(documentSchemaURL)
	})
	return documentSchema, schemaErr
}

// ValidateDocument checks encoded document bytes against the embedded schema.
func ValidateDocument(data []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile document schema: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("validate document: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("validate document: %w", err)
	}
	return nil
}
