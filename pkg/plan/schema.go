package plan

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas
var schemasFS embed.FS

// Schema names map 1:1 to files under schemas/.
const (
	SchemaDAG        = "plan.dag.schema.json"
	SchemaAcceptance = "acceptance.schema.json"
	SchemaRetry      = "retry.schema.json"
	SchemaEntities   = "entities.schema.json"
)

var (
	schemaOnce sync.Once
	schemaErr  error
	schemas    map[string]*jsonschema.Schema
)

func compiledSchemas() (map[string]*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schemas = make(map[string]*jsonschema.Schema)
		for _, name := range []string{SchemaDAG, SchemaAcceptance, SchemaRetry, SchemaEntities} {
			data, err := schemasFS.ReadFile("schemas/" + name)
			if err != nil {
				schemaErr = fmt.Errorf("read embedded schema %s: %w", name, err)
				return
			}
			c := jsonschema.NewCompiler()
			if err := c.AddResource(name, bytes.NewReader(data)); err != nil {
				schemaErr = fmt.Errorf("add schema %s: %w", name, err)
				return
			}
			s, err := c.Compile(name)
			if err != nil {
				schemaErr = fmt.Errorf("compile schema %s: %w", name, err)
				return
			}
			schemas[name] = s
		}
	})
	return schemas, schemaErr
}

// ValidateSchema checks raw JSON bytes against one of the embedded schemas.
func ValidateSchema(name string, raw []byte) error {
	all, err := compiledSchemas()
	if err != nil {
		return err
	}
	s, ok := all[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("parse document for %s: %w", name, err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("schema %s: %w", name, err)
	}
	return nil
}
