// Package bootstrap loads the declarative schema document that drives
// table compilation at startup.
package bootstrap

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/appforge/backend/internal/domain/schema"
	"github.com/appforge/backend/pkg/errors"
)

// DefaultSchemaPath is used when SCHEMA_PATH is not set
const DefaultSchemaPath = "schema.yaml"

// SchemaPath resolves the schema document location from the environment
func SchemaPath() string {
	if path := os.Getenv("SCHEMA_PATH"); path != "" {
		return path
	}
	return DefaultSchemaPath
}

// LoadSchemaDocument reads and parses the schema document. Parse
// failures are validation errors: the document is caller input, not a
// server fault.
func LoadSchemaDocument(path string) (*schema.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewInternalError(fmt.Sprintf("failed to read schema document %s", path), err)
	}

	var doc schema.Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.NewValidationError("schema", fmt.Sprintf("failed to parse schema document: %v", err))
	}
	if len(doc.Tables) == 0 {
		return nil, errors.NewValidationError("schema", "schema document declares no tables")
	}
	return &doc, nil
}
