package fieldtypes

import (
	"embed"
	"encoding/json"
	"sync"
)

//go:embed fieldTypes.json
var fieldTypesFS embed.FS

// FieldTypeDefinition represents one entry of the closed field type set.
// The set is closed on purpose: every type carries only its own
// configuration and is validated exhaustively at compile time.
type FieldTypeDefinition struct {
	SQLType           *string  `json:"sqlType"`
	Label             string   `json:"label"`
	Description       string   `json:"description"`
	IsTextCompatible  bool     `json:"isTextCompatible,omitempty"`
	IsArray           bool     `json:"isArray,omitempty"`
	IsFK              bool     `json:"isFK,omitempty"`
	IsVirtual         bool     `json:"isVirtual,omitempty"`
	IsUIOnly          bool     `json:"isUIOnly,omitempty"`
	ValidationPattern *string  `json:"validationPattern,omitempty"`
	ValidationMessage *string  `json:"validationMessage,omitempty"`
	Operators         []string `json:"operators"`
}

// Registry holds field type definitions
type Registry struct {
	types map[string]FieldTypeDefinition
	mu    sync.RWMutex
}

var (
	defaultRegistry *Registry
	once            sync.Once
)

// GetRegistry returns the singleton field types registry
func GetRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = &Registry{
			types: make(map[string]FieldTypeDefinition),
		}
		defaultRegistry.loadFromEmbedded()
	})
	return defaultRegistry
}

// loadFromEmbedded loads field types from the embedded JSON file
func (r *Registry) loadFromEmbedded() error {
	data, err := fieldTypesFS.ReadFile("fieldTypes.json")
	if err != nil {
		return err
	}

	var types map[string]FieldTypeDefinition
	if err := json.Unmarshal(data, &types); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = types
	return nil
}

// Get returns a field type definition by name
func (r *Registry) Get(typeName string) (FieldTypeDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.types[typeName]
	return def, ok
}

// GetSQLType returns the SQL column type for a field type name.
// Virtual types (count, button) have no SQL type and return "".
func (r *Registry) GetSQLType(typeName string) string {
	def, ok := r.Get(typeName)
	if !ok || def.SQLType == nil {
		return ""
	}
	return *def.SQLType
}

// IsKnown returns whether a field type is part of the closed set
func (r *Registry) IsKnown(typeName string) bool {
	_, ok := r.Get(typeName)
	return ok
}

// IsVirtual returns whether a field type has no physical column
func (r *Registry) IsVirtual(typeName string) bool {
	def, ok := r.Get(typeName)
	if !ok {
		return false
	}
	return def.IsVirtual
}

// IsUIOnly returns whether a field type is dispatch metadata for the UI
func (r *Registry) IsUIOnly(typeName string) bool {
	def, ok := r.Get(typeName)
	if !ok {
		return false
	}
	return def.IsUIOnly
}

// IsArray returns whether a field type stores as an array column
func (r *Registry) IsArray(typeName string) bool {
	def, ok := r.Get(typeName)
	if !ok {
		return false
	}
	return def.IsArray
}

// IsFK returns whether a field type is a foreign key reference
func (r *Registry) IsFK(typeName string) bool {
	def, ok := r.Get(typeName)
	if !ok {
		return false
	}
	return def.IsFK
}

// IsTextCompatible returns whether a field type stores as text.
// Organization scoping columns must be text-compatible.
func (r *Registry) IsTextCompatible(typeName string) bool {
	def, ok := r.Get(typeName)
	if !ok {
		return false
	}
	return def.IsTextCompatible
}

// GetOperators returns the valid filter operators for a field type
func (r *Registry) GetOperators(typeName string) []string {
	def, ok := r.Get(typeName)
	if !ok {
		return nil
	}
	return def.Operators
}

// GetValidationPattern returns the validation regex pattern and message for a field type
func (r *Registry) GetValidationPattern(typeName string) (pattern string, message string) {
	def, ok := r.Get(typeName)
	if !ok {
		return "", ""
	}
	if def.ValidationPattern != nil {
		pattern = *def.ValidationPattern
	}
	if def.ValidationMessage != nil {
		message = *def.ValidationMessage
	}
	return pattern, message
}

// GetAll returns all registered field types
func (r *Registry) GetAll() map[string]FieldTypeDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[string]FieldTypeDefinition, len(r.types))
	for k, v := range r.types {
		result[k] = v
	}
	return result
}

// Package-level convenience functions using the default registry

// GetSQLType returns the SQL type for a field type name
func GetSQLType(typeName string) string {
	return GetRegistry().GetSQLType(typeName)
}

// IsKnown returns whether a field type is part of the closed set
func IsKnown(typeName string) bool {
	return GetRegistry().IsKnown(typeName)
}

// IsVirtual returns whether a field type is virtual (computed or UI-only, not stored)
func IsVirtual(typeName string) bool {
	return GetRegistry().IsVirtual(typeName)
}

// IsUIOnly returns whether a field type is UI dispatch metadata
func IsUIOnly(typeName string) bool {
	return GetRegistry().IsUIOnly(typeName)
}

// IsArray returns whether a field type stores as an array column
func IsArray(typeName string) bool {
	return GetRegistry().IsArray(typeName)
}

// IsFK returns whether a field type is a foreign key reference
func IsFK(typeName string) bool {
	return GetRegistry().IsFK(typeName)
}

// IsTextCompatible returns whether a field type stores as text
func IsTextCompatible(typeName string) bool {
	return GetRegistry().IsTextCompatible(typeName)
}

// GetOperators returns the valid filter operators for a field type
func GetOperators(typeName string) []string {
	return GetRegistry().GetOperators(typeName)
}

// GetValidationPattern returns the validation regex pattern and message for a field type
func GetValidationPattern(typeName string) (pattern string, message string) {
	return GetRegistry().GetValidationPattern(typeName)
}
