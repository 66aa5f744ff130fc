package services

import (
	"sort"

	"github.com/appforge/backend/internal/domain/schema"
	"github.com/appforge/backend/pkg/errors"
	"github.com/appforge/backend/pkg/fieldtypes"
)

// MetadataService exposes read-only table descriptions for rendering
// layers. The views carry field names, types and options; nothing
// about policies or permission role lists leaves this layer.
type MetadataService struct {
	registry *SchemaRegistry
}

// NewMetadataService creates a new MetadataService
func NewMetadataService(registry *SchemaRegistry) *MetadataService {
	return &MetadataService{registry: registry}
}

// ListTables returns metadata for every table, sorted by name
func (ms *MetadataService) ListTables() ([]schema.TableMetadata, error) {
	snapshot := ms.registry.Current()
	if snapshot == nil {
		return nil, errors.NewInternalError("no schema has been applied", nil)
	}
	tables := make([]schema.TableMetadata, 0, len(snapshot.Tables))
	for _, table := range snapshot.Tables {
		tables = append(tables, buildTableMetadata(table))
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })
	return tables, nil
}

// GetTable returns metadata for one table
func (ms *MetadataService) GetTable(name string) (*schema.TableMetadata, error) {
	snapshot := ms.registry.Current()
	if snapshot == nil {
		return nil, errors.NewInternalError("no schema has been applied", nil)
	}
	table := snapshot.Table(name)
	if table == nil {
		return nil, errors.NewNotFoundError("table", name)
	}
	meta := buildTableMetadata(table)
	return &meta, nil
}

func buildTableMetadata(table *schema.CompiledTable) schema.TableMetadata {
	meta := schema.TableMetadata{
		Name:   table.Definition.Name,
		Fields: make([]schema.FieldMetadata, 0, len(table.Definition.Fields)),
	}
	for i := range table.Definition.Fields {
		field := &table.Definition.Fields[i]
		meta.Fields = append(meta.Fields, schema.FieldMetadata{
			Name:     field.Name,
			Type:     field.Type,
			Required: field.Required,
			UIOnly:   fieldtypes.IsUIOnly(field.Type),
			Computed: field.Type == "count",
			Options:  field.Options,
		})
	}
	return meta
}
