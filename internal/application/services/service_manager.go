package services

import (
	"github.com/appforge/backend/internal/infrastructure/database"
)

// ServiceManager orchestrates all services with dependency injection
type ServiceManager struct {
	db *database.PostgresConnection

	Counts   *CountMaintainer
	Compiler *SchemaCompiler
	Registry *SchemaRegistry
	Authz    *AuthorizationService
	Records  *RecordService
	Metadata *MetadataService
	Audit    *SchemaAudit
}

// NewServiceManager creates a new service manager with all dependencies wired
func NewServiceManager(db *database.PostgresConnection) *ServiceManager {
	sm := &ServiceManager{db: db}

	// Initialize services in dependency order
	sm.Counts = NewCountMaintainer()
	sm.Compiler = NewSchemaCompiler(sm.Counts)
	sm.Registry = NewSchemaRegistry(db, sm.Compiler)
	sm.Authz = NewAuthorizationService()
	sm.Records = NewRecordService(db, sm.Registry, sm.Authz, sm.Counts)
	sm.Metadata = NewMetadataService(sm.Registry)
	sm.Audit = NewSchemaAudit(db, sm.Registry)

	return sm
}

// Shutdown stops background workers
func (sm *ServiceManager) Shutdown() {
	sm.Audit.Stop()
}
