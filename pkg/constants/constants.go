package constants

// System field names - the snake_case column names used in storage and SQL.
const (
	FieldID             = "id"
	FieldOrganizationID = "organization_id"
)

// Commands are the operations a caller can request against a table.
// They map 1:1 to the SQL commands row policies are generated for.
const (
	CommandRead   = "read"
	CommandCreate = "create"
	CommandUpdate = "update"
	CommandDelete = "delete"
)

// Policy commands as they appear in policy declarations.
const (
	PolicySelect = "SELECT"
	PolicyInsert = "INSERT"
	PolicyUpdate = "UPDATE"
	PolicyDelete = "DELETE"
	PolicyAll    = "ALL"
)

// Session GUCs bound per transaction. Row policies compare against these
// via current_setting(..., true).
const (
	GUCCurrentOrg = "app.current_org"
	GUCCallerRole = "app.caller_role"
	GUCUserID     = "app.user_id"
)

// Context keys and headers.
const (
	ContextKeyCaller    = "caller"
	HeaderAuthorization = "Authorization"
	HeaderOrganization  = "X-Organization-Id"
)

// Button actions.
const (
	ButtonActionCustom     = "custom"
	ButtonActionURL        = "url"
	ButtonActionAutomation = "automation"
)

// Relation types for relationship fields.
const (
	RelationManyToOne = "many-to-one"
	RelationOneToMany = "one-to-many"
)
