package types

// Standard table names served by the row store.
const (
	TableClients   = "clients"
	TableDocuments = "documents"
	TableTasks     = "tasks"
)

// StandardTableNames lists all standard table names for enumeration.
var StandardTableNames = []string{
	TableClients,
	TableDocuments,
	TableTasks,
}

// Well-known columns every stored row carries.
const (
	ColumnID        = "id"
	ColumnOwner     = "user_id"
	ColumnCreatedAt = "created_at"
	ColumnUpdatedAt = "updated_at"
)

// IsStandardTable reports whether name is one of StandardTableNames.
func IsStandardTable(name string) bool {
	for _, t := range StandardTableNames {
		if t == name {
			return true
		}
	}
	return false
}
