package app

// Operation statuses recorded in the history table.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// CatalogOperation tracks a CLI operation that may mutate the catalog.
// Operations are created in memory with ID=0. Only DB-mutating commands
// persist them (giving them an auto-increment ID from the database).
type CatalogOperation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string
}

// NewCatalogOperation creates a new in-memory catalog operation.
func NewCatalogOperation(operation, parameters string) *CatalogOperation {
	return &CatalogOperation{
		Operation:  operation,
		Parameters: parameters,
		Status:     StatusSuccess,
	}
}

// Persisted returns true if this operation has been saved to the database.
func (op *CatalogOperation) Persisted() bool {
	return op.ID != 0
}

// Fail marks the operation as having ended in an error. It sticks for the
// rest of the command.
func (op *CatalogOperation) Fail() {
	op.Status = StatusError
}
