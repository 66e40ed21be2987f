package domain

import "fmt"

// ValidationError reports a malformed policy record.
type ValidationError struct {
	CustomerID int64
	Line       int // source line when loaded from a file, 0 otherwise
	Field      string
	Reason     string
}

func (e *ValidationError) Error() string {
	if e.Line > 0 && e.CustomerID == 0 {
		return fmt.Sprintf("invalid record at line %d: %s %s", e.Line, e.Field, e.Reason)
	}
	if e.Line > 0 {
		return fmt.Sprintf("invalid record at line %d (customer %d): %s %s", e.Line, e.CustomerID, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid record (customer %d): %s %s", e.CustomerID, e.Field, e.Reason)
}
