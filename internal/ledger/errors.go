package ledger

import (
	"errors"
	"fmt"
)

// ErrNotFound is wrapped by every "referenced row does not exist" error
var ErrNotFound = errors.New("not found")

var (
	ErrUserNotFound        = fmt.Errorf("user %w", ErrNotFound)
	ErrTransactionNotFound = fmt.Errorf("transaction %w", ErrNotFound)
	ErrCategoryNotFound    = fmt.Errorf("category %w", ErrNotFound)
)

// ValidationError reports an input that does not satisfy a ledger precondition
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// AtomicityError means the combined row and balance mutation did not commit.
// Nothing from the operation is visible afterwards.
type AtomicityError struct {
	Op  string
	Err error
}

func (e *AtomicityError) Error() string {
	return fmt.Sprintf("%s: atomic unit failed: %v", e.Op, e.Err)
}

func (e *AtomicityError) Unwrap() error {
	return e.Err
}
