package domain

import "fmt"

// Error types for consistent error handling across the service.

// ErrNotFound indicates a referenced client or claim does not exist.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrValidation indicates a malformed or missing field on a request.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrStore indicates the record store failed to complete an operation.
type ErrStore struct {
	Op  string
	Err error
}

func (e *ErrStore) Error() string {
	return fmt.Sprintf("store error [%s]: %v", e.Op, e.Err)
}

func (e *ErrStore) Unwrap() error {
	return e.Err
}

// ErrDuplicate is raised by a store that rejects a settlement with the
// same value and date already on the claim.
type ErrDuplicate struct {
	Key string
}

func (e *ErrDuplicate) Error() string {
	return fmt.Sprintf("duplicate operation: %s", e.Key)
}

// ErrConfirmation indicates a destructive operation was not confirmed.
type ErrConfirmation struct {
	Expected string
}

func (e *ErrConfirmation) Error() string {
	return fmt.Sprintf("confirmação obrigatória: envie %q", e.Expected)
}
