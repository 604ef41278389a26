package keystore

import (
	"errors"
	"fmt"
)

// StoreError represents a keystore operation error with structured context.
type StoreError struct {
	Op    string // Operation: "set", "delete", "get", "issue", "restore"
	Alias string // Alias concerned, if any
	Err   error  // Underlying error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Alias != "" {
		return fmt.Sprintf("keystore %s [%s]: %v", e.Op, e.Alias, e.Err)
	}
	return fmt.Sprintf("keystore %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StoreError) Unwrap() error { return e.Err }

// Sentinel errors for keystore operations.
var (
	// ErrNotFound indicates a missing alias, certificate or lookup result.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateAlias indicates an alias already holds an entry of another kind.
	ErrDuplicateAlias = errors.New("alias holds an entry of a different kind")

	// ErrWrongEntryKind indicates an operation was applied to the wrong entry kind.
	ErrWrongEntryKind = errors.New("wrong entry kind")

	// ErrWrongPassword indicates a sealed secret could not be opened.
	ErrWrongPassword = errors.New("wrong password or corrupted entry")

	// ErrConflict indicates a different certificate is already stored under
	// the same issuer and subject identities.
	ErrConflict = errors.New("conflicting certificate for the same identities")
)
