package certificate

import (
	"errors"
	"fmt"
)

// CertError represents a certificate operation error with structured context.
// It supports errors.Is() and errors.As().
type CertError struct {
	Op     string // Operation: "create", "issue", "parse", "validate", "chain"
	Serial string // Certificate serial number (if applicable)
	Err    error  // Underlying error
}

// Error implements the error interface.
func (e *CertError) Error() string {
	if e.Serial != "" {
		return fmt.Sprintf("certificate %s [%s]: %v", e.Op, e.Serial, e.Err)
	}
	return fmt.Sprintf("certificate %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *CertError) Unwrap() error { return e.Err }

func newError(op string, c *Certificate, err error) *CertError {
	e := &CertError{Op: op, Err: err}
	if c != nil && c.serial != nil {
		e.Serial = c.serial.Text(16)
	}
	return e
}

// Sentinel errors for certificate operations.
// Use errors.Is() to check for these errors through the error chain.
var (
	// ErrInvalidChain indicates a hierarchy, CA, path-length or signature
	// mismatch between a certificate and its signer.
	ErrInvalidChain = errors.New("invalid certificate chain")

	// ErrExpired indicates a certificate is expired or not yet valid.
	ErrExpired = errors.New("certificate expired or not yet valid")

	// ErrMalformedEncoding indicates an ASN.1/DER structural violation.
	ErrMalformedEncoding = errors.New("malformed encoding")

	// ErrMissingPrivateKey indicates an operation needed a private key.
	ErrMissingPrivateKey = errors.New("private key required")
)
