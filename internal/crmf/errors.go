package crmf

import (
	"errors"
	"fmt"

	"github.com/remiblancher/qkeystore/internal/certificate"
)

// Sentinel errors for the enrollment exchange. Every one is terminal for the
// request that raised it.
var (
	// ErrUnsupportedKeyCapability is returned when no proof-of-possession
	// strategy applies to the requester and target keys.
	ErrUnsupportedKeyCapability = errors.New("no proof-of-possession strategy for key")

	// ErrSubjectMismatch is returned when the subject bound to a wrapped
	// private key differs from the template subject.
	ErrSubjectMismatch = errors.New("wrapped key subject does not match template subject")

	// ErrMacMismatch is returned when the password-based MAC is missing or wrong.
	ErrMacMismatch = errors.New("password-based MAC mismatch")

	// ErrInvalidProof is returned when a proof of possession does not verify.
	ErrInvalidProof = errors.New("invalid proof of possession")

	// ErrAlreadyDecrypted is returned when decrypting a response twice.
	ErrAlreadyDecrypted = errors.New("response already decrypted")

	// ErrEncryptedResponse is returned when reading the certificate of a
	// response that has not been decrypted.
	ErrEncryptedResponse = errors.New("response is encrypted")

	// ErrMalformedEncoding is shared with the certificate codec.
	ErrMalformedEncoding = certificate.ErrMalformedEncoding
)

// EnrollError wraps a failure with the operation and request it belongs to.
type EnrollError struct {
	Op        string
	RequestID int64
	Err       error
}

func (e *EnrollError) Error() string {
	if e.RequestID != 0 {
		return fmt.Sprintf("crmf %s (request %d): %v", e.Op, e.RequestID, e.Err)
	}
	return fmt.Sprintf("crmf %s: %v", e.Op, e.Err)
}

func (e *EnrollError) Unwrap() error { return e.Err }

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedEncoding, fmt.Sprintf(format, args...))
}
