package crypto

import "errors"

// Sentinel errors for key handling.
var (
	// ErrUnsupportedKey is returned when a key type is not handled by an operation.
	ErrUnsupportedKey = errors.New("unsupported key type")

	// ErrNoCapability is returned when a key lacks the capability an operation needs.
	ErrNoCapability = errors.New("key lacks required capability")

	// ErrVerification is returned when a signature does not verify.
	ErrVerification = errors.New("signature verification failed")

	// ErrDecryption is returned when authenticated decryption fails.
	ErrDecryption = errors.New("decryption failed")
)
