//go:build !cgo

package crypto

import (
	"crypto"
	"fmt"
	"io"
)

// PKCS11Signer is unavailable without cgo.
type PKCS11Signer struct{}

// NewPKCS11Signer always fails when built without cgo.
func NewPKCS11Signer(cfg PKCS11Config) (*PKCS11Signer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("PKCS#11 support requires cgo")
}

// Public returns nil.
func (s *PKCS11Signer) Public() crypto.PublicKey { return nil }

// Sign always fails.
func (s *PKCS11Signer) Sign(io.Reader, []byte, crypto.SignerOpts) ([]byte, error) {
	return nil, fmt.Errorf("PKCS#11 support requires cgo")
}

// Close is a no-op.
func (s *PKCS11Signer) Close() error { return nil }
