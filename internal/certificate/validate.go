package certificate

import (
	"bytes"
	"crypto"
	"fmt"
	"time"

	qcrypto "github.com/remiblancher/qkeystore/internal/crypto"
)

// ValidateAgainstSigner checks that c was issued by signer at the current time.
func (c *Certificate) ValidateAgainstSigner(signer *Certificate) error {
	return c.ValidateAgainstSignerAt(signer, time.Now())
}

// ValidateAgainstSignerAt checks that c was issued by signer, with signer's
// validity evaluated at t.
func (c *Certificate) ValidateAgainstSignerAt(signer *Certificate, t time.Time) error {
	if signer == nil {
		return newError("validate", c, fmt.Errorf("%w: missing signer", ErrInvalidChain))
	}
	if c.IsSelfSigned() {
		return newError("validate", c, fmt.Errorf("%w: self-signed certificate has no external signer", ErrInvalidChain))
	}
	if c.issuer != signer.subject {
		return newError("validate", c, fmt.Errorf("%w: issuer %s does not match signer %s", ErrInvalidChain, c.issuer, signer.subject))
	}
	if !signer.CanSignCertificates() {
		return newError("validate", c, fmt.Errorf("%w: signer %s cannot sign certificates", ErrInvalidChain, signer.subject))
	}
	if err := c.checkSignature(signer.publicKey); err != nil {
		return newError("validate", c, err)
	}
	if !signer.IsValidAt(t) {
		return newError("validate", c, fmt.Errorf("%w: signer %s", ErrExpired, signer.subject))
	}
	return nil
}

// ValidateAsRoot checks that c can serve as a chain root.
func (c *Certificate) ValidateAsRoot() error {
	if !c.IsSelfSigned() {
		return newError("validate", c, fmt.Errorf("%w: root is not self-signed", ErrInvalidChain))
	}
	if !c.CanSignCertificates() {
		return newError("validate", c, fmt.Errorf("%w: root cannot sign certificates", ErrInvalidChain))
	}
	if c.ca.PathLen != nil {
		return newError("validate", c, fmt.Errorf("%w: root has a path length", ErrInvalidChain))
	}
	if c.issuerUniqueID.BitLength > 0 && !bytes.Equal(c.issuerUniqueID.Bytes, c.subjectUniqueID.Bytes) {
		return newError("validate", c, fmt.Errorf("%w: root issuer unique id differs from subject", ErrInvalidChain))
	}
	if err := c.checkSignature(c.publicKey); err != nil {
		return newError("validate", c, err)
	}
	return nil
}

func (c *Certificate) checkSignature(pub crypto.PublicKey) error {
	if err := qcrypto.VerifyMessage(c.sigAlg, pub, c.tbs, c.signature); err != nil {
		return fmt.Errorf("%w: signature verification failed: %v", ErrInvalidChain, err)
	}
	return nil
}

// checkPathLength verifies the depth recorded in child against its parent.
func checkPathLength(child, parent *Certificate) error {
	if !child.ca.IsCA {
		if child.ca.PathLen != nil {
			return fmt.Errorf("%w: end-entity certificate carries a path length", ErrInvalidChain)
		}
		return nil
	}
	if child.ca.PathLen == nil {
		return fmt.Errorf("%w: issued CA certificate has no path length", ErrInvalidChain)
	}
	want := 0
	if parent.ca.PathLen != nil {
		want = *parent.ca.PathLen + 1
	}
	if *child.ca.PathLen != want {
		return fmt.Errorf("%w: path length %d, expected %d", ErrInvalidChain, *child.ca.PathLen, want)
	}
	return nil
}

// ValidateChain validates chain, ordered leaf first, for holderPublicKey.
// A chain longer than one must end in a root accepted by isTrusted.
func ValidateChain(chain []*Certificate, holderPublicKey crypto.PublicKey, isTrusted func(*Certificate) bool) error {
	return ValidateChainAt(chain, holderPublicKey, isTrusted, time.Now())
}

// ValidateChainAt is ValidateChain with signer validity evaluated at t.
func ValidateChainAt(chain []*Certificate, holderPublicKey crypto.PublicKey, isTrusted func(*Certificate) bool, t time.Time) error {
	if len(chain) == 0 {
		return &CertError{Op: "chain", Err: fmt.Errorf("%w: empty chain", ErrInvalidChain)}
	}
	leaf := chain[0]
	if holderPublicKey != nil && !qcrypto.PublicKeysEqual(leaf.publicKey, holderPublicKey) {
		return newError("chain", leaf, fmt.Errorf("%w: leaf key does not match holder key", ErrInvalidChain))
	}

	for i := 0; i+1 < len(chain); i++ {
		child, parent := chain[i], chain[i+1]
		if err := child.ValidateAgainstSignerAt(parent, t); err != nil {
			return &CertError{Op: "chain", Err: fmt.Errorf("chain verification failed at level %d (%s -> %s): %w", i, child.subject, parent.subject, err)}
		}
		if err := checkPathLength(child, parent); err != nil {
			return newError("chain", child, fmt.Errorf("level %d: %w", i, err))
		}
	}

	root := chain[len(chain)-1]
	if err := root.ValidateAsRoot(); err != nil {
		return &CertError{Op: "chain", Err: err}
	}
	if len(chain) > 1 && (isTrusted == nil || !isTrusted(root)) {
		return newError("chain", root, fmt.Errorf("%w: root %s is not a trust anchor", ErrInvalidChain, root.subject))
	}
	return nil
}
