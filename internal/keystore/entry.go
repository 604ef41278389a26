package keystore

import (
	"bytes"
	"crypto"

	"github.com/remiblancher/qkeystore/internal/certificate"
	qcrypto "github.com/remiblancher/qkeystore/internal/crypto"
)

// EntryKind discriminates keystore entries.
type EntryKind int

const (
	KindTrustedCertificate EntryKind = iota + 1
	KindPrivateKey
	KindSymmetricKey
	KindSymmetricKeySet
)

// String returns the kind name used in logs and audit events.
func (k EntryKind) String() string {
	switch k {
	case KindTrustedCertificate:
		return "trusted-certificate"
	case KindPrivateKey:
		return "private-key"
	case KindSymmetricKey:
		return "symmetric-key"
	case KindSymmetricKeySet:
		return "symmetric-key-set"
	default:
		return "unknown"
	}
}

// Entry is a value stored under an alias. Entries compare by content.
type Entry interface {
	Kind() EntryKind
	Equal(Entry) bool
	// CertificateKeys lists the trust-graph certificates the entry references.
	CertificateKeys() []certificate.Key
}

// TrustedCertificate marks a certificate as a trust anchor.
type TrustedCertificate struct {
	Certificate certificate.Key
}

func (e *TrustedCertificate) Kind() EntryKind { return KindTrustedCertificate }

func (e *TrustedCertificate) CertificateKeys() []certificate.Key {
	return []certificate.Key{e.Certificate}
}

func (e *TrustedCertificate) Equal(o Entry) bool {
	other, ok := o.(*TrustedCertificate)
	return ok && other.Certificate == e.Certificate
}

// PrivateKeyEntry holds a sealed private key, its public key and the
// certificate chain certifying it, leaf first.
type PrivateKeyEntry struct {
	Sealed    *qcrypto.SealedBox
	Algorithm qcrypto.AlgorithmID
	// PublicKey is the DER SubjectPublicKeyInfo, stored in the clear.
	PublicKey []byte
	Chain     []certificate.Key
}

func (e *PrivateKeyEntry) Kind() EntryKind { return KindPrivateKey }

func (e *PrivateKeyEntry) CertificateKeys() []certificate.Key {
	return e.Chain
}

func (e *PrivateKeyEntry) Equal(o Entry) bool {
	other, ok := o.(*PrivateKeyEntry)
	if !ok || e.Algorithm != other.Algorithm || !e.Sealed.Equal(other.Sealed) ||
		!bytes.Equal(e.PublicKey, other.PublicKey) || len(e.Chain) != len(other.Chain) {
		return false
	}
	for i := range e.Chain {
		if e.Chain[i] != other.Chain[i] {
			return false
		}
	}
	return true
}

// Public parses the stored public key.
func (e *PrivateKeyEntry) Public() (crypto.PublicKey, error) {
	return qcrypto.ParsePublicKey(e.PublicKey)
}

// SymmetricKey holds a sealed secret key and its algorithm name.
type SymmetricKey struct {
	Sealed    *qcrypto.SealedBox
	Algorithm string
}

func (e *SymmetricKey) Kind() EntryKind { return KindSymmetricKey }

func (e *SymmetricKey) CertificateKeys() []certificate.Key { return nil }

func (e *SymmetricKey) Equal(o Entry) bool {
	other, ok := o.(*SymmetricKey)
	return ok && e.Algorithm == other.Algorithm && e.Sealed.Equal(other.Sealed)
}

// SymmetricKeySet holds a sealed, CBOR-encoded set of secret keys.
type SymmetricKeySet struct {
	Sealed *qcrypto.SealedBox
}

func (e *SymmetricKeySet) Kind() EntryKind { return KindSymmetricKeySet }

func (e *SymmetricKeySet) CertificateKeys() []certificate.Key { return nil }

func (e *SymmetricKeySet) Equal(o Entry) bool {
	other, ok := o.(*SymmetricKeySet)
	return ok && e.Sealed.Equal(other.Sealed)
}
