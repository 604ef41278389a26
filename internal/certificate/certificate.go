// Package certificate implements the immutable certificate entity, its
// subject/issuer identities and chain validation.
package certificate

import (
	"bytes"
	"crypto"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"time"

	qcrypto "github.com/remiblancher/qkeystore/internal/crypto"
)

// CAStatus describes a certificate's CA role.
// PathLen is the issuance depth below the root; nil for roots and end entities.
type CAStatus struct {
	IsCA    bool
	PathLen *int
}

func (s CAStatus) equal(o CAStatus) bool {
	if s.IsCA != o.IsCA {
		return false
	}
	if s.PathLen == nil || o.PathLen == nil {
		return s.PathLen == nil && o.PathLen == nil
	}
	return *s.PathLen == *o.PathLen
}

// Certificate is an immutable X.509 certificate.
// Values are only produced by CreateSelfSigned, CreateIssued and Parse.
type Certificate struct {
	raw []byte
	tbs []byte

	subject ID
	issuer  ID

	rawSubject []byte
	rawIssuer  []byte

	subjectKeyID   []byte
	authorityKeyID []byte

	publicKey crypto.PublicKey
	spki      []byte

	usage Usage
	ca    CAStatus

	notBefore time.Time
	notAfter  time.Time
	serial    *big.Int

	sigAlg    pkix.AlgorithmIdentifier
	signature []byte

	issuerUniqueID  asn1.BitString
	subjectUniqueID asn1.BitString

	extensions []pkix.Extension
}

// Raw returns the DER encoding. The slice must not be modified.
func (c *Certificate) Raw() []byte { return c.raw }

// RawTBS returns the DER encoding of the signed portion.
func (c *Certificate) RawTBS() []byte { return c.tbs }

// SubjectID returns the subject identity.
func (c *Certificate) SubjectID() ID { return c.subject }

// IssuerID returns the issuer identity.
func (c *Certificate) IssuerID() ID { return c.issuer }

// Key returns the trust-graph key of the certificate.
func (c *Certificate) Key() Key { return Key{Issuer: c.issuer, Subject: c.subject} }

// RawSubject returns the DER-encoded subject name.
func (c *Certificate) RawSubject() []byte { return c.rawSubject }

// RawIssuer returns the DER-encoded issuer name.
func (c *Certificate) RawIssuer() []byte { return c.rawIssuer }

// Subject returns the parsed subject name.
func (c *Certificate) Subject() pkix.Name {
	var rdn pkix.RDNSequence
	var name pkix.Name
	if _, err := asn1.Unmarshal(c.rawSubject, &rdn); err == nil {
		name.FillFromRDNSequence(&rdn)
	}
	return name
}

// SubjectKeyID returns the subject key identifier.
func (c *Certificate) SubjectKeyID() []byte { return c.subjectKeyID }

// AuthorityKeyID returns the authority key identifier, if present.
func (c *Certificate) AuthorityKeyID() []byte { return c.authorityKeyID }

// PublicKey returns the certified public key.
func (c *Certificate) PublicKey() crypto.PublicKey { return c.publicKey }

// RawSubjectPublicKeyInfo returns the DER-encoded SubjectPublicKeyInfo.
func (c *Certificate) RawSubjectPublicKeyInfo() []byte { return c.spki }

// Usage returns the permitted key uses.
func (c *Certificate) Usage() Usage { return c.usage }

// CA returns the CA status.
func (c *Certificate) CA() CAStatus { return c.ca }

// NotBefore returns the start of the validity window.
func (c *Certificate) NotBefore() time.Time { return c.notBefore }

// NotAfter returns the end of the validity window.
func (c *Certificate) NotAfter() time.Time { return c.notAfter }

// SerialNumber returns a copy of the serial number.
func (c *Certificate) SerialNumber() *big.Int { return new(big.Int).Set(c.serial) }

// SignatureAlgorithm returns the outer signature algorithm identifier.
func (c *Certificate) SignatureAlgorithm() pkix.AlgorithmIdentifier { return c.sigAlg }

// Signature returns the signature bits.
func (c *Certificate) Signature() []byte { return c.signature }

// Extensions returns the certificate extensions.
func (c *Certificate) Extensions() []pkix.Extension { return c.extensions }

// IsSelfSigned reports whether subject and issuer identities are equal.
func (c *Certificate) IsSelfSigned() bool { return c.subject == c.issuer }

// CanSignCertificates reports whether the certificate may issue certificates.
func (c *Certificate) CanSignCertificates() bool {
	return c.ca.IsCA && c.usage.Has(UsageCertify)
}

// IsValidAt reports whether t falls within the validity window.
func (c *Certificate) IsValidAt(t time.Time) bool {
	return !t.Before(c.notBefore) && !t.After(c.notAfter)
}

// Capabilities returns the cryptographic capabilities of the certified key.
func (c *Certificate) Capabilities() qcrypto.Capabilities {
	return qcrypto.CapabilitiesOf(c.publicKey)
}

// Equal reports whether both certificates carry identical fields.
func (c *Certificate) Equal(o *Certificate) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.subject == o.subject &&
		c.issuer == o.issuer &&
		bytes.Equal(c.spki, o.spki) &&
		c.usage == o.usage &&
		c.ca.equal(o.ca) &&
		c.notBefore.Equal(o.notBefore) &&
		c.notAfter.Equal(o.notAfter) &&
		c.serial.Cmp(o.serial) == 0 &&
		c.sigAlg.Algorithm.Equal(o.sigAlg.Algorithm) &&
		bytes.Equal(c.signature, o.signature) &&
		bytes.Equal(c.raw, o.raw)
}
