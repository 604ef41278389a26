package crypto

import (
	"crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rsa"

	"github.com/cloudflare/circl/kem"
)

// TransportFamily identifies how a short secret is transported to a key holder.
type TransportFamily int

const (
	TransportNone TransportFamily = iota
	TransportRSA
	TransportElGamal
	TransportKEM
)

// String returns the family name.
func (f TransportFamily) String() string {
	switch f {
	case TransportRSA:
		return "rsa-oaep"
	case TransportElGamal:
		return "elgamal"
	case TransportKEM:
		return "ml-kem"
	default:
		return "none"
	}
}

// Capabilities lists what a key can be used for.
type Capabilities struct {
	// Signature is the default signature scheme; zero when the key cannot sign.
	Signature SignatureAlgorithm
	Transport TransportFamily
	Agreement bool
}

// CanSign reports whether the key has a default signature scheme.
func (c Capabilities) CanSign() bool {
	return !c.Signature.IsZero()
}

// CanTransport reports whether a secret can be transported to the key.
func (c Capabilities) CanTransport() bool {
	return c.Transport != TransportNone
}

// CapabilitiesOf derives the capabilities of a public key from its type alone.
func CapabilitiesOf(pub crypto.PublicKey) Capabilities {
	var caps Capabilities
	caps.Signature, _ = DefaultSignatureAlgorithm(pub)

	switch k := pub.(type) {
	case *rsa.PublicKey:
		caps.Transport = TransportRSA
	case *ElGamalPublicKey:
		caps.Transport = TransportElGamal
	case kem.PublicKey:
		caps.Transport = TransportKEM
	case *ecdh.PublicKey:
		caps.Agreement = true
	case *ecdsa.PublicKey:
		_, err := k.ECDH()
		caps.Agreement = err == nil
	}
	return caps
}
