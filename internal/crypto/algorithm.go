// Package crypto provides the cryptographic primitives used by the keystore
// and the enrollment protocol. It supports classical algorithms (ECDSA,
// Ed25519, RSA, ECDH, X25519, ElGamal) and post-quantum algorithms (ML-DSA,
// ML-KEM) via the cloudflare/circl library.
package crypto

import (
	"encoding/asn1"
	"fmt"
	"sort"
)

// AlgorithmID identifies a key algorithm.
type AlgorithmID string

// Classical signature algorithms.
const (
	AlgECDSAP256 AlgorithmID = "ecdsa-p256"
	AlgECDSAP384 AlgorithmID = "ecdsa-p384"
	AlgECDSAP521 AlgorithmID = "ecdsa-p521"
	AlgEd25519   AlgorithmID = "ed25519"
	AlgRSA2048   AlgorithmID = "rsa-2048"
	AlgRSA3072   AlgorithmID = "rsa-3072"
	AlgRSA4096   AlgorithmID = "rsa-4096"
)

// Post-quantum signature algorithms (FIPS 204 ML-DSA).
const (
	AlgMLDSA44 AlgorithmID = "ml-dsa-44"
	AlgMLDSA65 AlgorithmID = "ml-dsa-65"
	AlgMLDSA87 AlgorithmID = "ml-dsa-87"
)

// Post-quantum KEM algorithms (FIPS 203 ML-KEM).
const (
	AlgMLKEM512  AlgorithmID = "ml-kem-512"
	AlgMLKEM768  AlgorithmID = "ml-kem-768"
	AlgMLKEM1024 AlgorithmID = "ml-kem-1024"
)

// Key agreement algorithms.
const (
	AlgX25519    AlgorithmID = "x25519"
	AlgECDHP256  AlgorithmID = "ecdh-p256"
	AlgECDHP384  AlgorithmID = "ecdh-p384"
	AlgElGamal2K AlgorithmID = "elgamal-2048"
)

// AlgorithmType categorizes algorithms.
type AlgorithmType int

const (
	TypeUnknown AlgorithmType = iota
	TypeClassicalSignature
	TypePQCSignature
	TypePQCKEM
	TypeKeyAgreement
	TypeKeyTransport
)

// algorithmInfo holds metadata about an algorithm.
type algorithmInfo struct {
	Type        AlgorithmType
	OID         asn1.ObjectIdentifier
	KeySizeBits int
	Description string
}

// algorithms maps AlgorithmID to its metadata.
var algorithms = map[AlgorithmID]algorithmInfo{
	AlgECDSAP256: {TypeClassicalSignature, OIDCurveP256, 256, "ECDSA with P-256 curve"},
	AlgECDSAP384: {TypeClassicalSignature, OIDCurveP384, 384, "ECDSA with P-384 curve"},
	AlgECDSAP521: {TypeClassicalSignature, OIDCurveP521, 521, "ECDSA with P-521 curve"},
	AlgEd25519:   {TypeClassicalSignature, OIDEd25519, 256, "Ed25519 (EdDSA with Curve25519)"},
	AlgRSA2048:   {TypeClassicalSignature, OIDRSAEncryption, 2048, "RSA 2048-bit"},
	AlgRSA3072:   {TypeClassicalSignature, OIDRSAEncryption, 3072, "RSA 3072-bit"},
	AlgRSA4096:   {TypeClassicalSignature, OIDRSAEncryption, 4096, "RSA 4096-bit"},

	AlgMLDSA44: {TypePQCSignature, OIDMLDSA44, 0, "ML-DSA-44 (NIST Level 1)"},
	AlgMLDSA65: {TypePQCSignature, OIDMLDSA65, 0, "ML-DSA-65 (NIST Level 3)"},
	AlgMLDSA87: {TypePQCSignature, OIDMLDSA87, 0, "ML-DSA-87 (NIST Level 5)"},

	AlgMLKEM512:  {TypePQCKEM, OIDMLKEM512, 0, "ML-KEM-512 (NIST Level 1)"},
	AlgMLKEM768:  {TypePQCKEM, OIDMLKEM768, 0, "ML-KEM-768 (NIST Level 3)"},
	AlgMLKEM1024: {TypePQCKEM, OIDMLKEM1024, 0, "ML-KEM-1024 (NIST Level 5)"},

	AlgX25519:    {TypeKeyAgreement, OIDX25519, 256, "X25519 key agreement"},
	AlgECDHP256:  {TypeKeyAgreement, OIDCurveP256, 256, "ECDH with P-256 curve"},
	AlgECDHP384:  {TypeKeyAgreement, OIDCurveP384, 384, "ECDH with P-384 curve"},
	AlgElGamal2K: {TypeKeyTransport, OIDElGamal, 2048, "ElGamal over the RFC 3526 2048-bit MODP group"},
}

// Key algorithm OIDs.
var (
	OIDRSAEncryption = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}
	OIDECPublicKey   = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	OIDCurveP256     = asn1.ObjectIdentifier{1, 2, 840, 10045, 3, 1, 7}
	OIDCurveP384     = asn1.ObjectIdentifier{1, 3, 132, 0, 34}
	OIDCurveP521     = asn1.ObjectIdentifier{1, 3, 132, 0, 35}
	OIDEd25519       = asn1.ObjectIdentifier{1, 3, 101, 112}
	OIDX25519        = asn1.ObjectIdentifier{1, 3, 101, 110}
	OIDElGamal       = asn1.ObjectIdentifier{1, 3, 14, 7, 2, 1, 1}

	OIDMLDSA44 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 3, 17}
	OIDMLDSA65 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 3, 18}
	OIDMLDSA87 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 3, 19}

	OIDMLKEM512  = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 4, 1}
	OIDMLKEM768  = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 4, 2}
	OIDMLKEM1024 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 4, 3}
)

// IsValid returns true if the algorithm is recognized.
func (a AlgorithmID) IsValid() bool {
	_, ok := algorithms[a]
	return ok
}

// Type returns the algorithm type.
func (a AlgorithmID) Type() AlgorithmType {
	if info, ok := algorithms[a]; ok {
		return info.Type
	}
	return TypeUnknown
}

// IsSignature returns true for signature algorithms (classical or PQC).
func (a AlgorithmID) IsSignature() bool {
	t := a.Type()
	return t == TypeClassicalSignature || t == TypePQCSignature
}

// IsKEM returns true for Key Encapsulation Mechanism algorithms.
func (a AlgorithmID) IsKEM() bool {
	return a.Type() == TypePQCKEM
}

// IsPQC returns true for post-quantum algorithms.
func (a AlgorithmID) IsPQC() bool {
	t := a.Type()
	return t == TypePQCSignature || t == TypePQCKEM
}

// OID returns the ASN.1 Object Identifier for this algorithm's keys.
func (a AlgorithmID) OID() asn1.ObjectIdentifier {
	if info, ok := algorithms[a]; ok {
		return info.OID
	}
	return nil
}

// Description returns a human-readable description of the algorithm.
func (a AlgorithmID) Description() string {
	if info, ok := algorithms[a]; ok {
		return info.Description
	}
	return "Unknown algorithm"
}

// String returns the algorithm identifier as a string.
func (a AlgorithmID) String() string {
	return string(a)
}

// ParseAlgorithm parses a string into an AlgorithmID.
func ParseAlgorithm(s string) (AlgorithmID, error) {
	alg := AlgorithmID(s)
	if !alg.IsValid() {
		return "", fmt.Errorf("unknown algorithm: %s", s)
	}
	return alg, nil
}

// AllAlgorithms returns all supported algorithm IDs, sorted.
func AllAlgorithms() []AlgorithmID {
	result := make([]AlgorithmID, 0, len(algorithms))
	for alg := range algorithms {
		result = append(result, alg)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}
