package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"io"

	"github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/cloudflare/circl/sign/mldsa/mldsa87"
)

// SignatureAlgorithm describes a signature scheme: its AlgorithmIdentifier
// OID and the digest applied to the message before signing (0 for schemes
// that sign the message directly).
type SignatureAlgorithm struct {
	Name       string
	OID        asn1.ObjectIdentifier
	Hash       crypto.Hash
	NullParams bool
}

// Signature algorithms.
var (
	SigECDSAWithSHA256 = SignatureAlgorithm{Name: "ecdsa-with-SHA256", OID: asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}, Hash: crypto.SHA256}
	SigECDSAWithSHA384 = SignatureAlgorithm{Name: "ecdsa-with-SHA384", OID: asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}, Hash: crypto.SHA384}
	SigECDSAWithSHA512 = SignatureAlgorithm{Name: "ecdsa-with-SHA512", OID: asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}, Hash: crypto.SHA512}
	SigSHA256WithRSA   = SignatureAlgorithm{Name: "sha256WithRSAEncryption", OID: asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}, Hash: crypto.SHA256, NullParams: true}
	SigEd25519         = SignatureAlgorithm{Name: "Ed25519", OID: OIDEd25519}
	SigMLDSA44         = SignatureAlgorithm{Name: "ML-DSA-44", OID: OIDMLDSA44}
	SigMLDSA65         = SignatureAlgorithm{Name: "ML-DSA-65", OID: OIDMLDSA65}
	SigMLDSA87         = SignatureAlgorithm{Name: "ML-DSA-87", OID: OIDMLDSA87}
)

var signatureAlgorithms = []SignatureAlgorithm{
	SigECDSAWithSHA256, SigECDSAWithSHA384, SigECDSAWithSHA512,
	SigSHA256WithRSA, SigEd25519, SigMLDSA44, SigMLDSA65, SigMLDSA87,
}

// IsZero reports whether a is the zero value (no signature capability).
func (a SignatureAlgorithm) IsZero() bool {
	return len(a.OID) == 0
}

// AlgorithmIdentifier returns the DER AlgorithmIdentifier for a.
func (a SignatureAlgorithm) AlgorithmIdentifier() pkix.AlgorithmIdentifier {
	ai := pkix.AlgorithmIdentifier{Algorithm: a.OID}
	if a.NullParams {
		ai.Parameters = asn1.NullRawValue
	}
	return ai
}

// String returns the algorithm name.
func (a SignatureAlgorithm) String() string {
	return a.Name
}

// SignatureAlgorithmFromIdentifier resolves an AlgorithmIdentifier.
func SignatureAlgorithmFromIdentifier(ai pkix.AlgorithmIdentifier) (SignatureAlgorithm, error) {
	for _, a := range signatureAlgorithms {
		if a.OID.Equal(ai.Algorithm) {
			return a, nil
		}
	}
	return SignatureAlgorithm{}, fmt.Errorf("unsupported signature algorithm: %v", ai.Algorithm)
}

// DefaultSignatureAlgorithm returns the signature scheme used for a public key.
// The boolean is false for keys that cannot sign.
func DefaultSignatureAlgorithm(pub crypto.PublicKey) (SignatureAlgorithm, bool) {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		switch k.Curve {
		case elliptic.P384():
			return SigECDSAWithSHA384, true
		case elliptic.P521():
			return SigECDSAWithSHA512, true
		default:
			return SigECDSAWithSHA256, true
		}
	case ed25519.PublicKey:
		return SigEd25519, true
	case *rsa.PublicKey:
		return SigSHA256WithRSA, true
	case *mldsa44.PublicKey:
		return SigMLDSA44, true
	case *mldsa65.PublicKey:
		return SigMLDSA65, true
	case *mldsa87.PublicKey:
		return SigMLDSA87, true
	default:
		return SignatureAlgorithm{}, false
	}
}

// SignMessage signs message with signer using the default scheme of its
// public key. Digesting is done here, so signer may be an HSM-backed
// crypto.Signer that only sees the digest.
func SignMessage(random io.Reader, signer crypto.Signer, message []byte) (pkix.AlgorithmIdentifier, []byte, error) {
	alg, ok := DefaultSignatureAlgorithm(signer.Public())
	if !ok {
		return pkix.AlgorithmIdentifier{}, nil, fmt.Errorf("%w: %T cannot sign", ErrNoCapability, signer.Public())
	}
	if random == nil {
		random = rand.Reader
	}

	input := message
	if alg.Hash != 0 {
		h := alg.Hash.New()
		h.Write(message)
		input = h.Sum(nil)
	}

	sig, err := signer.Sign(random, input, alg.Hash)
	if err != nil {
		return pkix.AlgorithmIdentifier{}, nil, fmt.Errorf("failed to sign with %s: %w", alg, err)
	}
	return alg.AlgorithmIdentifier(), sig, nil
}

// VerifyMessage checks a signature produced by SignMessage.
func VerifyMessage(ai pkix.AlgorithmIdentifier, pub crypto.PublicKey, message, signature []byte) error {
	alg, err := SignatureAlgorithmFromIdentifier(ai)
	if err != nil {
		return err
	}

	var digest []byte
	if alg.Hash != 0 {
		h := alg.Hash.New()
		h.Write(message)
		digest = h.Sum(nil)
	}

	var ok bool
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		ok = isECDSA(alg) && ecdsa.VerifyASN1(k, digest, signature)
	case ed25519.PublicKey:
		ok = alg.OID.Equal(OIDEd25519) && ed25519.Verify(k, message, signature)
	case *rsa.PublicKey:
		ok = alg.NullParams && rsa.VerifyPKCS1v15(k, alg.Hash, digest, signature) == nil
	case *mldsa44.PublicKey:
		ok = alg.OID.Equal(OIDMLDSA44) && mldsa44.Verify(k, message, nil, signature)
	case *mldsa65.PublicKey:
		ok = alg.OID.Equal(OIDMLDSA65) && mldsa65.Verify(k, message, nil, signature)
	case *mldsa87.PublicKey:
		ok = alg.OID.Equal(OIDMLDSA87) && mldsa87.Verify(k, message, nil, signature)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedKey, pub)
	}
	if !ok {
		return fmt.Errorf("%w (%s)", ErrVerification, alg)
	}
	return nil
}

func isECDSA(alg SignatureAlgorithm) bool {
	return alg.OID.Equal(SigECDSAWithSHA256.OID) ||
		alg.OID.Equal(SigECDSAWithSHA384.OID) ||
		alg.OID.Equal(SigECDSAWithSHA512.OID)
}
