package crypto

import (
	"bytes"
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/mlkem/mlkem1024"
	"github.com/cloudflare/circl/kem/mlkem/mlkem512"
	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/cloudflare/circl/sign/mldsa/mldsa87"
)

// publicKeyInfo is the ASN.1 SubjectPublicKeyInfo structure.
type publicKeyInfo struct {
	Raw       asn1.RawContent
	Algorithm pkix.AlgorithmIdentifier
	PublicKey asn1.BitString
}

// privateKeyInfo is the ASN.1 PKCS#8 PrivateKeyInfo structure.
type privateKeyInfo struct {
	Version    int
	Algorithm  pkix.AlgorithmIdentifier
	PrivateKey []byte
}

// MarshalPublicKey encodes a public key as DER SubjectPublicKeyInfo.
func MarshalPublicKey(pub crypto.PublicKey) ([]byte, error) {
	var oid asn1.ObjectIdentifier
	var params asn1.RawValue
	var keyBytes []byte
	var err error

	switch k := pub.(type) {
	case *mldsa44.PublicKey:
		oid = OIDMLDSA44
		keyBytes, err = k.MarshalBinary()
	case *mldsa65.PublicKey:
		oid = OIDMLDSA65
		keyBytes, err = k.MarshalBinary()
	case *mldsa87.PublicKey:
		oid = OIDMLDSA87
		keyBytes, err = k.MarshalBinary()
	case *mlkem512.PublicKey:
		oid = OIDMLKEM512
		keyBytes, err = k.MarshalBinary()
	case *mlkem768.PublicKey:
		oid = OIDMLKEM768
		keyBytes, err = k.MarshalBinary()
	case *mlkem1024.PublicKey:
		oid = OIDMLKEM1024
		keyBytes, err = k.MarshalBinary()
	case *ElGamalPublicKey:
		oid = OIDElGamal
		var p []byte
		if p, err = asn1.Marshal(elGamalParams{P: k.P, G: k.G}); err == nil {
			params = asn1.RawValue{FullBytes: p}
			keyBytes, err = asn1.Marshal(k.Y)
		}
	default:
		der, err := x509.MarshalPKIXPublicKey(pub)
		if err != nil {
			return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, pub)
		}
		return der, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}

	return asn1.Marshal(publicKeyInfo{
		Algorithm: pkix.AlgorithmIdentifier{Algorithm: oid, Parameters: params},
		PublicKey: asn1.BitString{Bytes: keyBytes, BitLength: len(keyBytes) * 8},
	})
}

// ParsePublicKey decodes a DER SubjectPublicKeyInfo.
func ParsePublicKey(der []byte) (crypto.PublicKey, error) {
	var spki publicKeyInfo
	rest, err := asn1.Unmarshal(der, &spki)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SubjectPublicKeyInfo: %w", err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("trailing data after SubjectPublicKeyInfo")
	}
	keyBytes := spki.PublicKey.RightAlign()
	oid := spki.Algorithm.Algorithm

	switch {
	case oid.Equal(OIDMLDSA44):
		pk := new(mldsa44.PublicKey)
		if err := pk.UnmarshalBinary(keyBytes); err != nil {
			return nil, fmt.Errorf("failed to parse ML-DSA-44 key: %w", err)
		}
		return pk, nil
	case oid.Equal(OIDMLDSA65):
		pk := new(mldsa65.PublicKey)
		if err := pk.UnmarshalBinary(keyBytes); err != nil {
			return nil, fmt.Errorf("failed to parse ML-DSA-65 key: %w", err)
		}
		return pk, nil
	case oid.Equal(OIDMLDSA87):
		pk := new(mldsa87.PublicKey)
		if err := pk.UnmarshalBinary(keyBytes); err != nil {
			return nil, fmt.Errorf("failed to parse ML-DSA-87 key: %w", err)
		}
		return pk, nil
	case oid.Equal(OIDMLKEM512), oid.Equal(OIDMLKEM768), oid.Equal(OIDMLKEM1024):
		pk, err := kemScheme(oid).UnmarshalBinaryPublicKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ML-KEM key: %w", err)
		}
		return pk, nil
	case oid.Equal(OIDElGamal):
		var params elGamalParams
		if _, err := asn1.Unmarshal(spki.Algorithm.Parameters.FullBytes, &params); err != nil {
			return nil, fmt.Errorf("failed to parse ElGamal parameters: %w", err)
		}
		y := new(big.Int)
		if _, err := asn1.Unmarshal(keyBytes, &y); err != nil {
			return nil, fmt.Errorf("failed to parse ElGamal key: %w", err)
		}
		return &ElGamalPublicKey{P: params.P, G: params.G, Y: y}, nil
	default:
		return x509.ParsePKIXPublicKey(der)
	}
}

// MarshalPrivateKey encodes a private key as DER PKCS#8 PrivateKeyInfo.
func MarshalPrivateKey(priv crypto.PrivateKey) ([]byte, error) {
	var oid asn1.ObjectIdentifier
	var params asn1.RawValue
	var keyBytes []byte
	var err error

	switch k := priv.(type) {
	case *mldsa44.PrivateKey:
		oid = OIDMLDSA44
		keyBytes, err = k.MarshalBinary()
	case *mldsa65.PrivateKey:
		oid = OIDMLDSA65
		keyBytes, err = k.MarshalBinary()
	case *mldsa87.PrivateKey:
		oid = OIDMLDSA87
		keyBytes, err = k.MarshalBinary()
	case *mlkem512.PrivateKey:
		oid = OIDMLKEM512
		keyBytes, err = k.MarshalBinary()
	case *mlkem768.PrivateKey:
		oid = OIDMLKEM768
		keyBytes, err = k.MarshalBinary()
	case *mlkem1024.PrivateKey:
		oid = OIDMLKEM1024
		keyBytes, err = k.MarshalBinary()
	case *ElGamalPrivateKey:
		oid = OIDElGamal
		var p []byte
		if p, err = asn1.Marshal(elGamalParams{P: k.P, G: k.G}); err == nil {
			params = asn1.RawValue{FullBytes: p}
			keyBytes, err = asn1.Marshal(k.X)
		}
	default:
		der, err := x509.MarshalPKCS8PrivateKey(priv)
		if err != nil {
			return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, priv)
		}
		return der, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	der, err := asn1.Marshal(privateKeyInfo{
		Algorithm:  pkix.AlgorithmIdentifier{Algorithm: oid, Parameters: params},
		PrivateKey: keyBytes,
	})
	Wipe(keyBytes)
	return der, err
}

// ParsePrivateKey decodes a DER PKCS#8 PrivateKeyInfo.
func ParsePrivateKey(der []byte) (crypto.PrivateKey, error) {
	var info privateKeyInfo
	if _, err := asn1.Unmarshal(der, &info); err != nil {
		return nil, fmt.Errorf("failed to parse PrivateKeyInfo: %w", err)
	}
	oid := info.Algorithm.Algorithm

	switch {
	case oid.Equal(OIDMLDSA44):
		sk := new(mldsa44.PrivateKey)
		if err := sk.UnmarshalBinary(info.PrivateKey); err != nil {
			return nil, fmt.Errorf("failed to parse ML-DSA-44 key: %w", err)
		}
		return sk, nil
	case oid.Equal(OIDMLDSA65):
		sk := new(mldsa65.PrivateKey)
		if err := sk.UnmarshalBinary(info.PrivateKey); err != nil {
			return nil, fmt.Errorf("failed to parse ML-DSA-65 key: %w", err)
		}
		return sk, nil
	case oid.Equal(OIDMLDSA87):
		sk := new(mldsa87.PrivateKey)
		if err := sk.UnmarshalBinary(info.PrivateKey); err != nil {
			return nil, fmt.Errorf("failed to parse ML-DSA-87 key: %w", err)
		}
		return sk, nil
	case oid.Equal(OIDMLKEM512), oid.Equal(OIDMLKEM768), oid.Equal(OIDMLKEM1024):
		sk, err := kemScheme(oid).UnmarshalBinaryPrivateKey(info.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ML-KEM key: %w", err)
		}
		return sk, nil
	case oid.Equal(OIDElGamal):
		var params elGamalParams
		if _, err := asn1.Unmarshal(info.Algorithm.Parameters.FullBytes, &params); err != nil {
			return nil, fmt.Errorf("failed to parse ElGamal parameters: %w", err)
		}
		x := new(big.Int)
		if _, err := asn1.Unmarshal(info.PrivateKey, &x); err != nil {
			return nil, fmt.Errorf("failed to parse ElGamal key: %w", err)
		}
		return &ElGamalPrivateKey{
			PublicKey: ElGamalPublicKey{P: params.P, G: params.G, Y: new(big.Int).Exp(params.G, x, params.P)},
			X:         x,
		}, nil
	default:
		return x509.ParsePKCS8PrivateKey(der)
	}
}

// kemScheme returns the circl scheme for an ML-KEM OID.
func kemScheme(oid asn1.ObjectIdentifier) kem.Scheme {
	switch {
	case oid.Equal(OIDMLKEM512):
		return mlkem512.Scheme()
	case oid.Equal(OIDMLKEM1024):
		return mlkem1024.Scheme()
	default:
		return mlkem768.Scheme()
	}
}

// SubjectPublicKeyBytes returns the subjectPublicKey bits of a public key.
func SubjectPublicKeyBytes(pub crypto.PublicKey) ([]byte, error) {
	der, err := MarshalPublicKey(pub)
	if err != nil {
		return nil, err
	}
	var spki publicKeyInfo
	if _, err := asn1.Unmarshal(der, &spki); err != nil {
		return nil, fmt.Errorf("failed to parse SPKI: %w", err)
	}
	return spki.PublicKey.RightAlign(), nil
}

// KeyIdentifier computes the 20-byte key identifier of a public key:
// the leftmost 160 bits of SHA-256 over the subjectPublicKey bits.
func KeyIdentifier(pub crypto.PublicKey) ([]byte, error) {
	keyBytes, err := SubjectPublicKeyBytes(pub)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(keyBytes)
	return sum[:20], nil
}

// PublicKeysEqual reports whether two public keys have the same encoding.
func PublicKeysEqual(a, b crypto.PublicKey) bool {
	if a == nil || b == nil {
		return false
	}
	da, err := MarshalPublicKey(a)
	if err != nil {
		return false
	}
	db, err := MarshalPublicKey(b)
	if err != nil {
		return false
	}
	return bytes.Equal(da, db)
}
