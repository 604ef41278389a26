package crypto

import (
	"crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"io"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/mlkem/mlkem1024"
	"github.com/cloudflare/circl/kem/mlkem/mlkem512"
	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/cloudflare/circl/sign/mldsa/mldsa87"
)

// KeyPair holds a public/private key pair.
// PrivateKey may be nil for a key pair that only carries a public key.
type KeyPair struct {
	Algorithm  AlgorithmID
	PrivateKey crypto.PrivateKey
	PublicKey  crypto.PublicKey
}

// HasPrivateKey reports whether the key pair holds private key material.
func (kp *KeyPair) HasPrivateKey() bool {
	return kp != nil && kp.PrivateKey != nil
}

// Signer returns the private key as a crypto.Signer.
func (kp *KeyPair) Signer() (crypto.Signer, error) {
	if !kp.HasPrivateKey() {
		return nil, fmt.Errorf("key pair has no private key")
	}
	s, ok := kp.PrivateKey.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: %T cannot sign", ErrUnsupportedKey, kp.PrivateKey)
	}
	return s, nil
}

// PublicOnly returns a key pair without private key material.
func (kp *KeyPair) PublicOnly() *KeyPair {
	return &KeyPair{Algorithm: kp.Algorithm, PublicKey: kp.PublicKey}
}

// NewKeyPair wraps an existing private key, deriving the public key and algorithm.
func NewKeyPair(priv crypto.PrivateKey) (*KeyPair, error) {
	pub, err := PublicKeyOf(priv)
	if err != nil {
		return nil, err
	}
	alg, err := AlgorithmOf(pub)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Algorithm: alg, PrivateKey: priv, PublicKey: pub}, nil
}

// GenerateKeyPair generates a new key pair for the specified algorithm.
//
// Example:
//
//	kp, err := crypto.GenerateKeyPair(crypto.AlgECDSAP256)
//	if err != nil {
//	    log.Fatal(err)
//	}
func GenerateKeyPair(alg AlgorithmID) (*KeyPair, error) {
	return GenerateKeyPairWithRand(rand.Reader, alg)
}

// GenerateKeyPairWithRand generates a key pair using the provided random source.
func GenerateKeyPairWithRand(random io.Reader, alg AlgorithmID) (*KeyPair, error) {
	if !alg.IsValid() {
		return nil, fmt.Errorf("unsupported algorithm: %s", alg)
	}

	var priv crypto.PrivateKey
	var pub crypto.PublicKey
	var err error

	switch alg {
	// ECDSA
	case AlgECDSAP256:
		priv, pub, err = generateECDSA(random, elliptic.P256())
	case AlgECDSAP384:
		priv, pub, err = generateECDSA(random, elliptic.P384())
	case AlgECDSAP521:
		priv, pub, err = generateECDSA(random, elliptic.P521())

	// EdDSA
	case AlgEd25519:
		priv, pub, err = generateEd25519(random)

	// RSA
	case AlgRSA2048:
		priv, pub, err = generateRSA(random, 2048)
	case AlgRSA3072:
		priv, pub, err = generateRSA(random, 3072)
	case AlgRSA4096:
		priv, pub, err = generateRSA(random, 4096)

	// ML-DSA
	case AlgMLDSA44:
		var p *mldsa44.PrivateKey
		pub, p, err = mldsa44.GenerateKey(random)
		priv = p
	case AlgMLDSA65:
		var p *mldsa65.PrivateKey
		pub, p, err = mldsa65.GenerateKey(random)
		priv = p
	case AlgMLDSA87:
		var p *mldsa87.PrivateKey
		pub, p, err = mldsa87.GenerateKey(random)
		priv = p

	// ML-KEM
	case AlgMLKEM512:
		var p *mlkem512.PrivateKey
		pub, p, err = mlkem512.GenerateKeyPair(random)
		priv = p
	case AlgMLKEM768:
		var p *mlkem768.PrivateKey
		pub, p, err = mlkem768.GenerateKeyPair(random)
		priv = p
	case AlgMLKEM1024:
		var p *mlkem1024.PrivateKey
		pub, p, err = mlkem1024.GenerateKeyPair(random)
		priv = p

	// Key agreement
	case AlgX25519:
		priv, pub, err = generateECDH(random, ecdh.X25519())
	case AlgECDHP256:
		priv, pub, err = generateECDH(random, ecdh.P256())
	case AlgECDHP384:
		priv, pub, err = generateECDH(random, ecdh.P384())

	// Key transport
	case AlgElGamal2K:
		priv, pub, err = generateElGamal(random)

	default:
		return nil, fmt.Errorf("key generation not implemented for: %s", alg)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to generate %s key: %w", alg, err)
	}

	return &KeyPair{
		Algorithm:  alg,
		PrivateKey: priv,
		PublicKey:  pub,
	}, nil
}

// generateECDSA generates an ECDSA key pair on the specified curve.
func generateECDSA(random io.Reader, curve elliptic.Curve) (crypto.PrivateKey, crypto.PublicKey, error) {
	priv, err := ecdsa.GenerateKey(curve, random)
	if err != nil {
		return nil, nil, err
	}
	return priv, &priv.PublicKey, nil
}

// generateEd25519 generates an Ed25519 key pair.
func generateEd25519(random io.Reader) (crypto.PrivateKey, crypto.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(random)
	if err != nil {
		return nil, nil, err
	}
	return priv, pub, nil
}

// generateRSA generates an RSA key pair with the specified bit size.
func generateRSA(random io.Reader, bits int) (crypto.PrivateKey, crypto.PublicKey, error) {
	priv, err := rsa.GenerateKey(random, bits)
	if err != nil {
		return nil, nil, err
	}
	return priv, &priv.PublicKey, nil
}

// generateECDH generates a key agreement key pair on the specified curve.
func generateECDH(random io.Reader, curve ecdh.Curve) (crypto.PrivateKey, crypto.PublicKey, error) {
	priv, err := curve.GenerateKey(random)
	if err != nil {
		return nil, nil, err
	}
	return priv, priv.PublicKey(), nil
}

// PublicKeyOf returns the public half of a private key.
func PublicKeyOf(priv crypto.PrivateKey) (crypto.PublicKey, error) {
	switch k := priv.(type) {
	case *ecdh.PrivateKey:
		return k.PublicKey(), nil
	case *ElGamalPrivateKey:
		return &k.PublicKey, nil
	case kem.PrivateKey:
		return k.Public(), nil
	case interface{ Public() crypto.PublicKey }:
		return k.Public(), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, priv)
	}
}

// AlgorithmOf identifies the algorithm of a public key.
func AlgorithmOf(pub crypto.PublicKey) (AlgorithmID, error) {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		switch k.Curve {
		case elliptic.P256():
			return AlgECDSAP256, nil
		case elliptic.P384():
			return AlgECDSAP384, nil
		case elliptic.P521():
			return AlgECDSAP521, nil
		}
	case ed25519.PublicKey:
		return AlgEd25519, nil
	case *rsa.PublicKey:
		switch bits := k.N.BitLen(); {
		case bits <= 2048:
			return AlgRSA2048, nil
		case bits <= 3072:
			return AlgRSA3072, nil
		default:
			return AlgRSA4096, nil
		}
	case *mldsa44.PublicKey:
		return AlgMLDSA44, nil
	case *mldsa65.PublicKey:
		return AlgMLDSA65, nil
	case *mldsa87.PublicKey:
		return AlgMLDSA87, nil
	case *mlkem512.PublicKey:
		return AlgMLKEM512, nil
	case *mlkem768.PublicKey:
		return AlgMLKEM768, nil
	case *mlkem1024.PublicKey:
		return AlgMLKEM1024, nil
	case *ecdh.PublicKey:
		switch k.Curve() {
		case ecdh.X25519():
			return AlgX25519, nil
		case ecdh.P256():
			return AlgECDHP256, nil
		case ecdh.P384():
			return AlgECDHP384, nil
		}
	case *ElGamalPublicKey:
		return AlgElGamal2K, nil
	}
	return "", fmt.Errorf("%w: %T", ErrUnsupportedKey, pub)
}
