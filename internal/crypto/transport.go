package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/cloudflare/circl/kem"
)

// EncryptKey transports a short secret to the holder of pub using
// RSA-OAEP (SHA-256) or ElGamal.
func EncryptKey(random io.Reader, pub crypto.PublicKey, secret []byte) ([]byte, error) {
	if random == nil {
		random = rand.Reader
	}
	switch k := pub.(type) {
	case *rsa.PublicKey:
		ct, err := rsa.EncryptOAEP(sha256.New(), random, k, secret, nil)
		if err != nil {
			return nil, fmt.Errorf("rsa-oaep encrypt: %w", err)
		}
		return ct, nil
	case *ElGamalPublicKey:
		return elGamalEncrypt(random, k, secret)
	default:
		return nil, fmt.Errorf("%w: %T cannot receive a transported key", ErrNoCapability, pub)
	}
}

// DecryptKey recovers a secret encrypted with EncryptKey.
func DecryptKey(priv crypto.PrivateKey, ciphertext []byte) ([]byte, error) {
	switch k := priv.(type) {
	case *rsa.PrivateKey:
		pt, err := rsa.DecryptOAEP(sha256.New(), nil, k, ciphertext, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: rsa-oaep: %v", ErrDecryption, err)
		}
		return pt, nil
	case *ElGamalPrivateKey:
		return elGamalDecrypt(k, ciphertext)
	case crypto.Decrypter:
		// HSM-backed RSA keys
		pt, err := k.Decrypt(rand.Reader, ciphertext, &rsa.OAEPOptions{Hash: crypto.SHA256})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
		}
		return pt, nil
	default:
		return nil, fmt.Errorf("%w: %T cannot decrypt a transported key", ErrNoCapability, priv)
	}
}

// Encapsulate generates a shared secret and its ML-KEM ciphertext for pub.
func Encapsulate(pub crypto.PublicKey) (ciphertext, secret []byte, err error) {
	k, ok := pub.(kem.PublicKey)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %T is not a KEM key", ErrNoCapability, pub)
	}
	ciphertext, secret, err = k.Scheme().Encapsulate(k)
	if err != nil {
		return nil, nil, fmt.Errorf("%s encapsulation failed: %w", k.Scheme().Name(), err)
	}
	return ciphertext, secret, nil
}

// Decapsulate recovers the shared secret from an ML-KEM ciphertext.
func Decapsulate(priv crypto.PrivateKey, ciphertext []byte) ([]byte, error) {
	k, ok := priv.(kem.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a KEM key", ErrNoCapability, priv)
	}
	if len(ciphertext) != k.Scheme().CiphertextSize() {
		return nil, fmt.Errorf("%w: ciphertext size %d", ErrDecryption, len(ciphertext))
	}
	ss, err := k.Scheme().Decapsulate(k, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return ss, nil
}
