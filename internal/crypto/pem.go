package crypto

import (
	"crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/pem"
	"fmt"

	"github.com/youmark/pkcs8"
)

// PEM block types.
const (
	PEMTypePrivateKey          = "PRIVATE KEY"
	PEMTypeEncryptedPrivateKey = "ENCRYPTED PRIVATE KEY"
	PEMTypePublicKey           = "PUBLIC KEY"
)

// MarshalPrivateKeyPEM encodes priv as PKCS#8 PEM. With a password the key
// is written as an encrypted PKCS#8 block (PBES2), which is only available
// for classical key types.
func MarshalPrivateKeyPEM(priv crypto.PrivateKey, password []byte) ([]byte, error) {
	if len(password) == 0 {
		der, err := MarshalPrivateKey(priv)
		if err != nil {
			return nil, err
		}
		defer Wipe(der)
		return pem.EncodeToMemory(&pem.Block{Type: PEMTypePrivateKey, Bytes: der}), nil
	}

	switch priv.(type) {
	case *ecdsa.PrivateKey, ed25519.PrivateKey, *rsa.PrivateKey, *ecdh.PrivateKey:
	default:
		return nil, fmt.Errorf("%w: encrypted PEM export of %T", ErrUnsupportedKey, priv)
	}
	der, err := pkcs8.MarshalPrivateKey(priv, password, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: PEMTypeEncryptedPrivateKey, Bytes: der}), nil
}

// ParsePrivateKeyPEM decodes a PKCS#8 PEM private key, decrypting it when needed.
func ParsePrivateKeyPEM(data, password []byte) (crypto.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	switch block.Type {
	case PEMTypePrivateKey:
		return ParsePrivateKey(block.Bytes)
	case PEMTypeEncryptedPrivateKey:
		if len(password) == 0 {
			return nil, fmt.Errorf("private key is encrypted, password required")
		}
		key, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes, password)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("unexpected PEM block type %q", block.Type)
	}
}

// MarshalPublicKeyPEM encodes pub as a PUBLIC KEY PEM block.
func MarshalPublicKeyPEM(pub crypto.PublicKey) ([]byte, error) {
	der, err := MarshalPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: PEMTypePublicKey, Bytes: der}), nil
}

// ParsePublicKeyPEM decodes a PUBLIC KEY PEM block.
func ParsePublicKeyPEM(data []byte) (crypto.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != PEMTypePublicKey {
		return nil, fmt.Errorf("no PUBLIC KEY PEM block found")
	}
	return ParsePublicKey(block.Bytes)
}
