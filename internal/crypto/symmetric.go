package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher names an AEAD used to seal stored secrets.
type Cipher string

const (
	CipherAES256GCM        Cipher = "aes-256-gcm"
	CipherChaCha20Poly1305 Cipher = "chacha20-poly1305"
)

// KeySize returns the key length of the cipher in bytes.
func (c Cipher) KeySize() int {
	switch c {
	case CipherChaCha20Poly1305:
		return chacha20poly1305.KeySize
	default:
		return 32
	}
}

// IsValid returns true if the cipher is supported.
func (c Cipher) IsValid() bool {
	return c == CipherAES256GCM || c == CipherChaCha20Poly1305
}

// NewAEAD instantiates the cipher with key.
func NewAEAD(c Cipher, key []byte) (cipher.AEAD, error) {
	if len(key) != c.KeySize() {
		return nil, fmt.Errorf("invalid %s key size: got %d, want %d", c, len(key), c.KeySize())
	}
	switch c {
	case CipherAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("creating cipher: %w", err)
		}
		return cipher.NewGCM(block)
	case CipherChaCha20Poly1305:
		return chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("unsupported cipher: %q", c)
	}
}

// Seal encrypts plaintext and prefixes the random nonce.
func Seal(c Cipher, key, plaintext, aad []byte) ([]byte, error) {
	aead, err := NewAEAD(c, key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Open reverses Seal.
func Open(c Cipher, key, sealed, aad []byte) ([]byte, error) {
	aead, err := NewAEAD(c, key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext shorter than nonce size", ErrDecryption)
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, ErrDecryption
	}
	return pt, nil
}

// Argon2Params are the Argon2id cost parameters for password-derived keys.
type Argon2Params struct {
	Time      uint32 `cbor:"1,keyasint" yaml:"time"`
	MemoryKiB uint32 `cbor:"2,keyasint" yaml:"memory_kib"`
	Threads   uint8  `cbor:"3,keyasint" yaml:"threads"`
}

// DefaultArgon2Params returns the default Argon2id cost.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{Time: 2, MemoryKiB: 19 * 1024, Threads: 1}
}

// DeriveKey stretches a password into a key of the given size.
func DeriveKey(password, salt []byte, p Argon2Params, size int) []byte {
	return argon2.IDKey(password, salt, p.Time, p.MemoryKiB, p.Threads, uint32(size))
}

// SealedBox is a secret encrypted under a password-derived key.
type SealedBox struct {
	Cipher     Cipher       `cbor:"1,keyasint"`
	KDF        Argon2Params `cbor:"2,keyasint"`
	Salt       []byte       `cbor:"3,keyasint"`
	Ciphertext []byte       `cbor:"4,keyasint"`
}

// SealWithPassword encrypts plaintext under a key derived from password.
// aad binds the box to its context (for instance the alias it is stored under).
func SealWithPassword(c Cipher, p Argon2Params, password, plaintext, aad []byte) (*SealedBox, error) {
	if !c.IsValid() {
		return nil, fmt.Errorf("unsupported cipher: %q", c)
	}
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	key := DeriveKey(password, salt, p, c.KeySize())
	defer Wipe(key)

	ct, err := Seal(c, key, plaintext, aad)
	if err != nil {
		return nil, err
	}
	return &SealedBox{Cipher: c, KDF: p, Salt: salt, Ciphertext: ct}, nil
}

// Open decrypts the box with password. A wrong password yields ErrDecryption.
func (b *SealedBox) Open(password, aad []byte) ([]byte, error) {
	key := DeriveKey(password, b.Salt, b.KDF, b.Cipher.KeySize())
	defer Wipe(key)
	return Open(b.Cipher, key, b.Ciphertext, aad)
}

// Equal reports whether two boxes hold the same ciphertext and parameters.
func (b *SealedBox) Equal(o *SealedBox) bool {
	if b == nil || o == nil {
		return b == o
	}
	return b.Cipher == o.Cipher && b.KDF == o.KDF &&
		string(b.Salt) == string(o.Salt) && string(b.Ciphertext) == string(o.Ciphertext)
}
