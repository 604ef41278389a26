package cms

import (
	"crypto/aes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	qcrypto "github.com/remiblancher/qkeystore/internal/crypto"
)

// Sizes of the envelope key material.
const (
	// SeedSize is the length of the transported seed.
	SeedSize = 48
	// KEKSize is the AES-256 key-wrap key length.
	KEKSize = 32

	contentKeySize = 32
	nonceSize      = 12
	tagSize        = 16
)

var contentKeyInfo = []byte("qkeystore envelope content key")

var wrapIV = [8]byte{0xa6, 0xa6, 0xa6, 0xa6, 0xa6, 0xa6, 0xa6, 0xa6}

// aesKeyWrap wraps key under kek (RFC 3394).
func aesKeyWrap(kek, key []byte) ([]byte, error) {
	if len(key)%8 != 0 || len(key) < 16 {
		return nil, fmt.Errorf("key wrap input must be a multiple of 8 bytes and at least 16 bytes")
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	n := len(key) / 8
	out := make([]byte, 8+len(key))
	copy(out[:8], wrapIV[:])
	copy(out[8:], key)

	var b [16]byte
	for j := 0; j < 6; j++ {
		for i := 1; i <= n; i++ {
			copy(b[:8], out[:8])
			copy(b[8:], out[8*i:8*i+8])
			block.Encrypt(b[:], b[:])
			t := uint64(n*j + i)
			binary.BigEndian.PutUint64(out[:8], binary.BigEndian.Uint64(b[:8])^t)
			copy(out[8*i:8*i+8], b[8:])
		}
	}
	qcrypto.Wipe(b[:])
	return out, nil
}

// aesKeyUnwrap reverses aesKeyWrap and checks the integrity value.
func aesKeyUnwrap(kek, wrapped []byte) ([]byte, error) {
	if len(wrapped) < 24 || len(wrapped)%8 != 0 {
		return nil, fmt.Errorf("%w: invalid wrapped key length %d", qcrypto.ErrDecryption, len(wrapped))
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	n := len(wrapped)/8 - 1
	var a [8]byte
	copy(a[:], wrapped[:8])
	r := make([]byte, 8*n)
	copy(r, wrapped[8:])

	var b [16]byte
	for j := 5; j >= 0; j-- {
		for i := n; i >= 1; i-- {
			t := uint64(n*j + i)
			binary.BigEndian.PutUint64(b[:8], binary.BigEndian.Uint64(a[:])^t)
			copy(b[8:], r[8*(i-1):8*i])
			block.Decrypt(b[:], b[:])
			copy(a[:], b[:8])
			copy(r[8*(i-1):8*i], b[8:])
		}
	}
	qcrypto.Wipe(b[:])

	if subtle.ConstantTimeCompare(a[:], wrapIV[:]) != 1 {
		qcrypto.Wipe(r)
		return nil, fmt.Errorf("%w: key unwrap integrity check failed", qcrypto.ErrDecryption)
	}
	return r, nil
}

// x963KDF derives size bytes from a shared secret with ANSI X9.63 and SHA-256.
func x963KDF(secret []byte, size int, sharedInfo []byte) []byte {
	out := make([]byte, 0, size+sha256.Size)
	var counter [4]byte
	for i := uint32(1); len(out) < size; i++ {
		binary.BigEndian.PutUint32(counter[:], i)
		h := sha256.New()
		h.Write(secret)
		h.Write(counter[:])
		h.Write(sharedInfo)
		out = h.Sum(out)
	}
	qcrypto.Wipe(out[size:])
	return out[:size]
}

// hkdfSHA256 expands secret into size bytes.
func hkdfSHA256(secret, info []byte, size int) ([]byte, error) {
	out := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, info), out); err != nil {
		return nil, fmt.Errorf("HKDF failed: %w", err)
	}
	return out, nil
}

// contentKey splits a seed into the AES-256-GCM key and nonce.
func contentKey(seed []byte) (key, nonce []byte, err error) {
	okm, err := hkdfSHA256(seed, contentKeyInfo, contentKeySize+nonceSize)
	if err != nil {
		return nil, nil, err
	}
	return okm[:contentKeySize], okm[contentKeySize:], nil
}
