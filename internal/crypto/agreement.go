package crypto

import (
	"crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"io"
)

// ECDHPublicKey converts an agreement-capable public key to *ecdh.PublicKey.
func ECDHPublicKey(pub crypto.PublicKey) (*ecdh.PublicKey, error) {
	switch k := pub.(type) {
	case *ecdh.PublicKey:
		return k, nil
	case *ecdsa.PublicKey:
		return k.ECDH()
	default:
		return nil, fmt.Errorf("%w: %T cannot agree keys", ErrNoCapability, pub)
	}
}

// ECDHPrivateKey converts an agreement-capable private key to *ecdh.PrivateKey.
func ECDHPrivateKey(priv crypto.PrivateKey) (*ecdh.PrivateKey, error) {
	switch k := priv.(type) {
	case *ecdh.PrivateKey:
		return k, nil
	case *ecdsa.PrivateKey:
		return k.ECDH()
	default:
		return nil, fmt.Errorf("%w: %T cannot agree keys", ErrNoCapability, priv)
	}
}

// AnonymousAgreement runs a one-pass agreement against pub: it generates an
// ephemeral key on the same curve and returns the ephemeral public key and the
// shared secret. The ephemeral private key is discarded.
func AnonymousAgreement(random io.Reader, pub crypto.PublicKey) (*ecdh.PublicKey, []byte, error) {
	peer, err := ECDHPublicKey(pub)
	if err != nil {
		return nil, nil, err
	}
	if random == nil {
		random = rand.Reader
	}
	eph, err := peer.Curve().GenerateKey(random)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	secret, err := eph.ECDH(peer)
	if err != nil {
		return nil, nil, fmt.Errorf("key agreement failed: %w", err)
	}
	return eph.PublicKey(), secret, nil
}

// Agree computes the shared secret between priv and the peer public key.
func Agree(priv crypto.PrivateKey, peer crypto.PublicKey) ([]byte, error) {
	sk, err := ECDHPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	pk, err := ECDHPublicKey(peer)
	if err != nil {
		return nil, err
	}
	if sk.Curve() != pk.Curve() {
		return nil, fmt.Errorf("key agreement curve mismatch")
	}
	secret, err := sk.ECDH(pk)
	if err != nil {
		return nil, fmt.Errorf("key agreement failed: %w", err)
	}
	return secret, nil
}
