package crypto

import (
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/x509/pkix"
	"fmt"
	"io"
)

// Provider is the set of primitive operations the keystore and the
// enrollment protocol consume. The software implementation is the default;
// tests and HSM deployments may substitute their own.
type Provider interface {
	// Random returns n bytes from a cryptographically secure source.
	Random(n int) ([]byte, error)
	// Digest hashes data with h.
	Digest(h crypto.Hash, data []byte) ([]byte, error)
	// MAC computes an HMAC with h.
	MAC(h crypto.Hash, key, data []byte) ([]byte, error)
	// Sign signs message with the default scheme of signer's key.
	Sign(signer crypto.Signer, message []byte) (pkix.AlgorithmIdentifier, []byte, error)
	// Verify checks a signature over message.
	Verify(alg pkix.AlgorithmIdentifier, pub crypto.PublicKey, message, signature []byte) error
	// EncryptKey transports a short secret to pub.
	EncryptKey(pub crypto.PublicKey, secret []byte) ([]byte, error)
	// DecryptKey reverses EncryptKey.
	DecryptKey(priv crypto.PrivateKey, ciphertext []byte) ([]byte, error)
	// Encapsulate produces a KEM ciphertext and shared secret for pub.
	Encapsulate(pub crypto.PublicKey) (ciphertext, secret []byte, err error)
	// Decapsulate reverses Encapsulate.
	Decapsulate(priv crypto.PrivateKey, ciphertext []byte) ([]byte, error)
	// AnonymousAgreement performs a one-pass agreement against pub.
	AnonymousAgreement(pub crypto.PublicKey) (ephemeral crypto.PublicKey, secret []byte, err error)
	// Agree computes the shared secret between priv and peer.
	Agree(priv crypto.PrivateKey, peer crypto.PublicKey) ([]byte, error)
}

// SoftwareProvider implements Provider with Go's crypto packages and circl.
type SoftwareProvider struct {
	// Rand is the entropy source; crypto/rand when nil.
	Rand io.Reader
}

// Ensure SoftwareProvider implements Provider.
var _ Provider = SoftwareProvider{}

// DefaultProvider is the provider used when none is configured.
var DefaultProvider Provider = SoftwareProvider{}

func (p SoftwareProvider) rand() io.Reader {
	if p.Rand != nil {
		return p.Rand
	}
	return rand.Reader
}

// Random returns n random bytes.
func (p SoftwareProvider) Random(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(p.rand(), b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}

// Digest hashes data with h.
func (p SoftwareProvider) Digest(h crypto.Hash, data []byte) ([]byte, error) {
	if !h.Available() {
		return nil, fmt.Errorf("hash function %v not available", h)
	}
	d := h.New()
	d.Write(data)
	return d.Sum(nil), nil
}

// MAC computes HMAC-h over data.
func (p SoftwareProvider) MAC(h crypto.Hash, key, data []byte) ([]byte, error) {
	if !h.Available() {
		return nil, fmt.Errorf("hash function %v not available", h)
	}
	m := hmac.New(h.New, key)
	m.Write(data)
	return m.Sum(nil), nil
}

// Sign signs message with signer.
func (p SoftwareProvider) Sign(signer crypto.Signer, message []byte) (pkix.AlgorithmIdentifier, []byte, error) {
	return SignMessage(p.rand(), signer, message)
}

// Verify checks a signature over message.
func (p SoftwareProvider) Verify(alg pkix.AlgorithmIdentifier, pub crypto.PublicKey, message, signature []byte) error {
	return VerifyMessage(alg, pub, message, signature)
}

// EncryptKey transports secret to pub.
func (p SoftwareProvider) EncryptKey(pub crypto.PublicKey, secret []byte) ([]byte, error) {
	return EncryptKey(p.rand(), pub, secret)
}

// DecryptKey reverses EncryptKey.
func (p SoftwareProvider) DecryptKey(priv crypto.PrivateKey, ciphertext []byte) ([]byte, error) {
	return DecryptKey(priv, ciphertext)
}

// Encapsulate produces a KEM ciphertext and shared secret.
func (p SoftwareProvider) Encapsulate(pub crypto.PublicKey) ([]byte, []byte, error) {
	return Encapsulate(pub)
}

// Decapsulate reverses Encapsulate.
func (p SoftwareProvider) Decapsulate(priv crypto.PrivateKey, ciphertext []byte) ([]byte, error) {
	return Decapsulate(priv, ciphertext)
}

// AnonymousAgreement performs a one-pass agreement against pub.
func (p SoftwareProvider) AnonymousAgreement(pub crypto.PublicKey) (crypto.PublicKey, []byte, error) {
	eph, secret, err := AnonymousAgreement(p.rand(), pub)
	if err != nil {
		return nil, nil, err
	}
	return eph, secret, nil
}

// Agree computes the shared secret between priv and peer.
func (p SoftwareProvider) Agree(priv crypto.PrivateKey, peer crypto.PublicKey) ([]byte, error) {
	return Agree(priv, peer)
}
