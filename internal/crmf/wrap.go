package crmf

import (
	"crypto"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	casn1 "golang.org/x/crypto/cryptobyte/asn1"

	"github.com/remiblancher/qkeystore/internal/certificate"
	"github.com/remiblancher/qkeystore/internal/cms"
	qcrypto "github.com/remiblancher/qkeystore/internal/crypto"
	"github.com/remiblancher/qkeystore/internal/x509util"
)

// wrapPrivateKey envelopes EncKeyWithID{priv, subject} to target. The same
// routine serves the encrypted and agreed proofs; the envelope recipient
// type follows from the target key.
func wrapPrivateKey(p qcrypto.Provider, target *certificate.Certificate, priv crypto.PrivateKey, subject []byte) ([]byte, error) {
	privDER, err := qcrypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	defer qcrypto.Wipe(privDER)

	var b cryptobyte.Builder
	b.AddASN1(casn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddBytes(privDER)
		b.AddASN1(tagDirectoryName, func(b *cryptobyte.Builder) {
			b.AddBytes(subject)
		})
	})
	payload, err := b.Bytes()
	if err != nil {
		return nil, err
	}
	defer qcrypto.Wipe(payload)

	return cms.Seal(target, payload, &cms.SealOptions{Provider: p, ContentType: cms.OIDEncKeyWithID})
}

// unwrappedKey is the content of an EncKeyWithID.
type unwrappedKey struct {
	privateKey crypto.PrivateKey
	subject    []byte
}

// unwrapPrivateKey opens an EncKeyWithID envelope with the target's private key.
func unwrapPrivateKey(p qcrypto.Provider, env *cms.Envelope, target *certificate.Certificate, targetKey crypto.PrivateKey) (*unwrappedKey, error) {
	if !env.ContentType().Equal(cms.OIDEncKeyWithID) {
		return nil, malformed("envelope content type %s", env.ContentType())
	}
	payload, err := env.Open(targetKey, &cms.OpenOptions{Provider: p, Recipient: target})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProof, err)
	}
	defer qcrypto.Wipe(payload)

	s := cryptobyte.String(payload)
	var seq, privDER cryptobyte.String
	if !s.ReadASN1(&seq, casn1.SEQUENCE) || !s.Empty() || !seq.ReadASN1Element(&privDER, casn1.SEQUENCE) {
		return nil, malformed("EncKeyWithID")
	}

	var subject []byte
	if seq.PeekASN1Tag(tagDirectoryName) {
		var body, name cryptobyte.String
		if !seq.ReadASN1(&body, tagDirectoryName) || !body.ReadASN1Element(&name, casn1.SEQUENCE) || !body.Empty() {
			return nil, malformed("EncKeyWithID identifier")
		}
		subject = append([]byte(nil), name...)
	}
	if !seq.Empty() {
		// a UTF8String identifier cannot be bound to a template subject
		return nil, fmt.Errorf("%w: unsupported EncKeyWithID identifier", ErrSubjectMismatch)
	}
	if subject == nil {
		return nil, fmt.Errorf("%w: EncKeyWithID carries no subject", ErrSubjectMismatch)
	}
	if _, err := x509util.CanonicalName(subject); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEncoding, err)
	}

	priv, err := qcrypto.ParsePrivateKey(privDER)
	if err != nil {
		return nil, fmt.Errorf("%w: wrapped private key: %w", ErrMalformedEncoding, err)
	}
	return &unwrappedKey{privateKey: priv, subject: subject}, nil
}
