package crmf

import (
	"crypto"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	casn1 "golang.org/x/crypto/cryptobyte/asn1"

	"github.com/remiblancher/qkeystore/internal/certificate"
	"github.com/remiblancher/qkeystore/internal/cms"
	qcrypto "github.com/remiblancher/qkeystore/internal/crypto"
)

// Response carries the issued certificate, in the clear or enveloped to the
// requester's key, and the signer chain. An encrypted response can be
// decrypted once.
type Response struct {
	requestID   int64
	cert        *certificate.Certificate
	envelope    []byte
	signerChain []*certificate.Certificate
}

// RequestID returns the certReqId the response answers.
func (r *Response) RequestID() int64 { return r.requestID }

// Encrypted reports whether the certificate is still enveloped.
func (r *Response) Encrypted() bool { return r.cert == nil }

// Certificate returns the issued certificate.
func (r *Response) Certificate() (*certificate.Certificate, error) {
	if r.cert == nil {
		return nil, ErrEncryptedResponse
	}
	return r.cert, nil
}

// SignerChain returns the issuer's chain, signer first.
func (r *Response) SignerChain() []*certificate.Certificate { return r.signerChain }

// Chain returns the issued certificate followed by the signer chain.
func (r *Response) Chain() ([]*certificate.Certificate, error) {
	if r.cert == nil {
		return nil, ErrEncryptedResponse
	}
	return append([]*certificate.Certificate{r.cert}, r.signerChain...), nil
}

// Decrypt opens the enveloped certificate with the requester's private key
// and checks that it certifies the matching public key.
func (r *Response) Decrypt(priv crypto.PrivateKey, p qcrypto.Provider) error {
	if r.cert != nil {
		return ErrAlreadyDecrypted
	}
	env, err := cms.Parse(r.envelope)
	if err != nil {
		return &EnrollError{Op: "decrypt", RequestID: r.requestID, Err: err}
	}
	der, err := env.Open(priv, &cms.OpenOptions{Provider: p})
	if err != nil {
		return &EnrollError{Op: "decrypt", RequestID: r.requestID, Err: err}
	}
	cert, err := certificate.Parse(der)
	if err != nil {
		return &EnrollError{Op: "decrypt", RequestID: r.requestID, Err: err}
	}
	pub, err := qcrypto.PublicKeyOf(priv)
	if err != nil {
		return &EnrollError{Op: "decrypt", RequestID: r.requestID, Err: err}
	}
	if !qcrypto.PublicKeysEqual(pub, cert.PublicKey()) {
		return &EnrollError{Op: "decrypt", RequestID: r.requestID,
			Err: fmt.Errorf("%w: issued certificate does not certify the requester key", ErrInvalidProof)}
	}
	r.cert = cert
	r.envelope = nil
	return nil
}

// Validate checks the issued certificate and signer chain against isTrusted
// and the requester's public key.
func (r *Response) Validate(holder crypto.PublicKey, isTrusted func(*certificate.Certificate) bool) error {
	chain, err := r.Chain()
	if err != nil {
		return err
	}
	return certificate.ValidateChain(chain, holder, isTrusted)
}

// Marshal encodes the response.
func (r *Response) Marshal() ([]byte, error) {
	var b cryptobyte.Builder
	b.AddASN1(casn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1Int64(r.requestID)
		if r.cert != nil {
			b.AddASN1(tagResponseCertificate, func(b *cryptobyte.Builder) {
				b.AddBytes(r.cert.Raw())
			})
		} else {
			b.AddASN1(tagResponseEncrypted, func(b *cryptobyte.Builder) {
				b.AddBytes(r.envelope)
			})
		}
		b.AddASN1(casn1.SEQUENCE, func(b *cryptobyte.Builder) {
			for _, c := range r.signerChain {
				b.AddBytes(c.Raw())
			}
		})
	})
	return b.Bytes()
}

// ParseResponse decodes a response. Certificates are parsed but not validated.
func ParseResponse(der []byte) (*Response, error) {
	input := cryptobyte.String(der)
	var seq, body, chain cryptobyte.String
	var tag casn1.Tag
	r := &Response{}
	if !input.ReadASN1(&seq, casn1.SEQUENCE) || !input.Empty() ||
		!seq.ReadASN1Integer(&r.requestID) ||
		!seq.ReadAnyASN1(&body, &tag) ||
		!seq.ReadASN1(&chain, casn1.SEQUENCE) || !seq.Empty() {
		return nil, malformed("enrollment response")
	}

	var inner cryptobyte.String
	if !body.ReadASN1Element(&inner, casn1.SEQUENCE) || !body.Empty() {
		return nil, malformed("enrollment response body")
	}
	switch tag {
	case tagResponseCertificate:
		cert, err := certificate.Parse(inner)
		if err != nil {
			return nil, err
		}
		r.cert = cert
	case tagResponseEncrypted:
		if _, err := cms.Parse(inner); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedEncoding, err)
		}
		r.envelope = append([]byte(nil), inner...)
	default:
		return nil, malformed("unknown response body [%d]", tag&0x1f)
	}

	for !chain.Empty() {
		var certDER cryptobyte.String
		if !chain.ReadASN1Element(&certDER, casn1.SEQUENCE) {
			return nil, malformed("signer chain")
		}
		cert, err := certificate.Parse(certDER)
		if err != nil {
			return nil, err
		}
		r.signerChain = append(r.signerChain, cert)
	}
	return r, nil
}
