package cms

import (
	"crypto"
	"crypto/subtle"
	"encoding/asn1"
	"fmt"
	"math/big"

	"github.com/remiblancher/qkeystore/internal/certificate"
	qcrypto "github.com/remiblancher/qkeystore/internal/crypto"
	"github.com/remiblancher/qkeystore/internal/x509util"
)

// RecipientKind is the key management technique of a RecipientInfo.
type RecipientKind int

const (
	KindKeyTransport RecipientKind = iota + 1
	KindKeyAgreement
	KindKEM
)

// String returns the RecipientInfo short name.
func (k RecipientKind) String() string {
	switch k {
	case KindKeyTransport:
		return "ktri"
	case KindKeyAgreement:
		return "kari"
	case KindKEM:
		return "kemri"
	default:
		return "unknown"
	}
}

// Recipient describes one recipient of a parsed envelope.
type Recipient struct {
	Kind RecipientKind
	// Issuer is the DER issuer name of the recipient certificate.
	Issuer       []byte
	SerialNumber *big.Int

	ktri         *KeyTransRecipientInfo
	kari         *KeyAgreeRecipientInfo
	encryptedKey []byte
	kemri        *KEMRecipientInfo
}

// Matches reports whether the recipient designates cert.
func (r Recipient) Matches(cert *certificate.Certificate) bool {
	return r.SerialNumber != nil &&
		r.SerialNumber.Cmp(cert.SerialNumber()) == 0 &&
		x509util.NamesEqual(r.Issuer, cert.RawIssuer())
}

// Envelope is a parsed EnvelopedData.
type Envelope struct {
	raw        []byte
	data       EnvelopedData
	recipients []Recipient
}

// Parse decodes a DER EnvelopedData. RecipientInfo alternatives other than
// ktri, kari and the KEM ori are ignored.
func Parse(der []byte) (*Envelope, error) {
	var env EnvelopedData
	rest, err := asn1.Unmarshal(der, &env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("%w: trailing data after EnvelopedData", ErrMalformed)
	}

	e := &Envelope{raw: der, data: env}
	for _, raw := range env.RecipientInfos {
		rs, err := parseRecipient(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		e.recipients = append(e.recipients, rs...)
	}
	if len(e.recipients) == 0 {
		return nil, fmt.Errorf("%w: no supported RecipientInfo", ErrMalformed)
	}

	eci := env.EncryptedContentInfo
	if !eci.ContentEncryptionAlgorithm.Algorithm.Equal(OIDAES256GCM) {
		return nil, fmt.Errorf("%w: unsupported content encryption %v", ErrMalformed, eci.ContentEncryptionAlgorithm.Algorithm)
	}
	if len(eci.EncryptedContent) < tagSize {
		return nil, fmt.Errorf("%w: missing encrypted content", ErrMalformed)
	}
	return e, nil
}

func parseRecipient(raw asn1.RawValue) ([]Recipient, error) {
	switch {
	case raw.Class == asn1.ClassUniversal && raw.Tag == asn1.TagSequence:
		var ktri KeyTransRecipientInfo
		if _, err := asn1.Unmarshal(raw.FullBytes, &ktri); err != nil {
			return nil, fmt.Errorf("KeyTransRecipientInfo: %w", err)
		}
		return []Recipient{{
			Kind:         KindKeyTransport,
			Issuer:       ktri.RID.Issuer.FullBytes,
			SerialNumber: ktri.RID.SerialNumber,
			ktri:         &ktri,
		}}, nil

	case raw.Class == asn1.ClassContextSpecific && raw.Tag == tagKARI:
		var kari KeyAgreeRecipientInfo
		if _, err := asn1.UnmarshalWithParams(raw.FullBytes, &kari, "tag:1"); err != nil {
			return nil, fmt.Errorf("KeyAgreeRecipientInfo: %w", err)
		}
		if _, err := parseOriginatorKey(kari.Originator); err != nil {
			return nil, fmt.Errorf("originator key: %w", err)
		}
		out := make([]Recipient, 0, len(kari.RecipientEncryptedKeys))
		for _, rek := range kari.RecipientEncryptedKeys {
			out = append(out, Recipient{
				Kind:         KindKeyAgreement,
				Issuer:       rek.RID.Issuer.FullBytes,
				SerialNumber: rek.RID.SerialNumber,
				kari:         &kari,
				encryptedKey: rek.EncryptedKey,
			})
		}
		return out, nil

	case raw.Class == asn1.ClassContextSpecific && raw.Tag == tagORI:
		var ori OtherRecipientInfo
		if _, err := asn1.UnmarshalWithParams(raw.FullBytes, &ori, "tag:4"); err != nil {
			return nil, fmt.Errorf("OtherRecipientInfo: %w", err)
		}
		if !ori.OriType.Equal(OIDOriKEM) {
			return nil, nil
		}
		var kemri KEMRecipientInfo
		if _, err := asn1.Unmarshal(ori.OriValue.FullBytes, &kemri); err != nil {
			return nil, fmt.Errorf("KEMRecipientInfo: %w", err)
		}
		return []Recipient{{
			Kind:         KindKEM,
			Issuer:       kemri.RID.Issuer.FullBytes,
			SerialNumber: kemri.RID.SerialNumber,
			kemri:        &kemri,
		}}, nil

	default:
		return nil, nil
	}
}

// Raw returns the DER encoding the envelope was parsed from.
func (e *Envelope) Raw() []byte { return e.raw }

// ContentType returns the type of the encrypted content.
func (e *Envelope) ContentType() asn1.ObjectIdentifier {
	return e.data.EncryptedContentInfo.ContentType
}

// Recipients returns the supported recipients in encoding order.
func (e *Envelope) Recipients() []Recipient {
	out := make([]Recipient, len(e.recipients))
	copy(out, e.recipients)
	return out
}

// OpenOptions configures Open.
type OpenOptions struct {
	// Provider defaults to qcrypto.DefaultProvider.
	Provider qcrypto.Provider

	// Recipient restricts decryption to the RecipientInfo that designates
	// this certificate.
	Recipient *certificate.Certificate
}

func (o *OpenOptions) provider() qcrypto.Provider {
	if o != nil && o.Provider != nil {
		return o.Provider
	}
	return qcrypto.DefaultProvider
}

// Open recovers the content with the recipient's private key.
func (e *Envelope) Open(priv crypto.PrivateKey, opts *OpenOptions) ([]byte, error) {
	if priv == nil {
		return nil, fmt.Errorf("private key is required")
	}
	p := opts.provider()

	var lastErr error
	for _, r := range e.recipients {
		if opts != nil && opts.Recipient != nil && !r.Matches(opts.Recipient) {
			continue
		}
		seed, err := r.seed(p, priv)
		if err != nil {
			lastErr = err
			continue
		}
		content, err := e.decryptContent(seed)
		qcrypto.Wipe(seed)
		if err != nil {
			lastErr = err
			continue
		}
		return content, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoMatchingRecipient, lastErr)
	}
	return nil, ErrNoMatchingRecipient
}

// seed recovers the transported or agreed seed of the recipient.
func (r Recipient) seed(p qcrypto.Provider, priv crypto.PrivateKey) ([]byte, error) {
	var (
		seed []byte
		err  error
	)
	switch r.Kind {
	case KindKeyTransport:
		seed, err = r.transportedSeed(p, priv)
	case KindKeyAgreement:
		seed, err = r.agreedSeed(p, priv)
	case KindKEM:
		seed, err = r.encapsulatedSeed(p, priv)
	default:
		err = fmt.Errorf("%w: recipient kind %s", ErrUnsupportedRecipient, r.Kind)
	}
	if err != nil {
		return nil, err
	}
	if len(seed) != SeedSize {
		qcrypto.Wipe(seed)
		return nil, fmt.Errorf("%w: seed length %d", qcrypto.ErrDecryption, len(seed))
	}
	return seed, nil
}

func (r Recipient) transportedSeed(p qcrypto.Provider, priv crypto.PrivateKey) ([]byte, error) {
	alg := r.ktri.KeyEncryptionAlgorithm
	switch {
	case alg.Algorithm.Equal(OIDRSAOAEP):
		if len(alg.Parameters.FullBytes) > 0 {
			var params RSAOAEPParams
			if _, err := asn1.Unmarshal(alg.Parameters.FullBytes, &params); err != nil {
				return nil, fmt.Errorf("%w: RSA-OAEP parameters: %v", ErrMalformed, err)
			}
			if !params.HashAlgorithm.Algorithm.Equal(OIDSHA256) {
				return nil, fmt.Errorf("%w: RSA-OAEP hash %v", ErrUnsupportedRecipient, params.HashAlgorithm.Algorithm)
			}
		}
	case alg.Algorithm.Equal(OIDElGamal):
	default:
		return nil, fmt.Errorf("%w: key encryption algorithm %v", ErrUnsupportedRecipient, alg.Algorithm)
	}
	return p.DecryptKey(priv, r.ktri.EncryptedKey)
}

func (r Recipient) agreedSeed(p qcrypto.Provider, priv crypto.PrivateKey) ([]byte, error) {
	keyAlg := r.kari.KeyEncryptionAlgorithm
	if !keyAlg.Algorithm.Equal(OIDECDHStdSHA256KDF) {
		return nil, fmt.Errorf("%w: key agreement algorithm %v", ErrUnsupportedRecipient, keyAlg.Algorithm)
	}
	if len(r.encryptedKey) != 0 {
		return nil, fmt.Errorf("%w: unexpected wrapped key in agreement recipient", ErrMalformed)
	}
	opk, err := parseOriginatorKey(r.kari.Originator)
	if err != nil {
		return nil, fmt.Errorf("%w: originator key: %v", ErrMalformed, err)
	}
	spki, err := asn1.Marshal(*opk)
	if err != nil {
		return nil, err
	}
	peer, err := qcrypto.ParsePublicKey(spki)
	if err != nil {
		return nil, fmt.Errorf("%w: originator key: %v", ErrMalformed, err)
	}
	shared, err := p.Agree(priv, peer)
	if err != nil {
		return nil, err
	}
	defer qcrypto.Wipe(shared)
	return agreedSeed(shared, keyAlg)
}

func (r Recipient) encapsulatedSeed(p qcrypto.Provider, priv crypto.PrivateKey) ([]byte, error) {
	kemri := r.kemri
	switch {
	case !kemri.KDF.Algorithm.Equal(OIDHKDFSHA256):
		return nil, fmt.Errorf("%w: KEM KDF %v", ErrUnsupportedRecipient, kemri.KDF.Algorithm)
	case !kemri.Wrap.Algorithm.Equal(OIDAESWrap256) || kemri.KEKLength != KEKSize:
		return nil, fmt.Errorf("%w: KEM wrap %v/%d", ErrUnsupportedRecipient, kemri.Wrap.Algorithm, kemri.KEKLength)
	}
	shared, err := p.Decapsulate(priv, kemri.KEMCT)
	if err != nil {
		return nil, err
	}
	defer qcrypto.Wipe(shared)

	kek, err := kemKEK(shared, kemri.Wrap, kemri.KEKLength, kemri.UKM)
	if err != nil {
		return nil, err
	}
	defer qcrypto.Wipe(kek)
	return aesKeyUnwrap(kek, kemri.EncryptedKey)
}

// decryptContent opens the AES-256-GCM content with the key expanded from seed.
func (e *Envelope) decryptContent(seed []byte) ([]byte, error) {
	eci := e.data.EncryptedContentInfo
	var params GCMParameters
	if _, err := asn1.Unmarshal(eci.ContentEncryptionAlgorithm.Parameters.FullBytes, &params); err != nil {
		return nil, fmt.Errorf("%w: GCM parameters: %v", ErrMalformed, err)
	}
	if params.ICVLen != tagSize {
		return nil, fmt.Errorf("%w: GCM tag length %d", ErrMalformed, params.ICVLen)
	}

	key, nonce, err := contentKey(seed)
	if err != nil {
		return nil, err
	}
	defer qcrypto.Wipe(key)
	if subtle.ConstantTimeCompare(nonce, params.Nonce) != 1 {
		return nil, fmt.Errorf("%w: content nonce does not match the recipient seed", qcrypto.ErrDecryption)
	}

	aead, err := qcrypto.NewAEAD(qcrypto.CipherAES256GCM, key)
	if err != nil {
		return nil, err
	}
	content, err := aead.Open(nil, nonce, eci.EncryptedContent, nil)
	if err != nil {
		return nil, qcrypto.ErrDecryption
	}
	return content, nil
}
