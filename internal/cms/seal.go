package cms

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/binary"
	"fmt"

	"github.com/remiblancher/qkeystore/internal/certificate"
	qcrypto "github.com/remiblancher/qkeystore/internal/crypto"
)

// SealOptions configures Seal.
type SealOptions struct {
	// Provider defaults to qcrypto.DefaultProvider.
	Provider qcrypto.Provider

	// ContentType labels the encrypted content; defaults to OIDData.
	ContentType asn1.ObjectIdentifier
}

func (o *SealOptions) provider() qcrypto.Provider {
	if o != nil && o.Provider != nil {
		return o.Provider
	}
	return qcrypto.DefaultProvider
}

func (o *SealOptions) contentType() asn1.ObjectIdentifier {
	if o != nil && len(o.ContentType) > 0 {
		return o.ContentType
	}
	return OIDData
}

// Seal encrypts content for the holder of the recipient certificate's
// private key and returns the DER EnvelopedData.
//
// A random seed is transported to the recipient (RSA-OAEP or ElGamal in a
// KeyTransRecipientInfo, ML-KEM in a KEMRecipientInfo). For agreement keys
// the seed is derived from an anonymous one-pass agreement and only the
// ephemeral public key travels in the KeyAgreeRecipientInfo. The seed is
// then expanded with HKDF into the AES-256-GCM key and nonce.
func Seal(recipient *certificate.Certificate, content []byte, opts *SealOptions) ([]byte, error) {
	if recipient == nil {
		return nil, fmt.Errorf("recipient certificate is required")
	}
	p := opts.provider()

	var (
		seed []byte
		ri   asn1.RawValue
		err  error
	)
	caps := qcrypto.CapabilitiesOf(recipient.PublicKey())
	switch {
	case caps.Transport == qcrypto.TransportKEM:
		seed, ri, err = kemRecipient(p, recipient)
	case caps.CanTransport():
		seed, ri, err = transportRecipient(p, recipient, caps.Transport)
	case caps.Agreement:
		seed, ri, err = agreementRecipient(p, recipient)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedRecipient, recipient.PublicKey())
	}
	if err != nil {
		return nil, err
	}
	defer qcrypto.Wipe(seed)

	eci, err := encryptContent(seed, opts.contentType(), content)
	if err != nil {
		return nil, err
	}

	return asn1.Marshal(EnvelopedData{
		Version:              envelopeVersion(ri),
		RecipientInfos:       []asn1.RawValue{ri},
		EncryptedContentInfo: *eci,
	})
}

// envelopeVersion applies RFC 5652 Section 6.1.
func envelopeVersion(ri asn1.RawValue) int {
	var tag asn1.RawValue
	if _, err := asn1.Unmarshal(ri.FullBytes, &tag); err != nil {
		return 0
	}
	switch {
	case tag.Class == asn1.ClassContextSpecific && tag.Tag == tagORI:
		return 3
	case tag.Class == asn1.ClassContextSpecific && tag.Tag == tagKARI:
		return 2
	default:
		return 0
	}
}

// transportRecipient encrypts a fresh seed under the recipient key.
func transportRecipient(p qcrypto.Provider, recipient *certificate.Certificate, family qcrypto.TransportFamily) ([]byte, asn1.RawValue, error) {
	alg, err := keyTransportAlgorithm(family)
	if err != nil {
		return nil, asn1.RawValue{}, err
	}
	seed, err := p.Random(SeedSize)
	if err != nil {
		return nil, asn1.RawValue{}, err
	}
	encryptedKey, err := p.EncryptKey(recipient.PublicKey(), seed)
	if err != nil {
		qcrypto.Wipe(seed)
		return nil, asn1.RawValue{}, fmt.Errorf("key transport failed: %w", err)
	}

	ri, err := marshalKTRI(&KeyTransRecipientInfo{
		Version:                0,
		RID:                    issuerAndSerial(recipient.RawIssuer(), recipient.SerialNumber()),
		KeyEncryptionAlgorithm: alg,
		EncryptedKey:           encryptedKey,
	})
	if err != nil {
		qcrypto.Wipe(seed)
		return nil, asn1.RawValue{}, err
	}
	return seed, ri, nil
}

func keyTransportAlgorithm(family qcrypto.TransportFamily) (pkix.AlgorithmIdentifier, error) {
	switch family {
	case qcrypto.TransportRSA:
		sha256ID, err := asn1.Marshal(pkix.AlgorithmIdentifier{Algorithm: OIDSHA256})
		if err != nil {
			return pkix.AlgorithmIdentifier{}, err
		}
		params, err := asn1.Marshal(RSAOAEPParams{
			HashAlgorithm: pkix.AlgorithmIdentifier{Algorithm: OIDSHA256},
			MaskGenAlgorithm: pkix.AlgorithmIdentifier{
				Algorithm:  OIDMGF1,
				Parameters: asn1.RawValue{FullBytes: sha256ID},
			},
		})
		if err != nil {
			return pkix.AlgorithmIdentifier{}, err
		}
		return pkix.AlgorithmIdentifier{Algorithm: OIDRSAOAEP, Parameters: asn1.RawValue{FullBytes: params}}, nil
	case qcrypto.TransportElGamal:
		return pkix.AlgorithmIdentifier{Algorithm: OIDElGamal}, nil
	default:
		return pkix.AlgorithmIdentifier{}, fmt.Errorf("%w: transport family %s", ErrUnsupportedRecipient, family)
	}
}

// kemRecipient encapsulates to the recipient and wraps a fresh seed under
// the derived KEK.
func kemRecipient(p qcrypto.Provider, recipient *certificate.Certificate) ([]byte, asn1.RawValue, error) {
	kemAlg, err := spkiAlgorithm(recipient.RawSubjectPublicKeyInfo())
	if err != nil {
		return nil, asn1.RawValue{}, err
	}
	kemCT, shared, err := p.Encapsulate(recipient.PublicKey())
	if err != nil {
		return nil, asn1.RawValue{}, fmt.Errorf("KEM encapsulation failed: %w", err)
	}
	defer qcrypto.Wipe(shared)

	wrap := pkix.AlgorithmIdentifier{Algorithm: OIDAESWrap256}
	kek, err := kemKEK(shared, wrap, KEKSize, nil)
	if err != nil {
		return nil, asn1.RawValue{}, err
	}
	defer qcrypto.Wipe(kek)

	seed, err := p.Random(SeedSize)
	if err != nil {
		return nil, asn1.RawValue{}, err
	}
	wrapped, err := aesKeyWrap(kek, seed)
	if err != nil {
		qcrypto.Wipe(seed)
		return nil, asn1.RawValue{}, fmt.Errorf("key wrap failed: %w", err)
	}

	ri, err := marshalKEMRI(&KEMRecipientInfo{
		Version:      0,
		RID:          issuerAndSerial(recipient.RawIssuer(), recipient.SerialNumber()),
		KEM:          kemAlg,
		KEMCT:        kemCT,
		KDF:          pkix.AlgorithmIdentifier{Algorithm: OIDHKDFSHA256},
		KEKLength:    KEKSize,
		Wrap:         wrap,
		EncryptedKey: wrapped,
	})
	if err != nil {
		qcrypto.Wipe(seed)
		return nil, asn1.RawValue{}, err
	}
	return seed, ri, nil
}

// kemKEK derives the KEMRI key-encryption key (RFC 9629 Section 5).
func kemKEK(shared []byte, wrap pkix.AlgorithmIdentifier, kekLength int, ukm []byte) ([]byte, error) {
	info, err := asn1.Marshal(kemOtherInfo{Wrap: wrap, KEKLength: kekLength, UKM: ukm})
	if err != nil {
		return nil, err
	}
	return hkdfSHA256(shared, info, kekLength)
}

// agreementRecipient runs an anonymous agreement against the recipient key.
// The seed is derived from the shared secret; nothing is wrapped.
func agreementRecipient(p qcrypto.Provider, recipient *certificate.Certificate) ([]byte, asn1.RawValue, error) {
	ephemeral, shared, err := p.AnonymousAgreement(recipient.PublicKey())
	if err != nil {
		return nil, asn1.RawValue{}, fmt.Errorf("key agreement failed: %w", err)
	}
	defer qcrypto.Wipe(shared)

	ephDER, err := qcrypto.MarshalPublicKey(ephemeral)
	if err != nil {
		return nil, asn1.RawValue{}, err
	}
	var opk OriginatorPublicKey
	if _, err := asn1.Unmarshal(ephDER, &opk); err != nil {
		return nil, asn1.RawValue{}, fmt.Errorf("failed to encode ephemeral key: %w", err)
	}
	originator, err := originatorKey(opk)
	if err != nil {
		return nil, asn1.RawValue{}, err
	}

	keyAlg := pkix.AlgorithmIdentifier{Algorithm: OIDECDHStdSHA256KDF}
	seed, err := agreedSeed(shared, keyAlg)
	if err != nil {
		return nil, asn1.RawValue{}, err
	}

	ri, err := marshalKARI(&KeyAgreeRecipientInfo{
		Version:                3,
		Originator:             originator,
		KeyEncryptionAlgorithm: keyAlg,
		RecipientEncryptedKeys: []RecipientEncryptedKey{{
			RID:          issuerAndSerial(recipient.RawIssuer(), recipient.SerialNumber()),
			EncryptedKey: []byte{},
		}},
	})
	if err != nil {
		qcrypto.Wipe(seed)
		return nil, asn1.RawValue{}, err
	}
	return seed, ri, nil
}

// agreedSeed derives the seed from an agreement secret with the X9.63 KDF.
func agreedSeed(shared []byte, keyAlg pkix.AlgorithmIdentifier) ([]byte, error) {
	suppPubInfo := make([]byte, 4)
	binary.BigEndian.PutUint32(suppPubInfo, SeedSize*8)
	info, err := asn1.Marshal(eccSharedInfo{KeyInfo: keyAlg, SuppPubInfo: suppPubInfo})
	if err != nil {
		return nil, err
	}
	return x963KDF(shared, SeedSize, info), nil
}

// encryptContent encrypts content under the key and nonce expanded from seed.
func encryptContent(seed []byte, contentType asn1.ObjectIdentifier, content []byte) (*EncryptedContentInfo, error) {
	key, nonce, err := contentKey(seed)
	if err != nil {
		return nil, err
	}
	defer qcrypto.Wipe(key)

	aead, err := qcrypto.NewAEAD(qcrypto.CipherAES256GCM, key)
	if err != nil {
		return nil, err
	}
	params, err := asn1.Marshal(GCMParameters{Nonce: nonce, ICVLen: tagSize})
	if err != nil {
		return nil, err
	}
	return &EncryptedContentInfo{
		ContentType: contentType,
		ContentEncryptionAlgorithm: pkix.AlgorithmIdentifier{
			Algorithm:  OIDAES256GCM,
			Parameters: asn1.RawValue{FullBytes: params},
		},
		EncryptedContent: aead.Seal(nil, nonce, content, nil),
	}, nil
}

// spkiAlgorithm returns the algorithm identifier of a DER SubjectPublicKeyInfo.
func spkiAlgorithm(spki []byte) (pkix.AlgorithmIdentifier, error) {
	var info struct {
		Algorithm pkix.AlgorithmIdentifier
		PublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(spki, &info); err != nil {
		return pkix.AlgorithmIdentifier{}, fmt.Errorf("failed to parse SPKI: %w", err)
	}
	return info.Algorithm, nil
}
