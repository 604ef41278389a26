package cms

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
)

// EnvelopedData represents CMS EnvelopedData (RFC 5652 Section 6).
//
//	EnvelopedData ::= SEQUENCE {
//	  version CMSVersion,
//	  originatorInfo [0] IMPLICIT OriginatorInfo OPTIONAL,
//	  recipientInfos RecipientInfos,
//	  encryptedContentInfo EncryptedContentInfo,
//	  unprotectedAttrs [1] IMPLICIT UnprotectedAttributes OPTIONAL }
type EnvelopedData struct {
	Version              int
	OriginatorInfo       asn1.RawValue   `asn1:"optional,tag:0"`
	RecipientInfos       []asn1.RawValue `asn1:"set"`
	EncryptedContentInfo EncryptedContentInfo
	UnprotectedAttrs     asn1.RawValue `asn1:"optional,tag:1"`
}

// EncryptedContentInfo contains the encrypted content (RFC 5652 Section 6.1).
//
//	EncryptedContentInfo ::= SEQUENCE {
//	  contentType ContentType,
//	  contentEncryptionAlgorithm ContentEncryptionAlgorithmIdentifier,
//	  encryptedContent [0] IMPLICIT EncryptedContent OPTIONAL }
type EncryptedContentInfo struct {
	ContentType                asn1.ObjectIdentifier
	ContentEncryptionAlgorithm pkix.AlgorithmIdentifier
	EncryptedContent           []byte `asn1:"optional,tag:0"`
}

// IssuerAndSerialNumber identifies a certificate by issuer and serial.
type IssuerAndSerialNumber struct {
	Issuer       asn1.RawValue
	SerialNumber *big.Int
}

// RecipientInfo is a CHOICE handled as RawValue and dispatched on the tag.
//
//	RecipientInfo ::= CHOICE {
//	  ktri KeyTransRecipientInfo,
//	  kari [1] KeyAgreeRecipientInfo,
//	  kekri [2] KEKRecipientInfo,
//	  pwri [3] PasswordRecipientInfo,
//	  ori [4] OtherRecipientInfo }
//
// Only the issuerAndSerialNumber form of RecipientIdentifier is produced
// and accepted.

// KeyTransRecipientInfo carries a key transported to the recipient
// (RFC 5652 Section 6.2.1).
//
//	KeyTransRecipientInfo ::= SEQUENCE {
//	  version CMSVersion,  -- 0 for issuerAndSerialNumber
//	  rid RecipientIdentifier,
//	  keyEncryptionAlgorithm KeyEncryptionAlgorithmIdentifier,
//	  encryptedKey EncryptedKey }
type KeyTransRecipientInfo struct {
	Version                int
	RID                    IssuerAndSerialNumber
	KeyEncryptionAlgorithm pkix.AlgorithmIdentifier
	EncryptedKey           []byte
}

// KeyAgreeRecipientInfo carries an ephemeral agreement contribution
// (RFC 5652 Section 6.2.2).
//
//	KeyAgreeRecipientInfo ::= SEQUENCE {
//	  version CMSVersion,  -- always set to 3
//	  originator [0] EXPLICIT OriginatorIdentifierOrKey,
//	  ukm [1] EXPLICIT UserKeyingMaterial OPTIONAL,
//	  keyEncryptionAlgorithm KeyEncryptionAlgorithmIdentifier,
//	  recipientEncryptedKeys RecipientEncryptedKeys }
//
// Originator holds the [0] element; its content is the originatorKey [1]
// alternative.
type KeyAgreeRecipientInfo struct {
	Version                int
	Originator             asn1.RawValue `asn1:"explicit,tag:0"`
	UKM                    []byte        `asn1:"optional,explicit,tag:1"`
	KeyEncryptionAlgorithm pkix.AlgorithmIdentifier
	RecipientEncryptedKeys []RecipientEncryptedKey
}

// OriginatorPublicKey contains the ephemeral public key for key agreement.
//
//	OriginatorPublicKey ::= SEQUENCE {
//	  algorithm AlgorithmIdentifier,
//	  publicKey BIT STRING }
type OriginatorPublicKey struct {
	Algorithm pkix.AlgorithmIdentifier
	PublicKey asn1.BitString
}

// RecipientEncryptedKey contains the encrypted key for one agreement recipient.
type RecipientEncryptedKey struct {
	RID          IssuerAndSerialNumber
	EncryptedKey []byte
}

// OtherRecipientInfo is the ori [4] alternative (RFC 5652 Section 6.2.5).
type OtherRecipientInfo struct {
	OriType  asn1.ObjectIdentifier
	OriValue asn1.RawValue
}

// KEMRecipientInfo for ML-KEM recipients (RFC 9629).
//
//	KEMRecipientInfo ::= SEQUENCE {
//	  version CMSVersion,  -- always 0
//	  rid RecipientIdentifier,
//	  kem KEMAlgorithmIdentifier,
//	  kemct OCTET STRING,
//	  kdf KeyDerivationAlgorithmIdentifier,
//	  kekLength INTEGER (1..65535),
//	  ukm [0] EXPLICIT UserKeyingMaterial OPTIONAL,
//	  wrap KeyEncryptionAlgorithmIdentifier,
//	  encryptedKey EncryptedKey }
type KEMRecipientInfo struct {
	Version      int
	RID          IssuerAndSerialNumber
	KEM          pkix.AlgorithmIdentifier
	KEMCT        []byte
	KDF          pkix.AlgorithmIdentifier
	KEKLength    int
	UKM          []byte `asn1:"optional,explicit,tag:0"`
	Wrap         pkix.AlgorithmIdentifier
	EncryptedKey []byte
}

// kemOtherInfo is the HKDF info input for KEMRI (CMSORIforKEMOtherInfo).
type kemOtherInfo struct {
	Wrap      pkix.AlgorithmIdentifier
	KEKLength int
	UKM       []byte `asn1:"optional,explicit,tag:0"`
}

// eccSharedInfo is the X9.63 KDF shared info for KARI (RFC 5753).
type eccSharedInfo struct {
	KeyInfo     pkix.AlgorithmIdentifier
	EntityUInfo []byte `asn1:"optional,explicit,tag:0"`
	SuppPubInfo []byte `asn1:"explicit,tag:2"`
}

// GCMParameters for AES-GCM (RFC 5084).
//
//	GCMParameters ::= SEQUENCE {
//	  aes-nonce        OCTET STRING,
//	  aes-ICVlen       AES-GCM-ICVlen DEFAULT 12 }
type GCMParameters struct {
	Nonce  []byte
	ICVLen int `asn1:"optional,default:12"`
}

// RSAOAEPParams for RSA-OAEP (RFC 4055).
type RSAOAEPParams struct {
	HashAlgorithm    pkix.AlgorithmIdentifier `asn1:"optional,explicit,tag:0"`
	MaskGenAlgorithm pkix.AlgorithmIdentifier `asn1:"optional,explicit,tag:1"`
	PSourceAlgorithm pkix.AlgorithmIdentifier `asn1:"optional,explicit,tag:2"`
}

// Context-specific tags of the RecipientInfo alternatives.
const (
	tagKARI = 1
	tagORI  = 4
)

func issuerAndSerial(rawIssuer []byte, serial *big.Int) IssuerAndSerialNumber {
	return IssuerAndSerialNumber{
		Issuer:       asn1.RawValue{FullBytes: rawIssuer},
		SerialNumber: serial,
	}
}

// marshalKTRI marshals a KeyTransRecipientInfo; ktri is the untagged alternative.
func marshalKTRI(ktri *KeyTransRecipientInfo) (asn1.RawValue, error) {
	der, err := asn1.Marshal(*ktri)
	if err != nil {
		return asn1.RawValue{}, err
	}
	return asn1.RawValue{FullBytes: der}, nil
}

// marshalKARI marshals a KeyAgreeRecipientInfo with its [1] IMPLICIT tag.
func marshalKARI(kari *KeyAgreeRecipientInfo) (asn1.RawValue, error) {
	der, err := asn1.MarshalWithParams(*kari, "tag:1")
	if err != nil {
		return asn1.RawValue{}, err
	}
	return asn1.RawValue{FullBytes: der}, nil
}

// marshalKEMRI wraps a KEMRecipientInfo into ori [4] with id-ori-kem.
func marshalKEMRI(kemri *KEMRecipientInfo) (asn1.RawValue, error) {
	inner, err := asn1.Marshal(*kemri)
	if err != nil {
		return asn1.RawValue{}, err
	}
	der, err := asn1.MarshalWithParams(OtherRecipientInfo{
		OriType:  OIDOriKEM,
		OriValue: asn1.RawValue{FullBytes: inner},
	}, "tag:4")
	if err != nil {
		return asn1.RawValue{}, err
	}
	return asn1.RawValue{FullBytes: der}, nil
}

// originatorKey encodes an OriginatorPublicKey as the [0] { [1] ... } field.
func originatorKey(opk OriginatorPublicKey) (asn1.RawValue, error) {
	inner, err := asn1.MarshalWithParams(opk, "tag:1")
	if err != nil {
		return asn1.RawValue{}, err
	}
	return asn1.RawValue{
		Class:      asn1.ClassContextSpecific,
		Tag:        0,
		IsCompound: true,
		Bytes:      inner,
	}, nil
}

// parseOriginatorKey extracts the originatorKey alternative from a KARI.
func parseOriginatorKey(raw asn1.RawValue) (*OriginatorPublicKey, error) {
	var opk OriginatorPublicKey
	rest, err := asn1.UnmarshalWithParams(raw.Bytes, &opk, "tag:1")
	if err != nil {
		return nil, err
	}
	if len(rest) > 0 {
		return nil, asn1.SyntaxError{Msg: "trailing data after originator key"}
	}
	return &opk, nil
}
