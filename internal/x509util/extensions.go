package x509util

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
)

// EncodeKeyUsage encodes a key usage as a DER-minimal BIT STRING, covering
// all nine bits including encipherOnly and decipherOnly.
func EncodeKeyUsage(ku x509.KeyUsage) asn1.BitString {
	var b [2]byte
	n := 0
	for i := 0; i < 9; i++ {
		if ku&(1<<i) != 0 {
			b[i/8] |= 0x80 >> (i % 8)
			n = i + 1
		}
	}
	return asn1.BitString{Bytes: b[:(n+7)/8], BitLength: n}
}

// DecodeKeyUsage is the inverse of EncodeKeyUsage.
func DecodeKeyUsage(bs asn1.BitString) x509.KeyUsage {
	var ku x509.KeyUsage
	for i := 0; i < 9; i++ {
		if bs.At(i) != 0 {
			ku |= 1 << i
		}
	}
	return ku
}

// BuildKeyUsageExt builds the critical Key Usage extension.
func BuildKeyUsageExt(ku x509.KeyUsage) (pkix.Extension, error) {
	der, err := asn1.Marshal(EncodeKeyUsage(ku))
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("failed to marshal KeyUsage: %w", err)
	}
	return pkix.Extension{Id: OIDExtKeyUsage, Critical: true, Value: der}, nil
}

// ParseKeyUsageExt decodes a Key Usage extension value.
func ParseKeyUsageExt(value []byte) (x509.KeyUsage, error) {
	var bs asn1.BitString
	rest, err := asn1.Unmarshal(value, &bs)
	if err != nil || len(rest) > 0 {
		return 0, fmt.Errorf("malformed KeyUsage extension")
	}
	return DecodeKeyUsage(bs), nil
}

// basicConstraints is the decoding form of BasicConstraints.
type basicConstraints struct {
	IsCA       bool `asn1:"optional"`
	MaxPathLen int  `asn1:"optional,default:-1"`
}

// BuildBasicConstraintsExt builds the critical Basic Constraints extension.
// A nil pathLen omits the pathLenConstraint field.
func BuildBasicConstraintsExt(isCA bool, pathLen *int) (pkix.Extension, error) {
	var der []byte
	var err error
	switch {
	case !isCA:
		der, err = asn1.Marshal(struct{}{})
	case pathLen == nil:
		der, err = asn1.Marshal(struct{ IsCA bool }{IsCA: true})
	default:
		der, err = asn1.Marshal(struct {
			IsCA       bool
			MaxPathLen int
		}{IsCA: true, MaxPathLen: *pathLen})
	}
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("failed to marshal BasicConstraints: %w", err)
	}
	return pkix.Extension{Id: OIDExtBasicConstraints, Critical: true, Value: der}, nil
}

// ParseBasicConstraintsExt decodes a Basic Constraints extension value.
func ParseBasicConstraintsExt(value []byte) (isCA bool, pathLen *int, err error) {
	var bc basicConstraints
	rest, err := asn1.Unmarshal(value, &bc)
	if err != nil || len(rest) > 0 {
		return false, nil, fmt.Errorf("malformed BasicConstraints extension")
	}
	if bc.MaxPathLen < -1 {
		return false, nil, fmt.Errorf("negative path length in BasicConstraints")
	}
	if bc.MaxPathLen >= 0 {
		n := bc.MaxPathLen
		pathLen = &n
	}
	return bc.IsCA, pathLen, nil
}

// BuildSubjectKeyIdExt builds the Subject Key Identifier extension.
func BuildSubjectKeyIdExt(keyID []byte) (pkix.Extension, error) {
	der, err := asn1.Marshal(keyID)
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("failed to marshal SubjectKeyIdentifier: %w", err)
	}
	return pkix.Extension{Id: OIDExtSubjectKeyId, Value: der}, nil
}

// ParseSubjectKeyIdExt decodes a Subject Key Identifier extension value.
func ParseSubjectKeyIdExt(value []byte) ([]byte, error) {
	var keyID []byte
	rest, err := asn1.Unmarshal(value, &keyID)
	if err != nil || len(rest) > 0 {
		return nil, fmt.Errorf("malformed SubjectKeyIdentifier extension")
	}
	return keyID, nil
}

type authorityKeyId struct {
	KeyIdentifier []byte `asn1:"optional,tag:0"`
}

// BuildAuthorityKeyIdExt builds the Authority Key Identifier extension.
func BuildAuthorityKeyIdExt(keyID []byte) (pkix.Extension, error) {
	der, err := asn1.Marshal(authorityKeyId{KeyIdentifier: keyID})
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("failed to marshal AuthorityKeyIdentifier: %w", err)
	}
	return pkix.Extension{Id: OIDExtAuthorityKeyId, Value: der}, nil
}

// ParseAuthorityKeyIdExt decodes an Authority Key Identifier extension value.
func ParseAuthorityKeyIdExt(value []byte) ([]byte, error) {
	var akid authorityKeyId
	if _, err := asn1.Unmarshal(value, &akid); err != nil {
		return nil, fmt.Errorf("malformed AuthorityKeyIdentifier extension")
	}
	return akid.KeyIdentifier, nil
}

// FindExtension returns the extension with the given OID, or nil.
func FindExtension(exts []pkix.Extension, oid asn1.ObjectIdentifier) *pkix.Extension {
	for i := range exts {
		if exts[i].Id.Equal(oid) {
			return &exts[i]
		}
	}
	return nil
}
