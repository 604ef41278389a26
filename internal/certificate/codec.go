package certificate

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"

	qcrypto "github.com/remiblancher/qkeystore/internal/crypto"
	"github.com/remiblancher/qkeystore/internal/x509util"
)

// tbsCertificate is the ASN.1 structure for the TBS (to-be-signed) certificate.
// The public key is kept as a raw SubjectPublicKeyInfo so that key types the
// standard library does not know survive untouched.
type tbsCertificate struct {
	Raw                asn1.RawContent
	Version            int `asn1:"optional,explicit,default:0,tag:0"`
	SerialNumber       *big.Int
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Issuer             asn1.RawValue
	Validity           validity
	Subject            asn1.RawValue
	PublicKey          asn1.RawValue
	IssuerUniqueID     asn1.BitString   `asn1:"optional,tag:1"`
	SubjectUniqueID    asn1.BitString   `asn1:"optional,tag:2"`
	Extensions         []pkix.Extension `asn1:"optional,explicit,tag:3"`
}

type validity struct {
	NotBefore, NotAfter time.Time
}

type certificateASN1 struct {
	Raw                asn1.RawContent
	TBSCertificate     asn1.RawValue
	SignatureAlgorithm pkix.AlgorithmIdentifier
	SignatureValue     asn1.BitString
}

// Parse decodes a DER certificate. Any structural violation yields
// ErrMalformedEncoding. Raw() of the result returns der unchanged.
func Parse(der []byte) (*Certificate, error) {
	c, err := parse(der)
	if err != nil {
		return nil, &CertError{Op: "parse", Err: fmt.Errorf("%w: %v", ErrMalformedEncoding, err)}
	}
	return c, nil
}

func parse(der []byte) (*Certificate, error) {
	var outer certificateASN1
	rest, err := asn1.Unmarshal(der, &outer)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("trailing data after certificate")
	}

	var tbs tbsCertificate
	rest, err = asn1.Unmarshal(outer.TBSCertificate.FullBytes, &tbs)
	if err != nil {
		return nil, fmt.Errorf("tbsCertificate: %v", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("trailing data after tbsCertificate")
	}
	if tbs.SerialNumber == nil || tbs.SerialNumber.Sign() <= 0 {
		return nil, fmt.Errorf("serial number must be positive")
	}
	if !tbs.SignatureAlgorithm.Algorithm.Equal(outer.SignatureAlgorithm.Algorithm) {
		return nil, fmt.Errorf("signature algorithm mismatch between tbs and outer structure")
	}
	if outer.SignatureValue.BitLength%8 != 0 {
		return nil, fmt.Errorf("signature is not byte aligned")
	}

	pub, err := qcrypto.ParsePublicKey(tbs.PublicKey.FullBytes)
	if err != nil {
		return nil, err
	}

	c := &Certificate{
		raw:             append([]byte(nil), der...),
		tbs:             append([]byte(nil), outer.TBSCertificate.FullBytes...),
		rawSubject:      tbs.Subject.FullBytes,
		rawIssuer:       tbs.Issuer.FullBytes,
		publicKey:       pub,
		spki:            tbs.PublicKey.FullBytes,
		notBefore:       tbs.Validity.NotBefore.UTC(),
		notAfter:        tbs.Validity.NotAfter.UTC(),
		serial:          tbs.SerialNumber,
		sigAlg:          outer.SignatureAlgorithm,
		signature:       outer.SignatureValue.RightAlign(),
		issuerUniqueID:  tbs.IssuerUniqueID,
		subjectUniqueID: tbs.SubjectUniqueID,
		extensions:      tbs.Extensions,
	}

	for _, ext := range tbs.Extensions {
		switch {
		case ext.Id.Equal(x509util.OIDExtKeyUsage):
			ku, err := x509util.ParseKeyUsageExt(ext.Value)
			if err != nil {
				return nil, err
			}
			c.usage = UsageFromKeyUsage(ku)
		case ext.Id.Equal(x509util.OIDExtBasicConstraints):
			isCA, pathLen, err := x509util.ParseBasicConstraintsExt(ext.Value)
			if err != nil {
				return nil, err
			}
			c.ca = CAStatus{IsCA: isCA, PathLen: pathLen}
		case ext.Id.Equal(x509util.OIDExtSubjectKeyId):
			if c.subjectKeyID, err = x509util.ParseSubjectKeyIdExt(ext.Value); err != nil {
				return nil, err
			}
		case ext.Id.Equal(x509util.OIDExtAuthorityKeyId):
			if c.authorityKeyID, err = x509util.ParseAuthorityKeyIdExt(ext.Value); err != nil {
				return nil, err
			}
		}
	}

	if err := c.computeIDs(); err != nil {
		return nil, err
	}
	return c, nil
}

// computeIDs derives subject and issuer identities. A missing SKI falls back
// to the key identifier of the public key; a self-issued certificate without
// an AKI uses its own subject key id.
func (c *Certificate) computeIDs() error {
	subjectName, err := x509util.CanonicalName(c.rawSubject)
	if err != nil {
		return fmt.Errorf("subject: %v", err)
	}
	issuerName, err := x509util.CanonicalName(c.rawIssuer)
	if err != nil {
		return fmt.Errorf("issuer: %v", err)
	}

	ski := c.subjectKeyID
	if len(ski) == 0 {
		if ski, err = qcrypto.KeyIdentifier(c.publicKey); err != nil {
			return err
		}
	}
	aki := c.authorityKeyID
	if len(aki) == 0 && x509util.NamesEqual(c.rawSubject, c.rawIssuer) {
		aki = ski
	}

	c.subject = newID(subjectName, ski)
	c.issuer = newID(issuerName, aki)
	return nil
}
