package certificate

import (
	"crypto"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"

	qcrypto "github.com/remiblancher/qkeystore/internal/crypto"
	"github.com/remiblancher/qkeystore/internal/x509util"
)

// DefaultValidity is used when Options carries neither NotAfter nor Validity.
const DefaultValidity = 365 * 24 * time.Hour

// Options tune certificate creation.
type Options struct {
	// NotBefore defaults to now.
	NotBefore time.Time
	// NotAfter overrides Validity when set.
	NotAfter time.Time
	// Validity is added to NotBefore when NotAfter is zero.
	Validity time.Duration
	// SerialNumber defaults to a random positive 128-bit integer.
	SerialNumber *big.Int
	// Usage is added to the usage of self-signed roots.
	Usage Usage
	// Extensions are appended after the generated ones.
	Extensions []pkix.Extension
	// RawSubject is used verbatim as the issued subject when set, in place of
	// the encoded subject name.
	RawSubject []byte
	// Provider defaults to qcrypto.DefaultProvider.
	Provider qcrypto.Provider
	// Signer replaces the key pair's private key, e.g. for HSM-held keys.
	Signer crypto.Signer
	// Now overrides the clock used for signer validity checks.
	Now func() time.Time
}

func (o *Options) provider() qcrypto.Provider {
	if o != nil && o.Provider != nil {
		return o.Provider
	}
	return qcrypto.DefaultProvider
}

func (o *Options) subject(name pkix.Name) ([]byte, error) {
	if o != nil && len(o.RawSubject) > 0 {
		if _, err := x509util.ParseName(o.RawSubject); err != nil {
			return nil, fmt.Errorf("invalid raw subject: %w", err)
		}
		return append([]byte(nil), o.RawSubject...), nil
	}
	der, err := x509util.MarshalName(name)
	if err != nil {
		return nil, fmt.Errorf("failed to encode subject: %w", err)
	}
	return der, nil
}

func (o *Options) now() time.Time {
	if o != nil && o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Options) window() (time.Time, time.Time) {
	notBefore := o.now()
	if o != nil && !o.NotBefore.IsZero() {
		notBefore = o.NotBefore
	}
	notBefore = notBefore.UTC().Truncate(time.Second)

	validity := DefaultValidity
	if o != nil && o.Validity > 0 {
		validity = o.Validity
	}
	notAfter := notBefore.Add(validity)
	if o != nil && !o.NotAfter.IsZero() {
		notAfter = o.NotAfter
	}
	return notBefore, notAfter.UTC().Truncate(time.Second)
}

func (o *Options) serial(p qcrypto.Provider) (*big.Int, error) {
	if o != nil && o.SerialNumber != nil {
		if o.SerialNumber.Sign() <= 0 {
			return nil, fmt.Errorf("serial number must be positive")
		}
		return new(big.Int).Set(o.SerialNumber), nil
	}
	b, err := p.Random(16)
	if err != nil {
		return nil, err
	}
	b[0] &= 0x7f
	serial := new(big.Int).SetBytes(b)
	if serial.Sign() == 0 {
		serial.SetInt64(1)
	}
	return serial, nil
}

func (o *Options) signer(kp *qcrypto.KeyPair) (crypto.Signer, error) {
	if o != nil && o.Signer != nil {
		return o.Signer, nil
	}
	if kp == nil || !kp.HasPrivateKey() {
		return nil, ErrMissingPrivateKey
	}
	return kp.Signer()
}

func (o *Options) extraExtensions() []pkix.Extension {
	if o == nil {
		return nil
	}
	return o.Extensions
}

// template carries the fields of a certificate before signing.
type template struct {
	serial     *big.Int
	issuer     []byte
	subject    []byte
	publicKey  crypto.PublicKey
	notBefore  time.Time
	notAfter   time.Time
	usage      Usage
	ca         CAStatus
	authKeyID  []byte
	extensions []pkix.Extension
}

// CreateSelfSigned creates a root certificate for kp. The root is a CA with
// certify and sign-data usage plus opts.Usage and a nil path length.
func CreateSelfSigned(kp *qcrypto.KeyPair, subject pkix.Name, opts *Options) (*Certificate, error) {
	signer, err := opts.signer(kp)
	if err != nil {
		return nil, &CertError{Op: "create", Err: err}
	}
	p := opts.provider()

	rawSubject, err := x509util.MarshalName(subject)
	if err != nil {
		return nil, &CertError{Op: "create", Err: fmt.Errorf("failed to encode subject: %w", err)}
	}
	serial, err := opts.serial(p)
	if err != nil {
		return nil, &CertError{Op: "create", Err: err}
	}
	notBefore, notAfter := opts.window()

	var usage Usage = UsageCertify | UsageSignData
	if opts != nil {
		usage |= opts.Usage
	}

	c, err := sign(p, signer, &template{
		serial:     serial,
		issuer:     rawSubject,
		subject:    rawSubject,
		publicKey:  signer.Public(),
		notBefore:  notBefore,
		notAfter:   notAfter,
		usage:      usage,
		ca:         CAStatus{IsCA: true},
		extensions: opts.extraExtensions(),
	})
	if err != nil {
		return nil, &CertError{Op: "create", Err: err}
	}
	return c, nil
}

// CreateIssued issues a certificate for subjectKey, which may be a public key
// or a *qcrypto.KeyPair, signed by signerKP under signerCert.
// The result is a CA iff usage contains UsageCertify.
func CreateIssued(signerKP *qcrypto.KeyPair, signerCert *Certificate, subjectKey any, subject pkix.Name, usage Usage, opts *Options) (*Certificate, error) {
	if signerCert == nil {
		return nil, &CertError{Op: "issue", Err: fmt.Errorf("%w: signer certificate is required", ErrInvalidChain)}
	}
	if !signerCert.CanSignCertificates() {
		return nil, newError("issue", signerCert, fmt.Errorf("%w: signer cannot sign certificates", ErrInvalidChain))
	}
	if !signerCert.IsValidAt(opts.now()) {
		return nil, newError("issue", signerCert, ErrExpired)
	}
	signer, err := opts.signer(signerKP)
	if err != nil {
		return nil, newError("issue", signerCert, err)
	}
	if !qcrypto.PublicKeysEqual(signer.Public(), signerCert.PublicKey()) {
		return nil, newError("issue", signerCert, fmt.Errorf("%w: signer key does not match signer certificate", ErrInvalidChain))
	}

	var pub crypto.PublicKey
	switch k := subjectKey.(type) {
	case *qcrypto.KeyPair:
		if k == nil {
			return nil, &CertError{Op: "issue", Err: fmt.Errorf("subject key is required")}
		}
		pub = k.PublicKey
	case nil:
		return nil, &CertError{Op: "issue", Err: fmt.Errorf("subject key is required")}
	default:
		pub = k
	}

	p := opts.provider()
	rawSubject, err := opts.subject(subject)
	if err != nil {
		return nil, &CertError{Op: "issue", Err: err}
	}
	serial, err := opts.serial(p)
	if err != nil {
		return nil, &CertError{Op: "issue", Err: err}
	}
	notBefore, notAfter := opts.window()

	var ca CAStatus
	if usage.Has(UsageCertify) {
		depth := 0
		if parent := signerCert.CA().PathLen; parent != nil {
			depth = *parent + 1
		}
		ca = CAStatus{IsCA: true, PathLen: &depth}
	}

	c, err := sign(p, signer, &template{
		serial:     serial,
		issuer:     signerCert.RawSubject(),
		subject:    rawSubject,
		publicKey:  pub,
		notBefore:  notBefore,
		notAfter:   notAfter,
		usage:      usage,
		ca:         ca,
		authKeyID:  signerCert.SubjectKeyID(),
		extensions: opts.extraExtensions(),
	})
	if err != nil {
		return nil, &CertError{Op: "issue", Serial: serial.Text(16), Err: err}
	}
	return c, nil
}

// sign encodes the TBS certificate for t, signs it and parses the result back
// so that every Certificate value comes from its DER bytes.
func sign(p qcrypto.Provider, signer crypto.Signer, t *template) (*Certificate, error) {
	alg, ok := qcrypto.DefaultSignatureAlgorithm(signer.Public())
	if !ok {
		return nil, fmt.Errorf("%w: signer key has no signature algorithm", qcrypto.ErrNoCapability)
	}

	spki, err := qcrypto.MarshalPublicKey(t.publicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encode public key: %w", err)
	}
	ski, err := qcrypto.KeyIdentifier(t.publicKey)
	if err != nil {
		return nil, err
	}

	exts, err := buildExtensions(t, ski)
	if err != nil {
		return nil, err
	}

	tbs := tbsCertificate{
		Version:            2,
		SerialNumber:       t.serial,
		SignatureAlgorithm: alg.AlgorithmIdentifier(),
		Issuer:             asn1.RawValue{FullBytes: t.issuer},
		Validity:           validity{NotBefore: t.notBefore, NotAfter: t.notAfter},
		Subject:            asn1.RawValue{FullBytes: t.subject},
		PublicKey:          asn1.RawValue{FullBytes: spki},
		Extensions:         exts,
	}
	tbsDER, err := asn1.Marshal(tbs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TBS certificate: %w", err)
	}

	sigAlg, signature, err := p.Sign(signer, tbsDER)
	if err != nil {
		return nil, fmt.Errorf("failed to sign certificate: %w", err)
	}
	if !sigAlg.Algorithm.Equal(tbs.SignatureAlgorithm.Algorithm) {
		return nil, fmt.Errorf("provider signed with %v, expected %v", sigAlg.Algorithm, tbs.SignatureAlgorithm.Algorithm)
	}

	der, err := asn1.Marshal(certificateASN1{
		TBSCertificate:     asn1.RawValue{FullBytes: tbsDER},
		SignatureAlgorithm: tbs.SignatureAlgorithm,
		SignatureValue:     asn1.BitString{Bytes: signature, BitLength: len(signature) * 8},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal certificate: %w", err)
	}
	return parse(der)
}

func buildExtensions(t *template, ski []byte) ([]pkix.Extension, error) {
	var exts []pkix.Extension

	ku, err := x509util.BuildKeyUsageExt(t.usage.KeyUsage())
	if err != nil {
		return nil, err
	}
	exts = append(exts, ku)

	if t.ca.IsCA {
		bc, err := x509util.BuildBasicConstraintsExt(true, t.ca.PathLen)
		if err != nil {
			return nil, err
		}
		exts = append(exts, bc)
	}

	skiExt, err := x509util.BuildSubjectKeyIdExt(ski)
	if err != nil {
		return nil, err
	}
	exts = append(exts, skiExt)

	if len(t.authKeyID) > 0 {
		aki, err := x509util.BuildAuthorityKeyIdExt(t.authKeyID)
		if err != nil {
			return nil, err
		}
		exts = append(exts, aki)
	}

	return append(exts, t.extensions...), nil
}
