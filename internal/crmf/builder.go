package crmf

import (
	"crypto/x509/pkix"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/remiblancher/qkeystore/internal/certificate"
	qcrypto "github.com/remiblancher/qkeystore/internal/crypto"
	"github.com/remiblancher/qkeystore/internal/observability"
	"github.com/remiblancher/qkeystore/internal/x509util"
)

// Template describes the certificate a requester asks for.
type Template struct {
	Subject    pkix.Name
	Usage      certificate.Usage
	Extensions []pkix.Extension
}

// Builder creates enrollment requests. The zero value builds requests
// without a MAC using the default provider.
type Builder struct {
	// Provider defaults to qcrypto.DefaultProvider.
	Provider qcrypto.Provider
	// MACSecret binds requests to an out-of-band secret when not empty.
	MACSecret *qcrypto.Secret
	// PBMIterations defaults to DefaultPBMIterations.
	PBMIterations int
	// Logger receives technical logs; discarded when nil.
	Logger *slog.Logger
}

func (b *Builder) provider() qcrypto.Provider {
	if b.Provider != nil {
		return b.Provider
	}
	return qcrypto.DefaultProvider
}

// Build creates a request for kp's public key. target is the certificate
// an encrypted or agreed proof is enveloped to; it may be nil when kp can
// sign.
func (b *Builder) Build(kp *qcrypto.KeyPair, target *certificate.Certificate, tmpl Template) (*Request, error) {
	subject, err := x509util.MarshalName(tmpl.Subject)
	if err != nil {
		return nil, &EnrollError{Op: "build", Err: err}
	}
	return b.build(kp, target, subject, tmpl.Usage, tmpl.Extensions)
}

// BuildFromCertificate creates a renewal request that copies the subject,
// usage and extensions of local, the certificate currently held for kp.
func (b *Builder) BuildFromCertificate(kp *qcrypto.KeyPair, local, target *certificate.Certificate) (*Request, error) {
	if local == nil {
		return nil, &EnrollError{Op: "build", Err: fmt.Errorf("local certificate is required")}
	}
	if kp == nil || !qcrypto.PublicKeysEqual(kp.PublicKey, local.PublicKey()) {
		return nil, &EnrollError{Op: "build", Err: fmt.Errorf("%w: key pair does not match local certificate", ErrInvalidProof)}
	}
	return b.build(kp, target, local.RawSubject(), local.Usage(), requestableExtensions(local.Extensions()))
}

func (b *Builder) build(kp *qcrypto.KeyPair, target *certificate.Certificate, subject []byte, usage certificate.Usage, exts []pkix.Extension) (*Request, error) {
	if !kp.HasPrivateKey() {
		return nil, &EnrollError{Op: "build", Err: certificate.ErrMissingPrivateKey}
	}
	p := b.provider()

	spki, err := qcrypto.MarshalPublicKey(kp.PublicKey)
	if err != nil {
		return nil, &EnrollError{Op: "build", Err: err}
	}
	exts = requestableExtensions(exts)
	template, err := marshalTemplate(subject, spki, usage, exts)
	if err != nil {
		return nil, &EnrollError{Op: "build", Err: err}
	}
	id, err := newRequestID(p)
	if err != nil {
		return nil, &EnrollError{Op: "build", Err: err}
	}
	name, err := x509util.ParseName(subject)
	if err != nil {
		return nil, &EnrollError{Op: "build", RequestID: id, Err: err}
	}

	r := &Request{
		id:         id,
		subject:    subject,
		name:       name,
		spki:       spki,
		publicKey:  kp.PublicKey,
		usage:      usage,
		extensions: exts,
		template:   template,
		state:      StateBuilt,
	}

	var targetCaps qcrypto.Capabilities
	var targetUsage certificate.Usage
	if target != nil {
		targetCaps = target.Capabilities()
		targetUsage = target.Usage()
	}
	strategy, err := SelectStrategy(qcrypto.CapabilitiesOf(kp.PublicKey), targetCaps, targetUsage)
	if err != nil {
		return nil, &EnrollError{Op: "build", RequestID: id, Err: err}
	}

	switch strategy {
	case StrategySigned:
		signer, err := kp.Signer()
		if err != nil {
			return nil, &EnrollError{Op: "build", RequestID: id, Err: err}
		}
		alg, sig, err := p.Sign(signer, template)
		if err != nil {
			return nil, &EnrollError{Op: "build", RequestID: id, Err: err}
		}
		r.pop = POP{Strategy: strategy, Signed: &SignedProof{Algorithm: alg, Signature: sig}}
	default:
		env, err := wrapPrivateKey(p, target, kp.PrivateKey, subject)
		if err != nil {
			return nil, &EnrollError{Op: "build", RequestID: id, Err: err}
		}
		r.pop = POP{Strategy: strategy, Envelope: env}
	}

	if !b.MACSecret.IsEmpty() {
		params, err := NewPBMParameter(p, b.PBMIterations)
		if err != nil {
			return nil, &EnrollError{Op: "build", RequestID: id, Err: err}
		}
		var value []byte
		err = b.MACSecret.Use(func(secret []byte) error {
			var err error
			value, err = params.Compute(p, secret, spki)
			return err
		})
		if err != nil {
			return nil, &EnrollError{Op: "build", RequestID: id, Err: err}
		}
		r.mac = &PKMACValue{Params: params, Value: value}
	}

	observability.OrNoop(b.Logger).Debug("enrollment request built",
		"request", id, "subject", name.String(), "strategy", strategy.String(), "mac", r.mac != nil)
	return r, nil
}

// newRequestID draws a random positive 63-bit identifier.
func newRequestID(p qcrypto.Provider) (int64, error) {
	buf, err := p.Random(8)
	if err != nil {
		return 0, fmt.Errorf("failed to draw request id: %w", err)
	}
	id := int64(binary.BigEndian.Uint64(buf) >> 1)
	if id == 0 {
		id = 1
	}
	return id, nil
}

// requestableExtensions drops the extensions an issuer always generates.
func requestableExtensions(exts []pkix.Extension) []pkix.Extension {
	var out []pkix.Extension
	for _, ext := range exts {
		if isGeneratedExtension(ext) {
			continue
		}
		out = append(out, ext)
	}
	return out
}

func isGeneratedExtension(ext pkix.Extension) bool {
	return ext.Id.Equal(x509util.OIDExtKeyUsage) ||
		ext.Id.Equal(x509util.OIDExtBasicConstraints) ||
		ext.Id.Equal(x509util.OIDExtSubjectKeyId) ||
		ext.Id.Equal(x509util.OIDExtAuthorityKeyId)
}

// issuableExtensions keeps the requested extensions an issuer copies into a
// certificate. Anything else, such as name constraints or policies, is an
// issuer decision and is dropped.
func issuableExtensions(exts []pkix.Extension) []pkix.Extension {
	var out []pkix.Extension
	for _, ext := range exts {
		if ext.Id.Equal(x509util.OIDExtSubjectAltName) || ext.Id.Equal(x509util.OIDExtExtendedKeyUsage) {
			out = append(out, ext)
		}
	}
	return out
}
