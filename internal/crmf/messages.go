package crmf

import (
	"crypto"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	casn1 "golang.org/x/crypto/cryptobyte/asn1"

	"github.com/remiblancher/qkeystore/internal/certificate"
	qcrypto "github.com/remiblancher/qkeystore/internal/crypto"
	"github.com/remiblancher/qkeystore/internal/x509util"
)

// Context-specific tags used by CertTemplate, ProofOfPossession and POPOPrivKey.
var (
	tagTemplateSubject    = casn1.Tag(5).Constructed().ContextSpecific()
	tagTemplatePublicKey  = casn1.Tag(6).Constructed().ContextSpecific()
	tagTemplateExtensions = casn1.Tag(9).Constructed().ContextSpecific()

	tagPOPSignature        = casn1.Tag(1).Constructed().ContextSpecific()
	tagPOPKeyEncipherment  = casn1.Tag(2).Constructed().ContextSpecific()
	tagPOPKeyAgreement     = casn1.Tag(3).Constructed().ContextSpecific()
	tagPOPOEncryptedKey    = casn1.Tag(4).Constructed().ContextSpecific()
	tagPOPOSKInput         = casn1.Tag(0).Constructed().ContextSpecific()
	tagDirectoryName       = casn1.Tag(4).Constructed().ContextSpecific()
	tagResponseCertificate = casn1.Tag(0).Constructed().ContextSpecific()
	tagResponseEncrypted   = casn1.Tag(1).Constructed().ContextSpecific()
)

// State tracks a request through the exchange.
type State int

const (
	StateBuilt State = iota
	StateTransmitted
	StateVerified
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateBuilt:
		return "built"
	case StateTransmitted:
		return "transmitted"
	case StateVerified:
		return "verified"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Request is a single CertReqMsg: a certificate template, its proof of
// possession and an optional password-based MAC over the public key.
// The template bytes are fixed when the request is built or parsed.
type Request struct {
	id         int64
	subject    []byte
	name       pkix.Name
	spki       []byte
	publicKey  crypto.PublicKey
	usage      certificate.Usage
	extensions []pkix.Extension
	template   []byte
	pop        POP
	mac        *PKMACValue
	state      State
}

// ID returns the certReqId.
func (r *Request) ID() int64 { return r.id }

// Subject returns the requested subject name.
func (r *Request) Subject() pkix.Name { return r.name }

// RawSubject returns the DER subject name of the template.
func (r *Request) RawSubject() []byte { return r.subject }

// PublicKey returns the key the template claims.
func (r *Request) PublicKey() crypto.PublicKey { return r.publicKey }

// RawSubjectPublicKeyInfo returns the DER SubjectPublicKeyInfo covered by the MAC.
func (r *Request) RawSubjectPublicKeyInfo() []byte { return r.spki }

// Usage returns the usage requested through the template's KeyUsage extension.
func (r *Request) Usage() certificate.Usage { return r.usage }

// Extensions returns the requested extensions other than KeyUsage.
func (r *Request) Extensions() []pkix.Extension { return r.extensions }

// POP returns the proof of possession.
func (r *Request) POP() POP { return r.pop }

// MAC returns the password-based MAC, or nil.
func (r *Request) MAC() *PKMACValue { return r.mac }

// State returns the position of the request in the exchange.
func (r *Request) State() State { return r.state }

// Marshal encodes the request as CertReqMessages. A built request becomes
// transmitted.
func (r *Request) Marshal() ([]byte, error) {
	var popErr error
	var b cryptobyte.Builder
	b.AddASN1(casn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1(casn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1(casn1.SEQUENCE, func(b *cryptobyte.Builder) {
				b.AddASN1Int64(r.id)
				b.AddBytes(r.template)
			})
			popErr = marshalPOP(b, r.pop)
			if r.mac != nil {
				b.AddASN1(casn1.SEQUENCE, func(b *cryptobyte.Builder) {
					b.AddASN1(casn1.SEQUENCE, func(b *cryptobyte.Builder) {
						b.AddASN1ObjectIdentifier(OIDPasswordBasedMac)
						if err := r.mac.marshal(b); err != nil {
							b.SetError(err)
						}
					})
				})
			}
		})
	})
	if popErr != nil {
		return nil, popErr
	}
	der, err := b.Bytes()
	if err != nil {
		return nil, err
	}
	if r.state == StateBuilt {
		r.state = StateTransmitted
	}
	return der, nil
}

func marshalPOP(b *cryptobyte.Builder, pop POP) error {
	switch pop.Strategy {
	case StrategySigned:
		if pop.Signed == nil {
			return fmt.Errorf("signed proof missing")
		}
		alg, err := asn1.Marshal(pop.Signed.Algorithm)
		if err != nil {
			return err
		}
		b.AddASN1(tagPOPSignature, func(b *cryptobyte.Builder) {
			b.AddBytes(alg)
			b.AddASN1BitString(pop.Signed.Signature)
		})
	case StrategyEncrypted, StrategyAgreed:
		contents, ok := sequenceContents(pop.Envelope)
		if !ok {
			return fmt.Errorf("proof envelope is not a DER SEQUENCE")
		}
		tag := tagPOPKeyEncipherment
		if pop.Strategy == StrategyAgreed {
			tag = tagPOPKeyAgreement
		}
		b.AddASN1(tag, func(b *cryptobyte.Builder) {
			b.AddASN1(tagPOPOEncryptedKey, func(b *cryptobyte.Builder) {
				b.AddBytes(contents)
			})
		})
	default:
		return fmt.Errorf("unknown proof-of-possession strategy %d", pop.Strategy)
	}
	return nil
}

// ParseRequest decodes CertReqMessages holding exactly one CertReqMsg.
// The parsed request is in the transmitted state.
func ParseRequest(der []byte) (*Request, error) {
	input := cryptobyte.String(der)
	var msgs, msg cryptobyte.String
	if !input.ReadASN1(&msgs, casn1.SEQUENCE) || !input.Empty() {
		return nil, malformed("CertReqMessages")
	}
	if !msgs.ReadASN1(&msg, casn1.SEQUENCE) || !msgs.Empty() {
		return nil, malformed("expected exactly one CertReqMsg")
	}

	var certReq cryptobyte.String
	var template []byte
	r := &Request{state: StateTransmitted}
	if !msg.ReadASN1(&certReq, casn1.SEQUENCE) ||
		!certReq.ReadASN1Integer(&r.id) ||
		!certReq.ReadASN1Element((*cryptobyte.String)(&template), casn1.SEQUENCE) {
		return nil, malformed("CertRequest")
	}
	if r.id <= 0 {
		return nil, malformed("certReqId %d", r.id)
	}
	// controls are accepted and ignored
	if !certReq.SkipOptionalASN1(casn1.SEQUENCE) || !certReq.Empty() {
		return nil, malformed("CertRequest controls")
	}
	if err := r.parseTemplate(template); err != nil {
		return nil, err
	}

	pop, err := parsePOP(&msg)
	if err != nil {
		return nil, err
	}
	r.pop = pop

	if msg.PeekASN1Tag(casn1.SEQUENCE) {
		if r.mac, err = parseRegInfo(&msg); err != nil {
			return nil, err
		}
	}
	if !msg.Empty() {
		return nil, malformed("trailing data in CertReqMsg")
	}
	return r, nil
}

func parsePOP(s *cryptobyte.String) (POP, error) {
	var body cryptobyte.String
	var tag casn1.Tag
	if !s.ReadAnyASN1(&body, &tag) {
		return POP{}, malformed("missing proof of possession")
	}
	switch tag {
	case tagPOPSignature:
		if body.PeekASN1Tag(tagPOPOSKInput) {
			return POP{}, malformed("poposkInput is not supported")
		}
		var algDER cryptobyte.String
		var sig asn1.BitString
		if !body.ReadASN1Element(&algDER, casn1.SEQUENCE) || !body.ReadASN1BitString(&sig) || !body.Empty() {
			return POP{}, malformed("POPOSigningKey")
		}
		var alg pkix.AlgorithmIdentifier
		if rest, err := asn1.Unmarshal(algDER, &alg); err != nil || len(rest) > 0 {
			return POP{}, malformed("POPOSigningKey algorithm")
		}
		if sig.BitLength%8 != 0 {
			return POP{}, malformed("POPOSigningKey signature")
		}
		return POP{Strategy: StrategySigned, Signed: &SignedProof{Algorithm: alg, Signature: sig.Bytes}}, nil

	case tagPOPKeyEncipherment, tagPOPKeyAgreement:
		var contents cryptobyte.String
		if !body.ReadASN1(&contents, tagPOPOEncryptedKey) || !body.Empty() {
			return POP{}, malformed("POPOPrivKey: only encryptedKey is supported")
		}
		env, err := wrapSequence(contents)
		if err != nil {
			return POP{}, malformed("POPOPrivKey")
		}
		strategy := StrategyEncrypted
		if tag == tagPOPKeyAgreement {
			strategy = StrategyAgreed
		}
		return POP{Strategy: strategy, Envelope: env}, nil

	default:
		return POP{}, malformed("unsupported proof of possession [%d]", tag&0x1f)
	}
}

// parseRegInfo returns the PBM of the regInfo attributes; other attributes
// are ignored.
func parseRegInfo(s *cryptobyte.String) (*PKMACValue, error) {
	var attrs cryptobyte.String
	if !s.ReadASN1(&attrs, casn1.SEQUENCE) {
		return nil, malformed("regInfo")
	}
	var mac *PKMACValue
	for !attrs.Empty() {
		var attr cryptobyte.String
		var oid asn1.ObjectIdentifier
		if !attrs.ReadASN1(&attr, casn1.SEQUENCE) || !attr.ReadASN1ObjectIdentifier(&oid) {
			return nil, malformed("regInfo attribute")
		}
		if !oid.Equal(OIDPasswordBasedMac) {
			continue
		}
		if mac != nil {
			return nil, malformed("duplicate password-based MAC")
		}
		v, err := parsePKMACValue(&attr)
		if err != nil {
			return nil, err
		}
		if !attr.Empty() {
			return nil, malformed("trailing data in regInfo attribute")
		}
		mac = v
	}
	return mac, nil
}

// marshalTemplate encodes a CertTemplate carrying subject, publicKey and
// extensions. Usage is prepended as a KeyUsage extension.
func marshalTemplate(subject, spki []byte, usage certificate.Usage, exts []pkix.Extension) ([]byte, error) {
	spkiContents, ok := sequenceContents(spki)
	if !ok {
		return nil, fmt.Errorf("public key info is not a DER SEQUENCE")
	}
	all := make([]pkix.Extension, 0, len(exts)+1)
	if usage != 0 {
		ku, err := x509util.BuildKeyUsageExt(usage.KeyUsage())
		if err != nil {
			return nil, err
		}
		all = append(all, ku)
	}
	all = append(all, exts...)

	encoded := make([][]byte, 0, len(all))
	for _, ext := range all {
		der, err := asn1.Marshal(ext)
		if err != nil {
			return nil, fmt.Errorf("failed to encode extension %s: %w", ext.Id, err)
		}
		encoded = append(encoded, der)
	}

	var b cryptobyte.Builder
	b.AddASN1(casn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1(tagTemplateSubject, func(b *cryptobyte.Builder) {
			b.AddBytes(subject)
		})
		b.AddASN1(tagTemplatePublicKey, func(b *cryptobyte.Builder) {
			b.AddBytes(spkiContents)
		})
		if len(encoded) > 0 {
			b.AddASN1(tagTemplateExtensions, func(b *cryptobyte.Builder) {
				for _, der := range encoded {
					b.AddBytes(der)
				}
			})
		}
	})
	return b.Bytes()
}

// parseTemplate fills the template fields of r from a DER CertTemplate.
// Fields other than subject, publicKey and extensions are ignored.
func (r *Request) parseTemplate(der []byte) error {
	input := cryptobyte.String(der)
	var fields cryptobyte.String
	if !input.ReadASN1(&fields, casn1.SEQUENCE) || !input.Empty() {
		return malformed("CertTemplate")
	}
	var exts []pkix.Extension
	for !fields.Empty() {
		var body cryptobyte.String
		var tag casn1.Tag
		if !fields.ReadAnyASN1(&body, &tag) {
			return malformed("CertTemplate field")
		}
		switch tag {
		case tagTemplateSubject:
			var name cryptobyte.String
			if !body.ReadASN1Element(&name, casn1.SEQUENCE) || !body.Empty() {
				return malformed("CertTemplate subject")
			}
			r.subject = name
		case tagTemplatePublicKey:
			spki, err := wrapSequence(body)
			if err != nil {
				return malformed("CertTemplate publicKey")
			}
			r.spki = spki
		case tagTemplateExtensions:
			for !body.Empty() {
				var extDER cryptobyte.String
				if !body.ReadASN1Element(&extDER, casn1.SEQUENCE) {
					return malformed("CertTemplate extensions")
				}
				var ext pkix.Extension
				if rest, err := asn1.Unmarshal(extDER, &ext); err != nil || len(rest) > 0 {
					return malformed("CertTemplate extension")
				}
				exts = append(exts, ext)
			}
		}
	}
	if r.subject == nil || r.spki == nil {
		return malformed("CertTemplate requires subject and publicKey")
	}

	name, err := x509util.ParseName(r.subject)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedEncoding, err)
	}
	pub, err := qcrypto.ParsePublicKey(r.spki)
	if err != nil {
		return fmt.Errorf("%w: template public key: %w", ErrMalformedEncoding, err)
	}
	for _, ext := range exts {
		if !ext.Id.Equal(x509util.OIDExtKeyUsage) {
			r.extensions = append(r.extensions, ext)
			continue
		}
		ku, err := x509util.ParseKeyUsageExt(ext.Value)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedEncoding, err)
		}
		r.usage = certificate.UsageFromKeyUsage(ku)
	}
	r.name = name
	r.publicKey = pub
	r.template = der
	return nil
}

// sequenceContents returns the contents of a single DER SEQUENCE.
func sequenceContents(der []byte) ([]byte, bool) {
	s := cryptobyte.String(der)
	var contents cryptobyte.String
	if !s.ReadASN1(&contents, casn1.SEQUENCE) || !s.Empty() {
		return nil, false
	}
	return contents, true
}

// wrapSequence restores the SEQUENCE tag of an implicitly tagged value.
func wrapSequence(contents []byte) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddASN1(casn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddBytes(contents)
	})
	return b.Bytes()
}
