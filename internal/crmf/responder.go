package crmf

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/remiblancher/qkeystore/internal/audit"
	"github.com/remiblancher/qkeystore/internal/certificate"
	"github.com/remiblancher/qkeystore/internal/cms"
	qcrypto "github.com/remiblancher/qkeystore/internal/crypto"
	"github.com/remiblancher/qkeystore/internal/keystore"
	"github.com/remiblancher/qkeystore/internal/observability"
	"github.com/remiblancher/qkeystore/internal/x509util"
)

// Responder verifies enrollment requests and issues certificates from a
// keystore entry.
type Responder struct {
	KeyStore *keystore.KeyStore
	// SignerAlias names the private-key entry that issues certificates.
	SignerAlias string
	// Passwords opens the entries holding envelope recipient keys.
	Passwords keystore.PasswordResolver
	// MACSecret, when not empty, makes a matching PBM mandatory.
	MACSecret *qcrypto.Secret
	// MaxPBMIterations bounds accepted PBM iteration counts; MaxPBMIterations when zero.
	MaxPBMIterations int
	// EncryptResponse envelopes issued certificates to the requester's key.
	EncryptResponse bool
	// AllowCA lets requests ask for certify usage. Requested extensions are
	// filtered regardless: only subject alternative names and extended key
	// usage are copied into issued certificates.
	AllowCA bool
	// Validity of issued certificates; certificate.DefaultValidity when zero.
	Validity time.Duration
	// Signer replaces the stored private key of SignerAlias.
	Signer crypto.Signer
	// Provider defaults to qcrypto.DefaultProvider.
	Provider qcrypto.Provider
	// Logger receives technical logs; the request context logger is used when nil.
	Logger *slog.Logger
	// Audit receives enrollment events; discarded when nil.
	Audit *audit.Logger
}

func (r *Responder) provider() qcrypto.Provider {
	if r.Provider != nil {
		return r.Provider
	}
	return qcrypto.DefaultProvider
}

func (r *Responder) log(ctx context.Context) *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	if obs := observability.GetObservability(ctx); obs != nil {
		return obs.Log()
	}
	return observability.NoopLogger()
}

// Verify checks the MAC then the proof of possession of req. On success the
// request is verified; any failure rejects it for good.
func (r *Responder) Verify(ctx context.Context, req *Request) error {
	if req == nil {
		return &EnrollError{Op: "verify", Err: fmt.Errorf("request is required")}
	}
	if req.state == StateVerified || req.state == StateRejected {
		return &EnrollError{Op: "verify", RequestID: req.id, Err: fmt.Errorf("request already %s", req.state)}
	}
	if err := ctx.Err(); err != nil {
		return &EnrollError{Op: "verify", RequestID: req.id, Err: err}
	}

	reqID := strconv.FormatInt(req.id, 10)
	subject := req.name.String()
	strategy := req.pop.Strategy.String()
	log := r.log(ctx).With("request", req.id, "subject", subject, "strategy", strategy)

	if err := r.Audit.EnrollRequest(reqID, subject, strategy); err != nil {
		req.state = StateRejected
		return &EnrollError{Op: "verify", RequestID: req.id, Err: err}
	}

	err := r.checkMAC(req)
	if err == nil {
		err = r.checkPOP(req)
	}
	if err != nil {
		req.state = StateRejected
		log.Warn("enrollment request rejected", "error", err)
		if errors.Is(err, ErrMacMismatch) {
			if aerr := r.Audit.AuthFailed(r.SignerAlias, err.Error()); aerr != nil {
				return &EnrollError{Op: "verify", RequestID: req.id, Err: aerr}
			}
		}
		if aerr := r.Audit.EnrollRejected(reqID, subject, err.Error()); aerr != nil {
			return &EnrollError{Op: "verify", RequestID: req.id, Err: aerr}
		}
		return &EnrollError{Op: "verify", RequestID: req.id, Err: err}
	}

	req.state = StateVerified
	if err := r.Audit.EnrollVerified(reqID, subject, strategy); err != nil {
		return &EnrollError{Op: "verify", RequestID: req.id, Err: err}
	}
	log.Info("enrollment request verified")
	return nil
}

func (r *Responder) checkMAC(req *Request) error {
	if r.MACSecret.IsEmpty() {
		return nil
	}
	if req.mac == nil {
		return fmt.Errorf("%w: request carries no MAC", ErrMacMismatch)
	}
	limit := r.MaxPBMIterations
	if limit <= 0 {
		limit = MaxPBMIterations
	}
	if req.mac.Params.IterationCount > limit {
		return fmt.Errorf("%w: %d PBM iterations exceed %d", ErrMacMismatch, req.mac.Params.IterationCount, limit)
	}
	p := r.provider()
	return r.MACSecret.Use(func(secret []byte) error {
		return req.mac.Verify(p, secret, req.spki)
	})
}

func (r *Responder) checkPOP(req *Request) error {
	p := r.provider()
	claimedCaps := qcrypto.CapabilitiesOf(req.publicKey)

	switch req.pop.Strategy {
	case StrategySigned:
		if !claimedCaps.CanSign() || req.pop.Signed == nil {
			return fmt.Errorf("%w: signed proof for a key that cannot sign", ErrInvalidProof)
		}
		if err := p.Verify(req.pop.Signed.Algorithm, req.publicKey, req.template, req.pop.Signed.Signature); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidProof, err)
		}
		return nil
	case StrategyEncrypted, StrategyAgreed:
		return r.checkWrappedKey(req, claimedCaps)
	default:
		return fmt.Errorf("%w: unknown strategy", ErrInvalidProof)
	}
}

// checkWrappedKey locates the envelope recipient in the keystore, opens the
// envelope and compares the wrapped key and subject with the template.
func (r *Responder) checkWrappedKey(req *Request, claimedCaps qcrypto.Capabilities) error {
	p := r.provider()
	env, err := cms.Parse(req.pop.Envelope)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedEncoding, err)
	}

	var (
		alias  string
		target *certificate.Certificate
	)
	for _, ri := range env.Recipients() {
		if (ri.Kind == cms.KindKeyAgreement) != (req.pop.Strategy == StrategyAgreed) {
			continue
		}
		a, err := r.KeyStore.FindByIssuerNameAndSerial(ri.Issuer, ri.SerialNumber)
		if err != nil {
			continue
		}
		chain, err := r.KeyStore.CertificateChain(a)
		if err != nil || len(chain) == 0 {
			continue
		}
		alias, target = a, chain[0]
		break
	}
	if target == nil {
		return fmt.Errorf("%w: no envelope recipient held by this responder: %w", ErrInvalidProof, keystore.ErrNotFound)
	}

	expected, err := SelectStrategy(claimedCaps, target.Capabilities(), target.Usage())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidProof, err)
	}
	if expected != req.pop.Strategy {
		return fmt.Errorf("%w: %s proof where %s applies", ErrInvalidProof, req.pop.Strategy, expected)
	}

	if r.Passwords == nil {
		return fmt.Errorf("no password resolver for recipient entry %q", alias)
	}
	password, err := r.Passwords.Password(alias)
	if err != nil {
		return err
	}
	kp, err := r.KeyStore.PrivateKey(alias, password)
	qcrypto.Wipe(password)
	if err != nil {
		return err
	}

	wrapped, err := unwrapPrivateKey(p, env, target, kp.PrivateKey)
	if err != nil {
		return err
	}
	if !x509util.NamesEqual(wrapped.subject, req.subject) {
		return ErrSubjectMismatch
	}
	pub, err := qcrypto.PublicKeyOf(wrapped.privateKey)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidProof, err)
	}
	if !qcrypto.PublicKeysEqual(pub, req.publicKey) {
		return fmt.Errorf("%w: wrapped private key does not match template public key", ErrInvalidProof)
	}
	return nil
}

// Respond verifies req and issues a certificate over its public key. With
// EncryptResponse set, a requester key that can neither receive a key
// transport nor agree keys gets a plain response.
func (r *Responder) Respond(ctx context.Context, req *Request) (*Response, error) {
	var caps qcrypto.Capabilities
	if req != nil {
		caps = qcrypto.CapabilitiesOf(req.publicKey)
	}
	encrypt := r.EncryptResponse && (caps.CanTransport() || caps.Agreement)

	if err := r.Verify(ctx, req); err != nil {
		return nil, err
	}
	log := r.log(ctx).With("request", req.id)
	if r.EncryptResponse && !encrypt {
		log.Info("requester key cannot receive an encrypted response, responding in plain")
	}

	usage := req.usage
	if usage == 0 {
		usage = defaultUsage(caps)
	}
	if usage.Has(certificate.UsageCertify) && !r.AllowCA {
		log.Warn("certify usage removed from request")
		usage &^= certificate.UsageCertify
	}

	certs, err := r.KeyStore.Issue(r.SignerAlias, keystore.IssueRequest{
		Subject:    req.name,
		RawSubject: req.subject,
		PublicKey:  req.publicKey,
		Usage:      usage,
		Validity:   r.Validity,
		Extensions: issuableExtensions(req.extensions),
		Signer:     r.Signer,
	})
	if err != nil {
		return nil, &EnrollError{Op: "respond", RequestID: req.id, Err: err}
	}

	resp := &Response{requestID: req.id, cert: certs[0], signerChain: certs[1:]}
	if encrypt {
		env, err := cms.Seal(certs[0], certs[0].Raw(), &cms.SealOptions{Provider: r.provider()})
		if err != nil {
			return nil, &EnrollError{Op: "respond", RequestID: req.id, Err: err}
		}
		resp.cert, resp.envelope = nil, env
	}
	log.Info("enrollment response created", "serial", certs[0].SerialNumber().Text(16), "encrypted", encrypt)
	return resp, nil
}

// HandleDER parses a DER request, responds to it and returns the DER
// response together with the parsed request.
func (r *Responder) HandleDER(ctx context.Context, der []byte) ([]byte, *Request, error) {
	req, err := ParseRequest(der)
	if err != nil {
		return nil, nil, &EnrollError{Op: "parse", Err: err}
	}
	resp, err := r.Respond(ctx, req)
	if err != nil {
		return nil, req, err
	}
	out, err := resp.Marshal()
	if err != nil {
		return nil, req, &EnrollError{Op: "respond", RequestID: req.id, Err: err}
	}
	return out, req, nil
}

func defaultUsage(caps qcrypto.Capabilities) certificate.Usage {
	switch {
	case caps.CanSign():
		return certificate.UsageSignData
	case caps.CanTransport():
		return certificate.UsageKeyEncrypt
	case caps.Agreement:
		return certificate.UsageAgreeKeys
	default:
		return 0
	}
}
