package keystore

import (
	"crypto"
	"crypto/x509/pkix"
	"fmt"
	"time"

	"github.com/remiblancher/qkeystore/internal/certificate"
	qcrypto "github.com/remiblancher/qkeystore/internal/crypto"
)

// IssueRequest describes a certificate to issue under a stored signer.
type IssueRequest struct {
	Subject    pkix.Name
	PublicKey  crypto.PublicKey
	Usage      certificate.Usage
	Validity   time.Duration
	Extensions []pkix.Extension
	// RawSubject, when set, is the DER subject issued verbatim. Subject is
	// then only used for logging.
	RawSubject []byte
	// Signer replaces the stored private key, e.g. an HSM-held key whose
	// certificate chain is stored under the signer alias.
	Signer crypto.Signer
}

// Issue signs a certificate for req with the entry stored under signerAlias
// and returns it followed by the signer's chain. The signer password comes
// from the configured PasswordResolver. The new certificate is not stored.
func (ks *KeyStore) Issue(signerAlias string, req IssueRequest) ([]*certificate.Certificate, error) {
	certs, err := ks.issue(signerAlias, req)
	subject := req.Subject.String()
	alg := ""
	if a, aerr := qcrypto.AlgorithmOf(req.PublicKey); aerr == nil {
		alg = string(a)
	}

	if err != nil {
		ks.log.Warn("certificate issuance failed", "signer", signerAlias, "subject", subject, "error", err)
		if aerr := ks.audit.CertIssued(signerAlias, subject, "", alg, false, err.Error()); aerr != nil {
			return nil, &StoreError{Op: "issue", Alias: signerAlias, Err: aerr}
		}
		return nil, err
	}

	serial := certs[0].SerialNumber().Text(16)
	if aerr := ks.audit.CertIssued(signerAlias, subject, serial, alg, true, ""); aerr != nil {
		return nil, &StoreError{Op: "issue", Alias: signerAlias, Err: aerr}
	}
	ks.log.Info("certificate issued", "signer", signerAlias, "subject", subject, "serial", serial)
	return certs, nil
}

func (ks *KeyStore) issue(signerAlias string, req IssueRequest) ([]*certificate.Certificate, error) {
	if req.PublicKey == nil {
		return nil, &StoreError{Op: "issue", Alias: signerAlias, Err: fmt.Errorf("public key is required")}
	}
	e, err := ks.Entry(signerAlias)
	if err != nil {
		return nil, err
	}
	if _, ok := e.(*PrivateKeyEntry); !ok {
		return nil, &StoreError{Op: "issue", Alias: signerAlias, Err: ErrWrongEntryKind}
	}
	chain, err := ks.CertificateChain(signerAlias)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, &StoreError{Op: "issue", Alias: signerAlias, Err: fmt.Errorf("%w: signer has no certificate", certificate.ErrInvalidChain)}
	}

	var signerKP *qcrypto.KeyPair
	if req.Signer == nil {
		if ks.passwords == nil {
			return nil, &StoreError{Op: "issue", Alias: signerAlias, Err: fmt.Errorf("no password resolver configured")}
		}
		password, err := ks.passwords.Password(signerAlias)
		if err != nil {
			return nil, &StoreError{Op: "issue", Alias: signerAlias, Err: err}
		}
		signerKP, err = ks.PrivateKey(signerAlias, password)
		qcrypto.Wipe(password)
		if err != nil {
			return nil, err
		}
	}

	issued, err := certificate.CreateIssued(signerKP, chain[0], req.PublicKey, req.Subject, req.Usage, &certificate.Options{
		Validity:   req.Validity,
		Extensions: req.Extensions,
		RawSubject: req.RawSubject,
		Provider:   ks.provider,
		Signer:     req.Signer,
		Now:        ks.now,
	})
	if err != nil {
		return nil, &StoreError{Op: "issue", Alias: signerAlias, Err: err}
	}
	return append([]*certificate.Certificate{issued}, chain...), nil
}
