package crmf

import (
	"crypto/x509/pkix"

	"github.com/remiblancher/qkeystore/internal/certificate"
	qcrypto "github.com/remiblancher/qkeystore/internal/crypto"
)

// Strategy is the proof-of-possession method of a request.
type Strategy int

const (
	// StrategySigned proves possession with a signature over the template.
	StrategySigned Strategy = iota + 1
	// StrategyEncrypted sends the private key enveloped to a key-transport
	// or KEM target.
	StrategyEncrypted
	// StrategyAgreed sends the private key enveloped under a one-pass key
	// agreement with the target.
	StrategyAgreed
)

func (s Strategy) String() string {
	switch s {
	case StrategySigned:
		return "signed"
	case StrategyEncrypted:
		return "encrypted"
	case StrategyAgreed:
		return "agreed"
	default:
		return "unknown"
	}
}

// SelectStrategy picks the proof-of-possession strategy for a requester key
// with capabilities requester, given the target certificate's key
// capabilities and usage. The first applicable strategy wins.
func SelectStrategy(requester, target qcrypto.Capabilities, targetUsage certificate.Usage) (Strategy, error) {
	switch {
	case requester.CanSign():
		return StrategySigned, nil
	case targetUsage.Has(certificate.UsageKeyEncrypt) && target.CanTransport():
		return StrategyEncrypted, nil
	case target.Agreement:
		return StrategyAgreed, nil
	default:
		return 0, ErrUnsupportedKeyCapability
	}
}

// SignedProof is a signature over the DER CertTemplate.
type SignedProof struct {
	Algorithm pkix.AlgorithmIdentifier
	Signature []byte
}

// POP is the proof of possession carried by a request. Signed is set for
// StrategySigned; Envelope holds the DER EnvelopedData otherwise.
type POP struct {
	Strategy Strategy
	Signed   *SignedProof
	Envelope []byte
}
