package crmf

import (
	"crypto"
	"crypto/hmac"
	"encoding/asn1"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	casn1 "golang.org/x/crypto/cryptobyte/asn1"

	qcrypto "github.com/remiblancher/qkeystore/internal/crypto"
)

const (
	// DefaultPBMIterations is the iteration count of new PBM parameters.
	DefaultPBMIterations = 10000
	// MaxPBMIterations bounds the work a received PBM can demand.
	MaxPBMIterations = 1 << 20
	// PBMSaltSize is the salt length of new PBM parameters.
	PBMSaltSize = 16
)

// PBMParameter holds the password-based MAC parameters of RFC 4211 Section 4.4.
type PBMParameter struct {
	Salt           []byte
	OWF            crypto.Hash
	IterationCount int
	MAC            crypto.Hash
}

// NewPBMParameter draws a fresh salt and uses SHA-256 for both functions.
func NewPBMParameter(p qcrypto.Provider, iterations int) (*PBMParameter, error) {
	if iterations <= 0 {
		iterations = DefaultPBMIterations
	}
	salt, err := p.Random(PBMSaltSize)
	if err != nil {
		return nil, fmt.Errorf("failed to draw PBM salt: %w", err)
	}
	return &PBMParameter{Salt: salt, OWF: crypto.SHA256, IterationCount: iterations, MAC: crypto.SHA256}, nil
}

// deriveKey computes H(secret || salt) followed by IterationCount-1 further
// applications of H. The caller wipes the result.
func (pp *PBMParameter) deriveKey(p qcrypto.Provider, secret []byte) ([]byte, error) {
	if pp.IterationCount < 1 {
		return nil, malformed("PBM iteration count %d", pp.IterationCount)
	}
	input := make([]byte, 0, len(secret)+len(pp.Salt))
	input = append(input, secret...)
	input = append(input, pp.Salt...)
	key, err := p.Digest(pp.OWF, input)
	qcrypto.Wipe(input)
	if err != nil {
		return nil, err
	}
	for i := 1; i < pp.IterationCount; i++ {
		next, err := p.Digest(pp.OWF, key)
		qcrypto.Wipe(key)
		if err != nil {
			return nil, err
		}
		key = next
	}
	return key, nil
}

// Compute returns the MAC of data under the key derived from secret.
func (pp *PBMParameter) Compute(p qcrypto.Provider, secret, data []byte) ([]byte, error) {
	key, err := pp.deriveKey(p, secret)
	if err != nil {
		return nil, err
	}
	defer qcrypto.Wipe(key)
	return p.MAC(pp.MAC, key, data)
}

// Marshal returns the DER encoding of the parameters.
func (pp *PBMParameter) Marshal() ([]byte, error) {
	var b cryptobyte.Builder
	if err := pp.marshal(&b); err != nil {
		return nil, err
	}
	return b.Bytes()
}

func (pp *PBMParameter) marshal(b *cryptobyte.Builder) error {
	owf, ok := hashOID(pp.OWF)
	if !ok {
		return fmt.Errorf("unsupported PBM one-way function %v", pp.OWF)
	}
	mac, ok := hmacOID(pp.MAC)
	if !ok {
		return fmt.Errorf("unsupported PBM MAC %v", pp.MAC)
	}
	b.AddASN1(casn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1OctetString(pp.Salt)
		addAlgorithm(b, owf)
		b.AddASN1Int64(int64(pp.IterationCount))
		addAlgorithm(b, mac)
	})
	return nil
}

// ParsePBMParameter decodes DER PBM parameters.
func ParsePBMParameter(der []byte) (*PBMParameter, error) {
	s := cryptobyte.String(der)
	pp, err := parsePBMParameter(&s)
	if err != nil {
		return nil, err
	}
	if !s.Empty() {
		return nil, malformed("trailing data after PBM parameters")
	}
	return pp, nil
}

func parsePBMParameter(s *cryptobyte.String) (*PBMParameter, error) {
	var seq cryptobyte.String
	var salt []byte
	var iterations int64
	if !s.ReadASN1(&seq, casn1.SEQUENCE) || !seq.ReadASN1Bytes(&salt, casn1.OCTET_STRING) {
		return nil, malformed("PBM parameters")
	}
	owfOID, err := readAlgorithm(&seq)
	if err != nil {
		return nil, err
	}
	if !seq.ReadASN1Integer(&iterations) {
		return nil, malformed("PBM iteration count")
	}
	macOID, err := readAlgorithm(&seq)
	if err != nil {
		return nil, err
	}
	if !seq.Empty() {
		return nil, malformed("trailing data in PBM parameters")
	}

	owf, ok := hashFromOID(owfOID)
	if !ok {
		return nil, malformed("unsupported PBM one-way function %s", owfOID)
	}
	mac, ok := hashFromHMACOID(macOID)
	if !ok {
		return nil, malformed("unsupported PBM MAC %s", macOID)
	}
	if iterations < 1 || iterations > MaxPBMIterations {
		return nil, malformed("PBM iteration count %d out of range", iterations)
	}
	return &PBMParameter{Salt: salt, OWF: owf, IterationCount: int(iterations), MAC: mac}, nil
}

// PKMACValue is a PBM together with the MAC it produced.
type PKMACValue struct {
	Params *PBMParameter
	Value  []byte
}

// Verify recomputes the MAC over data and compares it in constant time.
func (v *PKMACValue) Verify(p qcrypto.Provider, secret, data []byte) error {
	if v == nil || v.Params == nil {
		return ErrMacMismatch
	}
	want, err := v.Params.Compute(p, secret, data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMacMismatch, err)
	}
	defer qcrypto.Wipe(want)
	if !hmac.Equal(want, v.Value) {
		return ErrMacMismatch
	}
	return nil
}

// PKMACValue ::= SEQUENCE { algId AlgorithmIdentifier, value BIT STRING }
func (v *PKMACValue) marshal(b *cryptobyte.Builder) error {
	var params cryptobyte.Builder
	if err := v.Params.marshal(&params); err != nil {
		return err
	}
	der, err := params.Bytes()
	if err != nil {
		return err
	}
	b.AddASN1(casn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1(casn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(OIDPasswordBasedMac)
			b.AddBytes(der)
		})
		b.AddASN1BitString(v.Value)
	})
	return nil
}

func parsePKMACValue(s *cryptobyte.String) (*PKMACValue, error) {
	var seq, alg cryptobyte.String
	var oid asn1.ObjectIdentifier
	if !s.ReadASN1(&seq, casn1.SEQUENCE) ||
		!seq.ReadASN1(&alg, casn1.SEQUENCE) ||
		!alg.ReadASN1ObjectIdentifier(&oid) {
		return nil, malformed("PKMACValue")
	}
	if !oid.Equal(OIDPasswordBasedMac) {
		return nil, malformed("unsupported MAC algorithm %s", oid)
	}
	params, err := parsePBMParameter(&alg)
	if err != nil {
		return nil, err
	}
	var value asn1.BitString
	if !alg.Empty() || !seq.ReadASN1BitString(&value) || value.BitLength%8 != 0 || !seq.Empty() {
		return nil, malformed("PKMACValue")
	}
	return &PKMACValue{Params: params, Value: value.Bytes}, nil
}

func addAlgorithm(b *cryptobyte.Builder, oid asn1.ObjectIdentifier) {
	b.AddASN1(casn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(oid)
	})
}

// readAlgorithm reads an AlgorithmIdentifier whose parameters are absent or NULL.
func readAlgorithm(s *cryptobyte.String) (asn1.ObjectIdentifier, error) {
	var alg cryptobyte.String
	var oid asn1.ObjectIdentifier
	if !s.ReadASN1(&alg, casn1.SEQUENCE) || !alg.ReadASN1ObjectIdentifier(&oid) {
		return nil, malformed("algorithm identifier")
	}
	if !alg.Empty() {
		var null cryptobyte.String
		if !alg.ReadASN1(&null, casn1.NULL) || !alg.Empty() {
			return nil, malformed("algorithm parameters for %s", oid)
		}
	}
	return oid, nil
}
