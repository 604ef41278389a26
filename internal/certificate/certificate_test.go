package certificate

import (
	"bytes"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"math/big"
	"testing"
	"time"

	qcrypto "github.com/remiblancher/qkeystore/internal/crypto"
)

// =============================================================================
// Test helpers
// =============================================================================

func generateKeyPair(t *testing.T, alg qcrypto.AlgorithmID) *qcrypto.KeyPair {
	t.Helper()
	kp, err := qcrypto.GenerateKeyPair(alg)
	if err != nil {
		t.Fatalf("GenerateKeyPair(%s) failed: %v", alg, err)
	}
	return kp
}

func createRoot(t *testing.T, alg qcrypto.AlgorithmID, cn string) (*qcrypto.KeyPair, *Certificate) {
	t.Helper()
	kp := generateKeyPair(t, alg)
	cert, err := CreateSelfSigned(kp, pkix.Name{CommonName: cn}, nil)
	if err != nil {
		t.Fatalf("CreateSelfSigned(%s) failed: %v", cn, err)
	}
	return kp, cert
}

func issue(t *testing.T, signerKP *qcrypto.KeyPair, signer *Certificate, alg qcrypto.AlgorithmID, cn string, usage Usage) (*qcrypto.KeyPair, *Certificate) {
	t.Helper()
	kp := generateKeyPair(t, alg)
	cert, err := CreateIssued(signerKP, signer, kp, pkix.Name{CommonName: cn}, usage, nil)
	if err != nil {
		t.Fatalf("CreateIssued(%s) failed: %v", cn, err)
	}
	return kp, cert
}

// =============================================================================
// Creation
// =============================================================================

func TestU_Certificate_CreateSelfSigned(t *testing.T) {
	for _, alg := range []qcrypto.AlgorithmID{qcrypto.AlgECDSAP256, qcrypto.AlgEd25519, qcrypto.AlgMLDSA65} {
		t.Run(string(alg), func(t *testing.T) {
			kp, root := createRoot(t, alg, "Root "+string(alg))

			if !root.IsSelfSigned() {
				t.Error("root should be self-signed")
			}
			if !root.CanSignCertificates() {
				t.Error("root should be able to sign certificates")
			}
			if root.CA().PathLen != nil {
				t.Errorf("root path length = %d, want nil", *root.CA().PathLen)
			}
			if !qcrypto.PublicKeysEqual(root.PublicKey(), kp.PublicKey) {
				t.Error("root public key mismatch")
			}
			if err := root.ValidateAsRoot(); err != nil {
				t.Errorf("ValidateAsRoot() failed: %v", err)
			}
			if root.SerialNumber().Sign() <= 0 {
				t.Error("serial number should be positive")
			}
		})
	}
}

func TestU_Certificate_CreateSelfSigned_MissingPrivateKey(t *testing.T) {
	kp := generateKeyPair(t, qcrypto.AlgECDSAP256)
	_, err := CreateSelfSigned(kp.PublicOnly(), pkix.Name{CommonName: "No Key"}, nil)
	if !errors.Is(err, ErrMissingPrivateKey) {
		t.Fatalf("expected ErrMissingPrivateKey, got %v", err)
	}
}

func TestU_Certificate_CreateIssued_Identities(t *testing.T) {
	rootKP, root := createRoot(t, qcrypto.AlgECDSAP384, "Root")
	_, leaf := issue(t, rootKP, root, qcrypto.AlgECDSAP256, "Leaf", UsageSignData)

	if leaf.IssuerID() != root.SubjectID() {
		t.Errorf("leaf issuer %s != root subject %s", leaf.IssuerID(), root.SubjectID())
	}
	if leaf.IsSelfSigned() {
		t.Error("leaf should not be self-signed")
	}
	if leaf.CA().IsCA || leaf.CA().PathLen != nil {
		t.Errorf("leaf CA status = %+v, want non-CA", leaf.CA())
	}
	if leaf.Usage() != UsageSignData {
		t.Errorf("leaf usage = %s, want sign-data", leaf.Usage())
	}
	if leaf.Subject().CommonName != "Leaf" {
		t.Errorf("leaf CN = %q", leaf.Subject().CommonName)
	}
}

func TestU_Certificate_CreateIssued_PublicKeyOnly(t *testing.T) {
	rootKP, root := createRoot(t, qcrypto.AlgEd25519, "Root")
	kem := generateKeyPair(t, qcrypto.AlgMLKEM768)

	cert, err := CreateIssued(rootKP, root, kem.PublicKey, pkix.Name{CommonName: "KEM"}, UsageKeyEncrypt, nil)
	if err != nil {
		t.Fatalf("CreateIssued() failed: %v", err)
	}
	if !cert.Capabilities().CanTransport() {
		t.Error("ML-KEM certificate should be transport capable")
	}
	if err := cert.ValidateAgainstSigner(root); err != nil {
		t.Errorf("ValidateAgainstSigner() failed: %v", err)
	}
}

func TestU_Certificate_CreateIssued_PathLength(t *testing.T) {
	rootKP, root := createRoot(t, qcrypto.AlgECDSAP256, "Root")
	subKP, sub := issue(t, rootKP, root, qcrypto.AlgECDSAP256, "Sub CA", UsageCertify|UsageSignData)
	_, sub2 := issue(t, subKP, sub, qcrypto.AlgECDSAP256, "Sub Sub CA", UsageCertify)

	if sub.CA().PathLen == nil || *sub.CA().PathLen != 0 {
		t.Errorf("sub CA path length = %v, want 0", sub.CA().PathLen)
	}
	if sub2.CA().PathLen == nil || *sub2.CA().PathLen != 1 {
		t.Errorf("second-level CA path length = %v, want 1", sub2.CA().PathLen)
	}
}

func TestU_Certificate_CreateIssued_SignerWithoutCertify(t *testing.T) {
	rootKP, root := createRoot(t, qcrypto.AlgECDSAP256, "Root")
	leafKP, leaf := issue(t, rootKP, root, qcrypto.AlgECDSAP256, "Leaf", UsageSignData)

	_, err := CreateIssued(leafKP, leaf, generateKeyPair(t, qcrypto.AlgECDSAP256), pkix.Name{CommonName: "X"}, UsageSignData, nil)
	if !errors.Is(err, ErrInvalidChain) {
		t.Fatalf("expected ErrInvalidChain, got %v", err)
	}
}

func TestU_Certificate_CreateIssued_ExpiredSigner(t *testing.T) {
	kp := generateKeyPair(t, qcrypto.AlgECDSAP256)
	past := time.Now().Add(-48 * time.Hour)
	root, err := CreateSelfSigned(kp, pkix.Name{CommonName: "Old Root"}, &Options{
		NotBefore: past,
		NotAfter:  past.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateSelfSigned() failed: %v", err)
	}

	_, err = CreateIssued(kp, root, generateKeyPair(t, qcrypto.AlgECDSAP256), pkix.Name{CommonName: "X"}, UsageSignData, nil)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestU_Certificate_CreateIssued_MissingSignerKey(t *testing.T) {
	rootKP, root := createRoot(t, qcrypto.AlgECDSAP256, "Root")
	_, err := CreateIssued(rootKP.PublicOnly(), root, generateKeyPair(t, qcrypto.AlgECDSAP256), pkix.Name{CommonName: "X"}, UsageSignData, nil)
	if !errors.Is(err, ErrMissingPrivateKey) {
		t.Fatalf("expected ErrMissingPrivateKey, got %v", err)
	}
}

func TestU_Certificate_CreateIssued_WrongSignerKey(t *testing.T) {
	_, root := createRoot(t, qcrypto.AlgECDSAP256, "Root")
	other := generateKeyPair(t, qcrypto.AlgECDSAP256)
	_, err := CreateIssued(other, root, generateKeyPair(t, qcrypto.AlgECDSAP256), pkix.Name{CommonName: "X"}, UsageSignData, nil)
	if !errors.Is(err, ErrInvalidChain) {
		t.Fatalf("expected ErrInvalidChain, got %v", err)
	}
}

func TestU_Certificate_CreateIssued_RawSubject(t *testing.T) {
	rootKP, root := createRoot(t, qcrypto.AlgECDSAP256, "Root")
	raw, err := asn1.Marshal(pkix.RDNSequence{{
		{Type: asn1.ObjectIdentifier{2, 5, 4, 3}, Value: "Raw"},
		{Type: asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}, Value: "raw@example.com"},
	}})
	if err != nil {
		t.Fatalf("asn1.Marshal() failed: %v", err)
	}

	cert, err := CreateIssued(rootKP, root, generateKeyPair(t, qcrypto.AlgECDSAP256), pkix.Name{CommonName: "Ignored"}, UsageSignData, &Options{RawSubject: raw})
	if err != nil {
		t.Fatalf("CreateIssued() failed: %v", err)
	}
	if !bytes.Equal(cert.RawSubject(), raw) {
		t.Error("RawSubject() differs from the requested raw subject")
	}

	_, err = CreateIssued(rootKP, root, generateKeyPair(t, qcrypto.AlgECDSAP256), pkix.Name{}, UsageSignData, &Options{RawSubject: []byte{0x30, 0x03, 0x01}})
	if err == nil {
		t.Fatal("malformed raw subject should be rejected")
	}
}

func TestU_Certificate_Options_SerialAndValidity(t *testing.T) {
	kp := generateKeyPair(t, qcrypto.AlgECDSAP256)
	nb := time.Date(2026, 1, 1, 10, 0, 0, 500, time.UTC)
	cert, err := CreateSelfSigned(kp, pkix.Name{CommonName: "Fixed"}, &Options{
		NotBefore:    nb,
		Validity:     24 * time.Hour,
		SerialNumber: big.NewInt(42),
	})
	if err != nil {
		t.Fatalf("CreateSelfSigned() failed: %v", err)
	}
	if cert.SerialNumber().Int64() != 42 {
		t.Errorf("serial = %v, want 42", cert.SerialNumber())
	}
	if !cert.NotBefore().Equal(nb.Truncate(time.Second)) {
		t.Errorf("NotBefore = %v", cert.NotBefore())
	}
	if !cert.NotAfter().Equal(nb.Truncate(time.Second).Add(24 * time.Hour)) {
		t.Errorf("NotAfter = %v", cert.NotAfter())
	}
	if !cert.IsValidAt(nb.Add(time.Hour)) || cert.IsValidAt(nb.Add(48*time.Hour)) {
		t.Error("IsValidAt() does not respect the validity window")
	}
}

// =============================================================================
// Encoding
// =============================================================================

func TestU_Certificate_Parse_RoundTrip(t *testing.T) {
	rootKP, root := createRoot(t, qcrypto.AlgMLDSA44, "PQC Root")
	_, leaf := issue(t, rootKP, root, qcrypto.AlgX25519, "Agreement Leaf", UsageAgreeKeys)

	for _, c := range []*Certificate{root, leaf} {
		parsed, err := Parse(c.Raw())
		if err != nil {
			t.Fatalf("Parse() failed: %v", err)
		}
		if !bytes.Equal(parsed.Raw(), c.Raw()) {
			t.Error("encode(parse(b)) != b")
		}
		if !parsed.Equal(c) {
			t.Error("parsed certificate should equal original")
		}
		if parsed.Key() != c.Key() {
			t.Error("parsed key mismatch")
		}
	}
}

func TestU_Certificate_Parse_Malformed(t *testing.T) {
	_, root := createRoot(t, qcrypto.AlgECDSAP256, "Root")
	der := root.Raw()

	cases := map[string][]byte{
		"empty":     nil,
		"garbage":   []byte{0x01, 0x02, 0x03},
		"truncated": der[:len(der)-10],
		"trailing":  append(append([]byte(nil), der...), 0x00),
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse(b); !errors.Is(err, ErrMalformedEncoding) {
				t.Errorf("expected ErrMalformedEncoding, got %v", err)
			}
		})
	}
}

func TestU_Certificate_Equal(t *testing.T) {
	rootKP, root := createRoot(t, qcrypto.AlgECDSAP256, "Root")
	_, a := issue(t, rootKP, root, qcrypto.AlgECDSAP256, "A", UsageSignData)

	if !a.Equal(a) {
		t.Error("certificate should equal itself")
	}
	if a.Equal(root) {
		t.Error("distinct certificates should not be equal")
	}
	if a.Equal(nil) {
		t.Error("certificate should not equal nil")
	}
}

// =============================================================================
// Usage
// =============================================================================

func TestU_Usage_KeyUsageMapping(t *testing.T) {
	all := UsageCertify | UsageSignData | UsageAgreeKeys | UsageKeyEncrypt |
		UsageDataEncrypt | UsageEncryptOnly | UsageDecryptOnly | UsageNonRepudiation
	if got := UsageFromKeyUsage(all.KeyUsage()); got != all {
		t.Errorf("UsageFromKeyUsage(KeyUsage()) = %s, want %s", got, all)
	}
}

func TestU_Usage_ParseString(t *testing.T) {
	u, err := ParseUsage("certify, sign-data,key-encrypt")
	if err != nil {
		t.Fatalf("ParseUsage() failed: %v", err)
	}
	if u != UsageCertify|UsageSignData|UsageKeyEncrypt {
		t.Errorf("ParseUsage() = %s", u)
	}
	if u.String() != "certify,sign-data,key-encrypt" {
		t.Errorf("String() = %q", u.String())
	}
	if _, err := ParseUsage("sign-everything"); err == nil {
		t.Error("expected error for unknown usage")
	}
}
