package cms

import (
	"crypto/x509/pkix"
	"testing"

	"github.com/remiblancher/qkeystore/internal/certificate"
	qcrypto "github.com/remiblancher/qkeystore/internal/crypto"
)

// testRecipient holds a recipient certificate and its key pair.
type testRecipient struct {
	KeyPair     *qcrypto.KeyPair
	Certificate *certificate.Certificate
}

// newTestRecipient issues a certificate for a fresh alg key under a throwaway root.
func newTestRecipient(t *testing.T, alg qcrypto.AlgorithmID, usage certificate.Usage) *testRecipient {
	t.Helper()

	rootKP, err := qcrypto.GenerateKeyPair(qcrypto.AlgECDSAP256)
	if err != nil {
		t.Fatalf("GenerateKeyPair(root) failed: %v", err)
	}
	root, err := certificate.CreateSelfSigned(rootKP, pkix.Name{CommonName: "Envelope Test Root"}, nil)
	if err != nil {
		t.Fatalf("CreateSelfSigned() failed: %v", err)
	}

	kp, err := qcrypto.GenerateKeyPair(alg)
	if err != nil {
		t.Fatalf("GenerateKeyPair(%s) failed: %v", alg, err)
	}
	cert, err := certificate.CreateIssued(rootKP, root, kp.PublicKey, pkix.Name{CommonName: "Recipient " + string(alg)}, usage, nil)
	if err != nil {
		t.Fatalf("CreateIssued(%s) failed: %v", alg, err)
	}
	return &testRecipient{KeyPair: kp, Certificate: cert}
}
