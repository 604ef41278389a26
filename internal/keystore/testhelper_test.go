package keystore

import (
	"crypto/x509/pkix"
	"testing"

	"github.com/remiblancher/qkeystore/internal/audit"
	"github.com/remiblancher/qkeystore/internal/certificate"
	qcrypto "github.com/remiblancher/qkeystore/internal/crypto"
)

var testKDF = qcrypto.Argon2Params{Time: 1, MemoryKiB: 1024, Threads: 1}

var testPassword = []byte("correct horse battery staple")

func newTestStore(t *testing.T) (*KeyStore, *audit.MemoryWriter) {
	t.Helper()
	mem := audit.NewMemoryWriter()
	ks := New(Options{
		KDF:   testKDF,
		Audit: audit.New(mem),
	})
	return ks, mem
}

type testPKI struct {
	rootKP, interKP, leafKP *qcrypto.KeyPair
	root, inter, leaf       *certificate.Certificate
}

func generateKeyPair(t *testing.T, alg qcrypto.AlgorithmID) *qcrypto.KeyPair {
	t.Helper()
	kp, err := qcrypto.GenerateKeyPair(alg)
	if err != nil {
		t.Fatalf("GenerateKeyPair(%s) failed: %v", alg, err)
	}
	return kp
}

// newTestPKI builds root -> intermediate -> leaf.
func newTestPKI(t *testing.T) *testPKI {
	t.Helper()
	p := &testPKI{
		rootKP:  generateKeyPair(t, qcrypto.AlgECDSAP256),
		interKP: generateKeyPair(t, qcrypto.AlgECDSAP256),
		leafKP:  generateKeyPair(t, qcrypto.AlgECDSAP256),
	}
	var err error
	if p.root, err = certificate.CreateSelfSigned(p.rootKP, pkix.Name{CommonName: "Test Root"}, nil); err != nil {
		t.Fatalf("CreateSelfSigned() failed: %v", err)
	}
	if p.inter, err = certificate.CreateIssued(p.rootKP, p.root, p.interKP, pkix.Name{CommonName: "Test Intermediate"},
		certificate.UsageCertify|certificate.UsageSignData, nil); err != nil {
		t.Fatalf("CreateIssued(intermediate) failed: %v", err)
	}
	if p.leaf, err = certificate.CreateIssued(p.interKP, p.inter, p.leafKP, pkix.Name{CommonName: "Test Leaf"},
		certificate.UsageSignData, nil); err != nil {
		t.Fatalf("CreateIssued(leaf) failed: %v", err)
	}
	return p
}

func (p *testPKI) issueLeaf(t *testing.T, cn string) (*qcrypto.KeyPair, *certificate.Certificate) {
	t.Helper()
	kp := generateKeyPair(t, qcrypto.AlgEd25519)
	c, err := certificate.CreateIssued(p.interKP, p.inter, kp, pkix.Name{CommonName: cn}, certificate.UsageSignData, nil)
	if err != nil {
		t.Fatalf("CreateIssued(%s) failed: %v", cn, err)
	}
	return kp, c
}

func (p *testPKI) chain() []*certificate.Certificate {
	return []*certificate.Certificate{p.leaf, p.inter, p.root}
}

func countEvents(mem *audit.MemoryWriter, et audit.EventType) int {
	n := 0
	for _, got := range mem.Types() {
		if got == et {
			n++
		}
	}
	return n
}
