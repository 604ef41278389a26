package crmf

import (
	"crypto/x509/pkix"
	"testing"

	"github.com/remiblancher/qkeystore/internal/audit"
	"github.com/remiblancher/qkeystore/internal/certificate"
	qcrypto "github.com/remiblancher/qkeystore/internal/crypto"
	"github.com/remiblancher/qkeystore/internal/keystore"
)

var (
	testKDF       = qcrypto.Argon2Params{Time: 1, MemoryKiB: 1024, Threads: 1}
	testPassword  = []byte("enrollment test password")
	testMACSecret = "shared out-of-band secret"
)

func generateKeyPair(t *testing.T, alg qcrypto.AlgorithmID) *qcrypto.KeyPair {
	t.Helper()
	kp, err := qcrypto.GenerateKeyPair(alg)
	if err != nil {
		t.Fatalf("GenerateKeyPair(%s) failed: %v", alg, err)
	}
	return kp
}

// testAuthority is a responder-side keystore holding
// root -> intermediate ("signer") -> leaf ("leaf") plus envelope targets.
type testAuthority struct {
	ks        *keystore.KeyStore
	mem       *audit.MemoryWriter
	passwords keystore.StaticPasswords
	rootKP    *qcrypto.KeyPair
	interKP   *qcrypto.KeyPair
	root      *certificate.Certificate
	inter     *certificate.Certificate
	leaf      *certificate.Certificate
}

func newTestAuthority(t *testing.T) *testAuthority {
	t.Helper()
	a := &testAuthority{
		mem:       audit.NewMemoryWriter(),
		passwords: keystore.StaticPasswords{},
		rootKP:    generateKeyPair(t, qcrypto.AlgECDSAP256),
		interKP:   generateKeyPair(t, qcrypto.AlgECDSAP256),
	}
	a.ks = keystore.New(keystore.Options{
		KDF:       testKDF,
		Passwords: a.passwords,
		Audit:     audit.New(a.mem),
	})

	var err error
	if a.root, err = certificate.CreateSelfSigned(a.rootKP, pkix.Name{CommonName: "Enrollment Root"}, nil); err != nil {
		t.Fatalf("CreateSelfSigned() failed: %v", err)
	}
	if a.inter, err = certificate.CreateIssued(a.rootKP, a.root, a.interKP, pkix.Name{CommonName: "Enrollment Signer"},
		certificate.UsageCertify|certificate.UsageSignData, nil); err != nil {
		t.Fatalf("CreateIssued(intermediate) failed: %v", err)
	}
	if err := a.ks.SetCertificate("root", a.root); err != nil {
		t.Fatalf("SetCertificate(root) failed: %v", err)
	}
	a.store(t, "signer", a.interKP, []*certificate.Certificate{a.inter, a.root})

	leafKP := generateKeyPair(t, qcrypto.AlgECDSAP256)
	a.leaf = a.issue(t, leafKP, "Enrollment Leaf", certificate.UsageSignData)
	a.store(t, "leaf", leafKP, []*certificate.Certificate{a.leaf, a.inter, a.root})
	return a
}

func (a *testAuthority) issue(t *testing.T, kp *qcrypto.KeyPair, cn string, usage certificate.Usage) *certificate.Certificate {
	t.Helper()
	c, err := certificate.CreateIssued(a.interKP, a.inter, kp.PublicKey, pkix.Name{CommonName: cn}, usage, nil)
	if err != nil {
		t.Fatalf("CreateIssued(%s) failed: %v", cn, err)
	}
	return c
}

func (a *testAuthority) store(t *testing.T, alias string, kp *qcrypto.KeyPair, chain []*certificate.Certificate) {
	t.Helper()
	if err := a.ks.SetPrivateKeyEntry(alias, kp, testPassword, chain); err != nil {
		t.Fatalf("SetPrivateKeyEntry(%s) failed: %v", alias, err)
	}
	a.passwords[alias] = append([]byte(nil), testPassword...)
}

// addTarget stores a key of alg certified for usage under alias and
// returns its certificate.
func (a *testAuthority) addTarget(t *testing.T, alias string, alg qcrypto.AlgorithmID, usage certificate.Usage) *certificate.Certificate {
	t.Helper()
	kp := generateKeyPair(t, alg)
	c := a.issue(t, kp, "Target "+string(alg), usage)
	a.store(t, alias, kp, []*certificate.Certificate{c, a.inter, a.root})
	return c
}

func (a *testAuthority) responder() *Responder {
	return &Responder{
		KeyStore:    a.ks,
		SignerAlias: "signer",
		Passwords:   a.passwords,
		Audit:       audit.New(a.mem),
	}
}

func (a *testAuthority) isTrusted(c *certificate.Certificate) bool {
	return a.ks.IsTrusted(c)
}

func macSecret() *qcrypto.Secret {
	return qcrypto.NewSecret([]byte(testMACSecret))
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

// transmit round-trips a request through its DER encoding.
func transmit(t *testing.T, r *Request) *Request {
	t.Helper()
	der, err := r.Marshal()
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	parsed, err := ParseRequest(der)
	if err != nil {
		t.Fatalf("ParseRequest() failed: %v", err)
	}
	return parsed
}
