package keystore

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/remiblancher/qkeystore/internal/audit"
	"github.com/remiblancher/qkeystore/internal/certificate"
	qcrypto "github.com/remiblancher/qkeystore/internal/crypto"
)

// =============================================================================
// Entries
// =============================================================================

func TestU_KeyStore_SetCertificate(t *testing.T) {
	ks, mem := newTestStore(t)
	p := newTestPKI(t)

	if err := ks.SetCertificate("root", p.root); err != nil {
		t.Fatalf("SetCertificate() failed: %v", err)
	}

	e, err := ks.Entry("root")
	if err != nil {
		t.Fatalf("Entry() failed: %v", err)
	}
	if e.Kind() != KindTrustedCertificate {
		t.Errorf("Kind() = %s, want trusted-certificate", e.Kind())
	}
	anchors := ks.TrustAnchors()
	if len(anchors) != 1 || !anchors[0].Equal(p.root) {
		t.Errorf("TrustAnchors() = %d certificates", len(anchors))
	}
	if !ks.IsTrusted(p.root) {
		t.Error("root should be trusted")
	}
	if countEvents(mem, audit.EventEntryStored) != 1 {
		t.Error("expected one ENTRY_STORED event")
	}
}

func TestU_KeyStore_SetPrivateKeyEntry(t *testing.T) {
	ks, _ := newTestStore(t)
	p := newTestPKI(t)

	if err := ks.SetCertificate("root", p.root); err != nil {
		t.Fatalf("SetCertificate() failed: %v", err)
	}
	if err := ks.SetPrivateKeyEntry("leaf", p.leafKP, testPassword, p.chain()); err != nil {
		t.Fatalf("SetPrivateKeyEntry() failed: %v", err)
	}

	chain, err := ks.CertificateChain("leaf")
	if err != nil {
		t.Fatalf("CertificateChain() failed: %v", err)
	}
	if len(chain) != 3 || !chain[0].Equal(p.leaf) || !chain[2].Equal(p.root) {
		t.Error("CertificateChain() returned an unexpected chain")
	}

	kp, err := ks.PrivateKey("leaf", testPassword)
	if err != nil {
		t.Fatalf("PrivateKey() failed: %v", err)
	}
	if !qcrypto.PublicKeysEqual(kp.PublicKey, p.leafKP.PublicKey) {
		t.Error("opened key does not match the stored key")
	}
	if ks.CertificateCount() != 3 {
		t.Errorf("CertificateCount() = %d, want 3", ks.CertificateCount())
	}
}

func TestU_KeyStore_SetPrivateKeyEntry_UntrustedRoot(t *testing.T) {
	ks, mem := newTestStore(t)
	p := newTestPKI(t)

	err := ks.SetPrivateKeyEntry("leaf", p.leafKP, testPassword, p.chain())
	if !errors.Is(err, certificate.ErrInvalidChain) {
		t.Fatalf("expected ErrInvalidChain, got %v", err)
	}
	if ks.Size() != 0 || ks.CertificateCount() != 0 {
		t.Error("failed store must leave the keystore unchanged")
	}
	if countEvents(mem, audit.EventEntryStored) != 1 {
		t.Error("rejection should be audited")
	}
}

func TestU_KeyStore_SetPrivateKeyEntry_KeyMismatch(t *testing.T) {
	ks, _ := newTestStore(t)
	p := newTestPKI(t)
	_ = ks.SetCertificate("root", p.root)

	err := ks.SetPrivateKeyEntry("leaf", p.interKP, testPassword, p.chain())
	if !errors.Is(err, certificate.ErrInvalidChain) {
		t.Fatalf("expected ErrInvalidChain, got %v", err)
	}
}

func TestU_KeyStore_SetPrivateKeyEntry_MissingPrivateKey(t *testing.T) {
	ks, _ := newTestStore(t)
	p := newTestPKI(t)

	err := ks.SetPrivateKeyEntry("leaf", p.leafKP.PublicOnly(), testPassword, nil)
	if !errors.Is(err, certificate.ErrMissingPrivateKey) {
		t.Fatalf("expected ErrMissingPrivateKey, got %v", err)
	}
}

func TestU_KeyStore_PrivateKey_WrongPassword(t *testing.T) {
	ks, mem := newTestStore(t)
	p := newTestPKI(t)
	if err := ks.SetPrivateKeyEntry("k", p.leafKP, testPassword, nil); err != nil {
		t.Fatalf("SetPrivateKeyEntry() failed: %v", err)
	}

	_, err := ks.PrivateKey("k", []byte("wrong"))
	if !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("expected ErrWrongPassword, got %v", err)
	}
	if countEvents(mem, audit.EventAuthFailed) != 1 {
		t.Error("expected one AUTH_FAILED event")
	}
}

func TestU_KeyStore_DuplicateAlias(t *testing.T) {
	ks, _ := newTestStore(t)
	p := newTestPKI(t)

	if err := ks.SetCertificate("x", p.root); err != nil {
		t.Fatalf("SetCertificate() failed: %v", err)
	}
	if err := ks.SetSymmetricKey("x", []byte("0123456789abcdef"), "aes-128", testPassword); !errors.Is(err, ErrDuplicateAlias) {
		t.Fatalf("expected ErrDuplicateAlias, got %v", err)
	}
	if err := ks.SetPrivateKeyEntry("x", p.leafKP, testPassword, nil); !errors.Is(err, ErrDuplicateAlias) {
		t.Fatalf("expected ErrDuplicateAlias, got %v", err)
	}
}

func TestU_KeyStore_SymmetricKeys(t *testing.T) {
	ks, _ := newTestStore(t)
	key := bytes.Repeat([]byte{0x42}, 32)

	if err := ks.SetSymmetricKey("aes", key, "aes-256", testPassword); err != nil {
		t.Fatalf("SetSymmetricKey() failed: %v", err)
	}
	got, alg, err := ks.SymmetricKey("aes", testPassword)
	if err != nil {
		t.Fatalf("SymmetricKey() failed: %v", err)
	}
	if !bytes.Equal(got, key) || alg != "aes-256" {
		t.Error("SymmetricKey() round trip mismatch")
	}

	set := [][]byte{[]byte("first-key"), []byte("second-key")}
	if err := ks.SetSymmetricKeySet("set", set, testPassword); err != nil {
		t.Fatalf("SetSymmetricKeySet() failed: %v", err)
	}
	gotSet, err := ks.SymmetricKeySet("set", testPassword)
	if err != nil {
		t.Fatalf("SymmetricKeySet() failed: %v", err)
	}
	if len(gotSet) != 2 || !bytes.Equal(gotSet[1], set[1]) {
		t.Error("SymmetricKeySet() round trip mismatch")
	}

	if _, _, err := ks.SymmetricKey("set", testPassword); !errors.Is(err, ErrWrongEntryKind) {
		t.Errorf("expected ErrWrongEntryKind, got %v", err)
	}
}

func TestU_KeyStore_ChaCha20Cipher(t *testing.T) {
	ks := New(Options{KDF: testKDF, Cipher: qcrypto.CipherChaCha20Poly1305})
	if err := ks.SetSymmetricKey("k", []byte("secret"), "raw", testPassword); err != nil {
		t.Fatalf("SetSymmetricKey() failed: %v", err)
	}
	e, _ := ks.Entry("k")
	if e.(*SymmetricKey).Sealed.Cipher != qcrypto.CipherChaCha20Poly1305 {
		t.Error("entry should be sealed with ChaCha20-Poly1305")
	}
}

func TestU_KeyStore_Entry_Equal(t *testing.T) {
	p := newTestPKI(t)
	a := &TrustedCertificate{Certificate: p.root.Key()}
	b := &TrustedCertificate{Certificate: p.root.Key()}
	c := &TrustedCertificate{Certificate: p.leaf.Key()}

	if !a.Equal(b) {
		t.Error("entries with the same content should be equal")
	}
	if a.Equal(c) {
		t.Error("entries with different content should differ")
	}
	if a.Equal(&SymmetricKeySet{}) {
		t.Error("entries of different kinds should differ")
	}
}

// =============================================================================
// Trust graph
// =============================================================================

func TestU_KeyStore_Purge_ThreeLevels(t *testing.T) {
	ks, mem := newTestStore(t)
	p := newTestPKI(t)

	if err := ks.SetCertificate("root", p.root); err != nil {
		t.Fatalf("SetCertificate() failed: %v", err)
	}
	if err := ks.SetPrivateKeyEntry("leaf", p.leafKP, testPassword, p.chain()); err != nil {
		t.Fatalf("SetPrivateKeyEntry() failed: %v", err)
	}

	if err := ks.DeleteEntry("root"); err != nil {
		t.Fatalf("DeleteEntry(root) failed: %v", err)
	}
	if !ks.ContainsCertificate(p.root.Key()) {
		t.Error("root is still referenced by the leaf chain and must remain")
	}
	if len(ks.TrustAnchors()) != 0 {
		t.Error("root should no longer be a trust anchor")
	}

	if err := ks.DeleteEntry("leaf"); err != nil {
		t.Fatalf("DeleteEntry(leaf) failed: %v", err)
	}
	for _, c := range p.chain() {
		if ks.ContainsCertificate(c.Key()) {
			t.Errorf("certificate %s should have been purged", c.SubjectID())
		}
	}
	if ks.CertificateCount() != 0 {
		t.Errorf("CertificateCount() = %d, want 0", ks.CertificateCount())
	}
	if countEvents(mem, audit.EventCertPurged) != 3 {
		t.Errorf("CERT_PURGED events = %d, want 3", countEvents(mem, audit.EventCertPurged))
	}
}

func TestU_KeyStore_Purge_SharedIssuer(t *testing.T) {
	ks, _ := newTestStore(t)
	p := newTestPKI(t)
	otherKP, other := p.issueLeaf(t, "Second Leaf")

	_ = ks.SetCertificate("root", p.root)
	if err := ks.SetPrivateKeyEntry("a", p.leafKP, testPassword, p.chain()); err != nil {
		t.Fatalf("SetPrivateKeyEntry(a) failed: %v", err)
	}
	if err := ks.SetPrivateKeyEntry("b", otherKP, testPassword, []*certificate.Certificate{other, p.inter, p.root}); err != nil {
		t.Fatalf("SetPrivateKeyEntry(b) failed: %v", err)
	}

	if err := ks.DeleteEntry("a"); err != nil {
		t.Fatalf("DeleteEntry(a) failed: %v", err)
	}
	if ks.ContainsCertificate(p.leaf.Key()) {
		t.Error("leaf of a should be purged")
	}
	if !ks.ContainsCertificate(p.inter.Key()) {
		t.Error("intermediate is still needed by b")
	}
}

func TestU_KeyStore_Purge_SharedLeaf(t *testing.T) {
	ks, _ := newTestStore(t)
	p := newTestPKI(t)

	for _, alias := range []string{"primary", "backup"} {
		if err := ks.SetPrivateKeyEntry(alias, p.leafKP, testPassword, p.chain()); err != nil {
			t.Fatalf("SetPrivateKeyEntry(%s) failed: %v", alias, err)
		}
	}
	count := ks.CertificateCount()
	subjects, issuers := indexSize(ks.subjectIndex), indexSize(ks.issuerIndex)
	if count != 3 {
		t.Fatalf("CertificateCount() = %d, want 3", count)
	}

	if err := ks.DeleteEntry("primary"); err != nil {
		t.Fatalf("DeleteEntry(primary) failed: %v", err)
	}
	if got := ks.CertificateCount(); got != count {
		t.Errorf("CertificateCount() = %d, want %d", got, count)
	}
	if got := indexSize(ks.subjectIndex); got != subjects {
		t.Errorf("subject index holds %d certificates, want %d", got, subjects)
	}
	if got := indexSize(ks.issuerIndex); got != issuers {
		t.Errorf("issuer index holds %d certificates, want %d", got, issuers)
	}
	for _, c := range p.chain() {
		if !ks.ContainsCertificate(c.Key()) {
			t.Errorf("%s should still be present", c.Subject().CommonName)
		}
	}
	if _, err := ks.CertificateChain("backup"); err != nil {
		t.Errorf("CertificateChain(backup) failed: %v", err)
	}
}

func indexSize(idx map[certificate.ID]map[certificate.ID]*certificate.Certificate) int {
	n := 0
	for _, inner := range idx {
		n += len(inner)
	}
	return n
}

func TestU_KeyStore_Purge_OnReplace(t *testing.T) {
	ks, _ := newTestStore(t)
	p1 := newTestPKI(t)
	p2 := newTestPKI(t)

	_ = ks.SetCertificate("anchor", p1.root)
	if err := ks.SetCertificate("anchor", p2.root); err != nil {
		t.Fatalf("SetCertificate() replace failed: %v", err)
	}
	if ks.ContainsCertificate(p1.root.Key()) {
		t.Error("replaced certificate should be purged")
	}
	if !ks.ContainsCertificate(p2.root.Key()) {
		t.Error("new certificate should be present")
	}
}

func TestU_KeyStore_DeleteEntry_NotFound(t *testing.T) {
	ks, _ := newTestStore(t)
	if err := ks.DeleteEntry("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestU_KeyStore_UpdateCertificateChain(t *testing.T) {
	ks, _ := newTestStore(t)
	p := newTestPKI(t)
	_ = ks.SetCertificate("root", p.root)

	if err := ks.SetPrivateKeyEntry("leaf", p.leafKP, testPassword, nil); err != nil {
		t.Fatalf("SetPrivateKeyEntry() failed: %v", err)
	}
	if err := ks.UpdateCertificateChain("leaf", p.chain()); err != nil {
		t.Fatalf("UpdateCertificateChain() failed: %v", err)
	}
	chain, err := ks.CertificateChain("leaf")
	if err != nil || len(chain) != 3 {
		t.Fatalf("CertificateChain() = %d certificates, err %v", len(chain), err)
	}

	if err := ks.UpdateCertificateChain("root", p.chain()); !errors.Is(err, ErrWrongEntryKind) {
		t.Errorf("expected ErrWrongEntryKind, got %v", err)
	}
	if err := ks.UpdateCertificateChain("missing", p.chain()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// =============================================================================
// Lookups
// =============================================================================

func TestU_KeyStore_FindByIssuerAndSerial(t *testing.T) {
	ks, _ := newTestStore(t)
	p := newTestPKI(t)
	_ = ks.SetCertificate("root", p.root)
	// Sorts before "leaf" and holds the same certificate as a trusted entry.
	if err := ks.SetCertificate("a-published-leaf", p.leaf); err != nil {
		t.Fatalf("SetCertificate() failed: %v", err)
	}
	_ = ks.SetPrivateKeyEntry("leaf", p.leafKP, testPassword, p.chain())

	alias, err := ks.FindByIssuerAndSerial(p.leaf.IssuerID(), p.leaf.SerialNumber())
	if err != nil {
		t.Fatalf("FindByIssuerAndSerial() failed: %v", err)
	}
	if alias != "leaf" {
		t.Errorf("alias = %q, want the private-key entry leaf", alias)
	}

	ids := ks.IssuerIDsByName(p.leaf.RawIssuer())
	if len(ids) != 1 || ids[0] != p.inter.SubjectID() {
		t.Errorf("IssuerIDsByName() = %v", ids)
	}

	alias, err = ks.FindByIssuerNameAndSerial(p.leaf.RawIssuer(), p.leaf.SerialNumber())
	if err != nil || alias != "leaf" {
		t.Errorf("FindByIssuerNameAndSerial() = %q, %v", alias, err)
	}

	// Trusted certificates never resolve: they hold no private key.
	if _, err := ks.FindByIssuerNameAndSerial(p.root.RawSubject(), p.root.SerialNumber()); !errors.Is(err, ErrNotFound) {
		t.Errorf("trusted root lookup = %v, want ErrNotFound", err)
	}
	if _, err := ks.FindByIssuerAndSerial(p.leaf.IssuerID(), p.root.SerialNumber()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// =============================================================================
// Issuance
// =============================================================================

func TestU_KeyStore_Issue(t *testing.T) {
	mem := audit.NewMemoryWriter()
	ks := New(Options{
		KDF:       testKDF,
		Audit:     audit.New(mem),
		Passwords: StaticPasswords{"ca": testPassword},
	})
	p := newTestPKI(t)
	_ = ks.SetCertificate("root", p.root)
	if err := ks.SetPrivateKeyEntry("ca", p.interKP, testPassword, []*certificate.Certificate{p.inter, p.root}); err != nil {
		t.Fatalf("SetPrivateKeyEntry() failed: %v", err)
	}

	subjectKP := generateKeyPair(t, qcrypto.AlgMLDSA44)
	certs, err := ks.Issue("ca", IssueRequest{
		Subject:   p.leaf.Subject(),
		PublicKey: subjectKP.PublicKey,
		Usage:     certificate.UsageSignData,
	})
	if err != nil {
		t.Fatalf("Issue() failed: %v", err)
	}
	if len(certs) != 3 {
		t.Fatalf("Issue() returned %d certificates, want 3", len(certs))
	}
	if err := certificate.ValidateChain(certs, subjectKP.PublicKey, ks.IsTrusted); err != nil {
		t.Errorf("issued chain should validate: %v", err)
	}
	if ks.ContainsCertificate(certs[0].Key()) {
		t.Error("issued certificate must not be stored")
	}
	if countEvents(mem, audit.EventCertIssued) != 1 {
		t.Error("expected one CERT_ISSUED event")
	}
}

func TestU_KeyStore_Issue_AuditFailure(t *testing.T) {
	p := newTestPKI(t)
	ks := New(Options{
		KDF:       testKDF,
		Passwords: StaticPasswords{"ca": testPassword},
		Audit:     audit.New(failingWriter{}),
	})
	_ = ks.SetCertificate("root", p.root)
	_ = ks.SetPrivateKeyEntry("ca", p.interKP, testPassword, []*certificate.Certificate{p.inter, p.root})

	_, err := ks.Issue("ca", IssueRequest{Subject: p.leaf.Subject(), PublicKey: p.leafKP.PublicKey, Usage: certificate.UsageSignData})
	if err == nil {
		t.Fatal("issuance must fail when the audit trail cannot be written")
	}
}

func TestU_KeyStore_Issue_SignerWithoutCertify(t *testing.T) {
	ks := New(Options{KDF: testKDF, Passwords: StaticPasswords{"leaf": testPassword}})
	p := newTestPKI(t)
	_ = ks.SetCertificate("root", p.root)
	_ = ks.SetPrivateKeyEntry("leaf", p.leafKP, testPassword, p.chain())

	_, err := ks.Issue("leaf", IssueRequest{Subject: p.leaf.Subject(), PublicKey: p.interKP.PublicKey, Usage: certificate.UsageSignData})
	if !errors.Is(err, certificate.ErrInvalidChain) {
		t.Fatalf("expected ErrInvalidChain, got %v", err)
	}
}

type failingWriter struct{ audit.NopWriter }

func (failingWriter) Write(*audit.Event) error { return errors.New("disk full") }

// =============================================================================
// Snapshot / Restore
// =============================================================================

func TestU_KeyStore_SnapshotRestore(t *testing.T) {
	ks, _ := newTestStore(t)
	p := newTestPKI(t)
	_ = ks.SetCertificate("root", p.root)
	_ = ks.SetPrivateKeyEntry("leaf", p.leafKP, testPassword, p.chain())

	snap := ks.Snapshot()
	restored := New(Options{KDF: testKDF})
	if err := restored.Restore(snap); err != nil {
		t.Fatalf("Restore() failed: %v", err)
	}
	if restored.Size() != 2 || restored.CertificateCount() != 3 {
		t.Errorf("restored %d entries and %d certificates", restored.Size(), restored.CertificateCount())
	}
	if _, err := restored.PrivateKey("leaf", testPassword); err != nil {
		t.Errorf("PrivateKey() after restore failed: %v", err)
	}
}

func TestU_KeyStore_Restore_MissingCertificate(t *testing.T) {
	ks, _ := newTestStore(t)
	p := newTestPKI(t)
	_ = ks.SetCertificate("root", p.root)

	err := ks.Restore(Snapshot{Entries: map[string]Entry{
		"leaf": &TrustedCertificate{Certificate: p.leaf.Key()},
	}})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if ks.Size() != 1 {
		t.Error("failed restore must leave the keystore unchanged")
	}
}

// =============================================================================
// Concurrency
// =============================================================================

func TestU_KeyStore_ConcurrentAccess(t *testing.T) {
	ks, _ := newTestStore(t)
	p := newTestPKI(t)
	_ = ks.SetCertificate("root", p.root)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			alias := string(rune('a' + i))
			if err := ks.SetCertificate(alias, p.root); err != nil {
				t.Errorf("SetCertificate(%s) failed: %v", alias, err)
			}
			_ = ks.TrustAnchors()
			_ = ks.Aliases()
			if err := ks.DeleteEntry(alias); err != nil {
				t.Errorf("DeleteEntry(%s) failed: %v", alias, err)
			}
		}(i)
	}
	wg.Wait()

	if !ks.ContainsCertificate(p.root.Key()) {
		t.Error("root must survive while its own alias remains")
	}
}
