package main

import (
	"strings"
	"testing"
)

// =============================================================================
// Keystore Commands
// =============================================================================

func TestU_Keystore_ListEmpty(t *testing.T) {
	tc := newTestContext(t)
	out := tc.run("keystore", "list")
	if !strings.Contains(out, "ALIAS") {
		t.Errorf("list output lacks header:\n%s", out)
	}
}

func TestU_Keystore_SelfSignAndList(t *testing.T) {
	tc := newTestContext(t)
	tc.createRoot()

	out := tc.run("ks", "list")
	for _, want := range []string{"signer", "private-key", "root", "trusted-certificate", "CN=CLI Root"} {
		if !strings.Contains(out, want) {
			t.Errorf("list output lacks %q:\n%s", want, out)
		}
	}
}

func TestU_Keystore_IssueAndExport(t *testing.T) {
	tc := newTestContext(t)
	tc.createRoot()

	out := tc.run("cert", "issue", "leaf", "--signer", "signer", "--cn", "Leaf", "--algorithm", "ed25519")
	if !strings.Contains(out, "CN=Leaf") {
		t.Errorf("issue output = %q", out)
	}

	chainPath := tc.path("leaf.pem")
	tc.run("keystore", "export-cert", "leaf", "--out", chainPath)
	chain, err := readCertificates(chainPath)
	if err != nil {
		t.Fatalf("readCertificates() failed: %v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("chain length = %d, want 2", len(chain))
	}
	if got := displayName(chain[1]); got != "CN=CLI Root,O=Test Org" {
		t.Errorf("issuer = %q", got)
	}

	keyPath := tc.path("leaf.key")
	tc.run("keystore", "export-key", "leaf", "--out", keyPath)
	kp, err := readKeyPair(keyPath, "")
	if err != nil {
		t.Fatalf("readKeyPair() failed: %v", err)
	}
	if string(kp.Algorithm) != "ed25519" {
		t.Errorf("Algorithm = %s, want ed25519", kp.Algorithm)
	}
}

func TestU_Keystore_ImportKeyRoundTrip(t *testing.T) {
	tc := newTestContext(t)
	tc.createRoot()
	tc.run("cert", "issue", "leaf", "--signer", "signer", "--cn", "Leaf")

	keyPath, chainPath := tc.path("leaf.key"), tc.path("leaf.pem")
	tc.run("keystore", "export-key", "leaf", "--out", keyPath)
	tc.run("keystore", "export-cert", "leaf", "--out", chainPath)
	tc.run("keystore", "delete", "leaf")

	if out := tc.run("keystore", "list"); strings.Contains(out, "leaf") {
		t.Fatalf("leaf should be deleted:\n%s", out)
	}

	tc.run("keystore", "import-key", "copy", "--key", keyPath, "--chain", chainPath)
	if out := tc.run("keystore", "list"); !strings.Contains(out, "copy") {
		t.Errorf("imported entry missing:\n%s", out)
	}
}

func TestU_Keystore_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"delete unknown", []string{"keystore", "delete", "ghost"}},
		{"export unknown", []string{"keystore", "export-cert", "ghost", "--out", "x.pem"}},
		{"issue unknown signer", []string{"cert", "issue", "leaf", "--signer", "ghost", "--cn", "Leaf"}},
		{"bad usage", []string{"cert", "selfsign", "r", "--cn", "R", "--usage", "fly"}},
		{"selfsign non-signing key", []string{"cert", "selfsign", "r", "--cn", "R", "--algorithm", "x25519"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := newTestContext(t)
			if _, err := tc.exec(tt.args...); err == nil {
				t.Errorf("qks %v should fail", tt.args)
			}
		})
	}
}

func TestU_Keystore_WrongContainerPassword(t *testing.T) {
	tc := newTestContext(t)
	tc.createRoot()

	t.Setenv("QKS_PASSWORD", "wrong")
	if _, err := tc.exec("keystore", "list"); err == nil {
		t.Error("list with the wrong container password should fail")
	}
}

func TestU_Keystore_MissingContainerPassword(t *testing.T) {
	tc := newTestContext(t)
	tc.createRoot()

	t.Setenv("QKS_PASSWORD", "")
	if _, err := tc.exec("keystore", "list"); err == nil {
		t.Error("list without a container password should fail")
	}
}
