package main

import (
	"os"
	"strings"
	"testing"
)

// =============================================================================
// Key Gen Tests (Table-Driven)
// =============================================================================

func TestU_KeyGen(t *testing.T) {
	tests := []struct {
		name      string
		algorithm string
		wantErr   bool
	}{
		{"ECDSA P-256 (default)", "", false},
		{"ECDSA P-384", "ecdsa-p384", false},
		{"Ed25519", "ed25519", false},
		{"RSA 2048", "rsa-2048", false},
		{"X25519", "x25519", false},
		{"ML-DSA-65", "ml-dsa-65", false},
		{"ML-KEM-768", "ml-kem-768", false},
		{"invalid algorithm", "invalid-algo", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := newTestContext(t)
			out := tc.path("key.pem")

			args := []string{"key", "gen", "--out", out}
			if tt.algorithm != "" {
				args = append(args, "--algorithm", tt.algorithm)
			}
			_, err := tc.exec(args...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			tc.assertFileExists(out)
			if _, err := readKeyPair(out, ""); err != nil {
				t.Errorf("readKeyPair() failed: %v", err)
			}
		})
	}
}

func TestU_KeyGen_Encrypted(t *testing.T) {
	tc := newTestContext(t)
	t.Setenv("KEY_PASS", "file-secret")
	out := tc.path("key.pem")

	tc.run("key", "gen", "--algorithm", "ecdsa-p256", "--out", out, "--password-env", "KEY_PASS")

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	if !strings.Contains(string(data), "ENCRYPTED PRIVATE KEY") {
		t.Errorf("key file should be encrypted PKCS#8, got:\n%s", data)
	}
	if _, err := readKeyPair(out, ""); err == nil {
		t.Error("readKeyPair() without password should fail")
	}
	if _, err := readKeyPair(out, "KEY_PASS"); err != nil {
		t.Errorf("readKeyPair() with password failed: %v", err)
	}
}

func TestU_KeyGen_MissingOut(t *testing.T) {
	tc := newTestContext(t)
	if _, err := tc.exec("key", "gen"); err == nil {
		t.Error("key gen without --out should fail")
	}
}
