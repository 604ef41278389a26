package config

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	qcrypto "github.com/remiblancher/qkeystore/internal/crypto"
)

// =============================================================================
// Loading
// =============================================================================

func TestU_Config_DefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() failed: %v", err)
	}
}

func TestU_Config_LoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qks.yaml")
	data := `
keystore:
  path: /var/lib/qks/store.db
  cipher: chacha20-poly1305
enrollment:
  signer_alias: issuing
  validity: 720h
  encrypt_responses: true
server:
  port: 9000
  read_timeout: 5s
log:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.KeyStore.Path != "/var/lib/qks/store.db" {
		t.Errorf("KeyStore.Path = %q", cfg.KeyStore.Path)
	}
	if cfg.KeyStore.Cipher != qcrypto.CipherChaCha20Poly1305 {
		t.Errorf("KeyStore.Cipher = %q", cfg.KeyStore.Cipher)
	}
	if cfg.Enrollment.SignerAlias != "issuing" || !cfg.Enrollment.EncryptResponses {
		t.Errorf("Enrollment = %+v", cfg.Enrollment)
	}
	if cfg.Enrollment.Validity != 720*time.Hour {
		t.Errorf("Enrollment.Validity = %v, want 720h", cfg.Enrollment.Validity)
	}
	if cfg.Server.Port != 9000 || cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("Server = %+v", cfg.Server)
	}
	// Untouched keys keep their defaults.
	if cfg.Server.WriteTimeout != 30*time.Second {
		t.Errorf("Server.WriteTimeout = %v, want default", cfg.Server.WriteTimeout)
	}
	if cfg.KeyStore.KDF != qcrypto.DefaultArgon2Params() {
		t.Errorf("KeyStore.KDF = %+v, want default", cfg.KeyStore.KDF)
	}
	if cfg.Server.Address() != ":9000" {
		t.Errorf("Address() = %q", cfg.Server.Address())
	}
}

func TestU_Config_LoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load() should fail for a missing file")
	}
}

func TestU_Config_ParseInvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("server: [")); err == nil {
		t.Fatal("Parse() should fail for invalid YAML")
	}
}

// =============================================================================
// Validation
// =============================================================================

func TestU_Config_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty path", func(c *Config) { c.KeyStore.Path = "" }, "keystore.path"},
		{"bad cipher", func(c *Config) { c.KeyStore.Cipher = "rot13" }, "keystore.cipher"},
		{"zero kdf", func(c *Config) { c.KeyStore.KDF = qcrypto.Argon2Params{} }, "keystore.kdf"},
		{"no signer", func(c *Config) { c.Enrollment.SignerAlias = "" }, "signer_alias"},
		{"zero validity", func(c *Config) { c.Enrollment.Validity = 0 }, "validity"},
		{"pbm above max", func(c *Config) {
			c.Enrollment.MaxPBMIterations = 100
			c.Enrollment.PBMIterations = 200
		}, "pbm_iterations"},
		{"max pbm too large", func(c *Config) { c.Enrollment.MaxPBMIterations = 1 << 30 }, "max_pbm_iterations"},
		{"pkcs11 without key", func(c *Config) { c.Enrollment.PKCS11.ModulePath = "/usr/lib/softhsm.so" }, "pkcs11"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"zero body", func(c *Config) { c.Server.MaxBodyBytes = 0 }, "max_body_bytes"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() should fail")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

// =============================================================================
// Environment and logging
// =============================================================================

func TestU_Config_MACSecret(t *testing.T) {
	cfg := Default()
	t.Setenv(cfg.Enrollment.MACSecretEnv, "")
	if s := cfg.Enrollment.MACSecret(); s != nil {
		t.Error("MACSecret() should be nil when the variable is empty")
	}

	t.Setenv(cfg.Enrollment.MACSecretEnv, "shared")
	s := cfg.Enrollment.MACSecret()
	if s.IsEmpty() {
		t.Fatal("MACSecret() should be set")
	}
	err := s.Use(func(b []byte) error {
		if string(b) != "shared" {
			t.Errorf("secret = %q, want %q", b, "shared")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Use() failed: %v", err)
	}
}

func TestU_Config_NewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	if err != nil {
		t.Fatalf("NewLogger() failed: %v", err)
	}
	log.Info("dropped")
	log.Warn("kept")
	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(out, `"msg":"kept"`) {
		t.Errorf("output = %q, want a JSON record", out)
	}

	dbg, err := LogConfig{Level: "DEBUG"}.NewLogger(&buf)
	if err != nil {
		t.Fatalf("NewLogger(DEBUG) failed: %v", err)
	}
	if !dbg.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug level should be enabled")
	}
}
