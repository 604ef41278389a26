// Package config loads the qks YAML configuration file.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/remiblancher/qkeystore/internal/certificate"
	"github.com/remiblancher/qkeystore/internal/crmf"
	qcrypto "github.com/remiblancher/qkeystore/internal/crypto"
	"github.com/remiblancher/qkeystore/internal/observability"
)

// Config is the root of the configuration file.
type Config struct {
	KeyStore   KeyStoreConfig   `yaml:"keystore"`
	Enrollment EnrollmentConfig `yaml:"enrollment"`
	Server     ServerConfig     `yaml:"server"`
	Audit      AuditConfig      `yaml:"audit"`
	Log        LogConfig        `yaml:"log"`
}

// KeyStoreConfig locates the persisted keystore container.
type KeyStoreConfig struct {
	Path string `yaml:"path"`
	// Cipher seals private keys and container records.
	Cipher qcrypto.Cipher        `yaml:"cipher"`
	KDF    qcrypto.Argon2Params `yaml:"kdf"`
	// PasswordEnv names the variable holding the container password.
	PasswordEnv string `yaml:"password_env"`
	// EntryPasswordEnv names the variable holding entry passwords.
	EntryPasswordEnv string `yaml:"entry_password_env"`
	// LockTimeout bounds the wait for the container file lock.
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

// EnrollmentConfig drives the enrollment responder.
type EnrollmentConfig struct {
	SignerAlias string        `yaml:"signer_alias"`
	Validity    time.Duration `yaml:"validity"`
	// PBMIterations is used when building requests.
	PBMIterations int `yaml:"pbm_iterations"`
	// MaxPBMIterations bounds the iteration count accepted from requesters.
	MaxPBMIterations int  `yaml:"max_pbm_iterations"`
	EncryptResponses bool `yaml:"encrypt_responses"`
	// MACSecretEnv names the variable holding the shared MAC secret. No
	// MAC is required when it is empty or unset.
	MACSecretEnv string `yaml:"mac_secret_env"`
	AllowCA      bool   `yaml:"allow_ca"`
	// PKCS11 replaces the stored issuing key with an HSM key.
	PKCS11 qcrypto.PKCS11Config `yaml:"pkcs11"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// MaxBodyBytes caps enrollment request bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// AuditConfig selects the audit log file; auditing is off when Path is empty.
type AuditConfig struct {
	Path string `yaml:"path"`
}

// LogConfig selects the technical log output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		KeyStore: KeyStoreConfig{
			Path:             "qks.db",
			Cipher:           qcrypto.CipherAES256GCM,
			KDF:              qcrypto.DefaultArgon2Params(),
			PasswordEnv:      "QKS_PASSWORD",
			EntryPasswordEnv: "QKS_ENTRY_PASSWORD",
			LockTimeout:      time.Second,
		},
		Enrollment: EnrollmentConfig{
			SignerAlias:      "signer",
			Validity:         certificate.DefaultValidity,
			PBMIterations:    crmf.DefaultPBMIterations,
			MaxPBMIterations: crmf.MaxPBMIterations,
			MACSecretEnv:     "QKS_MAC_SECRET",
		},
		Server: ServerConfig{
			Port:            8443,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the file at path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every value is usable.
func (c *Config) Validate() error {
	if c.KeyStore.Path == "" {
		return fmt.Errorf("keystore.path is required")
	}
	if !c.KeyStore.Cipher.IsValid() {
		return fmt.Errorf("keystore.cipher: unsupported cipher %q", c.KeyStore.Cipher)
	}
	if c.KeyStore.KDF.Time == 0 || c.KeyStore.KDF.MemoryKiB < 8*uint32(c.KeyStore.KDF.Threads) || c.KeyStore.KDF.Threads == 0 {
		return fmt.Errorf("keystore.kdf: invalid Argon2id parameters %+v", c.KeyStore.KDF)
	}
	if c.Enrollment.SignerAlias == "" {
		return fmt.Errorf("enrollment.signer_alias is required")
	}
	if c.Enrollment.Validity <= 0 {
		return fmt.Errorf("enrollment.validity must be positive")
	}
	if c.Enrollment.MaxPBMIterations < 1 || c.Enrollment.MaxPBMIterations > crmf.MaxPBMIterations {
		return fmt.Errorf("enrollment.max_pbm_iterations must be in [1, %d]", crmf.MaxPBMIterations)
	}
	if c.Enrollment.PBMIterations < 1 || c.Enrollment.PBMIterations > c.Enrollment.MaxPBMIterations {
		return fmt.Errorf("enrollment.pbm_iterations must be in [1, %d]", c.Enrollment.MaxPBMIterations)
	}
	if c.Enrollment.PKCS11.Enabled() {
		if err := c.Enrollment.PKCS11.Validate(); err != nil {
			return fmt.Errorf("enrollment.pkcs11: %w", err)
		}
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}
	if _, err := c.Log.NewLogger(io.Discard); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

// Address returns the HTTP listen address.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MACSecret reads the shared MAC secret from the environment. It returns nil
// when no secret is configured.
func (c EnrollmentConfig) MACSecret() *qcrypto.Secret {
	if c.MACSecretEnv == "" {
		return nil
	}
	v := os.Getenv(c.MACSecretEnv)
	if v == "" {
		return nil
	}
	return qcrypto.NewSecret([]byte(v))
}

// NewLogger builds the technical logger writing to w.
func (c LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	return observability.NewLogger(w, c.Level, c.Format)
}
