package crypto

import "fmt"

// PKCS11Config holds PKCS#11 configuration.
type PKCS11Config struct {
	// ModulePath is the path to the PKCS#11 module (.so/.dylib/.dll)
	ModulePath string `yaml:"module_path"`

	// TokenLabel is the label of the token to use
	TokenLabel string `yaml:"token_label"`

	// PIN is the user PIN for the token
	PIN string `yaml:"-"`

	// KeyLabel is the label of the key to use
	KeyLabel string `yaml:"key_label"`

	// KeyID is the CKA_ID of the key (hex encoded)
	KeyID string `yaml:"key_id"`

	// SlotID is the slot ID (optional, use TokenLabel if not specified)
	SlotID *uint `yaml:"slot_id"`
}

// Enabled reports whether a module is configured.
func (c PKCS11Config) Enabled() bool {
	return c.ModulePath != ""
}

// Validate checks the configuration is usable.
func (c PKCS11Config) Validate() error {
	if c.ModulePath == "" {
		return fmt.Errorf("PKCS#11 module path is required")
	}
	if c.KeyLabel == "" && c.KeyID == "" {
		return fmt.Errorf("at least one of key_label or key_id is required")
	}
	return nil
}
