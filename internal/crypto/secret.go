package crypto

import (
	"github.com/awnumar/memguard"
)

// Wipe zeroes each buffer in place.
func Wipe(bufs ...[]byte) {
	for _, b := range bufs {
		memguard.WipeBytes(b)
	}
}

// Secret holds long-lived secret bytes encrypted in memory.
// The zero value and a nil *Secret hold no bytes.
type Secret struct {
	enclave *memguard.Enclave
}

// NewSecret seals b into a memory enclave. b is wiped.
func NewSecret(b []byte) *Secret {
	if len(b) == 0 {
		return &Secret{}
	}
	return &Secret{enclave: memguard.NewEnclave(b)}
}

// IsEmpty reports whether the secret holds no bytes.
func (s *Secret) IsEmpty() bool {
	return s == nil || s.enclave == nil
}

// Use opens the enclave for the duration of fn. The plaintext passed to fn
// is destroyed when fn returns and must not be retained.
func (s *Secret) Use(fn func([]byte) error) error {
	if s.IsEmpty() {
		return fn(nil)
	}
	buf, err := s.enclave.Open()
	if err != nil {
		return err
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}
