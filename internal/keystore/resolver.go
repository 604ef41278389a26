package keystore

import "fmt"

// PasswordResolver supplies the password protecting an alias.
type PasswordResolver interface {
	Password(alias string) ([]byte, error)
}

// PasswordFunc adapts a function to PasswordResolver.
type PasswordFunc func(alias string) ([]byte, error)

// Password calls f(alias).
func (f PasswordFunc) Password(alias string) ([]byte, error) { return f(alias) }

// StaticPasswords resolves passwords from a fixed alias map.
type StaticPasswords map[string][]byte

// Password returns a copy of the password registered for alias.
func (s StaticPasswords) Password(alias string) ([]byte, error) {
	p, ok := s[alias]
	if !ok {
		return nil, fmt.Errorf("%w: no password for alias %q", ErrNotFound, alias)
	}
	return append([]byte(nil), p...), nil
}
