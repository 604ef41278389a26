package keystore

import (
	"fmt"

	"github.com/remiblancher/qkeystore/internal/certificate"
)

// Snapshot is a point-in-time copy of the keystore contents, used by
// persistence layers.
type Snapshot struct {
	Entries      map[string]Entry
	Certificates []*certificate.Certificate
}

// Snapshot returns a copy of every entry and every certificate in the graph.
func (ks *KeyStore) Snapshot() Snapshot {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	s := Snapshot{Entries: make(map[string]Entry, len(ks.aliases))}
	for alias, e := range ks.aliases {
		s.Entries[alias] = e
	}
	for _, byIssuer := range ks.subjectIndex {
		for _, c := range byIssuer {
			s.Certificates = append(s.Certificates, c)
		}
	}
	return s
}

// Restore replaces the keystore contents with s. Every certificate an entry
// references must be present in s; certificates nothing reaches are dropped.
// On error the keystore is unchanged.
func (ks *KeyStore) Restore(s Snapshot) error {
	fresh := New(Options{})
	fresh.register(s.Certificates)

	for alias, e := range s.Entries {
		if e == nil {
			return &StoreError{Op: "restore", Alias: alias, Err: fmt.Errorf("nil entry")}
		}
		if _, err := fresh.resolveChain(e.CertificateKeys()); err != nil {
			return &StoreError{Op: "restore", Alias: alias, Err: err}
		}
		fresh.aliases[alias] = e
	}

	var all []certificate.Key
	for _, c := range s.Certificates {
		all = append(all, c.Key())
	}
	dropped := fresh.purge(all)

	ks.mu.Lock()
	ks.aliases = fresh.aliases
	ks.subjectIndex = fresh.subjectIndex
	ks.issuerIndex = fresh.issuerIndex
	ks.mu.Unlock()

	ks.log.Info("keystore restored", "entries", len(s.Entries), "certificates", len(s.Certificates)-len(dropped))
	return nil
}
