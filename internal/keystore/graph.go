package keystore

import (
	"fmt"

	"github.com/remiblancher/qkeystore/internal/certificate"
)

// lookup returns the certificate stored under key. Callers hold ks.mu.
func (ks *KeyStore) lookup(key certificate.Key) *certificate.Certificate {
	return ks.subjectIndex[key.Subject][key.Issuer]
}

// checkRegistrable reports whether chain can be inserted without replacing a
// different certificate that something else still depends on. replacing is
// the alias whose entry is about to be overwritten. Callers hold ks.mu.
func (ks *KeyStore) checkRegistrable(chain []*certificate.Certificate, replacing string) error {
	for _, c := range chain {
		existing := ks.lookup(c.Key())
		if existing == nil || existing.Equal(c) {
			continue
		}
		if ks.referencedExcept(c.Key(), replacing) || ks.hasChildren(c.Key()) {
			return fmt.Errorf("%w: %s", ErrConflict, c.SubjectID())
		}
	}
	return nil
}

// register inserts chain into both indices. Callers hold ks.mu.
func (ks *KeyStore) register(chain []*certificate.Certificate) {
	for _, c := range chain {
		subject, issuer := c.SubjectID(), c.IssuerID()
		if ks.subjectIndex[subject] == nil {
			ks.subjectIndex[subject] = make(map[certificate.ID]*certificate.Certificate)
		}
		ks.subjectIndex[subject][issuer] = c
		if ks.issuerIndex[issuer] == nil {
			ks.issuerIndex[issuer] = make(map[certificate.ID]*certificate.Certificate)
		}
		ks.issuerIndex[issuer][subject] = c
	}
}

func (ks *KeyStore) unregister(key certificate.Key) {
	if m := ks.subjectIndex[key.Subject]; m != nil {
		delete(m, key.Issuer)
		if len(m) == 0 {
			delete(ks.subjectIndex, key.Subject)
		}
	}
	if m := ks.issuerIndex[key.Issuer]; m != nil {
		delete(m, key.Subject)
		if len(m) == 0 {
			delete(ks.issuerIndex, key.Issuer)
		}
	}
}

// referenced reports whether any alias references key. Callers hold ks.mu.
func (ks *KeyStore) referenced(key certificate.Key) bool {
	return ks.referencedExcept(key, "")
}

func (ks *KeyStore) referencedExcept(key certificate.Key, skip string) bool {
	for alias, e := range ks.aliases {
		if alias == skip && skip != "" {
			continue
		}
		for _, k := range e.CertificateKeys() {
			if k == key {
				return true
			}
		}
	}
	return false
}

// hasChildren reports whether a certificate other than key itself was issued
// by key's subject.
func (ks *KeyStore) hasChildren(key certificate.Key) bool {
	for subject := range ks.issuerIndex[key.Subject] {
		if subject != key.Subject {
			return true
		}
	}
	return false
}

// purge drops every certificate in keys that is no longer referenced and has
// no children, then walks up to its issuers. It returns the removed
// certificates. Callers hold ks.mu.
func (ks *KeyStore) purge(keys []certificate.Key) []*certificate.Certificate {
	var removed []*certificate.Certificate
	work := append([]certificate.Key(nil), keys...)

	for len(work) > 0 {
		key := work[len(work)-1]
		work = work[:len(work)-1]

		c := ks.lookup(key)
		if c == nil || ks.referenced(key) || ks.hasChildren(key) {
			continue
		}
		ks.unregister(key)
		removed = append(removed, c)

		if key.IsSelfSigned() {
			continue
		}
		for issuerOfIssuer := range ks.subjectIndex[key.Issuer] {
			work = append(work, certificate.Key{Issuer: issuerOfIssuer, Subject: key.Issuer})
		}
	}
	return removed
}

// resolveChain returns the certificates referenced by keys. Callers hold ks.mu.
func (ks *KeyStore) resolveChain(keys []certificate.Key) ([]*certificate.Certificate, error) {
	chain := make([]*certificate.Certificate, 0, len(keys))
	for _, k := range keys {
		c := ks.lookup(k)
		if c == nil {
			return nil, fmt.Errorf("%w: certificate %s issued by %s", ErrNotFound, k.Subject, k.Issuer)
		}
		chain = append(chain, c)
	}
	return chain, nil
}

// isTrusted reports whether root is referenced by a trusted-certificate
// entry. Callers hold ks.mu.
func (ks *KeyStore) isTrusted(root *certificate.Certificate) bool {
	key := root.Key()
	for _, e := range ks.aliases {
		tc, ok := e.(*TrustedCertificate)
		if !ok || tc.Certificate != key {
			continue
		}
		if stored := ks.lookup(key); stored != nil && stored.Equal(root) {
			return true
		}
	}
	return false
}

func chainKeys(chain []*certificate.Certificate) []certificate.Key {
	keys := make([]certificate.Key, len(chain))
	for i, c := range chain {
		keys[i] = c.Key()
	}
	return keys
}
