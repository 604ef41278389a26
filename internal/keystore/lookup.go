package keystore

import (
	"fmt"
	"math/big"

	"github.com/remiblancher/qkeystore/internal/certificate"
	"github.com/remiblancher/qkeystore/internal/x509util"
)

// Certificate returns the certificate stored under key.
func (ks *KeyStore) Certificate(key certificate.Key) (*certificate.Certificate, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	c := ks.lookup(key)
	if c == nil {
		return nil, &StoreError{Op: "get", Err: fmt.Errorf("%w: certificate %s", ErrNotFound, key.Subject)}
	}
	return c, nil
}

// ContainsCertificate reports whether key is in the trust graph.
func (ks *KeyStore) ContainsCertificate(key certificate.Key) bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.lookup(key) != nil
}

// CertificateChain returns the chain held by alias, leaf first. A trusted
// certificate entry yields a chain of one.
func (ks *KeyStore) CertificateChain(alias string) ([]*certificate.Certificate, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	e, ok := ks.aliases[alias]
	if !ok {
		return nil, &StoreError{Op: "get", Alias: alias, Err: ErrNotFound}
	}
	switch e.(type) {
	case *TrustedCertificate, *PrivateKeyEntry:
	default:
		return nil, &StoreError{Op: "get", Alias: alias, Err: ErrWrongEntryKind}
	}
	chain, err := ks.resolveChain(e.CertificateKeys())
	if err != nil {
		return nil, &StoreError{Op: "get", Alias: alias, Err: err}
	}
	return chain, nil
}

// TrustAnchors returns the certificates of every trusted-certificate entry,
// ordered by alias.
func (ks *KeyStore) TrustAnchors() []*certificate.Certificate {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	var out []*certificate.Certificate
	for _, alias := range ks.sortedAliases() {
		if tc, ok := ks.aliases[alias].(*TrustedCertificate); ok {
			if c := ks.lookup(tc.Certificate); c != nil {
				out = append(out, c)
			}
		}
	}
	return out
}

// IsTrusted reports whether c is a stored trust anchor.
func (ks *KeyStore) IsTrusted(c *certificate.Certificate) bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.isTrusted(c)
}

// FindByIssuerAndSerial returns the private-key entry whose chain leaf has
// the given issuer and serial number. Other entry kinds are not searched.
func (ks *KeyStore) FindByIssuerAndSerial(issuer certificate.ID, serial *big.Int) (string, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	for _, alias := range ks.sortedAliases() {
		e, ok := ks.aliases[alias].(*PrivateKeyEntry)
		if !ok {
			continue
		}
		keys := e.CertificateKeys()
		if len(keys) == 0 || keys[0].Issuer != issuer {
			continue
		}
		if c := ks.lookup(keys[0]); c != nil && c.SerialNumber().Cmp(serial) == 0 {
			return alias, nil
		}
	}
	return "", &StoreError{Op: "find", Err: fmt.Errorf("%w: serial %s from %s", ErrNotFound, serial.Text(16), issuer)}
}

// IssuerIDsByName returns the issuer identities in the trust graph whose
// distinguished name equals the DER name.
func (ks *KeyStore) IssuerIDsByName(nameDER []byte) []certificate.ID {
	name, err := x509util.CanonicalName(nameDER)
	if err != nil {
		return nil
	}

	ks.mu.RLock()
	defer ks.mu.RUnlock()

	var out []certificate.ID
	for id := range ks.issuerIndex {
		if id.Name == name {
			out = append(out, id)
		}
	}
	return out
}

// FindByIssuerNameAndSerial resolves an IssuerAndSerialNumber reference,
// trying every issuer identity carrying the DER name.
func (ks *KeyStore) FindByIssuerNameAndSerial(nameDER []byte, serial *big.Int) (string, error) {
	for _, id := range ks.IssuerIDsByName(nameDER) {
		if alias, err := ks.FindByIssuerAndSerial(id, serial); err == nil {
			return alias, nil
		}
	}
	return "", &StoreError{Op: "find", Err: fmt.Errorf("%w: serial %s", ErrNotFound, serial.Text(16))}
}
