// Package keystore maintains aliased key material and the certificate trust
// graph those entries reference.
package keystore

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/remiblancher/qkeystore/internal/audit"
	"github.com/remiblancher/qkeystore/internal/certificate"
	qcrypto "github.com/remiblancher/qkeystore/internal/crypto"
	"github.com/remiblancher/qkeystore/internal/observability"
)

// Options configure a KeyStore. The zero value is usable.
type Options struct {
	// Cipher seals secrets; AES-256-GCM when empty.
	Cipher qcrypto.Cipher
	// KDF is the Argon2id cost; DefaultArgon2Params when zero.
	KDF qcrypto.Argon2Params
	// Provider defaults to qcrypto.DefaultProvider.
	Provider qcrypto.Provider
	// Passwords resolves signer passwords for Issue.
	Passwords PasswordResolver
	// Logger receives technical logs; discarded when nil.
	Logger *slog.Logger
	// Audit receives audit events; discarded when nil.
	Audit *audit.Logger
	// Now overrides the clock used for chain validation.
	Now func() time.Time
}

// KeyStore maps aliases to entries and indexes every certificate reachable
// from an entry by subject and by issuer. A certificate stays in the graph
// only while some alias references it or it still has children.
type KeyStore struct {
	mu sync.RWMutex

	aliases map[string]Entry
	// subjectIndex: subject id -> issuer id -> certificate
	subjectIndex map[certificate.ID]map[certificate.ID]*certificate.Certificate
	// issuerIndex: issuer id -> subject id -> certificate
	issuerIndex map[certificate.ID]map[certificate.ID]*certificate.Certificate

	cipher    qcrypto.Cipher
	kdf       qcrypto.Argon2Params
	provider  qcrypto.Provider
	passwords PasswordResolver
	log       *slog.Logger
	audit     *audit.Logger
	now       func() time.Time
}

// New creates an empty KeyStore.
func New(opts Options) *KeyStore {
	ks := &KeyStore{
		aliases:      make(map[string]Entry),
		subjectIndex: make(map[certificate.ID]map[certificate.ID]*certificate.Certificate),
		issuerIndex:  make(map[certificate.ID]map[certificate.ID]*certificate.Certificate),
		cipher:       opts.Cipher,
		kdf:          opts.KDF,
		provider:     opts.Provider,
		passwords:    opts.Passwords,
		log:          observability.OrNoop(opts.Logger),
		audit:        opts.Audit,
		now:          opts.Now,
	}
	if ks.cipher == "" {
		ks.cipher = qcrypto.CipherAES256GCM
	}
	if ks.kdf == (qcrypto.Argon2Params{}) {
		ks.kdf = qcrypto.DefaultArgon2Params()
	}
	if ks.provider == nil {
		ks.provider = qcrypto.DefaultProvider
	}
	if ks.now == nil {
		ks.now = time.Now
	}
	return ks
}

// Aliases returns every alias in lexical order.
func (ks *KeyStore) Aliases() []string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.sortedAliases()
}

func (ks *KeyStore) sortedAliases() []string {
	out := make([]string, 0, len(ks.aliases))
	for a := range ks.aliases {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Entry returns the entry stored under alias.
func (ks *KeyStore) Entry(alias string) (Entry, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	e, ok := ks.aliases[alias]
	if !ok {
		return nil, &StoreError{Op: "get", Alias: alias, Err: ErrNotFound}
	}
	return e, nil
}

// Size returns the number of aliases.
func (ks *KeyStore) Size() int {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return len(ks.aliases)
}

// CertificateCount returns the number of certificates in the trust graph.
func (ks *KeyStore) CertificateCount() int {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	n := 0
	for _, byIssuer := range ks.subjectIndex {
		n += len(byIssuer)
	}
	return n
}
