package keystore

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/remiblancher/qkeystore/internal/certificate"
	qcrypto "github.com/remiblancher/qkeystore/internal/crypto"
)

// SetCertificate stores cert as a trust anchor under alias.
// A self-signed certificate must pass root validation.
func (ks *KeyStore) SetCertificate(alias string, cert *certificate.Certificate) error {
	if cert == nil {
		return &StoreError{Op: "set", Alias: alias, Err: fmt.Errorf("certificate is required")}
	}
	entry := &TrustedCertificate{Certificate: cert.Key()}
	chain := []*certificate.Certificate{cert}

	return ks.commit(alias, entry, chain, func() error {
		if cert.IsSelfSigned() {
			return cert.ValidateAsRoot()
		}
		return nil
	})
}

// SetPrivateKeyEntry seals kp under password and stores it with chain,
// ordered leaf first. A non-empty chain must certify kp's public key and,
// when longer than one, end in a stored trust anchor.
func (ks *KeyStore) SetPrivateKeyEntry(alias string, kp *qcrypto.KeyPair, password []byte, chain []*certificate.Certificate) error {
	if kp == nil || !kp.HasPrivateKey() {
		return &StoreError{Op: "set", Alias: alias, Err: certificate.ErrMissingPrivateKey}
	}
	if err := ks.checkKind(alias, KindPrivateKey); err != nil {
		return err
	}

	spki, err := qcrypto.MarshalPublicKey(kp.PublicKey)
	if err != nil {
		return &StoreError{Op: "set", Alias: alias, Err: err}
	}
	sealed, err := ks.sealPrivateKey(alias, kp, password)
	if err != nil {
		return &StoreError{Op: "set", Alias: alias, Err: err}
	}

	entry := &PrivateKeyEntry{
		Sealed:    sealed,
		Algorithm: kp.Algorithm,
		PublicKey: spki,
		Chain:     chainKeys(chain),
	}
	return ks.commit(alias, entry, chain, func() error {
		if len(chain) == 0 {
			return nil
		}
		return certificate.ValidateChainAt(chain, kp.PublicKey, ks.isTrusted, ks.now())
	})
}

// UpdateCertificateChain replaces the chain of a private-key entry.
func (ks *KeyStore) UpdateCertificateChain(alias string, chain []*certificate.Certificate) error {
	ks.mu.RLock()
	e, ok := ks.aliases[alias]
	ks.mu.RUnlock()
	if !ok {
		return &StoreError{Op: "update", Alias: alias, Err: ErrNotFound}
	}
	pk, ok := e.(*PrivateKeyEntry)
	if !ok {
		return &StoreError{Op: "update", Alias: alias, Err: ErrWrongEntryKind}
	}
	pub, err := pk.Public()
	if err != nil {
		return &StoreError{Op: "update", Alias: alias, Err: err}
	}

	entry := &PrivateKeyEntry{
		Sealed:    pk.Sealed,
		Algorithm: pk.Algorithm,
		PublicKey: pk.PublicKey,
		Chain:     chainKeys(chain),
	}
	return ks.commit(alias, entry, chain, func() error {
		// The entry may have been replaced since it was read.
		if current, ok := ks.aliases[alias].(*PrivateKeyEntry); !ok || current.Sealed != pk.Sealed {
			return fmt.Errorf("entry changed concurrently")
		}
		if len(chain) == 0 {
			return nil
		}
		return certificate.ValidateChainAt(chain, pub, ks.isTrusted, ks.now())
	})
}

// SetSymmetricKey seals key under password and stores it under alias.
func (ks *KeyStore) SetSymmetricKey(alias string, key []byte, algorithm string, password []byte) error {
	if len(key) == 0 {
		return &StoreError{Op: "set", Alias: alias, Err: fmt.Errorf("key is empty")}
	}
	if err := ks.checkKind(alias, KindSymmetricKey); err != nil {
		return err
	}
	sealed, err := qcrypto.SealWithPassword(ks.cipher, ks.kdf, password, key, []byte(alias))
	if err != nil {
		return &StoreError{Op: "set", Alias: alias, Err: err}
	}
	return ks.commit(alias, &SymmetricKey{Sealed: sealed, Algorithm: algorithm}, nil, nil)
}

// SetSymmetricKeySet seals keys under password and stores them under alias.
func (ks *KeyStore) SetSymmetricKeySet(alias string, keys [][]byte, password []byte) error {
	if len(keys) == 0 {
		return &StoreError{Op: "set", Alias: alias, Err: fmt.Errorf("key set is empty")}
	}
	if err := ks.checkKind(alias, KindSymmetricKeySet); err != nil {
		return err
	}
	encoded, err := cbor.Marshal(keys)
	if err != nil {
		return &StoreError{Op: "set", Alias: alias, Err: fmt.Errorf("encoding key set: %w", err)}
	}
	defer qcrypto.Wipe(encoded)

	sealed, err := qcrypto.SealWithPassword(ks.cipher, ks.kdf, password, encoded, []byte(alias))
	if err != nil {
		return &StoreError{Op: "set", Alias: alias, Err: err}
	}
	return ks.commit(alias, &SymmetricKeySet{Sealed: sealed}, nil, nil)
}

// DeleteEntry removes alias and purges certificates no longer reachable.
func (ks *KeyStore) DeleteEntry(alias string) error {
	ks.mu.Lock()
	e, ok := ks.aliases[alias]
	if !ok {
		ks.mu.Unlock()
		return &StoreError{Op: "delete", Alias: alias, Err: ErrNotFound}
	}
	delete(ks.aliases, alias)
	removed := ks.purge(e.CertificateKeys())
	ks.mu.Unlock()

	ks.log.Info("keystore entry deleted", "alias", alias, "kind", e.Kind().String(), "purged", len(removed))
	ks.auditDelete(alias, e.Kind(), removed)
	return nil
}

// checkKind fails fast when alias holds another kind of entry.
func (ks *KeyStore) checkKind(alias string, kind EntryKind) error {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if old, ok := ks.aliases[alias]; ok && old.Kind() != kind {
		return &StoreError{Op: "set", Alias: alias, Err: fmt.Errorf("%w: %s holds %s", ErrDuplicateAlias, alias, old.Kind())}
	}
	return nil
}

func (ks *KeyStore) sealPrivateKey(alias string, kp *qcrypto.KeyPair, password []byte) (*qcrypto.SealedBox, error) {
	der, err := qcrypto.MarshalPrivateKey(kp.PrivateKey)
	if err != nil {
		return nil, err
	}
	defer qcrypto.Wipe(der)
	return qcrypto.SealWithPassword(ks.cipher, ks.kdf, password, der, []byte(alias))
}

// commit validates and installs entry under alias in one critical section,
// registers chain and purges what the previous entry alone kept alive.
func (ks *KeyStore) commit(alias string, entry Entry, chain []*certificate.Certificate, validate func() error) error {
	if alias == "" {
		return &StoreError{Op: "set", Err: fmt.Errorf("alias is empty")}
	}

	ks.mu.Lock()
	old, exists := ks.aliases[alias]
	if exists && old.Kind() != entry.Kind() {
		ks.mu.Unlock()
		err := fmt.Errorf("%w: %s holds %s", ErrDuplicateAlias, alias, old.Kind())
		ks.auditStoreFailure(alias, entry.Kind(), err)
		return &StoreError{Op: "set", Alias: alias, Err: err}
	}
	if validate != nil {
		if err := validate(); err != nil {
			ks.mu.Unlock()
			ks.auditStoreFailure(alias, entry.Kind(), err)
			return &StoreError{Op: "set", Alias: alias, Err: err}
		}
	}
	if err := ks.checkRegistrable(chain, alias); err != nil {
		ks.mu.Unlock()
		ks.auditStoreFailure(alias, entry.Kind(), err)
		return &StoreError{Op: "set", Alias: alias, Err: err}
	}

	ks.register(chain)
	ks.aliases[alias] = entry
	var removed []*certificate.Certificate
	if exists {
		removed = ks.purge(old.CertificateKeys())
	}
	ks.mu.Unlock()

	ks.log.Info("keystore entry stored", "alias", alias, "kind", entry.Kind().String(), "replaced", exists, "purged", len(removed))
	if err := ks.audit.EntryStored(alias, entry.Kind().String(), true, ""); err != nil {
		ks.log.Error("audit write failed", "alias", alias, "error", err)
	}
	ks.auditPurged(removed)
	return nil
}

func (ks *KeyStore) auditStoreFailure(alias string, kind EntryKind, cause error) {
	ks.log.Warn("keystore entry rejected", "alias", alias, "kind", kind.String(), "error", cause)
	if err := ks.audit.EntryStored(alias, kind.String(), false, cause.Error()); err != nil {
		ks.log.Error("audit write failed", "alias", alias, "error", err)
	}
}

func (ks *KeyStore) auditDelete(alias string, kind EntryKind, removed []*certificate.Certificate) {
	if err := ks.audit.EntryDeleted(alias, kind.String()); err != nil {
		ks.log.Error("audit write failed", "alias", alias, "error", err)
	}
	ks.auditPurged(removed)
}

func (ks *KeyStore) auditPurged(removed []*certificate.Certificate) {
	for _, c := range removed {
		ks.log.Debug("certificate purged", "subject", c.SubjectID().Name, "issuer", c.IssuerID().Name)
		if err := ks.audit.CertPurged(c.SubjectID().Name, c.IssuerID().Name, c.SerialNumber().Text(16)); err != nil {
			ks.log.Error("audit write failed", "subject", c.SubjectID().Name, "error", err)
		}
	}
}
