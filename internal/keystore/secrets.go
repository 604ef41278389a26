package keystore

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	qcrypto "github.com/remiblancher/qkeystore/internal/crypto"
)

// PrivateKey opens the private key stored under alias.
func (ks *KeyStore) PrivateKey(alias string, password []byte) (*qcrypto.KeyPair, error) {
	e, err := ks.Entry(alias)
	if err != nil {
		return nil, err
	}
	pk, ok := e.(*PrivateKeyEntry)
	if !ok {
		return nil, &StoreError{Op: "get", Alias: alias, Err: ErrWrongEntryKind}
	}

	der, err := ks.open(alias, pk.Sealed, password)
	if err != nil {
		return nil, err
	}
	defer qcrypto.Wipe(der)

	priv, err := qcrypto.ParsePrivateKey(der)
	if err != nil {
		return nil, &StoreError{Op: "get", Alias: alias, Err: err}
	}
	kp, err := qcrypto.NewKeyPair(priv)
	if err != nil {
		return nil, &StoreError{Op: "get", Alias: alias, Err: err}
	}
	return kp, nil
}

// SymmetricKey opens the secret key stored under alias and returns it with
// its algorithm name.
func (ks *KeyStore) SymmetricKey(alias string, password []byte) ([]byte, string, error) {
	e, err := ks.Entry(alias)
	if err != nil {
		return nil, "", err
	}
	sk, ok := e.(*SymmetricKey)
	if !ok {
		return nil, "", &StoreError{Op: "get", Alias: alias, Err: ErrWrongEntryKind}
	}
	key, err := ks.open(alias, sk.Sealed, password)
	if err != nil {
		return nil, "", err
	}
	return key, sk.Algorithm, nil
}

// SymmetricKeySet opens the key set stored under alias.
func (ks *KeyStore) SymmetricKeySet(alias string, password []byte) ([][]byte, error) {
	e, err := ks.Entry(alias)
	if err != nil {
		return nil, err
	}
	set, ok := e.(*SymmetricKeySet)
	if !ok {
		return nil, &StoreError{Op: "get", Alias: alias, Err: ErrWrongEntryKind}
	}
	encoded, err := ks.open(alias, set.Sealed, password)
	if err != nil {
		return nil, err
	}
	defer qcrypto.Wipe(encoded)

	var keys [][]byte
	if err := cbor.Unmarshal(encoded, &keys); err != nil {
		return nil, &StoreError{Op: "get", Alias: alias, Err: fmt.Errorf("decoding key set: %w", err)}
	}
	return keys, nil
}

func (ks *KeyStore) open(alias string, box *qcrypto.SealedBox, password []byte) ([]byte, error) {
	plain, err := box.Open(password, []byte(alias))
	if err == nil {
		return plain, nil
	}
	if errors.Is(err, qcrypto.ErrDecryption) {
		ks.log.Warn("failed to open keystore entry", "alias", alias)
		if aerr := ks.audit.AuthFailed(alias, "wrong password"); aerr != nil {
			ks.log.Error("audit write failed", "alias", alias, "error", aerr)
		}
		return nil, &StoreError{Op: "get", Alias: alias, Err: ErrWrongPassword}
	}
	return nil, &StoreError{Op: "get", Alias: alias, Err: err}
}
