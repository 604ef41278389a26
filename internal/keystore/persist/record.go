package persist

import (
	"fmt"

	"github.com/remiblancher/qkeystore/internal/certificate"
	qcrypto "github.com/remiblancher/qkeystore/internal/crypto"
	"github.com/remiblancher/qkeystore/internal/keystore"
)

// keyRecord is the stored form of a certificate.Key.
type keyRecord struct {
	IssuerName   string `cbor:"1,keyasint"`
	IssuerKeyID  string `cbor:"2,keyasint"`
	SubjectName  string `cbor:"3,keyasint"`
	SubjectKeyID string `cbor:"4,keyasint"`
}

func toKeyRecord(k certificate.Key) keyRecord {
	return keyRecord{
		IssuerName:   k.Issuer.Name,
		IssuerKeyID:  k.Issuer.KeyID,
		SubjectName:  k.Subject.Name,
		SubjectKeyID: k.Subject.KeyID,
	}
}

func (r keyRecord) key() certificate.Key {
	return certificate.Key{
		Issuer:  certificate.ID{Name: r.IssuerName, KeyID: r.IssuerKeyID},
		Subject: certificate.ID{Name: r.SubjectName, KeyID: r.SubjectKeyID},
	}
}

// entryRecord is the stored form of a keystore.Entry.
type entryRecord struct {
	Kind        keystore.EntryKind `cbor:"1,keyasint"`
	Certificate *keyRecord         `cbor:"2,keyasint,omitempty"`
	Sealed      *qcrypto.SealedBox `cbor:"3,keyasint,omitempty"`
	Algorithm   string             `cbor:"4,keyasint,omitempty"`
	PublicKey   []byte             `cbor:"5,keyasint,omitempty"`
	Chain       []keyRecord        `cbor:"6,keyasint,omitempty"`
}

func toEntryRecord(e keystore.Entry) (*entryRecord, error) {
	switch v := e.(type) {
	case *keystore.TrustedCertificate:
		k := toKeyRecord(v.Certificate)
		return &entryRecord{Kind: v.Kind(), Certificate: &k}, nil
	case *keystore.PrivateKeyEntry:
		r := &entryRecord{Kind: v.Kind(), Sealed: v.Sealed, Algorithm: string(v.Algorithm), PublicKey: v.PublicKey}
		for _, k := range v.Chain {
			r.Chain = append(r.Chain, toKeyRecord(k))
		}
		return r, nil
	case *keystore.SymmetricKey:
		return &entryRecord{Kind: v.Kind(), Sealed: v.Sealed, Algorithm: v.Algorithm}, nil
	case *keystore.SymmetricKeySet:
		return &entryRecord{Kind: v.Kind(), Sealed: v.Sealed}, nil
	default:
		return nil, fmt.Errorf("unsupported entry type %T", e)
	}
}

func (r *entryRecord) entry() (keystore.Entry, error) {
	switch r.Kind {
	case keystore.KindTrustedCertificate:
		if r.Certificate == nil {
			return nil, fmt.Errorf("trusted certificate record without certificate")
		}
		return &keystore.TrustedCertificate{Certificate: r.Certificate.key()}, nil
	case keystore.KindPrivateKey:
		if r.Sealed == nil {
			return nil, fmt.Errorf("private key record without sealed key")
		}
		e := &keystore.PrivateKeyEntry{
			Sealed:    r.Sealed,
			Algorithm: qcrypto.AlgorithmID(r.Algorithm),
			PublicKey: r.PublicKey,
		}
		for _, k := range r.Chain {
			e.Chain = append(e.Chain, k.key())
		}
		return e, nil
	case keystore.KindSymmetricKey:
		if r.Sealed == nil {
			return nil, fmt.Errorf("symmetric key record without sealed key")
		}
		return &keystore.SymmetricKey{Sealed: r.Sealed, Algorithm: r.Algorithm}, nil
	case keystore.KindSymmetricKeySet:
		if r.Sealed == nil {
			return nil, fmt.Errorf("symmetric key set record without sealed keys")
		}
		return &keystore.SymmetricKeySet{Sealed: r.Sealed}, nil
	default:
		return nil, fmt.Errorf("unknown entry kind %d", r.Kind)
	}
}

// header describes how the container key is derived.
type header struct {
	Version int                  `cbor:"1,keyasint"`
	Cipher  qcrypto.Cipher       `cbor:"2,keyasint"`
	KDF     qcrypto.Argon2Params `cbor:"3,keyasint"`
	Salt    []byte               `cbor:"4,keyasint"`
	// Check is a sealed constant used to detect a wrong container password.
	Check []byte `cbor:"5,keyasint"`
}
