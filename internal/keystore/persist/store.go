// Package persist stores a keystore in a bbolt file. Records are CBOR
// encoded and sealed under a key derived from the container password.
package persist

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.etcd.io/bbolt"

	"github.com/remiblancher/qkeystore/internal/certificate"
	qcrypto "github.com/remiblancher/qkeystore/internal/crypto"
	"github.com/remiblancher/qkeystore/internal/keystore"
	"github.com/remiblancher/qkeystore/internal/observability"
)

const formatVersion = 1

var (
	bucketMeta         = []byte("meta")
	bucketEntries      = []byte("entries")
	bucketCertificates = []byte("certificates")

	keyHeader = []byte("header")

	checkPlaintext = []byte("qkeystore container")
)

// Sentinel errors for container operations.
var (
	// ErrLocked indicates the container password is wrong.
	ErrLocked = errors.New("container password rejected")

	// ErrCorrupted indicates a record failed to decode or authenticate.
	ErrCorrupted = errors.New("container corrupted")
)

// Options configure a Store.
type Options struct {
	// Cipher seals records of new containers; AES-256-GCM when empty.
	Cipher qcrypto.Cipher
	// KDF is the Argon2id cost for new containers.
	KDF qcrypto.Argon2Params
	// Timeout bounds the wait for the file lock.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Store is a bbolt-backed keystore container.
type Store struct {
	db     *bbolt.DB
	path   string
	lock   LockResolver
	cipher qcrypto.Cipher
	kdf    qcrypto.Argon2Params
	log    *slog.Logger
}

// Open opens or creates the container at path.
func Open(path string, lock LockResolver, opts Options) (*Store, error) {
	if lock == nil {
		return nil, fmt.Errorf("lock resolver is required")
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = time.Second
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}

	s := &Store{
		db:     db,
		path:   path,
		lock:   lock,
		cipher: opts.Cipher,
		kdf:    opts.KDF,
		log:    observability.OrNoop(opts.Logger),
	}
	if s.cipher == "" {
		s.cipher = qcrypto.CipherAES256GCM
	}
	if s.kdf == (qcrypto.Argon2Params{}) {
		s.kdf = qcrypto.DefaultArgon2Params()
	}
	return s, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the container file path.
func (s *Store) Path() string { return s.path }

// Save replaces the container contents with a snapshot of ks.
func (s *Store) Save(ctx context.Context, ks *keystore.KeyStore) error {
	snap := ks.Snapshot()

	return s.db.Update(func(tx *bbolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		hdr, created, err := s.header(meta)
		if err != nil {
			return err
		}
		key, err := s.unlock(ctx, hdr)
		if err != nil {
			return err
		}
		defer qcrypto.Wipe(key)
		if created {
			raw, err := cbor.Marshal(hdr)
			if err != nil {
				return err
			}
			if err := meta.Put(keyHeader, raw); err != nil {
				return err
			}
		}

		for _, name := range [][]byte{bucketEntries, bucketCertificates} {
			if tx.Bucket(name) != nil {
				if err := tx.DeleteBucket(name); err != nil {
					return err
				}
			}
		}
		certs, err := tx.CreateBucket(bucketCertificates)
		if err != nil {
			return err
		}
		entries, err := tx.CreateBucket(bucketEntries)
		if err != nil {
			return err
		}

		for _, c := range snap.Certificates {
			if err := ctx.Err(); err != nil {
				return err
			}
			sum := sha256.Sum256(c.Raw())
			id := []byte(hex.EncodeToString(sum[:]))
			if err := s.put(certs, bucketCertificates, hdr.Cipher, key, id, c.Raw()); err != nil {
				return err
			}
		}
		for alias, e := range snap.Entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, err := toEntryRecord(e)
			if err != nil {
				return fmt.Errorf("entry %q: %w", alias, err)
			}
			data, err := cbor.Marshal(rec)
			if err != nil {
				return fmt.Errorf("entry %q: %w", alias, err)
			}
			if err := s.put(entries, bucketEntries, hdr.Cipher, key, []byte(alias), data); err != nil {
				return err
			}
		}

		s.log.Info("keystore saved", "path", s.path, "entries", len(snap.Entries), "certificates", len(snap.Certificates))
		return nil
	})
}

// Load reads the container and restores its contents into ks.
// An empty container leaves ks empty.
func (s *Store) Load(ctx context.Context, ks *keystore.KeyStore) error {
	var snap keystore.Snapshot

	err := s.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta == nil || meta.Get(keyHeader) == nil {
			snap.Entries = map[string]keystore.Entry{}
			return nil
		}
		hdr, _, err := s.header(meta)
		if err != nil {
			return err
		}
		key, err := s.unlock(ctx, hdr)
		if err != nil {
			return err
		}
		defer qcrypto.Wipe(key)

		if b := tx.Bucket(bucketCertificates); b != nil {
			err := b.ForEach(func(k, v []byte) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				der, err := s.get(hdr.Cipher, key, bucketCertificates, k, v)
				if err != nil {
					return err
				}
				c, err := certificate.Parse(der)
				if err != nil {
					return fmt.Errorf("%w: certificate %s: %v", ErrCorrupted, k, err)
				}
				snap.Certificates = append(snap.Certificates, c)
				return nil
			})
			if err != nil {
				return err
			}
		}

		snap.Entries = make(map[string]keystore.Entry)
		if b := tx.Bucket(bucketEntries); b != nil {
			err := b.ForEach(func(k, v []byte) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				data, err := s.get(hdr.Cipher, key, bucketEntries, k, v)
				if err != nil {
					return err
				}
				var rec entryRecord
				if err := cbor.Unmarshal(data, &rec); err != nil {
					return fmt.Errorf("%w: entry %q: %v", ErrCorrupted, k, err)
				}
				e, err := rec.entry()
				if err != nil {
					return fmt.Errorf("%w: entry %q: %v", ErrCorrupted, k, err)
				}
				snap.Entries[string(k)] = e
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := ks.Restore(snap); err != nil {
		return err
	}
	s.log.Info("keystore loaded", "path", s.path, "entries", len(snap.Entries))
	return nil
}

// header returns the container header, or a fresh one for a new container.
func (s *Store) header(meta *bbolt.Bucket) (*header, bool, error) {
	if raw := meta.Get(keyHeader); raw != nil {
		var hdr header
		if err := cbor.Unmarshal(raw, &hdr); err != nil {
			return nil, false, fmt.Errorf("%w: header: %v", ErrCorrupted, err)
		}
		if hdr.Version != formatVersion {
			return nil, false, fmt.Errorf("%w: unsupported format version %d", ErrCorrupted, hdr.Version)
		}
		return &hdr, false, nil
	}

	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, false, fmt.Errorf("generating salt: %w", err)
	}
	return &header{Version: formatVersion, Cipher: s.cipher, KDF: s.kdf, Salt: salt}, true, nil
}

// unlock derives the container key and checks it against the header,
// filling in the check value of a new header.
func (s *Store) unlock(ctx context.Context, hdr *header) ([]byte, error) {
	password, err := s.lock.ContainerPassword(ctx, s.path)
	if err != nil {
		return nil, fmt.Errorf("resolving container password: %w", err)
	}
	defer qcrypto.Wipe(password)

	key := qcrypto.DeriveKey(password, hdr.Salt, hdr.KDF, hdr.Cipher.KeySize())
	if hdr.Check == nil {
		check, err := qcrypto.Seal(hdr.Cipher, key, checkPlaintext, keyHeader)
		if err != nil {
			qcrypto.Wipe(key)
			return nil, err
		}
		hdr.Check = check
		return key, nil
	}
	if _, err := qcrypto.Open(hdr.Cipher, key, hdr.Check, keyHeader); err != nil {
		qcrypto.Wipe(key)
		s.log.Warn("container password rejected", "path", s.path)
		return nil, ErrLocked
	}
	return key, nil
}

func (s *Store) put(b *bbolt.Bucket, bucket []byte, c qcrypto.Cipher, key, id, plaintext []byte) error {
	sealed, err := qcrypto.Seal(c, key, plaintext, aad(bucket, id))
	if err != nil {
		return err
	}
	return b.Put(id, sealed)
}

func (s *Store) get(c qcrypto.Cipher, key, bucket, id, sealed []byte) ([]byte, error) {
	plain, err := qcrypto.Open(c, key, sealed, aad(bucket, id))
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrCorrupted, bucket, id)
	}
	return plain, nil
}

func aad(bucket, id []byte) []byte {
	out := make([]byte, 0, len(bucket)+1+len(id))
	out = append(out, bucket...)
	out = append(out, ':')
	return append(out, id...)
}
