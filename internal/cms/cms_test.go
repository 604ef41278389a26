package cms

import (
	"bytes"
	"encoding/asn1"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/remiblancher/qkeystore/internal/certificate"
	qcrypto "github.com/remiblancher/qkeystore/internal/crypto"
)

// =============================================================================
// Seal / Open round trip
// =============================================================================

func TestF_Envelope_RoundTrip(t *testing.T) {
	tests := []struct {
		alg     qcrypto.AlgorithmID
		usage   certificate.Usage
		kind    RecipientKind
		version int
	}{
		{qcrypto.AlgRSA2048, certificate.UsageKeyEncrypt, KindKeyTransport, 0},
		{qcrypto.AlgElGamal2K, certificate.UsageKeyEncrypt, KindKeyTransport, 0},
		{qcrypto.AlgMLKEM768, certificate.UsageKeyEncrypt, KindKEM, 3},
		{qcrypto.AlgECDHP256, certificate.UsageAgreeKeys, KindKeyAgreement, 2},
		{qcrypto.AlgX25519, certificate.UsageAgreeKeys, KindKeyAgreement, 2},
		{qcrypto.AlgECDSAP384, certificate.UsageAgreeKeys, KindKeyAgreement, 2},
	}

	for _, tt := range tests {
		t.Run(string(tt.alg), func(t *testing.T) {
			rcpt := newTestRecipient(t, tt.alg, tt.usage)
			content := []byte("wrapped key material for " + string(tt.alg))

			der, err := Seal(rcpt.Certificate, content, &SealOptions{ContentType: OIDEncKeyWithID})
			if err != nil {
				t.Fatalf("Seal() error = %v", err)
			}

			env, err := Parse(der)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if !bytes.Equal(env.Raw(), der) {
				t.Error("Raw() should return the parsed bytes")
			}
			if env.data.Version != tt.version {
				t.Errorf("version = %d, want %d", env.data.Version, tt.version)
			}
			if !env.ContentType().Equal(OIDEncKeyWithID) {
				t.Errorf("ContentType() = %v, want %v", env.ContentType(), OIDEncKeyWithID)
			}

			recipients := env.Recipients()
			if len(recipients) != 1 {
				t.Fatalf("expected 1 recipient, got %d", len(recipients))
			}
			if recipients[0].Kind != tt.kind {
				t.Errorf("recipient kind = %s, want %s", recipients[0].Kind, tt.kind)
			}
			if !recipients[0].Matches(rcpt.Certificate) {
				t.Error("recipient should designate the sealing certificate")
			}

			got, err := env.Open(rcpt.KeyPair.PrivateKey, &OpenOptions{Recipient: rcpt.Certificate})
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if !bytes.Equal(got, content) {
				t.Errorf("Open() = %q, want %q", got, content)
			}
		})
	}
}

func TestU_Seal_DefaultContentType(t *testing.T) {
	rcpt := newTestRecipient(t, qcrypto.AlgX25519, certificate.UsageAgreeKeys)

	der, err := Seal(rcpt.Certificate, []byte("x"), nil)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	env, err := Parse(der)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !env.ContentType().Equal(OIDData) {
		t.Errorf("ContentType() = %v, want id-data", env.ContentType())
	}
}

func TestU_Seal_FreshSeedPerEnvelope(t *testing.T) {
	rcpt := newTestRecipient(t, qcrypto.AlgMLKEM768, certificate.UsageKeyEncrypt)

	a, err := Seal(rcpt.Certificate, []byte("same"), nil)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	b, err := Seal(rcpt.Certificate, []byte("same"), nil)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("two envelopes of the same content should differ")
	}
}

// =============================================================================
// Error cases
// =============================================================================

func TestU_Seal_UnsupportedRecipient(t *testing.T) {
	for _, alg := range []qcrypto.AlgorithmID{qcrypto.AlgEd25519, qcrypto.AlgMLDSA44} {
		t.Run(string(alg), func(t *testing.T) {
			rcpt := newTestRecipient(t, alg, certificate.UsageSignData)
			if _, err := Seal(rcpt.Certificate, []byte("x"), nil); !errors.Is(err, ErrUnsupportedRecipient) {
				t.Fatalf("expected ErrUnsupportedRecipient, got %v", err)
			}
		})
	}
}

func TestU_Seal_NilRecipient(t *testing.T) {
	if _, err := Seal(nil, []byte("x"), nil); err == nil {
		t.Fatal("Seal(nil) should fail")
	}
}

func TestU_Open_WrongKey(t *testing.T) {
	rcpt := newTestRecipient(t, qcrypto.AlgRSA2048, certificate.UsageKeyEncrypt)
	other := newTestRecipient(t, qcrypto.AlgRSA2048, certificate.UsageKeyEncrypt)

	der, err := Seal(rcpt.Certificate, []byte("secret"), nil)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	env, err := Parse(der)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	_, err = env.Open(other.KeyPair.PrivateKey, nil)
	if !errors.Is(err, ErrNoMatchingRecipient) {
		t.Fatalf("expected ErrNoMatchingRecipient, got %v", err)
	}
	if !errors.Is(err, qcrypto.ErrDecryption) {
		t.Errorf("expected the decryption failure to be wrapped, got %v", err)
	}
}

func TestU_Open_WrongKeyType(t *testing.T) {
	rcpt := newTestRecipient(t, qcrypto.AlgECDHP256, certificate.UsageAgreeKeys)
	kem := newTestRecipient(t, qcrypto.AlgMLKEM768, certificate.UsageKeyEncrypt)

	der, err := Seal(rcpt.Certificate, []byte("secret"), nil)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	env, err := Parse(der)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if _, err := env.Open(kem.KeyPair.PrivateKey, nil); !errors.Is(err, ErrNoMatchingRecipient) {
		t.Fatalf("expected ErrNoMatchingRecipient, got %v", err)
	}
}

func TestU_Open_RecipientFilter(t *testing.T) {
	rcpt := newTestRecipient(t, qcrypto.AlgX25519, certificate.UsageAgreeKeys)
	other := newTestRecipient(t, qcrypto.AlgX25519, certificate.UsageAgreeKeys)

	der, err := Seal(rcpt.Certificate, []byte("secret"), nil)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	env, err := Parse(der)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	_, err = env.Open(rcpt.KeyPair.PrivateKey, &OpenOptions{Recipient: other.Certificate})
	if !errors.Is(err, ErrNoMatchingRecipient) {
		t.Fatalf("expected ErrNoMatchingRecipient, got %v", err)
	}
	if errors.Is(err, qcrypto.ErrDecryption) {
		t.Error("filtered recipients should not be attempted")
	}
}

func TestU_Open_NilKey(t *testing.T) {
	rcpt := newTestRecipient(t, qcrypto.AlgX25519, certificate.UsageAgreeKeys)
	der, err := Seal(rcpt.Certificate, []byte("secret"), nil)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	env, err := Parse(der)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if _, err := env.Open(nil, nil); err == nil {
		t.Fatal("Open(nil) should fail")
	}
}

func TestU_Open_TamperedContent(t *testing.T) {
	rcpt := newTestRecipient(t, qcrypto.AlgMLKEM768, certificate.UsageKeyEncrypt)

	der, err := Seal(rcpt.Certificate, []byte("secret content"), nil)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	env, err := Parse(der)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	env.data.EncryptedContentInfo.EncryptedContent[0] ^= 0x01

	if _, err := env.Open(rcpt.KeyPair.PrivateKey, nil); !errors.Is(err, qcrypto.ErrDecryption) {
		t.Fatalf("expected ErrDecryption, got %v", err)
	}
}

func TestU_Parse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		der  []byte
	}{
		{"empty", nil},
		{"garbage", []byte{0x01, 0x02, 0x03}},
		{"not enveloped data", mustMarshal(t, asn1.RawValue{Tag: asn1.TagSequence, IsCompound: true})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.der); !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestU_Parse_TrailingData(t *testing.T) {
	rcpt := newTestRecipient(t, qcrypto.AlgX25519, certificate.UsageAgreeKeys)
	der, err := Seal(rcpt.Certificate, []byte("x"), nil)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if _, err := Parse(append(der, 0x00)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	der, err := asn1.Marshal(v)
	if err != nil {
		t.Fatalf("asn1.Marshal() error = %v", err)
	}
	return der
}

// =============================================================================
// Key wrap
// =============================================================================

func TestU_AESKeyWrap_RFC3394Vector(t *testing.T) {
	kek, _ := hex.DecodeString("000102030405060708090A0B0C0D0E0F101112131415161718191A1B1C1D1E1F")
	key, _ := hex.DecodeString("00112233445566778899AABBCCDDEEFF")
	want, _ := hex.DecodeString("64E8C3F9CE0F5BA263E9777905818A2A93C8191E7D6E8AE7")

	wrapped, err := aesKeyWrap(kek, key)
	if err != nil {
		t.Fatalf("aesKeyWrap() error = %v", err)
	}
	if !bytes.Equal(wrapped, want) {
		t.Fatalf("aesKeyWrap() = %X, want %X", wrapped, want)
	}

	unwrapped, err := aesKeyUnwrap(kek, wrapped)
	if err != nil {
		t.Fatalf("aesKeyUnwrap() error = %v", err)
	}
	if !bytes.Equal(unwrapped, key) {
		t.Errorf("aesKeyUnwrap() = %X, want %X", unwrapped, key)
	}
}

func TestU_AESKeyUnwrap_Integrity(t *testing.T) {
	kek := make([]byte, KEKSize)
	wrapped, err := aesKeyWrap(kek, make([]byte, SeedSize))
	if err != nil {
		t.Fatalf("aesKeyWrap() error = %v", err)
	}
	wrapped[len(wrapped)-1] ^= 0x80

	if _, err := aesKeyUnwrap(kek, wrapped); !errors.Is(err, qcrypto.ErrDecryption) {
		t.Fatalf("expected ErrDecryption, got %v", err)
	}
	if _, err := aesKeyUnwrap(kek, wrapped[:20]); !errors.Is(err, qcrypto.ErrDecryption) {
		t.Fatalf("expected ErrDecryption for a short input, got %v", err)
	}
}

func TestU_ContentKey_Deterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{0x42}, SeedSize)
	k1, n1, err := contentKey(seed)
	if err != nil {
		t.Fatalf("contentKey() error = %v", err)
	}
	k2, n2, _ := contentKey(seed)
	if !bytes.Equal(k1, k2) || !bytes.Equal(n1, n2) {
		t.Error("contentKey() should be deterministic")
	}
	if len(k1) != 32 || len(n1) != 12 {
		t.Errorf("contentKey() sizes = %d/%d, want 32/12", len(k1), len(n1))
	}
}
