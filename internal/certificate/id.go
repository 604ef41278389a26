package certificate

import (
	"encoding/hex"
)

// ID identifies a certificate's subject or issuer: its canonical
// distinguished name and the key identifier of the corresponding key.
// IDs are comparable and used as map keys.
type ID struct {
	Name  string
	KeyID string
}

// String returns a printable form of the ID.
func (id ID) String() string {
	if id.KeyID == "" {
		return id.Name
	}
	return id.Name + " [" + id.KeyID + "]"
}

// IsZero reports whether the ID is empty.
func (id ID) IsZero() bool {
	return id == ID{}
}

// KeyIDBytes returns the decoded key identifier.
func (id ID) KeyIDBytes() []byte {
	b, _ := hex.DecodeString(id.KeyID)
	return b
}

func newID(name string, keyID []byte) ID {
	return ID{Name: name, KeyID: hex.EncodeToString(keyID)}
}

// Key addresses a certificate in the trust graph by its issuer and subject.
type Key struct {
	Issuer  ID
	Subject ID
}

// IsSelfSigned reports whether the key addresses a self-signed certificate.
func (k Key) IsSelfSigned() bool {
	return k.Issuer == k.Subject
}
