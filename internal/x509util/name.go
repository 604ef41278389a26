package x509util

import (
	"bytes"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
)

// MarshalName encodes a distinguished name as DER.
func MarshalName(name pkix.Name) ([]byte, error) {
	return asn1.Marshal(name.ToRDNSequence())
}

// ParseName decodes a DER distinguished name.
func ParseName(der []byte) (pkix.Name, error) {
	var rdn pkix.RDNSequence
	rest, err := asn1.Unmarshal(der, &rdn)
	if err != nil {
		return pkix.Name{}, fmt.Errorf("malformed distinguished name: %w", err)
	}
	if len(rest) > 0 {
		return pkix.Name{}, fmt.Errorf("trailing data after distinguished name")
	}
	var name pkix.Name
	name.FillFromRDNSequence(&rdn)
	return name, nil
}

// CanonicalName returns the RFC 4514 form of a DER distinguished name.
func CanonicalName(der []byte) (string, error) {
	var rdn pkix.RDNSequence
	if _, err := asn1.Unmarshal(der, &rdn); err != nil {
		return "", fmt.Errorf("malformed distinguished name: %w", err)
	}
	return rdn.String(), nil
}

// NamesEqual compares two DER distinguished names byte for byte.
func NamesEqual(a, b []byte) bool {
	return bytes.Equal(a, b)
}
