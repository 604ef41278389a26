// Package crmf implements a CRMF (RFC 4211) style enrollment exchange: the
// request builder with its three proof-of-possession strategies, the
// password-based MAC and the responder that verifies requests and issues
// certificates from a keystore.
package crmf

import (
	"crypto"
	"encoding/asn1"
)

var (
	// id-PasswordBasedMac (RFC 4211 Section 4.4)
	OIDPasswordBasedMac = asn1.ObjectIdentifier{1, 2, 840, 113533, 7, 66, 13}

	OIDSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	OIDSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	OIDSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}

	OIDHMACWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 9}
	OIDHMACWithSHA384 = asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 10}
	OIDHMACWithSHA512 = asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 11}
)

var owfOIDs = []struct {
	hash crypto.Hash
	oid  asn1.ObjectIdentifier
	hmac asn1.ObjectIdentifier
}{
	{crypto.SHA256, OIDSHA256, OIDHMACWithSHA256},
	{crypto.SHA384, OIDSHA384, OIDHMACWithSHA384},
	{crypto.SHA512, OIDSHA512, OIDHMACWithSHA512},
}

func hashOID(h crypto.Hash) (asn1.ObjectIdentifier, bool) {
	for _, e := range owfOIDs {
		if e.hash == h {
			return e.oid, true
		}
	}
	return nil, false
}

func hmacOID(h crypto.Hash) (asn1.ObjectIdentifier, bool) {
	for _, e := range owfOIDs {
		if e.hash == h {
			return e.hmac, true
		}
	}
	return nil, false
}

func hashFromOID(oid asn1.ObjectIdentifier) (crypto.Hash, bool) {
	for _, e := range owfOIDs {
		if e.oid.Equal(oid) {
			return e.hash, true
		}
	}
	return 0, false
}

func hashFromHMACOID(oid asn1.ObjectIdentifier) (crypto.Hash, bool) {
	for _, e := range owfOIDs {
		if e.hmac.Equal(oid) {
			return e.hash, true
		}
	}
	return 0, false
}
