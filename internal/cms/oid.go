// Package cms implements the subset of CMS EnvelopedData (RFC 5652) used to
// wrap key material and enrollment responses for a single recipient
// certificate. Recipients are reached by key transport (KTRI), key agreement
// (KARI) or a KEM (KEMRI, RFC 9629).
package cms

import "encoding/asn1"

// Content types
var (
	OIDData          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	OIDEnvelopedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 3}

	// id-ct-encKeyWithID (RFC 4211 Section 4.4)
	OIDEncKeyWithID = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 21}
)

// Key management OIDs
var (
	// RSAES-OAEP (RFC 4055)
	OIDRSAOAEP = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 7}
	OIDMGF1    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 8}

	// ElGamal key transport
	OIDElGamal = asn1.ObjectIdentifier{1, 3, 14, 7, 2, 1, 1}

	// dhSinglePass-stdDH-sha256kdf-scheme (RFC 5753)
	OIDECDHStdSHA256KDF = asn1.ObjectIdentifier{1, 3, 132, 1, 11, 1}

	// id-ori-kem (RFC 9629)
	OIDOriKEM = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 13, 3}

	// id-alg-hkdf-with-sha256 (RFC 8619)
	OIDHKDFSHA256 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 3, 28}

	// id-aes256-wrap (RFC 3394)
	OIDAESWrap256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 1, 45}
)

// Content encryption and hash OIDs
var (
	OIDAES256GCM = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 1, 46}
	OIDSHA256    = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
)
