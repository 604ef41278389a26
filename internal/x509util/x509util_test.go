package x509util

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"testing"
)

// =============================================================================
// [Unit] Key Usage Encoding
// =============================================================================

func TestU_KeyUsage_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		ku   x509.KeyUsage
		bits int
	}{
		{"[Unit] KeyUsage: digitalSignature", x509.KeyUsageDigitalSignature, 1},
		{"[Unit] KeyUsage: certSign+crlSign", x509.KeyUsageCertSign | x509.KeyUsageCRLSign, 7},
		{"[Unit] KeyUsage: keyAgreement+encipherOnly", x509.KeyUsageKeyAgreement | x509.KeyUsageEncipherOnly, 8},
		{"[Unit] KeyUsage: decipherOnly", x509.KeyUsageKeyAgreement | x509.KeyUsageDecipherOnly, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bs := EncodeKeyUsage(tt.ku)
			if bs.BitLength != tt.bits {
				t.Errorf("BitLength = %d, want %d", bs.BitLength, tt.bits)
			}
			if got := DecodeKeyUsage(bs); got != tt.ku {
				t.Errorf("DecodeKeyUsage() = %v, want %v", got, tt.ku)
			}
		})
	}
}

func TestU_KeyUsageExt_Parse(t *testing.T) {
	ext, err := BuildKeyUsageExt(x509.KeyUsageKeyEncipherment | x509.KeyUsageDataEncipherment)
	if err != nil {
		t.Fatalf("BuildKeyUsageExt() failed: %v", err)
	}
	if !ext.Critical {
		t.Error("KeyUsage extension should be critical")
	}
	ku, err := ParseKeyUsageExt(ext.Value)
	if err != nil {
		t.Fatalf("ParseKeyUsageExt() failed: %v", err)
	}
	if ku != x509.KeyUsageKeyEncipherment|x509.KeyUsageDataEncipherment {
		t.Errorf("ParseKeyUsageExt() = %v", ku)
	}
}

// =============================================================================
// [Unit] Basic Constraints
// =============================================================================

func TestU_BasicConstraints_PathLen(t *testing.T) {
	zero, three := 0, 3
	tests := []struct {
		name    string
		isCA    bool
		pathLen *int
	}{
		{"[Unit] BasicConstraints: CA unlimited", true, nil},
		{"[Unit] BasicConstraints: CA zero", true, &zero},
		{"[Unit] BasicConstraints: CA three", true, &three},
		{"[Unit] BasicConstraints: end entity", false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext, err := BuildBasicConstraintsExt(tt.isCA, tt.pathLen)
			if err != nil {
				t.Fatalf("BuildBasicConstraintsExt() failed: %v", err)
			}
			isCA, pathLen, err := ParseBasicConstraintsExt(ext.Value)
			if err != nil {
				t.Fatalf("ParseBasicConstraintsExt() failed: %v", err)
			}
			if isCA != tt.isCA {
				t.Errorf("isCA = %v, want %v", isCA, tt.isCA)
			}
			if (pathLen == nil) != (tt.pathLen == nil) {
				t.Fatalf("pathLen = %v, want %v", pathLen, tt.pathLen)
			}
			if pathLen != nil && *pathLen != *tt.pathLen {
				t.Errorf("pathLen = %d, want %d", *pathLen, *tt.pathLen)
			}
		})
	}
}

// =============================================================================
// [Unit] Key Identifiers and Names
// =============================================================================

func TestU_KeyIdentifiers_RoundTrip(t *testing.T) {
	id := []byte{1, 2, 3, 4, 5}
	ski, _ := BuildSubjectKeyIdExt(id)
	got, err := ParseSubjectKeyIdExt(ski.Value)
	if err != nil || string(got) != string(id) {
		t.Errorf("ParseSubjectKeyIdExt() = %x, %v", got, err)
	}
	aki, _ := BuildAuthorityKeyIdExt(id)
	got, err = ParseAuthorityKeyIdExt(aki.Value)
	if err != nil || string(got) != string(id) {
		t.Errorf("ParseAuthorityKeyIdExt() = %x, %v", got, err)
	}
	if FindExtension([]pkix.Extension{ski, aki}, OIDExtAuthorityKeyId) == nil {
		t.Error("FindExtension() should locate the AKI")
	}
}

func TestU_Name_Canonical(t *testing.T) {
	der, err := MarshalName(pkix.Name{CommonName: "Root", Organization: []string{"Example"}})
	if err != nil {
		t.Fatalf("MarshalName() failed: %v", err)
	}
	s, err := CanonicalName(der)
	if err != nil {
		t.Fatalf("CanonicalName() failed: %v", err)
	}
	if s != "CN=Root,O=Example" {
		t.Errorf("CanonicalName() = %q", s)
	}
	name, err := ParseName(der)
	if err != nil || name.CommonName != "Root" {
		t.Errorf("ParseName() = %v, %v", name, err)
	}
	if _, err := ParseName([]byte{0x30, 0x05}); err == nil {
		t.Error("ParseName() should reject truncated input")
	}
}
