package dto

// CertificateInfo describes one certificate of the trust graph.
type CertificateInfo struct {
	Subject      string       `json:"subject"`
	Issuer       string       `json:"issuer"`
	SerialNumber string       `json:"serial_number"` // hex
	Validity     ValidityInfo `json:"validity"`
	Usage        string       `json:"usage,omitempty"`
	IsCA         bool         `json:"is_ca"`
	// Fingerprint is the hex SHA-256 of the DER certificate.
	Fingerprint string `json:"fingerprint"`
}

// EntryInfo describes the entry stored under an alias. Secrets are never
// exposed.
type EntryInfo struct {
	Alias string `json:"alias"`
	// Kind is trusted-certificate, private-key, symmetric-key or symmetric-key-set.
	Kind      string            `json:"kind"`
	Algorithm string            `json:"algorithm,omitempty"`
	Chain     []CertificateInfo `json:"chain,omitempty"`
}

// AliasListResponse is the response for GET /api/v1/keystore/aliases.
type AliasListResponse struct {
	Entries    []EntryInfo        `json:"entries"`
	Pagination PaginationResponse `json:"pagination"`
}

// TrustAnchorListResponse is the response for GET /api/v1/keystore/anchors.
type TrustAnchorListResponse struct {
	Anchors []CertificateInfo `json:"anchors"`
}
