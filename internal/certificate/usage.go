package certificate

import (
	"crypto/x509"
	"fmt"
	"strings"
)

// Usage is a set of permitted key uses.
type Usage uint16

const (
	UsageCertify Usage = 1 << iota
	UsageSignData
	UsageAgreeKeys
	UsageKeyEncrypt
	UsageDataEncrypt
	UsageEncryptOnly
	UsageDecryptOnly
	UsageNonRepudiation
)

var usageNames = []struct {
	u    Usage
	name string
	ku   x509.KeyUsage
}{
	{UsageCertify, "certify", x509.KeyUsageCertSign | x509.KeyUsageCRLSign},
	{UsageSignData, "sign-data", x509.KeyUsageDigitalSignature},
	{UsageAgreeKeys, "agree-keys", x509.KeyUsageKeyAgreement},
	{UsageKeyEncrypt, "key-encrypt", x509.KeyUsageKeyEncipherment},
	{UsageDataEncrypt, "data-encrypt", x509.KeyUsageDataEncipherment},
	{UsageEncryptOnly, "encrypt-only", x509.KeyUsageEncipherOnly},
	{UsageDecryptOnly, "decrypt-only", x509.KeyUsageDecipherOnly},
	{UsageNonRepudiation, "non-repudiation", x509.KeyUsageContentCommitment},
}

// Has reports whether every usage in v is present in u.
func (u Usage) Has(v Usage) bool {
	return u&v == v
}

// KeyUsage maps the set onto X.509 key usage bits.
func (u Usage) KeyUsage() x509.KeyUsage {
	var ku x509.KeyUsage
	for _, n := range usageNames {
		if u.Has(n.u) {
			ku |= n.ku
		}
	}
	return ku
}

// UsageFromKeyUsage maps X.509 key usage bits onto a usage set.
// certify requires keyCertSign; cRLSign alone does not grant it.
func UsageFromKeyUsage(ku x509.KeyUsage) Usage {
	var u Usage
	for _, n := range usageNames {
		if n.u == UsageCertify {
			if ku&x509.KeyUsageCertSign != 0 {
				u |= UsageCertify
			}
			continue
		}
		if ku&n.ku != 0 {
			u |= n.u
		}
	}
	return u
}

// String returns the comma-separated usage names.
func (u Usage) String() string {
	var parts []string
	for _, n := range usageNames {
		if u.Has(n.u) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, ",")
}

// ParseUsage parses a comma-separated list of usage names.
func ParseUsage(s string) (Usage, error) {
	var u Usage
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		found := false
		for _, n := range usageNames {
			if n.name == part {
				u |= n.u
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown key usage: %q", part)
		}
	}
	return u, nil
}
