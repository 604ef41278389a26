package certificate

import (
	"errors"
	"testing"
	"time"

	qcrypto "github.com/remiblancher/qkeystore/internal/crypto"
)

func trustOnly(anchor *Certificate) func(*Certificate) bool {
	return func(c *Certificate) bool { return c.Equal(anchor) }
}

// =============================================================================
// ValidateAgainstSigner / ValidateAsRoot
// =============================================================================

func TestU_Certificate_ValidateAgainstSigner_SelfSigned(t *testing.T) {
	_, root := createRoot(t, qcrypto.AlgECDSAP256, "Root")
	if err := root.ValidateAgainstSigner(root); !errors.Is(err, ErrInvalidChain) {
		t.Fatalf("expected ErrInvalidChain, got %v", err)
	}
}

func TestU_Certificate_ValidateAgainstSigner_WrongSigner(t *testing.T) {
	rootKP, root := createRoot(t, qcrypto.AlgECDSAP256, "Root")
	_, other := createRoot(t, qcrypto.AlgECDSAP256, "Other Root")
	_, leaf := issue(t, rootKP, root, qcrypto.AlgECDSAP256, "Leaf", UsageSignData)

	if err := leaf.ValidateAgainstSigner(other); !errors.Is(err, ErrInvalidChain) {
		t.Fatalf("expected ErrInvalidChain, got %v", err)
	}
}

func TestU_Certificate_ValidateAgainstSigner_ExpiredSigner(t *testing.T) {
	rootKP, root := createRoot(t, qcrypto.AlgECDSAP256, "Root")
	_, leaf := issue(t, rootKP, root, qcrypto.AlgECDSAP256, "Leaf", UsageSignData)

	later := root.NotAfter().Add(time.Hour)
	if err := leaf.ValidateAgainstSignerAt(root, later); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestU_Certificate_ValidateAsRoot_NotSelfSigned(t *testing.T) {
	rootKP, root := createRoot(t, qcrypto.AlgECDSAP256, "Root")
	_, sub := issue(t, rootKP, root, qcrypto.AlgECDSAP256, "Sub", UsageCertify)
	if err := sub.ValidateAsRoot(); !errors.Is(err, ErrInvalidChain) {
		t.Fatalf("expected ErrInvalidChain, got %v", err)
	}
}

func TestU_Certificate_ValidateAsRoot_TamperedSignature(t *testing.T) {
	_, root := createRoot(t, qcrypto.AlgECDSAP256, "Root")
	der := append([]byte(nil), root.Raw()...)
	der[len(der)-1] ^= 0xff

	tampered, err := Parse(der)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if err := tampered.ValidateAsRoot(); !errors.Is(err, ErrInvalidChain) {
		t.Fatalf("expected ErrInvalidChain, got %v", err)
	}
}

// =============================================================================
// ValidateChain
// =============================================================================

func TestU_ValidateChain_ThreeLevels(t *testing.T) {
	rootKP, root := createRoot(t, qcrypto.AlgECDSAP384, "Root")
	subKP, sub := issue(t, rootKP, root, qcrypto.AlgMLDSA65, "Intermediate", UsageCertify|UsageSignData)
	leafKP, leaf := issue(t, subKP, sub, qcrypto.AlgEd25519, "Leaf", UsageSignData)

	chain := []*Certificate{leaf, sub, root}
	if err := ValidateChain(chain, leafKP.PublicKey, trustOnly(root)); err != nil {
		t.Fatalf("ValidateChain() failed: %v", err)
	}
	if err := ValidateChain(chain, leafKP.PublicKey, trustOnly(root)); err != nil {
		t.Fatalf("second ValidateChain() failed: %v", err)
	}
}

func TestU_ValidateChain_UntrustedRoot(t *testing.T) {
	rootKP, root := createRoot(t, qcrypto.AlgECDSAP256, "Root")
	leafKP, leaf := issue(t, rootKP, root, qcrypto.AlgECDSAP256, "Leaf", UsageSignData)

	err := ValidateChain([]*Certificate{leaf, root}, leafKP.PublicKey, func(*Certificate) bool { return false })
	if !errors.Is(err, ErrInvalidChain) {
		t.Fatalf("expected ErrInvalidChain, got %v", err)
	}
}

func TestU_ValidateChain_HolderKeyMismatch(t *testing.T) {
	rootKP, root := createRoot(t, qcrypto.AlgECDSAP256, "Root")
	_, leaf := issue(t, rootKP, root, qcrypto.AlgECDSAP256, "Leaf", UsageSignData)
	other := generateKeyPair(t, qcrypto.AlgECDSAP256)

	err := ValidateChain([]*Certificate{leaf, root}, other.PublicKey, trustOnly(root))
	if !errors.Is(err, ErrInvalidChain) {
		t.Fatalf("expected ErrInvalidChain, got %v", err)
	}
}

func TestU_ValidateChain_OutOfOrder(t *testing.T) {
	rootKP, root := createRoot(t, qcrypto.AlgECDSAP256, "Root")
	subKP, sub := issue(t, rootKP, root, qcrypto.AlgECDSAP256, "Intermediate", UsageCertify)
	leafKP, leaf := issue(t, subKP, sub, qcrypto.AlgECDSAP256, "Leaf", UsageSignData)

	err := ValidateChain([]*Certificate{leaf, root, sub}, leafKP.PublicKey, trustOnly(root))
	if !errors.Is(err, ErrInvalidChain) {
		t.Fatalf("expected ErrInvalidChain, got %v", err)
	}
}

func TestU_ValidateChain_SingleRoot(t *testing.T) {
	rootKP, root := createRoot(t, qcrypto.AlgECDSAP256, "Root")
	if err := ValidateChain([]*Certificate{root}, rootKP.PublicKey, nil); err != nil {
		t.Fatalf("single self-signed chain should validate without trust callback: %v", err)
	}
}

func TestU_ValidateChain_Empty(t *testing.T) {
	if err := ValidateChain(nil, nil, nil); !errors.Is(err, ErrInvalidChain) {
		t.Fatalf("expected ErrInvalidChain, got %v", err)
	}
}
