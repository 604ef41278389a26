package main

import (
	"os"
	"strings"
	"testing"
)

// =============================================================================
// Audit Commands
// =============================================================================

func TestU_Audit_VerifyAndTail(t *testing.T) {
	tc := newTestContext(t)
	logPath := tc.path("audit.jsonl")

	tc.run("--audit-log", logPath, "cert", "selfsign", "signer", "--cn", "Audited Root", "--anchor", "root")
	tc.run("--audit-log", logPath, "keystore", "delete", "root")

	out := tc.run("audit", "verify", logPath)
	if !strings.Contains(out, "VERIFICATION PASSED") {
		t.Errorf("verify output:\n%s", out)
	}

	out = tc.run("audit", "tail", logPath, "-n", "1")
	if !strings.Contains(out, "ENTRY_DELETED") || !strings.Contains(out, "alias=root") {
		t.Errorf("tail output:\n%s", out)
	}
}

func TestU_Audit_VerifyTampered(t *testing.T) {
	tc := newTestContext(t)
	logPath := tc.path("audit.jsonl")
	tc.run("--audit-log", logPath, "cert", "selfsign", "signer", "--cn", "Audited Root")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	tampered := strings.Replace(string(data), `"alias":"signer"`, `"alias":"forged"`, 1)
	if tampered == string(data) {
		t.Fatal("audit log does not mention the stored alias")
	}
	if err := os.WriteFile(logPath, []byte(tampered), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	if _, err := tc.exec("audit", "verify", logPath); err == nil {
		t.Error("verify should fail on a tampered log")
	}
}
