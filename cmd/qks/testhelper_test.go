package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

// executeCommand executes a Cobra command with the given args and returns output.
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)

	err = root.Execute()
	return buf.String(), err
}

// testContext holds test resources.
type testContext struct {
	t       *testing.T
	tempDir string
}

// newTestContext creates a temp directory and points the keystore
// passwords at test values.
func newTestContext(t *testing.T) *testContext {
	t.Helper()
	t.Setenv("QKS_PASSWORD", "container-secret")
	t.Setenv("QKS_ENTRY_PASSWORD", "entry-secret")
	t.Setenv("QKS_MAC_SECRET", "")
	return &testContext{t: t, tempDir: t.TempDir()}
}

// path returns a path within the temp directory.
func (tc *testContext) path(name string) string {
	return filepath.Join(tc.tempDir, name)
}

// run executes qks against the test keystore and fails the test on error.
func (tc *testContext) run(args ...string) string {
	tc.t.Helper()
	out, err := tc.exec(args...)
	if err != nil {
		tc.t.Fatalf("qks %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

// exec executes qks against the test keystore with a fresh command tree.
func (tc *testContext) exec(args ...string) (string, error) {
	full := append([]string{"--keystore", tc.path("qks.db")}, args...)
	return executeCommand(newRootCmd(), full...)
}

// assertFileExists fails the test when path is missing or empty.
func (tc *testContext) assertFileExists(path string) {
	tc.t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		tc.t.Fatalf("expected %s to exist: %v", path, err)
	}
	if info.Size() == 0 {
		tc.t.Fatalf("expected %s to be non-empty", path)
	}
}

// createRoot stores a self-signed root under "signer" and its certificate
// as the trust anchor "root".
func (tc *testContext) createRoot() {
	tc.t.Helper()
	tc.run("cert", "selfsign", "signer", "--cn", "CLI Root", "--org", "Test Org", "--anchor", "root")
}
