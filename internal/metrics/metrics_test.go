package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type fakeStats struct{ entries, certs int }

func (f fakeStats) Size() int             { return f.entries }
func (f fakeStats) CertificateCount() int { return f.certs }

// =============================================================================
// Collectors
// =============================================================================

func TestU_Metrics_ObserveEnrollment(t *testing.T) {
	m, err := New(nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	m.ObserveEnrollment("signed", OutcomeIssued, 10*time.Millisecond)
	m.ObserveEnrollment("signed", OutcomeIssued, 20*time.Millisecond)
	m.ObserveEnrollment("encrypted", OutcomeRejected, time.Millisecond)
	m.ObserveEnrollment("", OutcomeError, time.Millisecond)

	body := scrape(t, m)
	for _, want := range []string{
		`qks_enroll_requests_total{outcome="issued",strategy="signed"} 2`,
		`qks_enroll_requests_total{outcome="rejected",strategy="encrypted"} 1`,
		`qks_enroll_requests_total{outcome="error",strategy="unknown"} 1`,
		`qks_enroll_duration_seconds_count{strategy="signed"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition lacks %q", want)
		}
	}
}

func TestU_Metrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveEnrollment("signed", OutcomeIssued, time.Second)
	m.ObserveHTTP(http.MethodGet, "/health", http.StatusOK, time.Second)
}

func TestU_Metrics_Handler(t *testing.T) {
	m, err := New(fakeStats{entries: 3, certs: 5})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	m.ObserveHTTP(http.MethodPost, "/api/v1/enroll", http.StatusOK, time.Millisecond)

	body := scrape(t, m)
	for _, want := range []string{
		"qks_keystore_entries 3",
		"qks_keystore_certificates 5",
		`qks_http_requests_total{method="POST",route="/api/v1/enroll",status="200"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition lacks %q", want)
		}
	}
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("ReadAll() failed: %v", err)
	}
	return string(body)
}
