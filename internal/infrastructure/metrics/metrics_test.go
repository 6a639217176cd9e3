package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"/api/v1/leaderboard", "/api/v1/leaderboard"},
		{"/api/v1/submissions/6f1c2a4e-8d0b-4c55-9d6e-2f7a1b3c4d5e/review", "/api/v1/submissions/:id/review"},
		{"/api/v1/users/6f1c2a4e-8d0b-4c55-9d6e-2f7a1b3c4d5e/ledger", "/api/v1/users/:id/ledger"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanonicalPath(tt.in), tt.in)
	}
}

// scrape returns the text exposition of every registered collector.
func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestLedgerCounters(t *testing.T) {
	m := New()

	m.RecordLedgerEntry("task_completion", 50)
	m.RecordLedgerEntry("task_completion", 25)
	m.RecordLedgerEntry("admin_deduction", -10)
	m.RecordInvariantViolation("reconcile")

	out := scrape(t, m)
	assert.Contains(t, out, `learnfi_hub_ledger_xp_awarded_total{source_type="task_completion"} 75`)
	assert.Contains(t, out, `learnfi_hub_ledger_entries_total{direction="credit",source_type="task_completion"} 2`)
	assert.Contains(t, out, `learnfi_hub_ledger_entries_total{direction="debit",source_type="admin_deduction"} 1`)
	assert.Contains(t, out, `learnfi_hub_ledger_invariant_violations_total{detector="reconcile"} 1`)
	assert.NotContains(t, out, `xp_awarded_total{source_type="admin_deduction"}`)
}

func TestObservers(t *testing.T) {
	m := New()

	m.ObserveVerdict("quiz", "verified")
	m.ObserveAutoVerifyFailure("quiz")
	m.ObserveEventHandled("ledger.xp_awarded", time.Millisecond, true)
	m.RecordJobRun("reconcile_ledger", time.Second, false)

	out := scrape(t, m)
	assert.Contains(t, out, `learnfi_hub_verification_verdicts_total{outcome="verified",task_type="quiz"} 1`)
	assert.Contains(t, out, `learnfi_hub_verification_transaction_failures_total{task_type="quiz"} 1`)
	assert.Contains(t, out, `learnfi_hub_events_handled_total{event_type="ledger.xp_awarded",success="true"} 1`)
	assert.Contains(t, out, `learnfi_hub_scheduler_job_runs_total{job="reconcile_ledger",success="false"} 1`)
}

func TestInstrumentHandler(t *testing.T) {
	m := New()
	h := m.InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/6f1c2a4e-8d0b-4c55-9d6e-2f7a1b3c4d5e", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	out := scrape(t, m)
	assert.Contains(t, out, `learnfi_hub_http_requests_total{method="GET",path="/api/v1/tasks/:id",status="418"} 1`)
}
