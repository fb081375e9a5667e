package telemetry

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	dberrors "github.com/odvcencio/dbgate/pkg/errors"
)

func TestRecordDenialIncrementsCounter(t *testing.T) {
	RecordDenial(dberrors.ErrRateLimited)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	require.Contains(t, body, "dbgate_denials_total")
	require.Contains(t, body, `code="RATE_LIMITED"`)
}

func TestSetInFlightReflectsScopeGauge(t *testing.T) {
	SetInFlight("tenant:acme", 3)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	require.True(t, strings.Contains(body, `dbgate_quota_in_flight{scope="tenant:acme"} 3`))
}

func TestObserveExecutorLatencyRecordsToHistogram(t *testing.T) {
	ObserveExecutorLatency(120)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)

	require.Contains(t, rec.Body.String(), "dbgate_executor_query_duration_ms")
}

func TestRecordAuditFailureIncrementsCounter(t *testing.T) {
	before := currentAuditFailures(t)
	RecordAuditFailure()
	after := currentAuditFailures(t)
	require.Equal(t, before+1, after)
}

func currentAuditFailures(t *testing.T) float64 {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)
	body := rec.Body.String()
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "dbgate_audit_failures_total ") {
			var v float64
			_, err := fmt.Sscanf(line, "dbgate_audit_failures_total %f", &v)
			require.NoError(t, err)
			return v
		}
	}
	return 0
}
