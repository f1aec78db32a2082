package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestSetupExportsMarketplaceMetrics(t *testing.T) {
	m, handler, err := Setup("marketplace-test")
	require.NoError(t, err)

	m.RecordListed("0x0000000000000000000000000000000000000000")
	m.RecordSold("0x0000000000000000000000000000000000000000", 10000, 1500)
	m.RecordCancelled()
	m.RecordFeesClaimed("0x0000000000000000000000000000000000000000", 1500)
	m.RecordFailure("buy", "NOT_LISTED")
	m.RecordSnapshotFailure()
	m.RecordEventFailure("archive")
	m.RecordHTTPRequest(context.Background(), http.MethodGet, "/v1/tradings", 200, 5*time.Millisecond)

	body := scrape(t, handler)
	for _, name := range []string{
		"mp_tradings_listed_total",
		"mp_tradings_sold_total",
		"mp_tradings_cancelled_total",
		"mp_fees_accrued_total",
		"mp_fees_claimed_total",
		"mp_operation_failures_total",
		"mp_snapshot_failures_total",
		"mp_event_delivery_failures_total",
		"mp_http_requests_total",
	} {
		assert.Contains(t, body, name)
	}
	assert.Contains(t, body, `kind="NOT_LISTED"`)
}

func TestSetupTwice(t *testing.T) {
	_, _, err := Setup("a")
	require.NoError(t, err)
	_, _, err = Setup("b")
	assert.NoError(t, err, "each setup uses its own registry")
}
