package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRequest(t *testing.T) {
	c := NewCollector()

	req := httptest.NewRequest(http.MethodGet, "https://quickbooks.api.intuit.com/v3/company/1/reports/BalanceSheet", nil)
	c.ObserveRequest(req, 200, 120*time.Millisecond, nil)
	c.ObserveRequest(req, 200, 80*time.Millisecond, nil)
	c.ObserveRequest(req, 0, time.Second, errors.New("reset"))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("BalanceSheet", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("BalanceSheet", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.httpLatency))
}

func TestStreamCounters(t *testing.T) {
	c := NewCollector()

	c.RecordsEmitted("balance_sheet", 40)
	c.RecordsEmitted("balance_sheet", 2)
	c.SliceCompleted("balance_sheet")
	c.TokenEvent("rotation")
	c.ArchiveWrite("gs", nil)
	c.ArchiveWrite("gs", errors.New("denied"))
	c.StreamFinished("balance_sheet", 3*time.Second)

	assert.Equal(t, 42.0, testutil.ToFloat64(c.recordsEmitted.WithLabelValues("balance_sheet")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.slicesCompleted.WithLabelValues("balance_sheet")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tokenEvents.WithLabelValues("rotation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.archiveWrites.WithLabelValues("gs", "error")))

	expected := `
# HELP qbo_source_records_emitted_total RECORD messages written per stream
# TYPE qbo_source_records_emitted_total counter
qbo_source_records_emitted_total{stream="balance_sheet"} 42
`
	require.NoError(t, testutil.CollectAndCompare(c.recordsEmitted, strings.NewReader(expected)))
}

func TestHandler(t *testing.T) {
	c := NewCollector()
	c.SliceCompleted("profit_and_loss")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `qbo_source_slices_completed_total{stream="profit_and_loss"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
