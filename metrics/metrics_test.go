package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskpet/memcore/metrics"
)

func TestMetrics_Record(t *testing.T) {
	m := metrics.New()
	m.ObserveTurn("add", 3*time.Millisecond)
	m.ObserveTurn("add", time.Millisecond)
	m.ObserveTurn("none", time.Millisecond)
	m.Stored("explicit")
	m.Deleted(3)
	m.Deleted(0)
	m.SetRecords(5, 2)
	m.PersistFailed()

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	series := 0
	for _, f := range families {
		if f.GetName() == "memcore_turns_total" {
			series = len(f.GetMetric())
		}
	}
	assert.Equal(t, 2, series, "one series per action")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `memcore_turns_total{action="add"} 2`)
	assert.Contains(t, body, `memcore_memories_deleted_total 3`)
	assert.Contains(t, body, `memcore_memory_records{state="active"} 5`)
	assert.Contains(t, body, `memcore_persist_failures_total 1`)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics
	m.ObserveTurn("add", time.Second)
	m.Stored("explicit")
	m.Deleted(1)
	m.SetRecords(1, 1)
	m.PersistFailed()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
