package service

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsServiceSnapshot(t *testing.T) {
	m := NewMetricsService()
	m.ObserveHTTPRequest("GET", "/roster", 200, 10*time.Millisecond)
	m.ObserveStoreCall("put", 4*time.Millisecond, nil)
	m.ObserveStoreCall("delete", 2*time.Millisecond, errors.New("down"))
	m.SetRosterSizes(12, 5)
	m.RecordSnapshotPush()
	m.RecordSessionTransition("anonymous")

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.RequestsTotal)
	assert.Equal(t, uint64(2), snap.StoreCalls)
	assert.Equal(t, uint64(1), snap.StoreFailures)
	assert.InDelta(t, 3.0, snap.AverageStoreDurationMs, 0.001)
	assert.Equal(t, int64(12), snap.RosterSize)
	assert.Equal(t, int64(5), snap.VisibleSize)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `roster_store_calls_total{op="delete",outcome="error"} 1`))
	assert.True(t, strings.Contains(body, "roster_visible_students 5"))
}

func TestMetricsServiceNilSafe(t *testing.T) {
	var m *MetricsService
	m.ObserveStoreCall("put", time.Millisecond, nil)
	m.SetRosterSizes(1, 1)
	m.RecordSessionTransition("anonymous")
	assert.Equal(t, MetricsSnapshot{}, m.Snapshot())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
