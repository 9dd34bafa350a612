package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *http.ServeMux) {
	t.Helper()

	registry := NewRegistry()
	registry.NewCounter("test_requests_total", "Test counter", nil).Inc()

	monitor := NewHealthMonitor(time.Minute)
	monitor.Register("feed", func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusHealthy, LastChecked: time.Now()}
	})
	monitor.Check(context.Background())

	positions := func() any {
		return []map[string]string{{"mint": "So11111111111111111111111111111111111111112"}}
	}
	stats := func() any {
		return map[string]int{"fills": 3}
	}

	srv := NewServer(ControlConfig{Port: 8090, Enabled: true}, registry, monitor, positions, stats)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealthz)
	mux.Handle("/metrics", srv.exporter)
	mux.HandleFunc("/positions", srv.handlePositions)
	mux.HandleFunc("/stats", srv.handleStats)
	mux.HandleFunc("/pause", srv.handlePause)
	mux.HandleFunc("/resume", srv.handleResume)
	return srv, mux
}

func TestControlServer_Healthz(t *testing.T) {
	_, mux := newTestServer(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var health SystemHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, StatusHealthy, health.Status)
	assert.Contains(t, health.Components, "feed")
}

func TestControlServer_Metrics(t *testing.T) {
	_, mux := newTestServer(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_requests_total")
}

func TestControlServer_Positions(t *testing.T) {
	_, mux := newTestServer(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/positions", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "So11111111111111111111111111111111111111112")
}

func TestControlServer_PauseResume(t *testing.T) {
	srv, mux := newTestServer(t)

	assert.False(t, srv.Paused())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pause", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, srv.Paused())

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/resume", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, srv.Paused())
}

func TestControlServer_PauseRequiresPost(t *testing.T) {
	srv, mux := newTestServer(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pause", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.False(t, srv.Paused())
}

func TestControlServer_Stats(t *testing.T) {
	_, mux := newTestServer(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Contains(t, payload, "paused")
	assert.Contains(t, payload, "stats")
}
