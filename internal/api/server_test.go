package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/missilery-catalog/internal/catalog"
	"github.com/JakeFAU/missilery-catalog/internal/storage/memory"
)

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(Options{}), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDIsPropagated(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	NewServer(Options{}).Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestReadyzReportsEachCheck(t *testing.T) {
	t.Parallel()

	s := NewServer(Options{Checks: map[string]Check{
		"catalog": func(context.Context) error { return nil },
		"raw":     func(context.Context) error { return nil },
	}})
	rec := serve(t, s, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body.Status)
	assert.Equal(t, map[string]string{"catalog": "ok", "raw": "ok"}, body.Checks)
}

func TestReadyzFailsWhenADependencyIsDown(t *testing.T) {
	t.Parallel()

	s := NewServer(Options{Checks: map[string]Check{
		"catalog": func(context.Context) error { return fmt.Errorf("%w: ping", catalog.ErrStoreUnavailable) },
	}})
	rec := serve(t, s, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unavailable")
	assert.Contains(t, rec.Body.String(), "ping")
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := NewServer(Options{})
	serve(t, s, "/healthz")
	rec := serve(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestStatsRouteServesCatalogAggregates(t *testing.T) {
	t.Parallel()

	store := memory.NewCatalogStore()
	ctx := context.Background()
	id, _, err := store.GetOrCreateReference(ctx, catalog.FamilyCountry, "россия", "Россия")
	require.NoError(t, err)
	rangeKM := 500
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx catalog.Tx) error {
		_, err := tx.InsertItem(ctx, catalog.Item{
			Name:       "Искандер",
			DetailURL:  "https://missilery.info/missile/iskander",
			RangeKM:    &rangeKM,
			References: catalog.ReferenceIDs{catalog.FamilyCountry: id},
		})
		return err
	}))

	rec := serve(t, NewServer(Options{Stats: store}), "/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats catalog.StoreStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Contains(t, stats.ByCountry, catalog.Count{Label: "Россия", Value: 1})
}

type failingStats struct{ err error }

func (f failingStats) Stats(context.Context) (catalog.StoreStats, error) {
	return catalog.StoreStats{}, f.err
}

func TestStatsRouteMapsUnavailableStore(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(Options{Stats: failingStats{err: fmt.Errorf("%w: down", catalog.ErrStoreUnavailable)}}), "/v1/stats")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(t, NewServer(Options{Stats: failingStats{err: errors.New("boom")}}), "/v1/stats")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStatsRouteAbsentWithoutStore(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(Options{}), "/v1/stats")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	s := NewServer(Options{})
	handler := s.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(Options{}).Run(ctx, addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
