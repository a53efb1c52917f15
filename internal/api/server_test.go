package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/job-crawler/internal/crawler"
	"github.com/JakeFAU/job-crawler/internal/report"
)

type fakeLedger struct{ ids, pending int }

func (f fakeLedger) Len() int     { return f.ids }
func (f fakeLedger) Pending() int { return f.pending }

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(nil, nil, zap.NewNop()), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(nil, nil, nil), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "jobcrawler_")
}

func TestLatestReport(t *testing.T) {
	t.Parallel()

	latest := report.NewLatest()
	s := NewServer(latest, nil, nil)

	rec := serve(t, s, "/v1/reports/latest")
	require.Equal(t, http.StatusNotFound, rec.Code)

	start := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, latest.Record(context.Background(), crawler.CycleReport{
		CycleID:      "c-9",
		PagesScanned: 2,
		ItemsSeen:    10,
		ItemsNew:     9,
		ItemsFailed:  1,
		StopReason:   crawler.StopExhausted,
		StartedAt:    start,
		EndedAt:      start.Add(30 * time.Second),
	}))

	rec = serve(t, s, "/v1/reports/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "c-9", body["cycle_id"])
	require.Equal(t, 9.0, body["items_new"])
	require.Equal(t, 30.0, body["duration_seconds"])
	require.Equal(t, true, body["degraded"])
	require.Equal(t, 1.0, body["cycles"])
}

func TestLedgerStats(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(nil, nil, nil), "/v1/ledger")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(t, NewServer(nil, fakeLedger{ids: 42, pending: 3}, nil), "/v1/ledger")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"ids":42,"pending":3}`, rec.Body.String())
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, nil, nil)
	h := s.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(nil, nil, nil).ListenAndServe(ctx, addr) }()

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
