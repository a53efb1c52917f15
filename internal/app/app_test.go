package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/job-crawler/internal/app"
	"github.com/JakeFAU/job-crawler/internal/config"
	"github.com/JakeFAU/job-crawler/internal/crawler"
	"github.com/JakeFAU/job-crawler/internal/fetch"
)

func testConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Site: config.SiteConfig{Name: "topcv", BaseURL: baseURL, PageParam: "page"},
		Crawler: config.CrawlerConfig{
			PagesToScan:   2,
			SleepInterval: time.Hour,
			Workers:       2,
		},
		HTTP: config.HTTPConfig{
			Transport:         "colly",
			Timeout:           5 * time.Second,
			MaxRetries:        1,
			BackoffBase:       time.Millisecond,
			BackoffMax:        5 * time.Millisecond,
			UserAgent:         "jobcrawler-test",
			MinInterval:       time.Millisecond,
			RateLimitStrategy: "spacing",
		},
		Ledger: config.LedgerConfig{Backend: "file", Path: filepath.Join(dir, "seen.json")},
		Sinks: config.SinksConfig{
			File: config.FileSinkConfig{
				Enabled:  true,
				JSONPath: filepath.Join(dir, "jobs.jsonl"),
				CSVPath:  filepath.Join(dir, "jobs.csv"),
			},
		},
		Runtime: config.RuntimeConfig{Once: true},
	}
}

func TestNewAndRunOnceAgainstEmptyListing(t *testing.T) {
	t.Parallel()

	body, err := os.ReadFile(filepath.Join("..", "parser", "topcv", "testdata", "listing_empty.html"))
	require.NoError(t, err)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.Equal(t, "1", r.URL.Query().Get("page"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig(t, srv.URL+"/viec-lam-it")
	a, err := app.New(context.Background(), cfg, zaptest.NewLogger(t), app.WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	require.True(t, a.Ledger().Empty())

	require.NoError(t, a.Run(context.Background()))
	require.Equal(t, int32(1), hits.Load())

	report, ok := a.Latest().Get()
	require.True(t, ok)
	require.Equal(t, crawler.StopExhausted, report.StopReason)
	require.True(t, report.FullCrawl)
	require.Zero(t, report.ItemsNew)
	require.Equal(t, 1, a.Latest().Cycles())
}

func TestNewFailsOnCorruptedLedger(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "https://www.topcv.vn/viec-lam-it")
	require.NoError(t, os.WriteFile(cfg.Ledger.Path, []byte("{not json"), 0o600))

	_, err := app.New(context.Background(), cfg, zaptest.NewLogger(t), app.WithRegisterer(prometheus.NewRegistry()))
	require.ErrorIs(t, err, crawler.ErrLedgerCorrupted)
	_, statErr := os.Stat(cfg.Sinks.File.JSONPath)
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestNewRejectsUnknownSite(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "https://www.topcv.vn/viec-lam-it")
	cfg.Site.Name = "vietnamworks"

	_, err := app.New(context.Background(), cfg, zaptest.NewLogger(t), app.WithRegisterer(prometheus.NewRegistry()))
	require.ErrorContains(t, err, "unsupported site")
}

func TestBuildGate(t *testing.T) {
	t.Parallel()

	gate := app.BuildGate(config.HTTPConfig{MinInterval: time.Second})
	require.IsType(t, &fetch.SpacingGate{}, gate)

	gate = app.BuildGate(config.HTTPConfig{MinInterval: time.Second, RateLimitStrategy: "token_bucket"})
	require.IsType(t, &fetch.TokenBucketGate{}, gate)
}

func TestBuildSinksRequiresOne(t *testing.T) {
	t.Parallel()

	_, err := app.BuildSinks(context.Background(), config.SinksConfig{})
	require.ErrorIs(t, err, crawler.ErrNoSinks)
}

func TestOpenLedgerStoreUnknownBackend(t *testing.T) {
	t.Parallel()

	_, err := app.OpenLedgerStore(context.Background(), config.LedgerConfig{Backend: "etcd"})
	require.ErrorContains(t, err, "unknown ledger backend")
}

func TestBuildTransport(t *testing.T) {
	t.Parallel()

	transport, closer, err := app.BuildTransport(config.HTTPConfig{Transport: "colly", Timeout: time.Second})
	require.NoError(t, err)
	require.NotNil(t, transport)
	require.Nil(t, closer)

	transport, closer, err = app.BuildTransport(config.HTTPConfig{Transport: "headless", HeadlessParallel: 1})
	require.NoError(t, err)
	require.NotNil(t, transport)
	require.NotNil(t, closer)
	require.NoError(t, closer())

	_, _, err = app.BuildTransport(config.HTTPConfig{Transport: "curl"})
	require.ErrorContains(t, err, "unknown transport")
}
