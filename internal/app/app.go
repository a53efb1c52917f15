// Package app builds the crawler's collaborators from configuration and owns
// their lifetime.
package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/job-crawler/internal/api"
	"github.com/JakeFAU/job-crawler/internal/clock/system"
	"github.com/JakeFAU/job-crawler/internal/config"
	"github.com/JakeFAU/job-crawler/internal/crawler"
	"github.com/JakeFAU/job-crawler/internal/cycle"
	"github.com/JakeFAU/job-crawler/internal/fetch"
	"github.com/JakeFAU/job-crawler/internal/id/uuid"
	"github.com/JakeFAU/job-crawler/internal/ledger"
	fileledger "github.com/JakeFAU/job-crawler/internal/ledger/file"
	pgledger "github.com/JakeFAU/job-crawler/internal/ledger/postgres"
	redisledger "github.com/JakeFAU/job-crawler/internal/ledger/redis"
	"github.com/JakeFAU/job-crawler/internal/orchestrator"
	"github.com/JakeFAU/job-crawler/internal/parser"
	"github.com/JakeFAU/job-crawler/internal/report"
	"github.com/JakeFAU/job-crawler/internal/sink"
	filesink "github.com/JakeFAU/job-crawler/internal/sink/file"
	gcssink "github.com/JakeFAU/job-crawler/internal/sink/gcs"
	kafkasink "github.com/JakeFAU/job-crawler/internal/sink/kafka"
	pgsink "github.com/JakeFAU/job-crawler/internal/sink/postgres"
	pubsubsink "github.com/JakeFAU/job-crawler/internal/sink/pubsub"
	collytransport "github.com/JakeFAU/job-crawler/internal/transport/colly"
	"github.com/JakeFAU/job-crawler/internal/transport/headless"
)

// App holds the long-lived services of one crawler configuration.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	ledger       *ledger.Ledger
	sinks        *sink.Multi
	latest       *report.Latest
	orchestrator *orchestrator.Orchestrator
	server       *api.Server
	closers      []func() error
}

// Option customizes New.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
}

// WithRegisterer registers report collectors on reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// New wires every collaborator. The ledger is loaded first so a corrupted
// store aborts startup before any network or sink is touched.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{cfg: cfg, logger: logger}

	store, err := OpenLedgerStore(ctx, cfg.Ledger)
	if err != nil {
		return nil, err
	}
	a.ledger = ledger.New(store)
	a.closers = append(a.closers, a.ledger.Close)
	if err := a.ledger.Load(ctx); err != nil {
		return nil, errors.Join(err, a.Close())
	}
	logger.Info("ledger loaded", zap.String("backend", cfg.Ledger.Backend), zap.Int("ids", a.ledger.Len()))

	if err := a.build(ctx, o); err != nil {
		return nil, errors.Join(err, a.Close())
	}
	return a, nil
}

func (a *App) build(ctx context.Context, o options) error {
	cfg := a.cfg
	transport, closeTransport, err := BuildTransport(cfg.HTTP)
	if err != nil {
		return err
	}
	if closeTransport != nil {
		a.closers = append(a.closers, closeTransport)
	}
	rateLimited := fetch.NewRateLimited(transport, BuildGate(cfg.HTTP), fetch.Config{
		Headers:     cfg.RequestHeaders(),
		Timeout:     cfg.HTTP.Timeout,
		BusyPenalty: cfg.HTTP.BusyPenalty,
	})
	retrying := fetch.NewRetrying(rateLimited, fetch.NewExponentialBackoff(cfg.HTTP.BackoffBase, cfg.HTTP.BackoffMax))

	siteParser, err := parser.New(cfg.Site.Name, cfg.Site.BaseURL)
	if err != nil {
		return err
	}

	sinks, err := BuildSinks(ctx, cfg.Sinks)
	if err != nil {
		return err
	}
	a.sinks, err = sink.NewMulti(sinks...)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, a.sinks.Close)

	clock := system.New()
	c, err := cycle.New(retrying, siteParser, a.ledger, a.sinks, clock, uuid.New(), cycle.Config{
		BaseURL:       cfg.Site.BaseURL,
		PageParam:     cfg.Site.PageParam,
		Workers:       cfg.Crawler.Workers,
		MaxRetries:    cfg.HTTP.MaxRetries,
		FlushEachItem: cfg.Ledger.FlushEachItem,
	}, a.logger.Named("cycle"))
	if err != nil {
		return err
	}

	promSink, err := report.NewPrometheusSink(o.registerer)
	if err != nil {
		return err
	}
	a.latest = report.NewLatest()
	reports := report.Fanout{report.NewLogSink(a.logger.Named("report")), promSink, a.latest}

	a.orchestrator, err = orchestrator.New(c, reports, clock, orchestrator.Config{
		PagesToScan:   cfg.Crawler.PagesToScan,
		SleepInterval: cfg.Crawler.SleepInterval,
		MaxRuntime:    cfg.Crawler.MaxRuntime,
		Once:          cfg.OnceMode(),
		Full:          cfg.Runtime.Full,
	}, a.logger.Named("orchestrator"))
	if err != nil {
		return err
	}

	if cfg.Server.Enabled {
		a.server = api.NewServer(a.latest, a.ledger, a.logger.Named("api"))
	}
	return nil
}

// Run drives the orchestrator until it finishes or ctx is canceled. The
// status server, when enabled, lives exactly as long as the orchestrator.
func (a *App) Run(ctx context.Context) error {
	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()

	var g errgroup.Group
	if a.server != nil {
		addr := ":" + strconv.Itoa(a.cfg.Server.Port)
		g.Go(func() error { return a.server.ListenAndServe(serverCtx, addr) })
	}

	cycles, runErr := a.orchestrator.Run(ctx)
	stopServer()
	serverErr := g.Wait()
	a.logger.Info("crawler stopped", zap.Int("cycles", cycles))
	if serverErr != nil {
		a.logger.Error("status server failed", zap.Error(serverErr))
	}
	return runErr
}

// Ledger returns the loaded dedup ledger.
func (a *App) Ledger() *ledger.Ledger {
	return a.ledger
}

// Latest returns the latest-report holder.
func (a *App) Latest() *report.Latest {
	return a.latest
}

// Close releases sinks, transport, and ledger store in reverse build order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// OpenLedgerStore opens the configured ledger backing store.
func OpenLedgerStore(ctx context.Context, cfg config.LedgerConfig) (crawler.LedgerStore, error) {
	switch cfg.Backend {
	case "file":
		return fileledger.New(cfg.Path)
	case "postgres":
		return pgledger.New(ctx, pgledger.Config{DSN: cfg.Postgres.DSN, Table: cfg.Postgres.Table})
	case "redis":
		return redisledger.New(cfg.Redis.Addr, cfg.Redis.Key), nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}
}

// BuildTransport returns the configured transport and an optional closer.
func BuildTransport(cfg config.HTTPConfig) (crawler.Transport, func() error, error) {
	switch cfg.Transport {
	case "", "colly":
		t, err := collytransport.New(collytransport.Config{
			UserAgent:     cfg.UserAgent,
			Proxy:         cfg.Proxy,
			RespectRobots: cfg.RespectRobots,
			Timeout:       cfg.Timeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("build colly transport: %w", err)
		}
		return t, nil, nil
	case "headless":
		t, err := headless.New(headless.Config{
			MaxParallel:       cfg.HeadlessParallel,
			UserAgent:         cfg.UserAgent,
			Proxy:             cfg.Proxy,
			NavigationTimeout: cfg.HeadlessNavTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("build headless transport: %w", err)
		}
		return t, t.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// BuildGate returns the rate-limit gate shared by every request.
func BuildGate(cfg config.HTTPConfig) crawler.Gate {
	if cfg.RateLimitStrategy == "token_bucket" {
		return fetch.NewTokenBucketGate(cfg.MinInterval, 1)
	}
	return fetch.NewSpacingGate(cfg.MinInterval)
}

// BuildSinks opens every enabled sink. On failure the sinks opened so far
// are closed.
func BuildSinks(ctx context.Context, cfg config.SinksConfig) ([]crawler.Sink, error) {
	var sinks []crawler.Sink
	fail := func(err error) ([]crawler.Sink, error) {
		for _, s := range sinks {
			_ = s.Close()
		}
		return nil, err
	}
	if cfg.File.Enabled {
		s, err := filesink.New(filesink.Config{JSONPath: cfg.File.JSONPath, CSVPath: cfg.File.CSVPath})
		if err != nil {
			return fail(fmt.Errorf("open file sink: %w", err))
		}
		sinks = append(sinks, s)
	}
	if cfg.Postgres.Enabled {
		s, err := pgsink.New(ctx, pgsink.Config{DSN: cfg.Postgres.DSN, Table: cfg.Postgres.Table})
		if err != nil {
			return fail(fmt.Errorf("open postgres sink: %w", err))
		}
		sinks = append(sinks, s)
	}
	if cfg.GCS.Enabled {
		s, err := gcssink.New(ctx, gcssink.Config{Bucket: cfg.GCS.Bucket, Prefix: cfg.GCS.Prefix})
		if err != nil {
			return fail(fmt.Errorf("open gcs sink: %w", err))
		}
		sinks = append(sinks, s)
	}
	if cfg.PubSub.Enabled {
		s, err := pubsubsink.New(ctx, pubsubsink.Config{ProjectID: cfg.PubSub.ProjectID, Topic: cfg.PubSub.Topic})
		if err != nil {
			return fail(fmt.Errorf("open pubsub sink: %w", err))
		}
		sinks = append(sinks, s)
	}
	if cfg.Kafka.Enabled {
		s, err := kafkasink.New(kafkasink.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
		if err != nil {
			return fail(fmt.Errorf("open kafka sink: %w", err))
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		return nil, crawler.ErrNoSinks
	}
	return sinks, nil
}
