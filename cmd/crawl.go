// Package cmd defines and implements the CLI commands for the jobcrawler executable.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/job-crawler/internal/app"
	"github.com/JakeFAU/job-crawler/internal/config"
)

// crawlApp is the part of *app.App the crawl command drives.
type crawlApp interface {
	Run(ctx context.Context) error
	Close() error
}

// newApp is the application factory. It's a variable so tests can inject a fake.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawlApp, error) {
	return app.New(ctx, cfg, logger)
}

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	var once, full bool
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run crawl cycles",
		Long: `Runs crawl cycles against the configured site. By default the
crawler keeps running and sleeps between cycles; --once runs a single cycle.
--full ignores the page budget and scans until the listing is exhausted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			cfg := e.cfg
			if cmd.Flags().Changed("once") {
				cfg.Runtime.Once = once
			}
			if cmd.Flags().Changed("full") {
				cfg.Runtime.Full = full
			}
			return runCrawl(cmd.Context(), cfg, e.logger)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single cycle and exit")
	cmd.Flags().BoolVar(&full, "full", false, "scan every listing page regardless of the page budget")
	return cmd
}

func runCrawl(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize crawler: %w", err)
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("close crawler", zap.Error(cerr))
		}
	}()

	logger.Info("crawl starting",
		zap.String("site", cfg.Site.Name),
		zap.Bool("once", cfg.OnceMode()),
		zap.Bool("full", cfg.Runtime.Full),
		zap.Int("pages_to_scan", cfg.Crawler.PagesToScan),
	)
	if err := a.Run(ctx); err != nil {
		return fmt.Errorf("run crawler: %w", err)
	}
	logger.Info("crawl command finished")
	return nil
}
