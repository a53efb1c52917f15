package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/job-crawler/internal/app"
	"github.com/JakeFAU/job-crawler/internal/ledger"
)

func newLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the dedup ledger",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print how many item ids the ledger holds",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			store, err := app.OpenLedgerStore(cmd.Context(), e.cfg.Ledger)
			if err != nil {
				return err
			}
			seen := ledger.New(store)
			defer func() { _ = seen.Close() }()
			if err := seen.Load(cmd.Context()); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "backend=%s ids=%d\n", e.cfg.Ledger.Backend, seen.Len())
			return err
		},
	})
	return cmd
}
