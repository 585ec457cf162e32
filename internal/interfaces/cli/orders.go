package cli

import (
	"fmt"
	"io"

	appkitchen "github.com/kds/backend/internal/application/kitchen"
	"github.com/kds/backend/internal/domain/kitchen"
	"github.com/kds/backend/internal/infrastructure/persistence"
	"github.com/spf13/cobra"
)

// NewOrdersCommand creates the orders command.
func NewOrdersCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "orders",
		Short: "Run one sync and print what the display would show",
		Long: `Run one order sync against the point-of-sale API and print today's
newest orders with completion flags read from the configured snapshot.
The snapshot is only read, never written.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrders(cmd, rootOpts)
		},
	}
}

func runOrders(cmd *cobra.Command, opts *RootOptions) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	log, err := newLogger(opts)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	client, err := newCloverClient(cfg, log)
	if err != nil {
		return err
	}

	repo, err := persistence.NewSnapshotStore(ctx, &cfg.Store, &cfg.Redis, log)
	if err != nil {
		return &ExitError{Code: ExitFailure, Message: "open completion snapshot", Err: err}
	}
	defer func() { _ = repo.Close() }()

	store := appkitchen.NewCompletionStore(repo, appkitchen.WithStoreLogger(log))
	store.Load(ctx)

	loc, err := kitchen.LoadLocation(cfg.Sync.Timezone)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "sync.timezone", Err: err}
	}
	syncService := appkitchen.NewSyncService(client, store, appkitchen.SyncConfig{
		WindowSize:        cfg.Sync.WindowSize,
		Location:          loc,
		TimeLayout:        cfg.Sync.TimeLayout,
		EnrichConcurrency: cfg.Sync.EnrichConcurrency,
	}, appkitchen.WithSyncLogger(log))

	orders, err := syncService.SyncOrders(ctx)
	if err != nil {
		return &ExitError{Code: ExitFailure, Message: "sync orders", Err: err}
	}

	if opts.Format == "text" {
		printOrdersText(cmd.OutOrStdout(), orders)
		return nil
	}
	return writeJSON(cmd.OutOrStdout(), map[string][]kitchen.EnrichedOrder{"elements": orders})
}

func printOrdersText(w io.Writer, orders []kitchen.EnrichedOrder) {
	if len(orders) == 0 {
		fmt.Fprintln(w, "No orders today")
		return
	}
	for _, o := range orders {
		fmt.Fprintf(w, "%s  %s\n", o.ID, o.CreatedTimeHumanReadable)
		for _, li := range o.LineItems {
			mark := " "
			if li.Completed {
				mark = "x"
			}
			fmt.Fprintf(w, "  [%s] %s\n", mark, li.Name)
			for _, m := range li.Modifications {
				fmt.Fprintf(w, "        + %s\n", m.Name)
			}
		}
	}
}
