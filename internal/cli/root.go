// Package cli implements cartctl, the operator tool for the cart and order store.
package cli

import (
	"context"

	"github.com/ariefcatur/go-cart-orders/internal/config"
	"github.com/ariefcatur/go-cart-orders/internal/store"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	driver string
	dsn    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "cartctl",
		Short:         "Operate the cart and order store",
		Long:          "cartctl applies schema migrations, loads catalog fixtures and removes cart lines left behind by placed orders.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.driver, "driver", "", "store driver: postgres or memory (default $STORE_DRIVER)")
	cmd.PersistentFlags().StringVar(&opts.dsn, "dsn", "", "postgres connection string (default $POSTGRES_DSN)")

	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newSeedCmd(opts))
	cmd.AddCommand(newSweepCmd(opts))
	return cmd
}

// open resolves configuration from the environment, lets flags override it and
// opens the backend.
func (o *rootOptions) open(ctx context.Context) (*store.Backend, error) {
	cfg := config.Load()
	if o.driver != "" {
		cfg.StoreDriver = o.driver
	}
	if o.dsn != "" {
		cfg.PostgresDSN = o.dsn
	}
	return store.Open(ctx, cfg)
}

func Execute() error {
	return newRootCmd().Execute()
}
