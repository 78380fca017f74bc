package cli

import (
	"fmt"

	"github.com/ariefcatur/go-cart-orders/internal/sweeper"
	"github.com/spf13/cobra"
)

func newSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete cart lines already claimed by placed orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer backend.Close()

			n, err := (&sweeper.Service{Store: backend}).SweepAll(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d cart line(s)\n", n)
			return nil
		},
	}
}
