package cli

import (
	"errors"
	"fmt"

	"github.com/ariefcatur/go-cart-orders/internal/seed"
	"github.com/spf13/cobra"
)

func newSeedCmd(opts *rootOptions) *cobra.Command {
	var (
		file    string
		migrate bool
	)
	cmd := &cobra.Command{
		Use:   "seed --file fixtures.yaml",
		Short: "Upsert members and catalog items from a YAML fixture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return errors.New("--file is required")
			}
			f, err := seed.LoadFile(file)
			if err != nil {
				return err
			}

			backend, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer backend.Close()
			if migrate {
				if err := backend.Migrate(); err != nil {
					return err
				}
			}

			res, err := seed.Apply(cmd.Context(), backend, f)
			if err != nil {
				return fmt.Errorf("seed failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d member(s), %d item(s)\n", res.Members, res.Items)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "fixture file")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply migrations first")
	return cmd
}
