package main

import (
	"fmt"

	"github.com/metalagman/gridca/internal/seed"
	"github.com/spf13/cobra"
)

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Inspect seed files",
	}
	cmd.AddCommand(seedValidateCmd())
	return cmd
}

func seedValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "validate SEED_FILE",
		Short:        "Validate a seed file against the schema and grid constraints",
		SilenceUsage: true,
		Args:         cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := seed.Load(args[0])
			if err != nil {
				return err
			}
			if _, err := s.Build(); err != nil {
				return err
			}
			fmt.Printf("%s: ok (%dx%d grid, %d cells, %d initial fragments)\n",
				args[0], s.Grid.Width, s.Grid.Height, len(s.Cells), len(s.InitialWork))
			return nil
		},
	}
	return cmd
}
