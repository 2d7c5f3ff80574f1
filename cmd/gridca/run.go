package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/metalagman/gridca/internal/db"
	"github.com/metalagman/gridca/internal/lattice"
	"github.com/metalagman/gridca/internal/seed"
	"github.com/metalagman/gridca/internal/sim"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var maxTicks int
	var quiescence int
	var invokerType string
	var neighborhood string
	var ascii bool
	var asJSON bool
	var noPersist bool
	cmd := &cobra.Command{
		Use:          "run SEED_FILE",
		Short:        "Run a grid from a seed file until quiescence or the tick budget",
		SilenceUsage: true,
		Args:         cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := seed.Load(args[0])
			if err != nil {
				return err
			}
			switch neighborhood {
			case "", string(lattice.Moore), string(lattice.VonNeumann):
				if neighborhood != "" {
					s.Grid.Neighborhood = neighborhood
				}
			default:
				return fmt.Errorf("unknown neighborhood %q", neighborhood)
			}
			storeDB, workRoot, closeFn, err := openDB()
			if err != nil {
				return err
			}
			defer closeFn()
			cfg, err := loadConfig(workRoot)
			if err != nil {
				return err
			}
			if maxTicks > 0 {
				cfg.Sim.MaxTicks = maxTicks
			}
			if quiescence > 0 {
				cfg.Sim.QuiescenceTicks = quiescence
			}
			if invokerType != "" {
				cfg.Invoker.Type = invokerType
			}

			s.Defaults = seed.Defaults{
				WIPLimit:       cfg.Cells.WIPLimit,
				StaleThreshold: cfg.Cells.StaleThreshold,
				StuckThreshold: cfg.Cells.StuckThreshold,
				Strictness:     cfg.Cells.Strictness,
			}
			grid, err := s.Build()
			if err != nil {
				return err
			}
			injected := s.InjectInitial(grid)
			log.Info().Int("cells", grid.Len()).Int("injected", injected).
				Int("width", grid.Width).Int("height", grid.Height).Msg("grid seeded")

			invoker, err := buildInvoker(cmd.Context(), cfg.Invoker)
			if err != nil {
				return err
			}
			scheduler := sim.New(grid, invoker, sim.Config{
				MaxTicks:        cfg.Sim.MaxTicks,
				QuiescenceTicks: cfg.Sim.QuiescenceTicks,
				Workers:         cfg.Sim.Workers,
				QualityBar:      cfg.Sim.QualityBar,
			})

			store := db.NewStore(storeDB)
			runID := uuid.NewString()
			seedName := s.Name
			if seedName == "" {
				seedName = filepath.Base(args[0])
			}
			if !noPersist {
				if err := store.CreateRun(cmd.Context(), runID, seedName); err != nil {
					return err
				}
			}

			result := scheduler.Run(cmd.Context(), func(tr sim.TickResult) {
				log.Info().Int("tick", tr.Tick).Int("actions", tr.ActionsTaken).
					Int("emitted", tr.ItemsEmitted).Int("delivered", tr.Propagations).
					Int("rejected", tr.Rejected).Msg("tick complete")
				if ascii {
					fmt.Fprintln(os.Stderr, grid.ASCII())
				}
				if !noPersist {
					if err := store.AppendTick(cmd.Context(), runID, tr); err != nil {
						log.Error().Err(err).Int("tick", tr.Tick).Msg("persist tick")
					}
				}
			})
			if !noPersist {
				if err := store.FinishRun(cmd.Context(), runID, result); err != nil {
					return err
				}
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			printRunSummary(runID, result)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxTicks, "max-ticks", 0, "tick budget (overrides config)")
	cmd.Flags().IntVar(&quiescence, "quiescence", 0, "consecutive idle ticks before stopping (overrides config)")
	cmd.Flags().StringVar(&invokerType, "invoker", "", "collaborator backend: stub, script or gemini")
	cmd.Flags().StringVar(&neighborhood, "neighborhood", "", "moore or von_neumann (overrides the seed)")
	cmd.Flags().BoolVar(&ascii, "ascii", false, "print the grid state after each tick")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full run result as JSON")
	cmd.Flags().BoolVar(&noPersist, "no-persist", false, "do not record the run in the database")
	return cmd
}

func printRunSummary(runID string, result sim.RunResult) {
	state := "tick budget exhausted"
	if result.Quiescent {
		state = "quiescent"
	}
	fmt.Printf("run %s: %s after %d ticks\n", runID, state, result.TotalTicks)
	fmt.Printf("  items emitted:   %d\n", result.TotalItemsEmitted)
	fmt.Printf("  invoker calls:   %d\n", result.TotalInvokerCalls)
	fmt.Printf("  routing:         %d delivered, %d rejected (%.0f%% efficiency)\n",
		result.Routing.ItemsDelivered, result.Routing.ItemsRejected, result.Routing.Efficiency()*100)
	if avg, ok := result.Quality.AvgScore(); ok {
		fmt.Printf("  critique score:  %.1f avg, %d rework\n", avg, result.Quality.ReworkCount)
	}
	for _, a := range result.Artifacts {
		fmt.Printf("  artifact: %s %s (tick %d)\n", a.Kind, a.Source, a.Tick)
	}
}
