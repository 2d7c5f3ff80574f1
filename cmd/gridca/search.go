package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/metalagman/gridca/internal/config"
	"github.com/metalagman/gridca/internal/db"
	"github.com/metalagman/gridca/internal/rules"
	"github.com/metalagman/gridca/internal/search"
	"github.com/spf13/cobra"
)

var searchRoles = map[string]bool{
	rules.RoleMaster:    true,
	rules.RoleSub:       true,
	rules.RoleCritique:  true,
	rules.RoleResearch:  true,
	rules.RoleExecution: true,
}

func searchCmd() *cobra.Command {
	var candidates int
	var simTicks int
	var mutations int
	var rngSeed int64
	cmd := &cobra.Command{
		Use:          "search ROLE",
		Short:        "Score mutated rule tables for a role against a stub grid",
		SilenceUsage: true,
		Args:         cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role := args[0]
			if !searchRoles[role] {
				return fmt.Errorf("unknown role %q", role)
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

			params := searchParams(cfg.Search)
			if candidates > 0 {
				params.Candidates = candidates
			}
			if simTicks > 0 {
				params.SimTicks = simTicks
			}
			if mutations > 0 {
				params.MutationsPerCandidate = mutations
			}

			harness := search.NewHarness(search.NewSQLRegistry(db.NewStore(storeDB)), searchRNG(rngSeed))
			result, err := harness.Search(cmd.Context(), role, params)
			if err != nil {
				return err
			}
			printSearchResult(result)
			return nil
		},
	}
	cmd.Flags().IntVar(&candidates, "candidates", 0, "number of mutants to score")
	cmd.Flags().IntVar(&simTicks, "sim-ticks", 0, "tick budget per evaluation")
	cmd.Flags().IntVar(&mutations, "mutations", 0, "mutations applied per candidate")
	cmd.Flags().Int64Var(&rngSeed, "seed", 0, "rng seed for reproducible searches (0 = random)")
	return cmd
}

func evolveCmd() *cobra.Command {
	var generations int
	var population int
	var topK int
	var simTicks int
	var rngSeed int64
	cmd := &cobra.Command{
		Use:          "evolve ROLE",
		Short:        "Run a multi-generation elitist search over rule tables",
		SilenceUsage: true,
		Args:         cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role := args[0]
			if !searchRoles[role] {
				return fmt.Errorf("unknown role %q", role)
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

			params := searchParams(cfg.Search)
			if generations > 0 {
				params.Generations = generations
			}
			if population > 0 {
				params.Population = population
			}
			if topK > 0 {
				params.TopK = topK
			}
			if simTicks > 0 {
				params.SimTicks = simTicks
			}

			harness := search.NewHarness(search.NewSQLRegistry(db.NewStore(storeDB)), searchRNG(rngSeed))
			result, err := harness.Evolve(cmd.Context(), role, params)
			if err != nil {
				return err
			}
			printSearchResult(result)
			return nil
		},
	}
	cmd.Flags().IntVar(&generations, "generations", 0, "number of generations")
	cmd.Flags().IntVar(&population, "population", 0, "candidates per generation")
	cmd.Flags().IntVar(&topK, "top-k", 0, "survivors carried into the next generation")
	cmd.Flags().IntVar(&simTicks, "sim-ticks", 0, "tick budget per evaluation")
	cmd.Flags().Int64Var(&rngSeed, "seed", 0, "rng seed for reproducible searches (0 = random)")
	return cmd
}

func searchParams(cfg config.SearchConfig) search.Params {
	p := search.DefaultParams()
	if cfg.Candidates > 0 {
		p.Candidates = cfg.Candidates
	}
	if cfg.SimTicks > 0 {
		p.SimTicks = cfg.SimTicks
	}
	if cfg.MutationsPerCandidate > 0 {
		p.MutationsPerCandidate = cfg.MutationsPerCandidate
	}
	if cfg.Generations > 0 {
		p.Generations = cfg.Generations
	}
	if cfg.Population > 0 {
		p.Population = cfg.Population
	}
	if cfg.TopK > 0 {
		p.TopK = cfg.TopK
	}
	return p
}

func searchRNG(seed int64) *rand.Rand {
	if seed == 0 {
		return nil
	}
	return rand.New(rand.NewSource(seed))
}

func printSearchResult(result *search.Result) {
	fmt.Printf("%s: tested %d candidates in %s\n", result.Role, result.CandidatesTested, result.Elapsed.Round(time.Millisecond))
	fmt.Printf("  baseline score: %.1f\n", result.BaselineScore)
	best := result.Best
	fmt.Printf("  best:           %.1f (%s, gen %d)\n", best.Score, best.Fingerprint, best.Generation)
	for i, c := range result.All {
		if i >= 5 {
			break
		}
		fmt.Printf("  #%d %s score=%.1f mutations=%v\n", i+1, c.Fingerprint, c.Score, c.Mutations)
	}
}
