package sim

import (
	"context"
	"time"

	"github.com/metalagman/gridca/internal/lattice"
	"github.com/rs/zerolog/log"
)

// Run advances the grid until quiescence or the tick budget. Quiescence means
// every cell idle with an empty inbox and no pending propagations, sustained
// for QuiescenceTicks consecutive ticks -- the debounce keeps a one-tick lull
// from ending the run. Hitting MaxTicks without quiescence is not an error;
// the result reports Quiescent=false and the caller judges health.
func (s *Scheduler) Run(ctx context.Context, onTick func(TickResult)) RunResult {
	start := time.Now()
	result := RunResult{}
	idleStreak := 0

	for i := 0; i < s.cfg.MaxTicks; i++ {
		tick := s.Tick(ctx)
		result.TickHistory = append(result.TickHistory, tick)
		result.TotalInvokerCalls += tick.InvokerCalls
		result.TotalItemsEmitted += tick.ItemsEmitted

		result.Routing.ItemsScheduled += tick.Propagations + tick.Rejected
		result.Routing.ItemsDelivered += tick.Propagations
		result.Routing.ItemsRejected += tick.Rejected
		result.RoutingRecords = append(result.RoutingRecords, tick.RoutingRecords...)

		result.Quality.CritiqueScores = append(result.Quality.CritiqueScores, tick.CritiqueScores...)
		result.Quality.CritiqueVerdicts = append(result.Quality.CritiqueVerdicts, tick.CritiqueVerdicts...)
		result.Quality.ReworkCount += tick.ReworkCount

		if onTick != nil {
			onTick(tick)
		}

		s.collectArtifacts(&result)

		if s.grid.Quiescent() && !s.grid.HasPendingWork() {
			idleStreak++
			if idleStreak >= s.cfg.QuiescenceTicks {
				log.Info().Int("ticks", i+1).Msg("grid quiescent")
				break
			}
		} else {
			idleStreak = 0
		}

		if ctx.Err() != nil {
			log.Warn().Int("tick", s.grid.TickCount).Msg("run cancelled")
			break
		}
	}

	result.TotalTicks = s.grid.TickCount
	result.Quiescent = s.grid.Quiescent()
	result.Elapsed = time.Since(start)
	return result
}

// collectArtifacts gathers artifact/approved outputs emitted this tick. Later
// output from the same cell replaces its earlier artifact (a patch updates in
// place); artifacts from different cells accumulate.
func (s *Scheduler) collectArtifacts(result *RunResult) {
	for _, cell := range s.grid.Cells() {
		if cell.Output.Tick != s.grid.TickCount {
			continue
		}
		if cell.Output.Kind != lattice.KindArtifact && cell.Output.Kind != lattice.KindApproved {
			continue
		}
		entry := Artifact{
			Source:  cell.Domain + "/" + cell.AgentType,
			Pos:     cell.Pos,
			Tick:    cell.Output.Tick,
			Kind:    cell.Output.Kind,
			Content: cell.Output.Content,
		}
		replaced := false
		for i := range result.Artifacts {
			if result.Artifacts[i].Pos == cell.Pos {
				result.Artifacts[i] = entry
				replaced = true
				break
			}
		}
		if !replaced {
			result.Artifacts = append(result.Artifacts, entry)
		}
	}
}
