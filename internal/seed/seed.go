// Package seed loads grid seed files: initial conditions for a run. A seed
// names the grid dimensions, the cell placements with their roles and rule
// tables, and the initial work fragments to inject. Same rules plus a
// different seed gives a different run.
package seed

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/metalagman/gridca/internal/lattice"
	"github.com/metalagman/gridca/internal/rules"
)

// GridSpec sizes the lattice.
type GridSpec struct {
	Width        int    `yaml:"width"`
	Height       int    `yaml:"height"`
	Neighborhood string `yaml:"neighborhood"`
}

// CellSpec places one cell.
type CellSpec struct {
	X                 int          `yaml:"x"`
	Y                 int          `yaml:"y"`
	Domain            string       `yaml:"domain"`
	AgentType         string       `yaml:"agent_type"`
	Role              string       `yaml:"role"`
	WIPLimit          int          `yaml:"wip_limit"`
	Strictness        float64      `yaml:"strictness"`
	MinDomainCoverage int          `yaml:"min_domain_coverage"`
	Rules             []rules.Rule `yaml:"rules"`
}

// WorkSpec is one initial work fragment. Target selects recipients:
// "masters", "research", "all", "domain:<name>", or "x,y" for one cell.
type WorkSpec struct {
	Target      string            `yaml:"target"`
	Kind        string            `yaml:"kind"`
	Content     any               `yaml:"content"`
	CostOfDelay float64           `yaml:"cost_of_delay"`
	JobSize     float64           `yaml:"job_size"`
	Tags        map[string]string `yaml:"tags"`
}

// Defaults are caller-supplied fallbacks for the per-cell tuning a seed
// leaves unset, typically sourced from the config file. Zero fields fall
// back to the lattice defaults.
type Defaults struct {
	WIPLimit       int
	StaleThreshold int
	StuckThreshold int
	Strictness     float64
}

// Seed is a parsed seed document. Defaults is not part of the document;
// callers set it between Load and Build.
type Seed struct {
	Name        string     `yaml:"name"`
	Grid        GridSpec   `yaml:"grid"`
	Cells       []CellSpec `yaml:"cells"`
	InitialWork []WorkSpec `yaml:"initial_work"`

	Defaults Defaults `yaml:"-"`
}

// Load reads and validates a seed file.
func Load(path string) (*Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(raw)
}

// Parse validates and decodes a seed document.
func Parse(raw []byte) (*Seed, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse seed yaml: %w", err)
	}
	if err := ValidateDocument(doc); err != nil {
		return nil, err
	}

	var s Seed
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	if err := s.check(); err != nil {
		return nil, err
	}
	return &s, nil
}

// check covers the cross-field constraints the schema cannot express.
func (s *Seed) check() error {
	if len(s.Cells) == 0 {
		return fmt.Errorf("seed places no cells")
	}
	seen := make(map[lattice.Pos]bool, len(s.Cells))
	for _, c := range s.Cells {
		pos := lattice.Pos{X: c.X, Y: c.Y}
		if c.X < 0 || c.X >= s.Grid.Width || c.Y < 0 || c.Y >= s.Grid.Height {
			return fmt.Errorf("cell %s outside %dx%d grid", pos, s.Grid.Width, s.Grid.Height)
		}
		if seen[pos] {
			return fmt.Errorf("duplicate cell at %s", pos)
		}
		seen[pos] = true
	}
	return nil
}

// Build creates the grid and places all cells. Initial work is not injected;
// call InjectInitial after any caller-side adjustments.
func (s *Seed) Build() (*lattice.Grid, error) {
	neighborhood := lattice.Moore
	if s.Grid.Neighborhood == string(lattice.VonNeumann) {
		neighborhood = lattice.VonNeumann
	}
	grid := lattice.NewGrid(s.Grid.Width, s.Grid.Height, neighborhood)

	for _, spec := range s.Cells {
		strictness := spec.Strictness
		if strictness == 0 {
			strictness = s.Defaults.Strictness
		}
		if strictness == 0 {
			strictness = 0.8
		}
		table := rules.ForRole(spec.Role, strictness)
		if len(spec.Rules) > 0 {
			table = &rules.Table{
				Name:  fmt.Sprintf("%s-%s-seeded", spec.Role, spec.AgentType),
				Rules: append([]rules.Rule{}, spec.Rules...),
			}
		}

		cell := lattice.NewCell(lattice.Pos{X: spec.X, Y: spec.Y},
			spec.Domain, spec.AgentType, spec.Role, table)
		cell.Strictness = strictness
		switch {
		case spec.WIPLimit > 0:
			cell.WIPLimit = spec.WIPLimit
		case s.Defaults.WIPLimit > 0:
			cell.WIPLimit = s.Defaults.WIPLimit
		}
		if s.Defaults.StaleThreshold > 0 {
			cell.StaleThreshold = s.Defaults.StaleThreshold
		}
		if s.Defaults.StuckThreshold > 0 {
			cell.StuckThreshold = s.Defaults.StuckThreshold
		}
		if spec.MinDomainCoverage > 0 {
			cell.MinDomainCoverage = spec.MinDomainCoverage
		}
		if err := grid.Place(cell); err != nil {
			return nil, fmt.Errorf("place cell: %w", err)
		}
	}
	return grid, nil
}

// InjectInitial delivers the seed's initial work fragments. Returns the number
// of accepted deliveries.
func (s *Seed) InjectInitial(grid *lattice.Grid) int {
	accepted := 0
	now := time.Now().Unix()
	for i, w := range s.InitialWork {
		kind := w.Kind
		if kind == "" {
			kind = lattice.KindBriefChunk
		}
		cod := w.CostOfDelay
		if cod == 0 {
			cod = 1.0
		}
		size := w.JobSize
		if size == 0 {
			size = 1.0
		}
		f := lattice.Fragment{
			ID:          fmt.Sprintf("seed-%d-%d-%s", now, i, kind),
			Kind:        kind,
			Content:     payloadFrom(w.Content),
			CostOfDelay: cod,
			JobSize:     size,
			CreatedAt:   time.Now(),
		}
		if len(w.Tags) > 0 {
			f.Tags = make(map[string]string, len(w.Tags))
			for k, v := range w.Tags {
				f.Tags[k] = v
			}
		}
		accepted += injectTarget(grid, w.Target, f)
	}
	return accepted
}

func injectTarget(grid *lattice.Grid, target string, f lattice.Fragment) int {
	switch {
	case target == "" || target == "masters":
		return grid.InjectBroadcast(f, rules.RoleMaster, "")
	case target == "research":
		return grid.InjectBroadcast(f, rules.RoleResearch, "")
	case target == "all":
		return grid.InjectBroadcast(f, "", "")
	default:
		var pos lattice.Pos
		if _, err := fmt.Sscanf(target, "%d,%d", &pos.X, &pos.Y); err == nil {
			if grid.Inject(pos, f) {
				return 1
			}
			return 0
		}
		domain := strings.TrimPrefix(target, "domain:")
		return grid.InjectBroadcast(f, "", domain)
	}
}

func payloadFrom(content any) lattice.Payload {
	switch v := content.(type) {
	case nil:
		return lattice.Payload{}
	case string:
		return lattice.Payload{"text": v}
	case map[string]any:
		return lattice.Payload(v)
	default:
		return lattice.Payload{"value": v}
	}
}
