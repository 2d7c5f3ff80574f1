// Package config provides configuration loading and management for gridca.
package config

// Config is the root configuration.
type Config struct {
	Sim     SimConfig     `json:"sim"     mapstructure:"sim"`
	Cells   CellConfig    `json:"cells"   mapstructure:"cells"`
	Search  SearchConfig  `json:"search"  mapstructure:"search"`
	Invoker InvokerConfig `json:"invoker" mapstructure:"invoker"`
}

// SimConfig tunes the tick scheduler.
type SimConfig struct {
	MaxTicks        int     `json:"max_ticks"        mapstructure:"max_ticks"`
	QuiescenceTicks int     `json:"quiescence_ticks" mapstructure:"quiescence_ticks"`
	Workers         int     `json:"workers"          mapstructure:"workers"`
	QualityBar      float64 `json:"quality_bar"      mapstructure:"quality_bar"`
}

// CellConfig sets per-cell defaults applied at seeding time.
type CellConfig struct {
	WIPLimit       int     `json:"wip_limit,omitempty"       mapstructure:"wip_limit"`
	StaleThreshold int     `json:"stale_threshold,omitempty" mapstructure:"stale_threshold"`
	StuckThreshold int     `json:"stuck_threshold,omitempty" mapstructure:"stuck_threshold"`
	Strictness     float64 `json:"strictness,omitempty"      mapstructure:"strictness"`
}

// SearchConfig tunes the rule table search.
type SearchConfig struct {
	Candidates            int `json:"candidates,omitempty"              mapstructure:"candidates"`
	SimTicks              int `json:"sim_ticks,omitempty"               mapstructure:"sim_ticks"`
	MutationsPerCandidate int `json:"mutations_per_candidate,omitempty" mapstructure:"mutations_per_candidate"`
	Generations           int `json:"generations,omitempty"             mapstructure:"generations"`
	Population            int `json:"population,omitempty"              mapstructure:"population"`
	TopK                  int `json:"top_k,omitempty"                   mapstructure:"top_k"`
}

// InvokerConfig selects and tunes the collaborator adapter.
type InvokerConfig struct {
	Type           string  `json:"type"                       mapstructure:"type"`
	Model          string  `json:"model,omitempty"            mapstructure:"model"`
	Temperature    float64 `json:"temperature,omitempty"      mapstructure:"temperature"`
	CallTimeoutSec int     `json:"call_timeout_sec,omitempty" mapstructure:"call_timeout_sec"`
}

// Default returns the built-in configuration, used when no config file exists.
func Default() Config {
	return Config{
		Sim: SimConfig{
			MaxTicks:        30,
			QuiescenceTicks: 3,
			Workers:         4,
			QualityBar:      75,
		},
		Cells: CellConfig{
			WIPLimit:       3,
			StaleThreshold: 4,
			StuckThreshold: 2,
			Strictness:     0.8,
		},
		Invoker: InvokerConfig{
			Type: "stub",
		},
	}
}

// ApplyDefaults fills zero-valued fields from Default.
func (c *Config) ApplyDefaults() {
	d := Default()
	if c.Sim.MaxTicks <= 0 {
		c.Sim.MaxTicks = d.Sim.MaxTicks
	}
	if c.Sim.QuiescenceTicks <= 0 {
		c.Sim.QuiescenceTicks = d.Sim.QuiescenceTicks
	}
	if c.Sim.Workers <= 0 {
		c.Sim.Workers = d.Sim.Workers
	}
	if c.Sim.QualityBar <= 0 {
		c.Sim.QualityBar = d.Sim.QualityBar
	}
	if c.Cells.WIPLimit <= 0 {
		c.Cells.WIPLimit = d.Cells.WIPLimit
	}
	if c.Cells.StaleThreshold <= 0 {
		c.Cells.StaleThreshold = d.Cells.StaleThreshold
	}
	if c.Cells.StuckThreshold <= 0 {
		c.Cells.StuckThreshold = d.Cells.StuckThreshold
	}
	if c.Cells.Strictness <= 0 {
		c.Cells.Strictness = d.Cells.Strictness
	}
	if c.Invoker.Type == "" {
		c.Invoker.Type = d.Invoker.Type
	}
}
