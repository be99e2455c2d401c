package balance

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the runtime tunables. Defaults are compiled in; a YAML file
// can override any subset, same scheme as a universe balance file.
type Config struct {
	// GameSpeed multiplies natural resource accumulation. It does not affect
	// ship or defense build times.
	GameSpeed float64 `yaml:"game_speed"`

	// Queue limits and rates.
	MaxBuildingQueue  int     `yaml:"max_building_queue"`
	BuildingBuildRate float64 `yaml:"building_build_rate"`
	ResearchBuildRate float64 `yaml:"research_build_rate"`
	MinBuildMs        int64   `yaml:"min_build_ms"`

	// Optimistic concurrency.
	MaxRetryAttempts int           `yaml:"max_retry_attempts"`
	BackoffMin       time.Duration `yaml:"backoff_min"`
	BackoffMax       time.Duration `yaml:"backoff_max"`

	// Mission handling.
	RescueGrace        time.Duration `yaml:"rescue_grace"`
	IncomingGrace      time.Duration `yaml:"incoming_grace"`
	SystemicReturnWait time.Duration `yaml:"systemic_return_wait"`
	RecyclerCapacity   float64       `yaml:"recycler_capacity"`

	// Combat.
	MaxCombatRounds int     `yaml:"max_combat_rounds"`
	LootFraction    float64 `yaml:"loot_fraction"`
	DebrisFraction  float64 `yaml:"debris_fraction"`
	RepairFraction  float64 `yaml:"repair_fraction"`
	BuildingHitOdds float64 `yaml:"building_hit_odds"`

	// Session persistence.
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	LogCap           int           `yaml:"log_cap"`
	DriftTolerance   float64       `yaml:"drift_tolerance"`

	// Feature unlock: crossing this many points permanently enables
	// expeditions for the profile.
	ExpeditionPoints int `yaml:"expedition_points"`
}

// Default returns the stock balance sheet.
func Default() *Config {
	return &Config{
		GameSpeed:          1,
		MaxBuildingQueue:   5,
		BuildingBuildRate:  2500,
		ResearchBuildRate:  1000,
		MinBuildMs:         1000,
		MaxRetryAttempts:   5,
		BackoffMin:         200 * time.Millisecond,
		BackoffMax:         700 * time.Millisecond,
		RescueGrace:        60 * time.Second,
		IncomingGrace:      5 * time.Second,
		SystemicReturnWait: 10 * time.Second,
		RecyclerCapacity:   20000,
		MaxCombatRounds:    6,
		LootFraction:       0.5,
		DebrisFraction:     0.3,
		RepairFraction:     0.7,
		BuildingHitOdds:    0.1,
		SnapshotInterval:   30 * time.Second,
		LogCap:             50,
		DriftTolerance:     0.10,
		ExpeditionPoints:   100,
	}
}

// Load reads a YAML override file on top of the defaults. A missing path is
// not an error; the defaults simply stand.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read balance file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse balance file: %w", err)
	}
	if cfg.GameSpeed <= 0 {
		return nil, fmt.Errorf("balance file: game_speed must be positive")
	}
	return cfg, nil
}
