// Package config loads the host process's TOML configuration: worker
// pool sizing, the cooperative time slice, default session gap, and
// the data directory the GridSource collaborator reads/writes under
// (spec.md §5 "Concurrency and resource model", §6 "data directory").
package config

import (
	"github.com/BurntSushi/toml"

	"github.com/entityql/coreql/grid"
)

// Config is the on-disk shape of a host's coreql.toml.
type Config struct {
	Data   DataConfig   `toml:"data"`
	Engine EngineConfig `toml:"engine"`
	Grid   GridConfig   `toml:"grid"`
}

// DataConfig points at where the GridSource collaborator keeps its
// entity blobs (spec.md §1 "persistence is an external collaborator";
// the grid blobs themselves are never opened by coreql). A partition
// may also be pointed at this directory via OpenPersistentIndex to
// mirror its bit index there for restart durability.
type DataConfig struct {
	Dir string `toml:"dir"`
}

// EngineConfig sizes the worker pool and cooperative time slice an
// Engine runs with (spec.md §5).
type EngineConfig struct {
	Workers int   `toml:"workers"`
	SliceMs int64 `toml:"slice_ms"`
}

// GridConfig sets the default session gap new grids are created with
// (spec.md §3 "session").
type GridConfig struct {
	SessionGapMs int64 `toml:"session_gap_ms"`
}

// Default returns the configuration a host starts from before a file
// is loaded: GOMAXPROCS-sized worker pool, a 10ms time slice, and the
// grid package's 30-minute default session gap.
func Default() Config {
	return Config{
		Data:   DataConfig{Dir: "./data"},
		Engine: EngineConfig{Workers: 0, SliceMs: 10},
		Grid:   GridConfig{SessionGapMs: grid.DefaultSessionGapMS},
	}
}

// Load reads and decodes a TOML config file at path, starting from
// Default so a partial file only overrides what it names.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
