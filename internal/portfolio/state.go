// Package portfolio tracks per-symbol position state, reacts to signals
// by issuing order intents, and applies fill confirmations. It is the only
// component allowed to mutate an agent's position and balance.
package portfolio

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/titanfleet/internal/config"
)

// StateSchemaVersion is the schema version written into every state file.
const StateSchemaVersion = "1.0.0"

// AgentState is the persisted trading state of a single symbol agent.
// PositionSize is signed: positive for long, negative for short.
type AgentState struct {
	SchemaVersion   string    `json:"schema_version"`
	Symbol          string    `json:"symbol"`
	BalanceReal     float64   `json:"balance_real"`
	PositionSize    float64   `json:"position_size"`
	AvgEntryPrice   float64   `json:"avg_entry_price"`
	NEntries        int       `json:"n_entries"`
	LongGridPrices  []float64 `json:"long_grid_prices"`
	ShortGridPrices []float64 `json:"short_grid_prices"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the state.
func (s *AgentState) Clone() *AgentState {
	out := *s
	out.LongGridPrices = append([]float64(nil), s.LongGridPrices...)
	out.ShortGridPrices = append([]float64(nil), s.ShortGridPrices...)
	return &out
}

// StateStore persists agent state as one JSON file per symbol under a
// state directory. Writes go through a temp file and rename so a crash
// mid-write never leaves a truncated state file behind.
type StateStore struct {
	dir    string
	logger zerolog.Logger
}

// NewStateStore returns a store rooted at dir. The directory is created
// lazily on the first save.
func NewStateStore(dir string) *StateStore {
	return &StateStore{
		dir:    dir,
		logger: config.NewLogger("state_store"),
	}
}

func (s *StateStore) path(symbol string) string {
	return filepath.Join(s.dir, symbol+"_state.json")
}

// Save writes the state file atomically. The schema version and update
// timestamp are stamped here so callers never have to remember them.
func (s *StateStore) Save(state *AgentState) error {
	state.SchemaVersion = StateSchemaVersion
	state.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state for %s: %w", state.Symbol, err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create state dir %s: %w", s.dir, err)
	}

	tmp := s.path(state.Symbol) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state for %s: %w", state.Symbol, err)
	}
	if err := os.Rename(tmp, s.path(state.Symbol)); err != nil {
		return fmt.Errorf("commit state for %s: %w", state.Symbol, err)
	}
	return nil
}

// Load returns the persisted state for symbol, or a fresh state funded
// with initialCapital when no usable file exists. A corrupt or
// schema-incompatible file is discarded with a warning rather than
// blocking the agent from starting.
func (s *StateStore) Load(symbol string, initialCapital float64) *AgentState {
	data, err := os.ReadFile(s.path(symbol))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("Failed to read state file, starting fresh")
		}
		return s.freshState(symbol, initialCapital)
	}

	var state AgentState
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Warn().Err(err).Str("symbol", symbol).Msg("State file is corrupt, starting fresh")
		return s.freshState(symbol, initialCapital)
	}

	if err := checkSchemaCompatibility(state.SchemaVersion); err != nil {
		s.logger.Warn().Err(err).Str("symbol", symbol).Msg("State schema incompatible, starting fresh")
		return s.freshState(symbol, initialCapital)
	}

	state.Symbol = symbol
	return &state
}

func (s *StateStore) freshState(symbol string, initialCapital float64) *AgentState {
	return &AgentState{
		SchemaVersion: StateSchemaVersion,
		Symbol:        symbol,
		BalanceReal:   initialCapital,
	}
}

// checkSchemaCompatibility verifies that a persisted schema version can
// be read by this binary. Files within the same major version load
// directly; anything newer than the binary or from another major is
// rejected.
func checkSchemaCompatibility(version string) error {
	if version == "" {
		return fmt.Errorf("missing schema version")
	}

	current, err := semver.NewVersion(version)
	if err != nil {
		// Try to handle simple version strings
		current, err = semver.NewVersion(version + ".0")
		if err != nil {
			return fmt.Errorf("invalid schema version: %s", version)
		}
	}

	target, err := semver.NewVersion(StateSchemaVersion)
	if err != nil {
		return fmt.Errorf("invalid target schema version: %s", StateSchemaVersion)
	}

	if current.GreaterThan(target) {
		return fmt.Errorf("state requires schema version %s, but only %s is supported",
			version, StateSchemaVersion)
	}

	if current.Major() != target.Major() {
		return fmt.Errorf("no migration path from version %s to %s", version, StateSchemaVersion)
	}

	return nil
}
