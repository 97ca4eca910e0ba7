package portfolio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateStoreSaveLoadRoundTrip(t *testing.T) {
	store := NewStateStore(t.TempDir())

	saved := &AgentState{
		Symbol:          "BTCUSDT",
		BalanceReal:     10099.99,
		PositionSize:    0.6666,
		AvgEntryPrice:   29850.0,
		NEntries:        2,
		LongGridPrices:  []float64{29700.0, 29403.0},
		ShortGridPrices: nil,
	}
	require.NoError(t, store.Save(saved))

	loaded := store.Load("BTCUSDT", 123.0)
	require.Equal(t, saved, loaded)
	assert.Equal(t, StateSchemaVersion, loaded.SchemaVersion)
	assert.False(t, loaded.UpdatedAt.IsZero())
}

func TestStateStoreLoadMissingFile(t *testing.T) {
	store := NewStateStore(t.TempDir())

	st := store.Load("ETHUSDT", 10000.0)
	require.NotNil(t, st)
	assert.Equal(t, "ETHUSDT", st.Symbol)
	assert.Equal(t, 10000.0, st.BalanceReal)
	assert.Equal(t, 0.0, st.PositionSize)
	assert.Equal(t, 0, st.NEntries)
	assert.Empty(t, st.LongGridPrices)
	assert.Empty(t, st.ShortGridPrices)
}

func TestStateStoreLoadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	store := NewStateStore(dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "BTCUSDT_state.json"), []byte("{not json"), 0o644))

	st := store.Load("BTCUSDT", 5000.0)
	assert.Equal(t, 5000.0, st.BalanceReal)
	assert.Equal(t, 0.0, st.PositionSize)
}

func TestStateStoreLoadIncompatibleSchema(t *testing.T) {
	dir := t.TempDir()
	store := NewStateStore(dir)

	tests := []struct {
		name    string
		version string
	}{
		{"newer major", "2.0.0"},
		{"newer minor", "1.5.0"},
		{"older major", "0.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"schema_version":"` + tt.version + `","symbol":"BTCUSDT","balance_real":9999.0,"position_size":1.5}`
			require.NoError(t, os.WriteFile(filepath.Join(dir, "BTCUSDT_state.json"), []byte(body), 0o644))

			st := store.Load("BTCUSDT", 10000.0)
			assert.Equal(t, 10000.0, st.BalanceReal, "incompatible state must be discarded")
			assert.Equal(t, 0.0, st.PositionSize)
		})
	}
}

func TestStateStoreLoadShortVersionString(t *testing.T) {
	dir := t.TempDir()
	store := NewStateStore(dir)

	// "1.0" counts as compatible with 1.0.0 and loads normally.
	body := `{"schema_version":"1.0","symbol":"BTCUSDT","balance_real":8000.0,"position_size":0.25,"avg_entry_price":31000,"n_entries":1}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "BTCUSDT_state.json"), []byte(body), 0o644))

	st := store.Load("BTCUSDT", 10000.0)
	assert.Equal(t, 8000.0, st.BalanceReal)
	assert.Equal(t, 0.25, st.PositionSize)
	assert.Equal(t, 31000.0, st.AvgEntryPrice)
}

func TestStateStoreSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	store := NewStateStore(dir)

	require.NoError(t, store.Save(&AgentState{Symbol: "BTCUSDT", BalanceReal: 1.0}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "BTCUSDT_state.json", entries[0].Name())
}

func TestStateStoreCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	store := NewStateStore(dir)

	require.NoError(t, store.Save(&AgentState{Symbol: "BTCUSDT", BalanceReal: 1.0}))

	_, err := os.Stat(filepath.Join(dir, "BTCUSDT_state.json"))
	require.NoError(t, err)
}

func TestCheckSchemaCompatibility(t *testing.T) {
	tests := []struct {
		name    string
		version string
		wantErr bool
	}{
		{"current version", StateSchemaVersion, false},
		{"two segment version", "1.0", false},
		{"empty version", "", true},
		{"garbage version", "not-a-version", true},
		{"newer major", "2.0.0", true},
		{"newer minor", "1.1.0", true},
		{"older major", "0.9", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkSchemaCompatibility(tt.version)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAgentStateCloneIsDeep(t *testing.T) {
	orig := &AgentState{
		Symbol:         "BTCUSDT",
		LongGridPrices: []float64{29700.0},
	}
	clone := orig.Clone()
	clone.LongGridPrices[0] = 1.0
	clone.BalanceReal = 42.0

	assert.Equal(t, 29700.0, orig.LongGridPrices[0])
	assert.Equal(t, 0.0, orig.BalanceReal)
}
