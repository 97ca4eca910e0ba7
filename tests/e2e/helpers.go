// Shared helpers for the end-to-end suite
package e2e

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/titanfleet/internal/config"
)

// startEmbeddedNATS runs a NATS server on a random port for the test's
// lifetime.
func startEmbeddedNATS(t *testing.T) *server.Server {
	t.Helper()

	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1})
	require.NoError(t, err)

	go ns.Start()
	require.True(t, ns.ReadyForConnections(5*time.Second), "embedded NATS server did not start")

	t.Cleanup(ns.Shutdown)
	return ns
}

// discoveryFeed serves the ranked candidate payload the orchestrator's
// discovery client polls. The list can be re-pointed between cycles.
type discoveryFeed struct {
	mu      sync.Mutex
	symbols []string
	url     string
}

func startDiscoveryFeed(t *testing.T, symbols ...string) *discoveryFeed {
	t.Helper()

	feed := &discoveryFeed{symbols: symbols}
	srv := httptest.NewServer(http.HandlerFunc(feed.handler))
	t.Cleanup(srv.Close)
	feed.url = srv.URL
	return feed
}

func (d *discoveryFeed) set(symbols ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.symbols = symbols
}

func (d *discoveryFeed) handler(w http.ResponseWriter, _ *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries := make([]map[string]string, 0, len(d.symbols))
	for _, s := range d.symbols {
		entries = append(entries, map[string]string{"s": s})
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"d": entries})
}

// e2eConfig builds a simulation-mode configuration with a per-test state
// directory and a three-slot selection.
func e2eConfig(t *testing.T, discoveryURL string) *config.Config {
	t.Helper()

	cfg := &config.Config{}
	cfg.App.StateDir = t.TempDir()
	cfg.Exchange.Mode = config.ModeSimulation
	cfg.Trading = config.TradingConfig{
		TradeMode:            config.TradeModeDualSide,
		GridWidthPct:         1.0,
		SupertrendPeriod:     10,
		SupertrendMultiplier: 3.0,
		MaxEntries:           2,
		RiskPctPerTrade:      1.0,
		InitialCapital:       10000.0,
		LeverageMultiplier:   3,
	}
	cfg.Orchestrator = config.OrchestratorConfig{
		DiscoveryURL:   discoveryURL,
		CycleMinutes:   15,
		TopN:           3,
		MaxConcurrency: 2,
	}
	return cfg
}
