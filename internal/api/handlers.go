package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ajitpratap0/titanfleet/internal/fleet"
	"github.com/ajitpratap0/titanfleet/internal/indicators"
	"github.com/ajitpratap0/titanfleet/internal/journal"
)

// recentFillsLimit caps the fill history embedded in the status
// document.
const recentFillsLimit = 20

// statusResponse is the /status document, also pushed on the websocket
// stream.
type statusResponse struct {
	Status      string            `json:"status"` // "running" or "paused"
	Mode        string            `json:"mode"`
	Selection   []string          `json:"selection"`
	Agents      []agentStatusView `json:"agents"`
	RecentFills []journal.Fill    `json:"recent_fills,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// agentStatusView decorates a fleet status row with a tech snapshot when
// enough history has accumulated.
type agentStatusView struct {
	fleet.AgentStatus
	Tech *indicators.TechSnapshot `json:"tech,omitempty"`
}

type controlRequest struct {
	Symbol string `json:"symbol"`
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "TitanFleet API",
		"status":  "running",
		"mode":    s.mode,
		"time":    time.Now().UTC(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.statusDocument(c.Request.Context()))
}

// handleStart starts one agent, or resumes the orchestrator when no
// symbol is given.
func (s *Server) handleStart(c *gin.Context) {
	req, ok := s.bindControlRequest(c)
	if !ok {
		return
	}

	if req.Symbol == "" {
		if err := s.control.Resume(); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "resumed", "time": time.Now().UTC()})
		return
	}

	// Manual starts use the configured default parameters; the next
	// selection cycle may replace the agent with tuned ones.
	if err := s.fleet.StartBot(c.Request.Context(), req.Symbol, fleet.AgentParams{}); err != nil {
		s.logger.Error().Err(err).Str("symbol", req.Symbol).Msg("Manual agent start failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("failed to start agent: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "started", "symbol": req.Symbol})
}

// handleStop stops one agent (flattening its position), or pauses the
// orchestrator when no symbol is given.
func (s *Server) handleStop(c *gin.Context) {
	req, ok := s.bindControlRequest(c)
	if !ok {
		return
	}

	if req.Symbol == "" {
		if err := s.control.Pause(); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "paused", "time": time.Now().UTC()})
		return
	}

	s.fleet.StopBot(c.Request.Context(), req.Symbol, true)
	c.JSON(http.StatusOK, gin.H{"status": "stopped", "symbol": req.Symbol})
}

// bindControlRequest parses the optional {"symbol": ...} body. An empty
// body is valid and means the whole-fleet variant of the operation.
func (s *Server) bindControlRequest(c *gin.Context) (controlRequest, bool) {
	var req controlRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("invalid request: %v", err),
		})
		return req, false
	}
	return req, true
}

func (s *Server) statusDocument(ctx context.Context) statusResponse {
	statuses := s.fleet.Statuses()

	agents := make([]agentStatusView, 0, len(statuses))
	for _, status := range statuses {
		view := agentStatusView{AgentStatus: status}
		if s.market != nil {
			view.Tech = s.techSnapshot(status.Symbol)
		}
		agents = append(agents, view)
	}

	doc := statusResponse{
		Status:    "running",
		Mode:      s.mode,
		Selection: s.control.CurrentSelection(),
		Agents:    agents,
		Timestamp: time.Now().UTC(),
	}
	if s.control.IsPaused() {
		doc.Status = "paused"
	}

	if s.fills != nil {
		fills, err := s.fills.RecentFills(ctx, recentFillsLimit)
		if err != nil {
			// A journal outage degrades the document, never the endpoint.
			s.logger.Warn().Err(err).Msg("Failed to load recent fills")
		} else {
			doc.RecentFills = fills
		}
	}

	return doc
}

func (s *Server) techSnapshot(symbol string) *indicators.TechSnapshot {
	history := s.market.HistorySnapshot(symbol)
	if len(history) == 0 {
		return nil
	}

	closes := make([]float64, len(history))
	for i, bar := range history {
		closes[i] = bar.Close
	}

	snap, err := indicators.Snapshot(closes)
	if err != nil {
		return nil
	}
	return snap
}
