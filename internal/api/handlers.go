package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"btc-tournament/internal/apperr"
	"btc-tournament/internal/auth"
	"btc-tournament/internal/database"
	"btc-tournament/internal/events"
	"btc-tournament/internal/klines"
	"btc-tournament/internal/reasonrule"
	"btc-tournament/internal/round"
)

// handleHealth reports liveness and a database ping, per §6.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.repo.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "time": time.Now(), "error": "database unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now()})
}

// handleSummary returns the client-polling snapshot assembled by the round service.
func (s *Server) handleSummary(c *gin.Context) {
	summary, err := s.roundSvc.BuildSummary(c.Request.Context())
	if err != nil {
		errorResponse(c, err)
		return
	}
	successResponse(c, summary)
}

// handleAdvance force-runs one state advancer tick. Idempotent: calling it
// repeatedly with no elapsed time settles into a no-op after the first call.
func (s *Server) handleAdvance(c *gin.Context) {
	if err := s.roundSvc.Tick(c.Request.Context()); err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// handleKlines proxies candle windows for one or more intervals.
func (s *Server) handleKlines(c *gin.Context) {
	symbol := c.DefaultQuery("coin", c.DefaultQuery("symbol", klines.SupportedSymbol))
	limit, _ := strconv.Atoi(c.Query("limit"))

	var intervals []string
	if raw := c.Query("intervals"); raw != "" {
		intervals = strings.Split(raw, ",")
	}

	results, err := s.fetcher.FetchMany(c.Request.Context(), symbol, intervals, limit)
	if err != nil {
		errorResponse(c, err)
		return
	}

	if c.Query("raw") == "true" {
		successResponse(c, results)
		return
	}

	out := make(map[string]interface{}, len(results))
	for interval, res := range results {
		if res.Err != nil {
			out[interval] = gin.H{"error": res.Err.Error()}
			continue
		}
		out[interval] = res.Klines
	}
	successResponse(c, gin.H{"symbol": symbol, "intervals": out})
}

func parseStatsWindow(c *gin.Context) (since, until time.Time, limit int) {
	until = time.Now()
	if v := c.Query("until"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			until = t
		}
	}
	since = until.AddDate(0, 0, -30)
	if v := c.Query("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			since = t
		}
	}
	limit = 5000
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 20000 {
		limit = 20000
	}
	return since, until, limit
}

func (s *Server) reasonStatsPayload(c *gin.Context, agentID string) (gin.H, error) {
	since, until, limit := parseStatsWindow(c)
	ctx := c.Request.Context()

	overall, err := s.repo.ReasonStatsOverall(ctx, since, until, agentID, limit)
	if err != nil {
		return nil, err
	}
	byTimeframe, err := s.repo.ReasonStatsByTimeframe(ctx, since, until, agentID, limit)
	if err != nil {
		return nil, err
	}
	byPattern, err := s.repo.ReasonStatsByPattern(ctx, since, until, agentID, limit)
	if err != nil {
		return nil, err
	}

	return gin.H{
		"since":        since,
		"until":        until,
		"overall":      overall,
		"by_timeframe": byTimeframe,
		"by_pattern":   byPattern,
	}, nil
}

// handleReasonStatsGlobal aggregates reason-rule outcomes across all agents.
func (s *Server) handleReasonStatsGlobal(c *gin.Context) {
	payload, err := s.reasonStatsPayload(c, "")
	if err != nil {
		errorResponse(c, err)
		return
	}
	successResponse(c, payload)
}

// handleReasonStatsForAgent aggregates reason-rule outcomes for one agent,
// 404ing if the agent does not exist.
func (s *Server) handleReasonStatsForAgent(c *gin.Context) {
	agentID := c.Param("id")
	if _, err := s.repo.GetAgentByID(c.Request.Context(), agentID); err != nil {
		if err == database.ErrNotFound {
			errorResponse(c, apperr.NotFound("AGENT_NOT_FOUND", "agent not found"))
			return
		}
		errorResponse(c, err)
		return
	}

	payload, err := s.reasonStatsPayload(c, agentID)
	if err != nil {
		errorResponse(c, err)
		return
	}
	payload["agent_id"] = agentID
	successResponse(c, payload)
}

// handleDiagnostics reports the live price feed's connection health and
// persists the snapshot by folding it into the meta-price row.
func (s *Server) handleDiagnostics(c *gin.Context) {
	if s.feed == nil {
		errorResponse(c, apperr.Upstream("FEED_DISABLED", "no live price feed is configured", nil))
		return
	}
	diag := s.feed.Diag()

	if meta, err := s.repo.GetMeta(c.Request.Context()); err == nil && meta != nil {
		meta.LastPriceAt = &diag.LastUpdateAt
		_ = s.repo.UpdateMeta(c.Request.Context(), meta)
	}

	successResponse(c, diag)
}

// registerRequest is the §6 self-register payload.
type registerRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// handleRegister self-registers a new agent in pending_claim status.
func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, apperr.ValidationWrap("INVALID_BODY", "request body must be valid JSON", err))
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		errorResponse(c, apperr.Validation("MISSING_NAME", "name is required"))
		return
	}

	id := auth.Slugify(name)
	if id == "" {
		errorResponse(c, apperr.Validation("INVALID_NAME", "name must contain at least one alphanumeric character"))
		return
	}

	apiKey, err := auth.GenerateAPIKey()
	if err != nil {
		errorResponse(c, apperr.Internal("KEYGEN_FAILED", "failed to generate api key", err))
		return
	}
	claimToken, err := auth.GenerateClaimToken()
	if err != nil {
		errorResponse(c, apperr.Internal("KEYGEN_FAILED", "failed to generate claim token", err))
		return
	}
	verificationCode, err := auth.GenerateVerificationCode()
	if err != nil {
		errorResponse(c, apperr.Internal("KEYGEN_FAILED", "failed to generate verification code", err))
		return
	}

	agent := &database.Agent{
		ID:               id,
		Name:             name,
		Persona:          req.Description,
		Status:           database.AgentStatusPendingClaim,
		Secret:           apiKey,
		ClaimToken:       claimToken,
		VerificationCode: verificationCode,
	}
	if err := s.repo.CreateAgent(c.Request.Context(), agent); err != nil {
		errorResponse(c, apperr.Conflict("AGENT_ID_TAKEN", "an agent with this id already exists"))
		return
	}

	successResponse(c, gin.H{
		"ok":                 true,
		"id":                 agent.ID,
		"name":               agent.Name,
		"status":             agent.Status,
		"api_key":            agent.Secret,
		"claim_url":          "/claim/" + claimToken,
		"verification_code":  agent.VerificationCode,
	})
}

// handleClaim activates an agent given its claim token. Idempotent: claiming
// an already-active agent with the same token succeeds without error.
func (s *Server) handleClaim(c *gin.Context) {
	token := c.Param("token")

	agent, err := s.repo.ClaimAgent(c.Request.Context(), token, time.Now())
	if err != nil {
		if err == database.ErrNotFound {
			errorResponse(c, apperr.NotFound("CLAIM_TOKEN_NOT_FOUND", "claim token not found"))
			return
		}
		errorResponse(c, err)
		return
	}
	successResponse(c, gin.H{"ok": true, "id": agent.ID, "status": agent.Status})
}

// handleAgentStatus returns the authenticated agent's score and status.
func (s *Server) handleAgentStatus(c *gin.Context) {
	agent := auth.AgentFromContext(c)
	successResponse(c, gin.H{"id": agent.ID, "status": agent.Status, "score": agent.Score})
}

// handleAgentMe returns the authenticated agent's full profile.
func (s *Server) handleAgentMe(c *gin.Context) {
	agent := auth.AgentFromContext(c)
	successResponse(c, agent)
}

// submitJudgmentRequest is the §4.F judgment submission payload.
type submitJudgmentRequest struct {
	RoundID           string             `json:"round_id"`
	Direction         string             `json:"direction"`
	Confidence        int                `json:"confidence"`
	Comment           string             `json:"comment"`
	Intervals         []string           `json:"intervals"`
	AnalysisStartTime time.Time          `json:"analysis_start_time"`
	AnalysisEndTime   time.Time          `json:"analysis_end_time"`
	Reason            reasonrule.RawRule `json:"reason"`
}

// handleSubmitJudgment validates and records one agent's prediction for a round.
func (s *Server) handleSubmitJudgment(c *gin.Context) {
	agent := auth.AgentFromContext(c)

	var req submitJudgmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, apperr.ValidationWrap("INVALID_BODY", "request body must be valid JSON", err))
		return
	}

	result, err := s.roundSvc.SubmitJudgment(c.Request.Context(), agent.ID, round.JudgmentPayload{
		RoundID:           req.RoundID,
		Direction:         req.Direction,
		Confidence:        req.Confidence,
		Comment:           req.Comment,
		Intervals:         req.Intervals,
		AnalysisStartTime: req.AnalysisStartTime,
		AnalysisEndTime:   req.AnalysisEndTime,
		Reason:            req.Reason,
	})
	if err != nil {
		errorResponse(c, err)
		return
	}
	successResponse(c, result)
}

// handleEventStream is the coarse SSE context channel: it streams round
// lifecycle transitions (started/locked/settled/cancelled) as they happen.
// It carries no history — a client connecting mid-round sees nothing until
// the next transition.
func (s *Server) handleEventStream(c *gin.Context) {
	if s.bus == nil {
		errorResponse(c, apperr.Upstream("EVENTS_DISABLED", "no event bus is configured", nil))
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	msgs := make(chan events.Event, 16)
	unsubscribe := s.bus.Subscribe(func(e events.Event) {
		select {
		case msgs <- e:
		default:
		}
	})
	defer unsubscribe()

	ctx := c.Request.Context()
	c.Stream(func(w gin.ResponseWriter) bool {
		select {
		case e := <-msgs:
			body, err := json.Marshal(e)
			if err != nil {
				return true
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, body)
			return true
		case <-ctx.Done():
			return false
		}
	})
}
