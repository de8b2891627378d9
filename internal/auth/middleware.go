package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"btc-tournament/internal/apperr"
	"btc-tournament/internal/database"
)

// ContextKeyAgent is the gin context key the authenticated agent is stored under.
const ContextKeyAgent = "agent"

func abortWithAppError(c *gin.Context, err *apperr.Error) {
	c.AbortWithStatusJSON(err.Kind.HTTPStatus(), gin.H{
		"error":   err.Code,
		"message": err.Message,
	})
}

// BearerMiddleware authenticates a request by matching the bearer token
// exactly against an agent's secret, rejecting agents that are not active.
func BearerMiddleware(repo *database.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := extractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			abortWithAppError(c, apperr.Auth("MISSING_BEARER", err.Error()))
			return
		}

		agent, err := repo.GetAgentBySecret(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				abortWithAppError(c, apperr.Auth("INVALID_BEARER", "invalid api key"))
				return
			}
			abortWithAppError(c, apperr.Internal("AGENT_LOOKUP_FAILED", "failed to look up agent", err))
			return
		}
		if agent.Status != database.AgentStatusActive {
			abortWithAppError(c, apperr.Auth("AGENT_NOT_ACTIVE", "agent is not active"))
			return
		}

		c.Set(ContextKeyAgent, agent)
		c.Next()
	}
}

// AdminMiddleware authenticates a request by matching the bearer token
// exactly against the configured admin token.
func AdminMiddleware(adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := extractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			abortWithAppError(c, apperr.Auth("MISSING_BEARER", err.Error()))
			return
		}
		if adminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(adminToken)) != 1 {
			abortWithAppError(c, apperr.Auth("INVALID_ADMIN_TOKEN", "invalid admin token"))
			return
		}
		c.Next()
	}
}

func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("missing authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", fmt.Errorf("invalid authorization header format")
	}
	return parts[1], nil
}

// HMACMiddleware authenticates the MCP channel: X-Agent-Id, X-Ts (unix ms),
// and X-Signature (hex HMAC-SHA256 over "ts\nMETHOD\npath\nbody") headers,
// rejecting requests whose timestamp falls outside windowSec of now.
func HMACMiddleware(repo *database.Repository, windowSec int) gin.HandlerFunc {
	return func(c *gin.Context) {
		agentID := c.GetHeader("X-Agent-Id")
		tsHeader := c.GetHeader("X-Ts")
		signature := c.GetHeader("X-Signature")
		if agentID == "" || tsHeader == "" || signature == "" {
			abortWithAppError(c, apperr.Auth("MISSING_HMAC_HEADERS", "X-Agent-Id, X-Ts and X-Signature are required"))
			return
		}

		ts, err := strconv.ParseInt(tsHeader, 10, 64)
		if err != nil {
			abortWithAppError(c, apperr.Auth("INVALID_TS", "X-Ts must be a unix millisecond timestamp"))
			return
		}
		now := time.Now().UnixMilli()
		skew := now - ts
		if skew < 0 {
			skew = -skew
		}
		if skew > int64(windowSec)*1000 {
			abortWithAppError(c, apperr.Auth("STALE_SIGNATURE", "signature timestamp outside the allowed window"))
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			abortWithAppError(c, apperr.Validation("UNREADABLE_BODY", "could not read request body"))
			return
		}
		c.Request.Body = io.NopCloser(strings.NewReader(string(body)))

		agent, err := repo.GetAgentByID(c.Request.Context(), agentID)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				abortWithAppError(c, apperr.Auth("UNKNOWN_AGENT", "unknown agent id"))
				return
			}
			abortWithAppError(c, apperr.Internal("AGENT_LOOKUP_FAILED", "failed to look up agent", err))
			return
		}
		if agent.Status != database.AgentStatusActive {
			abortWithAppError(c, apperr.Auth("AGENT_NOT_ACTIVE", "agent is not active"))
			return
		}

		expected := SignRequest(agent.Secret, tsHeader, c.Request.Method, c.Request.URL.Path, body)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(signature))) != 1 {
			abortWithAppError(c, apperr.Auth("BAD_SIGNATURE", "signature does not match"))
			return
		}

		c.Set(ContextKeyAgent, agent)
		c.Next()
	}
}

// SignRequest computes the hex HMAC-SHA256 signature over the canonical
// string "ts\nMETHOD\npath\nbody" using secret as the key.
func SignRequest(secret, ts, method, path string, body []byte) string {
	canonical := ts + "\n" + strings.ToUpper(method) + "\n" + path + "\n" + string(body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

// AgentFromContext extracts the agent authenticated by BearerMiddleware or
// HMACMiddleware from the gin context.
func AgentFromContext(c *gin.Context) *database.Agent {
	if v, ok := c.Get(ContextKeyAgent); ok {
		if agent, ok := v.(*database.Agent); ok {
			return agent
		}
	}
	return nil
}
