package logging

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type contextKey string

const (
	loggerKey  contextKey = "logger"
	traceIDKey contextKey = "trace_id"
)

// GenerateTraceID generates a new trace/request id.
func GenerateTraceID() string {
	return uuid.NewString()
}

// FromContext retrieves the logger carried on ctx, falling back to Default.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Default()
}

// NewContext returns a context carrying the given logger.
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// WithTraceContext stamps ctx with a fresh trace id and a logger tagged with it.
func WithTraceContext(ctx context.Context) (context.Context, *Logger) {
	traceID := GenerateTraceID()
	l := Default().WithTraceID(traceID)
	newCtx := context.WithValue(ctx, traceIDKey, traceID)
	newCtx = context.WithValue(newCtx, loggerKey, l)
	return newCtx, l
}

// RoundContext creates a logger context for round lifecycle operations.
func RoundContext(roundID, status string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"round_id": roundID,
		"status":   status,
	}).WithComponent("round")
}

// JudgmentContext creates a logger context for judgment submission/evaluation.
func JudgmentContext(roundID, agentID, direction string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"round_id":  roundID,
		"agent_id":  agentID,
		"direction": direction,
	}).WithComponent("judgment")
}

// PatternContext creates a logger context for pattern evaluation.
func PatternContext(pattern, timeframe string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"pattern":   pattern,
		"timeframe": timeframe,
	}).WithComponent("pattern")
}

// PriceFeedContext creates a logger context for the live price feed actor.
func PriceFeedContext(state string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"state": state,
	}).WithComponent("pricefeed")
}

// KlineContext creates a logger context for kline fetch operations.
func KlineContext(symbol, interval string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"symbol":   symbol,
		"interval": interval,
	}).WithComponent("klines")
}

// AdvancerContext creates a logger context for state advancer ticks.
func AdvancerContext(tick int64) *Logger {
	return Default().WithFields(map[string]interface{}{
		"tick": tick,
	}).WithComponent("advancer")
}

// APIContext creates a logger context for HTTP request handling.
func APIContext(method, path string, statusCode int) *Logger {
	return Default().WithFields(map[string]interface{}{
		"method":      method,
		"path":        path,
		"status_code": statusCode,
	}).WithComponent("api")
}

// DatabaseContext creates a logger context for database operations.
func DatabaseContext(operation, table string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"operation": operation,
		"table":     table,
	}).WithComponent("database")
}

// GinMiddleware attaches a request-scoped logger to the gin context, stamping
// a request id (propagated from X-Request-ID when present) and logging
// completion with status/duration, mirroring the teacher's net/http
// HTTPMiddleware but wired for gin's handler chain.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = GenerateTraceID()
		}

		l := Default().WithTraceID(requestID).WithFields(map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"client_ip":  c.ClientIP(),
			"user_agent": c.Request.UserAgent(),
		}).WithComponent("http")

		c.Set(string(loggerKey), l)
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Request = c.Request.WithContext(NewContext(c.Request.Context(), l))

		c.Next()

		l.WithDuration(time.Since(start)).
			WithField("status_code", c.Writer.Status()).
			Info("request completed")
	}
}

// FromGinContext retrieves the request-scoped logger attached by GinMiddleware.
func FromGinContext(c *gin.Context) *Logger {
	if v, ok := c.Get(string(loggerKey)); ok {
		if l, ok := v.(*Logger); ok {
			return l
		}
	}
	return Default()
}
