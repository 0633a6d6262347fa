package logger

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/smallbiznis/fieldbill/internal/principal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// PrincipalHeader carries the id of the caller authenticated upstream.
	PrincipalHeader = "X-Principal-Id"
	// RequestIDHeader is read from the request and echoed on the response.
	RequestIDHeader = "X-Request-Id"
)

// Caller-supplied request ids are kept only when they look like an id.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// MiddlewareConfig controls request logging.
type MiddlewareConfig struct {
	// Logger defaults to the global logger.
	Logger *zap.Logger
	Debug  bool
	// ErrorClassifier maps a handler error to its error_type and error_code.
	ErrorClassifier func(err error) (string, string)
	// QuietRoutes are logged at debug level, e.g. health and metrics.
	QuietRoutes []string
}

// GinMiddleware stores the request id and principal id on the request
// context, then writes one http_request line per request once the handler
// chain has finished.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	quiet := make(map[string]struct{}, len(cfg.QuietRoutes))
	for _, r := range cfg.QuietRoutes {
		quiet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		requestID := requestIDFor(c)
		c.Header(RequestIDHeader, requestID)

		ctx := principal.WithRequestID(c.Request.Context(), requestID)
		ctx = principal.WithID(ctx, c.GetHeader(PrincipalHeader))
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}

		var errorType string
		if last := c.Errors.Last(); last != nil {
			errorType = "unexpected"
			errorCode := "internal_error"
			if cfg.ErrorClassifier != nil {
				errorType, errorCode = cfg.ErrorClassifier(last.Err)
			}
			fields = append(fields,
				zap.String("error_type", errorType),
				zap.String("error_code", errorCode),
			)
			if cfg.Debug {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		_, isQuiet := quiet[route]
		base := cfg.Logger
		if base == nil {
			base = zap.L()
		}
		log := WithContext(c.Request.Context(), base)
		if ce := log.Check(requestLevel(status, errorType, isQuiet), "http_request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

func requestIDFor(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader(RequestIDHeader)); requestIDPattern.MatchString(id) {
		return id
	}
	return uuid.NewString()
}

// requestLevel keeps routine client mistakes and health traffic out of the
// info stream. Conflicts and invalid transitions stay visible as warnings.
func requestLevel(status int, errorType string, quiet bool) zapcore.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case quiet:
		return zapcore.DebugLevel
	case status >= http.StatusBadRequest:
		switch errorType {
		case "validation_failed", "not_found", "":
			return zapcore.DebugLevel
		}
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
