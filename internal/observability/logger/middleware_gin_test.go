package logger

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/fieldbill/internal/principal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var errAlreadyIssued = errors.New("invoice already issued")

func newLoggedEngine(t *testing.T) (*gin.Engine, *observer.ObservedLogs) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)

	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{
		Logger: zap.New(core),
		ErrorClassifier: func(err error) (string, string) {
			if errors.Is(err, errAlreadyIssued) {
				return "invalid_state_transition", "invoice_already_issued"
			}
			return "unexpected", "internal_error"
		},
		QuietRoutes: []string{"/health"},
	}))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/invoices/:id", func(c *gin.Context) {
		id, _ := principal.IDFromContext(c.Request.Context())
		c.String(http.StatusOK, id+"|"+principal.RequestIDFromContext(c.Request.Context()))
	})
	r.POST("/api/invoices/:id/issue", func(c *gin.Context) {
		_ = c.Error(errAlreadyIssued)
		c.Status(http.StatusConflict)
	})
	return r, logs
}

func TestGinMiddlewareCarriesCallerIdentity(t *testing.T) {
	r, logs := newLoggedEngine(t)

	req := httptest.NewRequest(http.MethodGet, "/api/invoices/9", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	req.Header.Set(PrincipalHeader, "ops")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "ops|req-42", w.Body.String())
	assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))

	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-42", fields["request_id"])
	assert.Equal(t, "ops", fields["principal_id"])
	assert.Equal(t, "/api/invoices/:id", fields["route"])
	assert.EqualValues(t, http.StatusOK, fields["status"])
}

func TestGinMiddlewareReplacesMalformedRequestID(t *testing.T) {
	r, _ := newLoggedEngine(t)

	req := httptest.NewRequest(http.MethodGet, "/api/invoices/9", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("x", 200))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	got := w.Header().Get(RequestIDHeader)
	assert.Len(t, got, 36)
	assert.True(t, strings.HasSuffix(w.Body.String(), "|"+got))
}

func TestGinMiddlewareLevels(t *testing.T) {
	r, logs := newLoggedEngine(t)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/invoices/9/issue", nil))

	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	fields := entries[1].ContextMap()
	assert.Equal(t, "invalid_state_transition", fields["error_type"])
	assert.Equal(t, "invoice_already_issued", fields["error_code"])
}

func TestRequestLevel(t *testing.T) {
	assert.Equal(t, zapcore.ErrorLevel, requestLevel(http.StatusInternalServerError, "unexpected", true))
	assert.Equal(t, zapcore.DebugLevel, requestLevel(http.StatusUnprocessableEntity, "validation_failed", false))
	assert.Equal(t, zapcore.DebugLevel, requestLevel(http.StatusNotFound, "", false))
	assert.Equal(t, zapcore.WarnLevel, requestLevel(http.StatusConflict, "conflicting_unique_key", false))
	assert.Equal(t, zapcore.InfoLevel, requestLevel(http.StatusCreated, "", false))
}
