package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"btc-tournament/internal/apperr"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestErrorResponseMapsAppErrKind(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	errorResponse(c, apperr.NotFound("AGENT_NOT_FOUND", "agent not found"))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"AGENT_NOT_FOUND","message":"agent not found"}`, w.Body.String())
}

func TestErrorResponseFallsBackTo500ForPlainErrors(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	errorResponse(c, assert.AnError)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"INTERNAL","message":"`+assert.AnError.Error()+`"}`, w.Body.String())
}

func TestSuccessResponseWritesOKWithBody(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	successResponse(c, gin.H{"ok": true})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
}
