package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlabels/scanner/internal/core"
)

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(core.CodeValidation))
	assert.Equal(t, http.StatusNotFound, statusFor(core.CodeNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(core.CodeConflict))
	assert.Equal(t, http.StatusUnauthorized, statusFor(core.CodeUnauthorized))
	assert.Equal(t, http.StatusUnauthorized, statusFor(core.CodeTokenExpired))
	assert.Equal(t, http.StatusForbidden, statusFor(core.CodeForbidden))
	assert.Equal(t, http.StatusTooManyRequests, statusFor(core.CodeRateLimited))
	assert.Equal(t, http.StatusInternalServerError, statusFor(core.CodeTransient))
	assert.Equal(t, http.StatusInternalServerError, statusFor(core.ErrorCode("BOGUS")))
}

func TestWriteErrorEnvelope(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/targets", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()

	writeError(rec, req, http.StatusNotFound, "NOT_FOUND", "target not found")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "NOT_FOUND", body.Error)
	assert.Equal(t, "target not found", body.Message)
	assert.Equal(t, "req-42", body.RequestID)
	assert.Nil(t, body.Details)
}

func TestWriteErrorMintsRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	writeError(rec, req, http.StatusBadRequest, "VALIDATION", "bad input")

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.RequestID)
}

func TestWriteDomainErrorHidesInternals(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	writeDomainError(rec, req, core.Transient("pg: connection refused", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal error", body.Message)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestWriteDomainErrorPassesClientMessages(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	writeDomainError(rec, req, core.NewError(core.CodeValidation, "cron expression is invalid", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(core.CodeValidation), body.Error)
	assert.Equal(t, "cron expression is invalid", body.Message)
}

func TestDecodeBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x","bogus":1}`))
	var dst struct {
		Name string `json:"name"`
	}
	err := decodeBody(req, &dst)
	require.Error(t, err)
	assert.Equal(t, core.CodeValidation, core.CodeOf(err))
}
