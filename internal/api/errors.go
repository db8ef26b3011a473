package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/openlabels/scanner/internal/core"
)

// errorBody is the uniform error envelope.
type errorBody struct {
	Error     string                 `json:"error"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id"`
}

// requestID returns the inbound X-Request-ID or mints one.
func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

// writeError renders the error envelope. Shared with the middleware
// layer through the ErrorWriter type.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeErrorDetails(w, r, status, code, message, nil)
}

func writeErrorDetails(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error:     code,
		Message:   message,
		Details:   details,
		RequestID: requestID(r),
	})
}

// writeDomainError maps a domain error to its HTTP shape.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code := core.CodeOf(err)
	status := statusFor(code)
	msg := "internal error"
	var details map[string]interface{}
	var de *core.Error
	if errors.As(err, &de) && status < http.StatusInternalServerError {
		msg = de.Message
		details = de.Details
	}
	writeErrorDetails(w, r, status, string(code), msg, details)
}

func statusFor(code core.ErrorCode) int {
	switch code {
	case core.CodeValidation:
		return http.StatusBadRequest
	case core.CodeNotFound:
		return http.StatusNotFound
	case core.CodeConflict:
		return http.StatusConflict
	case core.CodeUnauthorized, core.CodeTokenExpired, core.CodeTokenInvalid:
		return http.StatusUnauthorized
	case core.CodeForbidden:
		return http.StatusForbidden
	case core.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// respond renders a success payload.
func respond(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// decodeBody parses a JSON request body into dst.
func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return core.NewError(core.CodeValidation, "invalid request body", err)
	}
	return nil
}
