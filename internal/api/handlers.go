/**
 * @description
 * This file contains the HTTP handlers for the registration-service's API
 * endpoints. Handlers parse incoming requests, call the appropriate methods
 * on the application service, and write the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: service logic, models, custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/campseat/registration-service/internal/app"
	"github.com/campseat/registration-service/internal/domain"
	"github.com/campseat/registration-service/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// RegistrationHandlers holds the application service that handlers will use.
type RegistrationHandlers struct {
	service *app.Service
}

// NewRegistrationHandlers creates a new instance of RegistrationHandlers.
func NewRegistrationHandlers(service *app.Service) *RegistrationHandlers {
	return &RegistrationHandlers{service: service}
}

type resumeResponse struct {
	Success   bool   `json:"success"`
	RequestID string `json:"request_id,omitempty"`
	Status    string `json:"status,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// ResumeHandler handles POST /resume: a human reports the outcome of a
// verification challenge, authenticated solely by the resume token.
//
// Status mapping: 200 success, 400 invalid/expired/already-used token or bad
// payload, 409 request not in `suspended` state, 429 rate limited.
func (h *RegistrationHandlers) ResumeHandler(w http.ResponseWriter, r *http.Request) {
	var payload domain.ResumeRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(payload.Token) == "" {
		h.writeError(w, http.StatusBadRequest, "Resume token is required")
		return
	}

	result, err := h.service.Resume(r.Context(), payload.Token, payload.Outcome, clientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidOutcome):
			h.writeError(w, http.StatusBadRequest, "Outcome must be 'solved' or 'failed'")
		case errors.Is(err, app.ErrInvalidResumeToken):
			h.writeError(w, http.StatusBadRequest, "Invalid resume token")
		case errors.Is(err, app.ErrResumeTokenExpired):
			h.writeError(w, http.StatusBadRequest, "Resume token expired")
		case errors.Is(err, app.ErrAlreadyResolved):
			h.writeError(w, http.StatusBadRequest, "already resolved")
		case errors.Is(err, app.ErrRequestNotSuspended):
			h.writeError(w, http.StatusConflict, "Request is not suspended")
		case errors.Is(err, app.ErrResumeRateLimited):
			h.writeError(w, http.StatusTooManyRequests, "Too many resume attempts. Please wait and try again.")
		default:
			h.writeError(w, http.StatusInternalServerError, "Unable to resume registration")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, resumeResponse{
		Success:   true,
		RequestID: result.RequestID.String(),
		Status:    string(result.Status),
	})
}

type cycleTriggerRequest struct {
	MaxSessions int `json:"max_sessions"`
}

// TriggerCycleHandler handles POST /internal/cycle: runs one allocation cycle
// immediately, with an optional max-sessions override.
func (h *RegistrationHandlers) TriggerCycleHandler(w http.ResponseWriter, r *http.Request) {
	var payload cycleTriggerRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	if payload.MaxSessions < 0 {
		h.writeError(w, http.StatusBadRequest, "max_sessions must not be negative")
		return
	}

	result, err := h.service.RunCycle(r.Context(), payload.MaxSessions)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Allocation cycle failed")
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// SweepInterruptsHandler handles POST /internal/interrupts/sweep: expires
// overdue verification windows without waiting for the next cycle.
func (h *RegistrationHandlers) SweepInterruptsHandler(w http.ResponseWriter, r *http.Request) {
	expired := h.service.SweepExpiredInterrupts(r.Context())
	h.writeJSON(w, http.StatusOK, map[string]int{"interrupts_expired": expired})
}

// GetRequestHandler handles GET /internal/requests/{id}: the support-tooling
// view of one request with its interrupt and charge history.
func (h *RegistrationHandlers) GetRequestHandler(w http.ResponseWriter, r *http.Request) {
	requestID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request id")
		return
	}

	detail, err := h.service.GetRequestDetail(r.Context(), requestID)
	if err != nil {
		if errors.Is(err, store.ErrRequestNotFound) {
			h.writeError(w, http.StatusNotFound, "Registration request not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Unable to load registration request")
		return
	}
	h.writeJSON(w, http.StatusOK, detail)
}

// clientIP extracts the caller's address for rate limiting, honoring the
// standard proxy header when present.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeJSON is a helper for writing JSON responses.
func (h *RegistrationHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *RegistrationHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
