package handlers

import (
	"net/http"

	"github.com/BradenHooton/autobot/internal/models"
	pkghttp "github.com/BradenHooton/autobot/pkg/http"
)

// SessionView is the read-only view of the session the status endpoints expose
type SessionView interface {
	IsReady() bool
	Status() models.SessionStatus
}

// StatusHandler serves the health and status endpoints
type StatusHandler struct {
	session SessionView
	version string
}

// NewStatusHandler creates a new StatusHandler
func NewStatusHandler(session SessionView, version string) *StatusHandler {
	return &StatusHandler{session: session, version: version}
}

type healthResponse struct {
	Ready   bool   `json:"ready"`
	Version string `json:"version"`
}

// Health handles GET /health. It returns 503 until startup has completed.
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Ready: h.session.IsReady(), Version: h.version}
	if !resp.Ready {
		pkghttp.WriteJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Status handles GET /status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteJSON(w, http.StatusOK, h.session.Status())
}
