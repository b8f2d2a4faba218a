package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/BradenHooton/autobot/internal/auth"
	pkghttp "github.com/BradenHooton/autobot/pkg/http"
	pkglogger "github.com/BradenHooton/autobot/pkg/logger"
)

// SessionControl is what the admin endpoints may ask of the session
type SessionControl interface {
	GenerateAuthCode(ctx context.Context) (string, error)
	AcquireWebSession(ctx context.Context, eventOnly bool) ([]string, error)
}

// StopController requests a process stop
type StopController interface {
	Stop(err error)
	IsStopping() bool
}

// AdminHandler handles operator requests
type AdminHandler struct {
	session  SessionControl
	stop     StopController
	audit    *pkglogger.AuditLogger
	ipConfig *pkghttp.IPConfig
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(session SessionControl, stop StopController, audit *pkglogger.AuditLogger, ipConfig *pkghttp.IPConfig) *AdminHandler {
	return &AdminHandler{
		session:  session,
		stop:     stop,
		audit:    audit,
		ipConfig: ipConfig,
	}
}

type stopRequest struct {
	Reason string `json:"reason" validate:"max=200"`
}

// Stop handles POST /admin/stop
func (h *AdminHandler) Stop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if h.stop.IsStopping() {
		pkghttp.WriteConflict(w, "The bot is already stopping")
		return
	}

	h.logAction(r, "stop_requested", map[string]string{"reason": req.Reason})
	h.stop.Stop(nil)

	pkghttp.WriteJSON(w, http.StatusAccepted, map[string]bool{"stopping": true})
}

// AuthCode handles GET /admin/authcode
func (h *AdminHandler) AuthCode(w http.ResponseWriter, r *http.Request) {
	code, err := h.session.GenerateAuthCode(r.Context())
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to generate two-factor code")
		return
	}

	h.logAction(r, "auth_code_generated", nil)
	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"code": code})
}

// WebLogin handles POST /admin/weblogin by requesting fresh web session cookies
func (h *AdminHandler) WebLogin(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	cookies, err := h.session.AcquireWebSession(ctx, false)
	if err != nil {
		pkghttp.WriteErrorWithDetails(w, http.StatusBadGateway, "web_session_failed", "Failed to acquire web session", err.Error())
		return
	}

	h.logAction(r, "web_session_refreshed", nil)
	pkghttp.WriteJSON(w, http.StatusOK, map[string][]string{"cookies": pkglogger.CookieNames(cookies)})
}

func (h *AdminHandler) logAction(r *http.Request, eventType string, metadata map[string]string) {
	if h.audit == nil {
		return
	}
	operator := ""
	if claims := auth.GetOperatorFromContext(r); claims != nil {
		operator = claims.Subject
	}
	h.audit.LogAdminAction(eventType, operator, pkghttp.ExtractClientIP(r, h.ipConfig), metadata)
}
