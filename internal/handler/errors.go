package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/pavelanni/trainer/internal/i18n"
	"github.com/pavelanni/trainer/internal/model"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
	SessionID string `json:"session_id,omitempty"`
}

// classify maps an engine error to a status, a stable code and a localised message.
func classify(r *http.Request, err error) (int, errorResponse) {
	ctx := r.Context()

	var locked *model.ModuleLockedError
	var loadFailed *model.LoadFailedError
	var writeFailed *model.WriteFailedError

	switch {
	case errors.As(err, &locked):
		return http.StatusConflict, errorResponse{
			Code: "module_locked",
			Error: i18n.Td(ctx, "ModuleLocked", map[string]any{
				"ModuleID":         locked.ModuleID,
				"RequiredModuleID": locked.RequiredModuleID,
			}),
		}
	case errors.As(err, &loadFailed):
		return http.StatusServiceUnavailable, errorResponse{Code: "load_failed", Error: i18n.T(ctx, "LoadFailed"), Retryable: true}
	case errors.As(err, &writeFailed):
		return http.StatusBadGateway, errorResponse{Code: "write_failed", Error: i18n.T(ctx, "WriteFailed"), Retryable: true}
	case errors.Is(err, model.ErrNoModules):
		return http.StatusInternalServerError, errorResponse{Code: "no_modules", Error: i18n.T(ctx, "NoModules")}
	case errors.Is(err, model.ErrModuleNotFound):
		return http.StatusNotFound, errorResponse{Code: "module_not_found", Error: i18n.T(ctx, "ModuleNotFound")}
	case errors.Is(err, model.ErrInvalidTransition):
		return http.StatusConflict, errorResponse{Code: "invalid_transition", Error: i18n.T(ctx, "InvalidTransition")}
	case errors.Is(err, model.ErrNoActiveModule):
		return http.StatusConflict, errorResponse{Code: "no_active_module", Error: i18n.T(ctx, "NoActiveModule")}
	case errors.Is(err, model.ErrNotLoaded):
		return http.StatusConflict, errorResponse{Code: "not_loaded", Error: i18n.T(ctx, "NotLoaded"), Retryable: true}
	case errors.Is(err, model.ErrOutcomeNotReady):
		return http.StatusConflict, errorResponse{Code: "outcome_not_ready", Error: i18n.T(ctx, "OutcomeNotReady")}
	default:
		return http.StatusInternalServerError, errorResponse{Code: "internal", Error: i18n.T(ctx, "InternalError")}
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(r, err)
	logError(r, status, err)
	writeJSON(w, status, body)
}

// writeSessionError is writeError for responses that must carry the session
// ID, so a client can retry a failed bootstrap.
func writeSessionError(w http.ResponseWriter, r *http.Request, sessionID string, err error) {
	status, body := classify(r, err)
	body.SessionID = sessionID
	logError(r, status, err)
	writeJSON(w, status, body)
}

func writeBadRequest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Code: "bad_request", Error: i18n.T(r.Context(), "BadRequest")})
}

func writeSessionNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorResponse{Code: "session_not_found", Error: i18n.T(r.Context(), "SessionNotFound")})
}

func logError(r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
		return
	}
	slog.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
}
