package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/maxdhml/pulse-coach-backend/internal/delivery"
	apperrors "github.com/maxdhml/pulse-coach-backend/internal/errors"
	"github.com/maxdhml/pulse-coach-backend/internal/relay"
)

type handlers struct {
	relay  *relay.Relay
	logger *slog.Logger
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// begin redirects the browser to the provider. The caller's return
// target arrives as redirect_uri.
func (h *handlers) begin(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("redirect_uri")

	authURL, err := h.relay.BeginAuthorization(target, relay.RequestContextFrom(r))
	if err != nil {
		h.writeRelayError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, authURL, http.StatusFound)
}

// callback finishes the flow and delivers the token. Errors are always
// JSON; the interim page is only rendered after a successful exchange.
func (h *handlers) callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := relay.CallbackParams{
		Code:  q.Get("code"),
		State: q.Get("state"),
		Error: q.Get("error"),
	}

	instr, err := h.relay.HandleCallback(r.Context(), params, relay.RequestContextFrom(r))
	if err != nil {
		h.writeRelayError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")

	switch instr.Kind {
	case delivery.KindRedirect:
		http.Redirect(w, r, instr.URL, http.StatusFound)
	case delivery.KindPage:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")

		if err := delivery.RenderPage(w, instr.URL); err != nil {
			h.logger.Error("rendering interim page", slog.String("error", err.Error()))
		}
	default:
		writeJSON(w, http.StatusOK, map[string]string{"token": instr.Token})
	}
}

// StatusFor maps a relay error onto the HTTP status and the message the
// caller sees. Provider bodies never reach the caller.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperrors.ErrConfiguration):
		return http.StatusInternalServerError, "server misconfigured"
	case errors.Is(err, apperrors.ErrMissingCode):
		return http.StatusBadRequest, "authorization code missing"
	case errors.Is(err, apperrors.ErrInvalidReturnTarget):
		return http.StatusBadRequest, "invalid return target"
	case errors.Is(err, apperrors.ErrUpstreamUnavailable):
		return http.StatusBadGateway, "provider unavailable, retry later"
	case errors.Is(err, apperrors.ErrExchangeFailed):
		return http.StatusBadRequest, "token exchange failed"
	case errors.Is(err, apperrors.ErrAccountNotFound):
		return http.StatusNotFound, "account not found"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (h *handlers) writeRelayError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := StatusFor(err)

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
