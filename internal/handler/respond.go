package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"bimflow/internal/lifecycle"
	"bimflow/internal/mw"
	"bimflow/internal/payment"
	"bimflow/internal/service"
	"bimflow/internal/storage"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeServiceError maps the typed error taxonomy onto HTTP statuses with
// non-leaking messages. Anything unmapped is a 500 and gets logged.
func writeServiceError(w http.ResponseWriter, logger *zap.SugaredLogger, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrFileNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		http.Error(w, "transition does not apply to current order status", http.StatusBadRequest)
	case errors.Is(err, lifecycle.ErrPreconditionUnmet):
		http.Error(w, "order does not meet the requirements for this operation", http.StatusBadRequest)
	case errors.Is(err, service.ErrInvalidState):
		http.Error(w, "order status does not allow this operation", http.StatusBadRequest)
	case errors.Is(err, service.ErrSheetCountRange):
		http.Error(w, "sheet count must be between 1 and 1000", http.StatusBadRequest)
	case errors.Is(err, service.ErrUnknownStatus):
		http.Error(w, "unknown status value", http.StatusBadRequest)
	case errors.Is(err, storage.ErrEmptyFileName), errors.Is(err, storage.ErrForeignURL):
		http.Error(w, "invalid file reference", http.StatusBadRequest)
	case errors.Is(err, service.ErrConflict):
		http.Error(w, "order was modified concurrently, retry", http.StatusConflict)
	case errors.Is(err, service.ErrUpstream), errors.Is(err, payment.ErrUnavailable):
		http.Error(w, "upstream service unavailable, try again", http.StatusBadGateway)
	default:
		logger.Errorw("internal error", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// principal pulls the authenticated caller; Authenticate guarantees it is
// present on protected routes.
func principal(w http.ResponseWriter, r *http.Request) (mw.Principal, bool) {
	p, ok := mw.PrincipalFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
	return p, ok
}

func actorFrom(p mw.Principal) lifecycle.Actor {
	return lifecycle.Actor{UserID: p.UserID, IsAdmin: p.IsAdmin}
}
