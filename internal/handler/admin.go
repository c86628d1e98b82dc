package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"bimflow/internal/lifecycle"
	"bimflow/internal/model"
	"bimflow/internal/service"
)

func AdminListOrdersHandler(orders *service.OrderService, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := orders.ListAll(r.Context())
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		if list == nil {
			list = []model.OrderWithUser{}
		}

		writeJSON(w, http.StatusOK, list)
	}
}

// MarkCompleteHandler closes an order once at least one deliverable is
// on record.
func MarkCompleteHandler(orders *service.OrderService, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}

		order, err := orders.GetByID(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}

		updated, err := orders.ApplyTransition(r.Context(), order, lifecycle.EventMarkedComplete, actorFrom(p))
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, updated)
	}
}

type overrideStatusRequest struct {
	Status model.Status `json:"status"`
}

// OverrideStatusHandler is the operational escape hatch: it sets any
// valid status outside the transition table. Kept deliberately separate
// from the normal transition endpoints.
func OverrideStatusHandler(orders *service.OrderService, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req overrideStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		updated, err := orders.OverrideStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, updated)
	}
}
