package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"bimflow/internal/model"
	"bimflow/internal/payment"
	"bimflow/internal/service"
)

type createOrderRequest struct {
	SheetCount int    `json:"sheet_count"`
	Notes      string `json:"notes,omitempty"`
}

func CreateOrderHandler(orders *service.OrderService, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}

		var req createOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		order, err := orders.Create(r.Context(), p.UserID, req.SheetCount, req.Notes)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, order)
	}
}

type orderResponse struct {
	*model.Order
	Files []model.File `json:"files"`
}

// GetOrderHandler returns an order with its files. Owners see their own
// orders; admins see all; anyone else gets a plain 403.
func GetOrderHandler(orders *service.OrderService, files *service.FileService, logger *zap.SugaredLogger) http.HandlerFunc {
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
		if !p.IsAdmin && order.UserID != p.UserID {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		orderFiles, err := files.ListByOrder(r.Context(), order.ID)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		if orderFiles == nil {
			orderFiles = []model.File{}
		}

		writeJSON(w, http.StatusOK, orderResponse{Order: order, Files: orderFiles})
	}
}

func ListMyOrdersHandler(orders *service.OrderService, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}

		list, err := orders.ListByUser(r.Context(), p.UserID)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		if list == nil {
			list = []model.Order{}
		}

		writeJSON(w, http.StatusOK, list)
	}
}

// CheckoutHandler asks the payment gateway for a checkout session and
// hands its URL back for the client to follow. The order stays pending
// until the gateway's webhook confirms payment.
func CheckoutHandler(orders *service.OrderService, checkout payment.CheckoutCreator, logger *zap.SugaredLogger) http.HandlerFunc {
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
		if !p.IsAdmin && order.UserID != p.UserID {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		if order.Status != model.StatusPending {
			writeServiceError(w, logger, service.ErrInvalidState)
			return
		}

		session, err := checkout.CreateCheckoutSession(r.Context(), order.ID, order.TotalPriceSar)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}

		if err := orders.SetCheckoutSession(r.Context(), order.ID, session.ID); err != nil {
			writeServiceError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{
			"session_id":   session.ID,
			"checkout_url": session.URL,
		})
	}
}
