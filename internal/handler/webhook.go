package handler

import (
	"io"
	"net/http"

	"go.uber.org/zap"

	"bimflow/internal/metrics"
	"bimflow/internal/payment"
	"bimflow/internal/service"
)

// SignatureHeader carries the gateway's HMAC over the raw webhook body.
const SignatureHeader = "X-Payment-Signature"

// PaymentWebhookHandler consumes the gateway's signed events. It must be
// idempotent: the gateway retries on any non-2xx, and a redelivered
// checkout.completed for an already-paid order is a no-op success.
func PaymentWebhookHandler(orders *service.OrderService, secret string, reg *metrics.Registry, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}

		event, err := payment.ParseEvent(body, r.Header.Get(SignatureHeader), []byte(secret))
		if err != nil {
			logger.Warnw("webhook rejected", "error", err)
			http.Error(w, "invalid webhook payload", http.StatusBadRequest)
			return
		}

		switch ev := event.(type) {
		case payment.CheckoutCompleted:
			reg.WebhookEvents.WithLabelValues("checkout.completed").Inc()
			order, advanced, err := orders.RecordPayment(r.Context(), ev.OrderID, ev.PaymentRef)
			if err != nil {
				writeServiceError(w, logger, err)
				return
			}
			if advanced {
				logger.Infow("payment recorded", "order", order.ID, "payment_ref", ev.PaymentRef)
			} else {
				logger.Infow("payment already recorded", "order", order.ID)
			}
		case payment.CheckoutExpired:
			// No state change is defined for expiry; the order stays
			// pending until a later payment or manual action.
			reg.WebhookEvents.WithLabelValues("checkout.expired").Inc()
			logger.Infow("checkout session expired", "order", ev.OrderID)
		case payment.Other:
			reg.WebhookEvents.WithLabelValues("other").Inc()
			logger.Debugw("ignoring webhook event", "kind", ev.Kind)
		}

		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	}
}
