package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	Transitions   *prometheus.CounterVec
	WebhookEvents *prometheus.CounterVec
	URLsIssued    *prometheus.CounterVec
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bimflow_order_transitions_total",
		Help: "Lifecycle transition attempts by event and outcome.",
	}, []string{"event", "outcome"})
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bimflow_payment_webhook_events_total",
		Help: "Payment webhook events by kind.",
	}, []string{"kind"})
	urlsIssued := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bimflow_signed_urls_issued_total",
		Help: "Signed storage URLs issued by kind.",
	}, []string{"kind"})

	r.MustRegister(transitions, webhookEvents, urlsIssued)
	return &Registry{
		reg:           r,
		Transitions:   transitions,
		WebhookEvents: webhookEvents,
		URLsIssued:    urlsIssued,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
