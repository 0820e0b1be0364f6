package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/frahmantamala/zenn-checkout/internal/core/events"
)

// CheckoutMetrics holds the counters for the payment and delivery lifecycle. All methods are
// safe on a nil receiver so services can run without metrics in tests.
type CheckoutMetrics struct {
	registry *prometheus.Registry

	ChargesTotal            *prometheus.CounterVec
	PaymentResolutionsTotal *prometheus.CounterVec
	DuplicateConfirmations  prometheus.Counter
	OutcomeDisagreements    *prometheus.CounterVec
	RollbacksTotal          *prometheus.CounterVec
	DeliveryTransitions     *prometheus.CounterVec
	NotificationsTotal      *prometheus.CounterVec
	OutboxPending           prometheus.Gauge
}

func New() *CheckoutMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &CheckoutMetrics{
		registry: reg,

		ChargesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_charges_total",
				Help: "Charge requests by payment method and synchronous outcome",
			},
			[]string{"payment_method", "outcome"},
		),

		PaymentResolutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_payment_resolutions_total",
				Help: "Transactions leaving pending, by final status and the path that resolved them",
			},
			[]string{"status", "source"},
		),

		DuplicateConfirmations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "checkout_duplicate_confirmations_total",
				Help: "Confirmations that only stamped an already resolved transaction",
			},
		),

		OutcomeDisagreements: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_outcome_disagreements_total",
				Help: "Confirmations contradicting the stored outcome",
			},
			[]string{"source"},
		),

		RollbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_rollbacks_total",
				Help: "Rollback attempts by result",
			},
			[]string{"result"},
		),

		DeliveryTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_delivery_transitions_total",
				Help: "Delivery status changes by target status",
			},
			[]string{"to"},
		),

		NotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_notifications_total",
				Help: "Notification dispatch outcomes",
			},
			[]string{"driver", "result"},
		),

		OutboxPending: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "checkout_outbox_claimed",
				Help: "Outbox intents claimed by the last dispatcher run",
			},
		),
	}
}

func (m *CheckoutMetrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *CheckoutMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *CheckoutMetrics) RecordCharge(paymentMethod, outcome string) {
	if m == nil {
		return
	}
	m.ChargesTotal.WithLabelValues(paymentMethod, outcome).Inc()
}

func (m *CheckoutMetrics) RecordRollback(result string) {
	if m == nil {
		return
	}
	m.RollbacksTotal.WithLabelValues(result).Inc()
}

func (m *CheckoutMetrics) RecordDuplicateConfirmation() {
	if m == nil {
		return
	}
	m.DuplicateConfirmations.Inc()
}

func (m *CheckoutMetrics) RecordNotification(driver string, success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.NotificationsTotal.WithLabelValues(driver, result).Inc()
}

func (m *CheckoutMetrics) RecordClaimed(n int) {
	if m == nil {
		return
	}
	m.OutboxPending.Set(float64(n))
}

// Subscribe counts lifecycle events published on the bus after commit.
func (m *CheckoutMetrics) Subscribe(bus *events.EventBus) {
	if m == nil || bus == nil {
		return
	}
	bus.Subscribe(events.EventTypePaymentResolved, func(ctx context.Context, e events.Event) error {
		if ev, ok := e.(*events.PaymentResolvedEvent); ok {
			m.PaymentResolutionsTotal.WithLabelValues(ev.Status, ev.Source).Inc()
		}
		return nil
	})
	bus.Subscribe(events.EventTypeDeliveryAdvanced, func(ctx context.Context, e events.Event) error {
		if ev, ok := e.(*events.DeliveryAdvancedEvent); ok {
			m.DeliveryTransitions.WithLabelValues(ev.To).Inc()
		}
		return nil
	})
	bus.Subscribe(events.EventTypeOutcomeDisagreement, func(ctx context.Context, e events.Event) error {
		if ev, ok := e.(*events.OutcomeDisagreementEvent); ok {
			m.OutcomeDisagreements.WithLabelValues(ev.Source).Inc()
		}
		return nil
	})
}
