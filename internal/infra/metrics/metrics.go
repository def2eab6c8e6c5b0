// internal/infra/metrics/metrics.go
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the automation's Prometheus collectors on a private registry,
// so tests can build as many instances as they like without collisions.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal           *prometheus.CounterVec
	runDuration         prometheus.Histogram
	billsProcessed      prometheus.Counter
	duplicatesSkipped   prometheus.Counter
	notificationsSent   *prometheus.CounterVec
	notificationsFailed *prometheus.CounterVec
	paymentsMatched     prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billsplit",
			Name:      "runs_total",
			Help:      "Automation runs by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "billsplit",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of automation runs.",
			Buckets:   prometheus.DefBuckets,
		}),
		billsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "billsplit",
			Name:      "bills_processed_total",
			Help:      "New bills stored from statement emails.",
		}),
		duplicatesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "billsplit",
			Name:      "duplicates_skipped_total",
			Help:      "Statement emails skipped because the bill already exists.",
		}),
		notificationsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billsplit",
			Name:      "notifications_sent_total",
			Help:      "Payment-request notifications delivered, by channel.",
		}, []string{"channel"}),
		notificationsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billsplit",
			Name:      "notifications_failed_total",
			Help:      "Payment-request notifications that failed, by channel.",
		}, []string{"channel"}),
		paymentsMatched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "billsplit",
			Name:      "payments_matched_total",
			Help:      "Payment confirmations matched to a bill.",
		}),
	}
}

// Handler serves this instance's registry for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRun(trigger string, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.runsTotal.WithLabelValues(trigger, outcome).Inc()
	m.runDuration.Observe(d.Seconds())
}

func (m *Metrics) BillProcessed()                  { m.billsProcessed.Inc() }
func (m *Metrics) DuplicateSkipped()               { m.duplicatesSkipped.Inc() }
func (m *Metrics) NotificationSent(channel string) { m.notificationsSent.WithLabelValues(channel).Inc() }
func (m *Metrics) NotificationFailed(channel string) {
	m.notificationsFailed.WithLabelValues(channel).Inc()
}
func (m *Metrics) PaymentMatched() { m.paymentsMatched.Inc() }
