package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_state_transitions_total",
		Help: "Total number of committed status transitions",
	}, []string{"entity", "from", "to"})

	rejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_rejections_total",
		Help: "Total number of operations refused by a domain rule",
	}, []string{"entity", "reason"})

	conflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_store_conflicts_total",
		Help: "Total number of atomic writes that lost a race and were retried",
	}, []string{"collection"})

	followUpFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_follow_up_failures_total",
		Help: "Total number of committed transitions whose follow-up writes failed",
	}, []string{"operation"})

	eventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_events_published_total",
		Help: "Total number of domain events handed to the broker",
	}, []string{"entity", "result"})

	activeSubscriptions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleet_active_subscriptions",
		Help: "Number of live store subscriptions",
	}, []string{"collection"})
)

// Transition counts a committed status change.
func Transition(entity, from, to string) {
	transitionsTotal.WithLabelValues(entity, from, to).Inc()
}

// Rejection counts an operation refused by a domain rule.
func Rejection(entity, reason string) {
	rejectionsTotal.WithLabelValues(entity, reason).Inc()
}

// Conflict counts a lost optimistic write.
func Conflict(collection string) {
	conflictsTotal.WithLabelValues(collection).Inc()
}

// FollowUpFailure counts a follow-up write that did not land.
func FollowUpFailure(operation string) {
	followUpFailuresTotal.WithLabelValues(operation).Inc()
}

// EventPublished counts a publish attempt by outcome.
func EventPublished(entity string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	eventsPublishedTotal.WithLabelValues(entity, result).Inc()
}

// SubscriptionOpened and SubscriptionClosed track live listeners.
func SubscriptionOpened(collection string) {
	activeSubscriptions.WithLabelValues(collection).Inc()
}

func SubscriptionClosed(collection string) {
	activeSubscriptions.WithLabelValues(collection).Dec()
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
