package entmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts webhook requests by provider, event type and HTTP status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatmockup",
		Subsystem: "billing",
		Name:      "webhook_requests_total",
		Help:      "Total webhook requests by provider, event type and HTTP status.",
	}, []string{"provider", "event_type", "status"})

	// WebhookDuration tracks webhook processing latency by provider and event type.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chatmockup",
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider", "event_type"})

	// EntitlementWritesTotal counts plan write-backs to the identity provider.
	EntitlementWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatmockup",
		Subsystem: "billing",
		Name:      "entitlement_writes_total",
		Help:      "Total entitlement writes by plan and outcome.",
	}, []string{"plan", "outcome"})

	// LinkageFailuresTotal counts billing events that could not be tied to a user.
	LinkageFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatmockup",
		Subsystem: "billing",
		Name:      "linkage_failures_total",
		Help:      "Billing events acknowledged without a resolvable user.",
	}, []string{"event_type"})

	// CheckoutSessionsTotal counts checkout session creation attempts by outcome.
	CheckoutSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatmockup",
		Subsystem: "billing",
		Name:      "checkout_sessions_total",
		Help:      "Checkout session creation attempts by outcome.",
	}, []string{"outcome"})
)
