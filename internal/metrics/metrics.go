package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "license_issuer"

var (
	LicensesIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "licenses_issued_total",
		Help:      "Licenses created from paid orders.",
	}, []string{"category", "edition"})

	IssueSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "license_issue_skipped_total",
		Help:      "Order line items that did not produce a license.",
	}, []string{"reason"})

	Activations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "license_activations_total",
		Help:      "Activation attempts by outcome.",
	}, []string{"result"})

	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_events_total",
		Help:      "Commerce webhook deliveries by event type and outcome.",
	}, []string{"event_type", "outcome"})

	DeliveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "license_delivery_failures_total",
		Help:      "License delivery notifications that could not be scheduled or sent.",
	})

	LapsedLicenses = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "licenses_lapsed",
		Help:      "Licenses whose status is active but whose expiry has passed, as of the last scan.",
	})
)
