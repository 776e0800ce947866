package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	navigationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mp_navigations_total",
		Help: "Navigation requests by origin and outcome",
	}, []string{"origin", "outcome"}) // outcome=accepted|duplicate|suppressed|stale

	noticesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mp_notices_total",
		Help: "Navigation notices dispatched to the playback surface by result",
	}, []string{"result"}) // result=sent|failed

	queueDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mp_queue_deduplicated_total",
		Help: "Commands dropped because they matched the last dispatched command",
	})

	pollAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mp_confirmation_poll_attempts_total",
		Help: "Read model queries issued while confirming a playlist load",
	})

	pollOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mp_confirmation_poll_outcomes_total",
		Help: "Confirmation runs by outcome",
	}, []string{"outcome"}) // outcome=confirmed|exhausted|cancelled

	ephemeralTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mp_ephemeral_playlists_total",
		Help: "Ephemeral playlist lifecycle events",
	}, []string{"event"}) // event=created|terminated|delete_failed|swept|sweep_failed

	ephemeralLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mp_ephemeral_live",
		Help: "Whether an ephemeral playlist is currently live (1) or not (0)",
	})
)

// RecordNavigation counts a navigation request outcome.
func RecordNavigation(origin, outcome string) {
	navigationsTotal.WithLabelValues(origin, outcome).Inc()
}

// RecordNotice counts a dispatched surface notice.
func RecordNotice(ok bool) {
	if ok {
		noticesTotal.WithLabelValues("sent").Inc()
		return
	}
	noticesTotal.WithLabelValues("failed").Inc()
}

// IncQueueDeduplicated counts a command dropped by the queue.
func IncQueueDeduplicated() {
	queueDeduplicated.Inc()
}

// IncPollAttempt counts one read model query.
func IncPollAttempt() {
	pollAttempts.Inc()
}

// RecordPollOutcome counts a finished confirmation run.
func RecordPollOutcome(outcome string) {
	pollOutcomes.WithLabelValues(outcome).Inc()
}

// RecordEphemeral counts an ephemeral lifecycle event.
func RecordEphemeral(event string) {
	ephemeralTotal.WithLabelValues(event).Inc()
}

// SetEphemeralLive reports ephemeral liveness.
func SetEphemeralLive(live bool) {
	if live {
		ephemeralLive.Set(1)
		return
	}
	ephemeralLive.Set(0)
}
