package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		turnsTotal,
		intentsTotal,
		escalationsTotal,
		assessmentsTotal,
		sessionsReapedTotal,
	)
}

var (
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_turns_total",
			Help: "Handled user turns by outcome.",
		},
		[]string{"outcome"}, // ok | duplicate | rejected | failed | discarded
	)

	intentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifier_intents_total",
			Help: "Recognised intents by classifier stage.",
		},
		[]string{"intent", "source"},
	)

	escalationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escalations_total",
			Help: "Hand-offs to human workers by reason and whether a worker was assigned.",
		},
		[]string{"reason", "assigned"},
	)

	assessmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assessments_total",
			Help: "Symptom assessments by lifecycle event.",
		},
		[]string{"symptom", "event"}, // event: started | completed | abandoned
	)

	sessionsReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sessions_reaped_total",
			Help: "Idle sessions completed by the reaper.",
		},
	)
)

func IncTurn(outcome string) { turnsTotal.WithLabelValues(norm(outcome)).Inc() }

func IncIntent(intent, source string) {
	intentsTotal.WithLabelValues(norm(intent), norm(source)).Inc()
}

func IncEscalation(reason string, assigned bool) {
	a := "queued"
	if assigned {
		a = "assigned"
	}
	escalationsTotal.WithLabelValues(norm(reason), a).Inc()
}

func IncAssessment(symptom, event string) {
	assessmentsTotal.WithLabelValues(norm(symptom), norm(event)).Inc()
}

func AddSessionsReaped(n int) { sessionsReapedTotal.Add(float64(n)) }
