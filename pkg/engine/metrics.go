package engine

import "github.com/prometheus/client_golang/prometheus"

const namespace = "chatsync"

// Metrics counts what an engine did. Several engines may share one.
type Metrics struct {
	Sends           *prometheus.CounterVec // result
	Reconciliations *prometheus.CounterVec // source, outcome
	Receipts        *prometheus.CounterVec // direction, kind
	Translations    *prometheus.CounterVec // result
	Typing          *prometheus.CounterVec // direction, signal
	Poison          prometheus.Counter
}

// NewMetrics builds the counters and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Send legs by result.",
		}, []string{"result"}),
		Reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "Records merged into the message store by source and outcome.",
		}, []string{"source", "outcome"}),
		Receipts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipts_total",
			Help:      "Delivery and read receipts by direction.",
		}, []string{"direction", "kind"}),
		Translations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translations_total",
			Help:      "Translation jobs by result.",
		}, []string{"result"}),
		Typing: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "typing_signals_total",
			Help:      "Typing start and stop signals by direction.",
		}, []string{"direction", "signal"}),
		Poison: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poison_events_total",
			Help:      "Channel payloads dropped because they failed to decode.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Sends, m.Reconciliations, m.Receipts, m.Translations, m.Typing, m.Poison)
	}
	return m
}
