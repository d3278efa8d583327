package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the game collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	AnswersSubmitted   *prometheus.CounterVec
	ViolationsReported *prometheus.CounterVec
	BadgesAwarded      *prometheus.CounterVec
	SessionsCompleted  prometheus.Counter
	LivePlayers        prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		AnswersSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quiz_answers_submitted_total",
				Help: "Answers submitted by players",
			},
			[]string{"correct"},
		),
		ViolationsReported: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quiz_security_violations_total",
				Help: "Security violations reported by the anti-cheat monitor",
			},
			[]string{"type"},
		),
		BadgesAwarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quiz_badges_awarded_total",
				Help: "Badges newly awarded",
			},
			[]string{"badge"},
		),
		SessionsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quiz_sessions_completed_total",
			Help: "Game sessions transitioned to completed",
		}),
		LivePlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quiz_live_players",
			Help: "Players with a running progression engine",
		}),
	}
	m.registry.MustRegister(
		m.AnswersSubmitted,
		m.ViolationsReported,
		m.BadgesAwarded,
		m.SessionsCompleted,
		m.LivePlayers,
	)
	return m
}

func (m *Metrics) Answer(correct bool) {
	if m == nil {
		return
	}
	label := "false"
	if correct {
		label = "true"
	}
	m.AnswersSubmitted.WithLabelValues(label).Inc()
}

func (m *Metrics) Violation(violationType string) {
	if m == nil {
		return
	}
	m.ViolationsReported.WithLabelValues(violationType).Inc()
}

func (m *Metrics) Badge(name string) {
	if m == nil {
		return
	}
	m.BadgesAwarded.WithLabelValues(name).Inc()
}

func (m *Metrics) SessionCompleted() {
	if m == nil {
		return
	}
	m.SessionsCompleted.Inc()
}

func (m *Metrics) PlayerStarted() {
	if m == nil {
		return
	}
	m.LivePlayers.Inc()
}

func (m *Metrics) PlayerStopped() {
	if m == nil {
		return
	}
	m.LivePlayers.Dec()
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
