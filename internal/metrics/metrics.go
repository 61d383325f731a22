// Package metrics публикует счётчики Prometheus для начисления очков и рейтингов.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ScoringMetrics - счётчики начисления и публикации.
type ScoringMetrics struct {
	circles         *prometheus.CounterVec
	reactions       *prometheus.CounterVec
	invariantFaults *prometheus.CounterVec
	ratings         *prometheus.CounterVec
}

var (
	scoringOnce     sync.Once
	scoringRegistry *ScoringMetrics
)

// Scoring возвращает глобальный набор счётчиков, регистрируя его один раз.
func Scoring() *ScoringMetrics {
	scoringOnce.Do(func() {
		scoringRegistry = &ScoringMetrics{
			circles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "circles_events_total",
				Help: "Circle-post events by outcome (applied, duplicate, dropped).",
			}, []string{"outcome"}),
			reactions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "circles_reactions_total",
				Help: "Reactions that moved points, by direction (added, removed).",
			}, []string{"direction"}),
			invariantFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "circles_invariant_faults_total",
				Help: "Events dropped because an expected row was missing.",
			}, []string{"event"}),
			ratings: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "circles_ratings_total",
				Help: "Rating publications by result (published, failed).",
			}, []string{"result"}),
		}
		prometheus.MustRegister(
			scoringRegistry.circles,
			scoringRegistry.reactions,
			scoringRegistry.invariantFaults,
			scoringRegistry.ratings,
		)
	})
	return scoringRegistry
}

func (m *ScoringMetrics) ObserveCircle(outcome string) {
	if m == nil {
		return
	}
	m.circles.WithLabelValues(outcome).Inc()
}

func (m *ScoringMetrics) ObserveReactions(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reactions.WithLabelValues(direction).Add(float64(n))
}

func (m *ScoringMetrics) ObserveInvariantFault(event string) {
	if m == nil {
		return
	}
	m.invariantFaults.WithLabelValues(event).Inc()
}

func (m *ScoringMetrics) ObserveRating(result string) {
	if m == nil {
		return
	}
	m.ratings.WithLabelValues(result).Inc()
}
