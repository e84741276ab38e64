// Package observability registers the engine's Prometheus collectors.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	attemptsStartedTotal  *prometheus.CounterVec
	attemptsFinishedTotal *prometheus.CounterVec
	answerSavesTotal      *prometheus.CounterVec
	autoScoreRatio        prometheus.Histogram
	gradingsTotal         *prometheus.CounterVec
	sweptTotal            *prometheus.CounterVec
	httpRequestsTotal     *prometheus.CounterVec
	httpLatencySeconds    *prometheus.HistogramVec
)

// RegisterMetrics initialises the collectors once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		attemptsStartedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_attempts_started_total",
			Help: "Attempts started, split into fresh, resumed and restarted.",
		}, []string{"kind"})

		attemptsFinishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_attempts_finished_total",
			Help: "Attempts that reached a terminal status.",
		}, []string{"outcome"})

		answerSavesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_answer_saves_total",
			Help: "Accepted and rejected answer and canvas saves.",
		}, []string{"kind", "result"})

		autoScoreRatio = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "exam_auto_score_ratio",
			Help:    "Auto score divided by max score at scoring time.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		})

		gradingsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_gradings_total",
			Help: "Manual grading operations.",
		}, []string{"action"})

		sweptTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_sweeper_transitions_total",
			Help: "Transitions applied by the background sweeper and archival jobs.",
		}, []string{"kind"})

		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "exam_http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		prometheus.MustRegister(
			attemptsStartedTotal,
			attemptsFinishedTotal,
			answerSavesTotal,
			autoScoreRatio,
			gradingsTotal,
			sweptTotal,
			httpRequestsTotal,
			httpLatencySeconds,
		)
	})
}

func AttemptsStarted() *prometheus.CounterVec {
	RegisterMetrics()
	return attemptsStartedTotal
}

func AttemptsFinished() *prometheus.CounterVec {
	RegisterMetrics()
	return attemptsFinishedTotal
}

func AnswerSaves() *prometheus.CounterVec {
	RegisterMetrics()
	return answerSavesTotal
}

// ObserveAutoScore records the score ratio; empty exams are skipped.
func ObserveAutoScore(autoScore, maxScore float64) {
	RegisterMetrics()
	if maxScore <= 0 {
		return
	}
	autoScoreRatio.Observe(autoScore / maxScore)
}

func Gradings() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingsTotal
}

func Swept() *prometheus.CounterVec {
	RegisterMetrics()
	return sweptTotal
}

func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}
