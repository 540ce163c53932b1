package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Admissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slackagent_admissions_total",
			Help: "Admission decisions by result (admitted, duplicate, busy).",
		},
		[]string{"result"},
	)

	AIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slackagent_ai_requests_total",
			Help: "AI backend calls by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	AILatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "slackagent_ai_latency_seconds",
			Help:    "AI backend call latency.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "slackagent_worker_queue_depth",
			Help: "Events waiting for a worker.",
		},
	)

	Replies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slackagent_replies_total",
			Help: "Replies sent to Slack by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(Admissions, AIRequests, AILatency, QueueDepth, Replies)
}

// Reply outcomes.
const (
	ReplyAnswered    = "answered"
	ReplyApology     = "apology"
	ReplyUnsupported = "unsupported"
	ReplyFollowUp    = "follow_up"
	ReplyFailed      = "failed"
)
