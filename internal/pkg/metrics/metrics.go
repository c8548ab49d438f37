package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "homepeer"

var (
	// RecognitionTotal counts extractor outcomes.
	// outcome: direct/ambiguous/none/error
	RecognitionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_total",
			Help:      "Total number of utterances run through the command extractor, by outcome.",
		},
		[]string{"outcome"},
	)

	// MalformedReplyTotal counts model replies that could not be parsed into a resolution.
	MalformedReplyTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_malformed_reply_total",
			Help:      "Total number of model replies that failed to parse or validate.",
		},
	)

	// ModelLatency records model round trips.
	// op: recognize/question/chat, outcome: ok/timeout/unavailable
	ModelLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_request_duration_seconds",
			Help:      "Latency of requests to the language model.",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 180},
		},
		[]string{"op", "outcome"},
	)

	// ClarificationTotal counts clarification answers.
	// outcome: resolved/unresolved
	ClarificationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clarification_total",
			Help:      "Total number of clarification replies, by outcome.",
		},
		[]string{"outcome"},
	)

	// CommandDispatchedTotal counts commands handed to a transport.
	// transport: local/mqtt, status: success/failed/invalid
	CommandDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_dispatched_total",
			Help:      "Total number of device commands dispatched, by transport and status.",
		},
		[]string{"transport", "status", "type"},
	)

	// BrokerPublishTotal counts local broker appends.
	// status: success/lock_timeout/failed
	BrokerPublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_publish_total",
			Help:      "Total number of records appended to the local broker log.",
		},
		[]string{"status"},
	)

	// BrokerLockWait records time spent acquiring the log lock.
	BrokerLockWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broker_lock_wait_seconds",
			Help:      "Time spent waiting for the local broker log lock.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
	)

	// BrokerCorruptRecordTotal counts skipped log lines.
	BrokerCorruptRecordTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_corrupt_record_total",
			Help:      "Total number of unparsable records skipped by local broker subscribers.",
		},
	)
)

// init registers the collectors with the default registry, which is what the
// /metrics endpoint serves.
func init() {
	prometheus.MustRegister(
		RecognitionTotal,
		MalformedReplyTotal,
		ModelLatency,
		ClarificationTotal,
		CommandDispatchedTotal,
		BrokerPublishTotal,
		BrokerLockWait,
		BrokerCorruptRecordTotal,
	)
}
