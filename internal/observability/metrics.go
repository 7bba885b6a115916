package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters for the quiet failure paths: these paths deliberately drop work
// instead of surfacing errors, so the counters are the only place the drops
// stay visible.
var (
	// MalformedRecords counts remote records dropped before merging because a
	// field failed type validation or a serialized array would not parse.
	MalformedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weavr",
		Subsystem: "sync",
		Name:      "malformed_records_total",
		Help:      "Remote records dropped at the subscription boundary",
	}, []string{"collection"})

	// EchoesSuppressed counts subscription updates ignored because they
	// arrived inside the echo-cancellation window of a local write.
	EchoesSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weavr",
		Subsystem: "sync",
		Name:      "echoes_suppressed_total",
		Help:      "Subscription updates suppressed as echoes of local writes",
	}, []string{"collection"})

	// RejectedConnections counts link-creation gestures dropped by the
	// connection-validity rules.
	RejectedConnections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "weavr",
		Subsystem: "graph",
		Name:      "rejected_connections_total",
		Help:      "Link creations rejected by connection validation",
	})

	// LayoutPasses counts completed auto-layout passes.
	LayoutPasses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "weavr",
		Subsystem: "layout",
		Name:      "passes_total",
		Help:      "Completed layout passes",
	})

	// LayoutFailures counts layout passes abandoned by an error; existing
	// positions stay untouched on this path.
	LayoutFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "weavr",
		Subsystem: "layout",
		Name:      "failures_total",
		Help:      "Layout passes abandoned by an error",
	})

	// LayoutDuration observes wall time per layout pass.
	LayoutDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "weavr",
		Subsystem: "layout",
		Name:      "duration_seconds",
		Help:      "Layout pass duration in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	})
)
