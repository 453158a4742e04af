package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	decodeEventsTotal *prometheus.CounterVec
	decodeFailures    prometheus.Counter

	toolDispatchTotal    *prometheus.CounterVec
	toolDispatchDuration *prometheus.HistogramVec

	loopTurnsTotal  *prometheus.CounterVec
	loopRunDuration prometheus.Histogram
	loopRunTotal    *prometheus.CounterVec

	activeStreams        prometheus.Gauge
	streamCancelsTotal   prometheus.Counter
	focusChangesTotal    prometheus.Counter
	transcriptLoadDur    prometheus.Histogram
	transcriptSaveDur    prometheus.Histogram
	activeTranscripts    prometheus.Gauge
	chatRequestsTotal    *prometheus.CounterVec
	chatRequestDurations prometheus.Histogram
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			decodeEventsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "wire_decode_events_total",
					Help: "Total decoded stream events by kind.",
				},
				[]string{"kind"},
			),
			decodeFailures: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "wire_decode_failures_total",
					Help: "Total fatal decode failures.",
				},
			),
			toolDispatchTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_dispatch_total",
					Help: "Total tool dispatches by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolDispatchDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_dispatch_duration_seconds",
					Help:    "Tool dispatch duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			loopTurnsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_loop_turns_total",
					Help: "Total request cycles by outcome.",
				},
				[]string{"outcome"},
			),
			loopRunDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "agent_loop_run_duration_seconds",
					Help:    "Full loop run duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			loopRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_loop_runs_total",
					Help: "Total loop runs by terminal state.",
				},
				[]string{"state"},
			),
			activeStreams: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "registry_active_streams",
					Help: "Sessions currently streaming a turn.",
				},
			),
			streamCancelsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "registry_stream_cancels_total",
					Help: "Total mid-stream cancellations.",
				},
			),
			focusChangesTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "registry_focus_changes_total",
					Help: "Total focus changes across sessions.",
				},
			),
			transcriptLoadDur: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "transcript_load_duration_seconds",
					Help:    "Transcript load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			transcriptSaveDur: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "transcript_save_duration_seconds",
					Help:    "Transcript append duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			activeTranscripts: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "transcripts_active",
					Help: "Transcript files currently on disk.",
				},
			),
			chatRequestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "gateway_chat_requests_total",
					Help: "Total chat requests by status.",
				},
				[]string{"status"},
			),
			chatRequestDurations: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "gateway_chat_request_duration_seconds",
					Help:    "Chat request duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
		}

		prometheus.MustRegister(
			m.decodeEventsTotal,
			m.decodeFailures,
			m.toolDispatchTotal,
			m.toolDispatchDuration,
			m.loopTurnsTotal,
			m.loopRunDuration,
			m.loopRunTotal,
			m.activeStreams,
			m.streamCancelsTotal,
			m.focusChangesTotal,
			m.transcriptLoadDur,
			m.transcriptSaveDur,
			m.activeTranscripts,
			m.chatRequestsTotal,
			m.chatRequestDurations,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler returns the HTTP handler for the /metrics endpoint.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordDecodeEvent(kind string) {
	getMetrics().decodeEventsTotal.WithLabelValues(kind).Inc()
}

func RecordDecodeFailure() {
	getMetrics().decodeFailures.Inc()
}

func RecordToolDispatch(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolDispatchTotal.WithLabelValues(tool, status).Inc()
	m.toolDispatchDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordLoopTurn(outcome string) {
	getMetrics().loopTurnsTotal.WithLabelValues(outcome).Inc()
}

func RecordLoopRun(state string, duration time.Duration) {
	m := getMetrics()
	m.loopRunTotal.WithLabelValues(state).Inc()
	m.loopRunDuration.Observe(duration.Seconds())
}

func SetActiveStreams(count int) {
	getMetrics().activeStreams.Set(float64(count))
}

func RecordStreamCancel() {
	getMetrics().streamCancelsTotal.Inc()
}

func RecordFocusChange() {
	getMetrics().focusChangesTotal.Inc()
}

func RecordTranscriptLoad(duration time.Duration) {
	getMetrics().transcriptLoadDur.Observe(duration.Seconds())
}

func RecordTranscriptSave(duration time.Duration) {
	getMetrics().transcriptSaveDur.Observe(duration.Seconds())
}

func SetActiveTranscripts(count int) {
	getMetrics().activeTranscripts.Set(float64(count))
}

func RecordChatRequest(status string, duration time.Duration) {
	m := getMetrics()
	m.chatRequestsTotal.WithLabelValues(status).Inc()
	m.chatRequestDurations.Observe(duration.Seconds())
}
