// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pollsTotal          *prometheus.CounterVec
	pollDurationSeconds *prometheus.HistogramVec
	pollChannelsFailed  *prometheus.CounterVec
	eventsTotal         *prometheus.CounterVec
	publishDroppedTotal prometheus.Counter
	quotaUsedUnits      *prometheus.GaugeVec
	quotaLimitUnits     *prometheus.GaugeVec
	saveFailuresTotal   prometheus.Counter
	probeOutcomesTotal  *prometheus.CounterVec
	trackedStreamsGauge prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pollsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streamwatch_polls_total",
				Help: "Total poll cycles per platform.",
			},
			[]string{"platform"},
		)

		pollDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "streamwatch_poll_duration_seconds",
				Help:    "Histogram of poll cycle durations per platform.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"platform"},
		)

		pollChannelsFailed = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streamwatch_poll_channels_failed_total",
				Help: "Channels skipped within a cycle due to errors, per platform.",
			},
			[]string{"platform"},
		)

		eventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streamwatch_change_events_total",
				Help: "Change events emitted, labeled by platform and type.",
			},
			[]string{"platform", "type"},
		)

		publishDroppedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "streamwatch_publish_dropped_total",
				Help: "Events dropped after a failed broker publish.",
			},
		)

		quotaUsedUnits = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "streamwatch_quota_used_units",
				Help: "API quota units used in the current window, per platform.",
			},
			[]string{"platform"},
		)

		quotaLimitUnits = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "streamwatch_quota_limit_units",
				Help: "API quota window limit, per platform.",
			},
			[]string{"platform"},
		)

		saveFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "streamwatch_record_save_failures_total",
				Help: "Stream record saves abandoned after exhausting retries.",
			},
		)

		probeOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streamwatch_probe_outcomes_total",
				Help: "Membership probe passes, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		trackedStreamsGauge = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "streamwatch_tracked_streams",
				Help: "Stream records currently held in the state store.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePoll records one completed poll cycle.
func ObservePoll(platform string, failedChannels int, duration time.Duration) {
	if pollsTotal == nil {
		return
	}
	pollsTotal.WithLabelValues(platform).Inc()
	pollDurationSeconds.WithLabelValues(platform).Observe(duration.Seconds())
	if failedChannels > 0 {
		pollChannelsFailed.WithLabelValues(platform).Add(float64(failedChannels))
	}
}

// ObserveEvent counts one emitted change event.
func ObserveEvent(platform, eventType string) {
	if eventsTotal == nil {
		return
	}
	eventsTotal.WithLabelValues(platform, eventType).Inc()
}

// ObservePublishDrop counts one dropped publish.
func ObservePublishDrop() {
	if publishDroppedTotal == nil {
		return
	}
	publishDroppedTotal.Inc()
}

// ObserveQuota updates the quota gauges for a platform.
func ObserveQuota(platform string, used, limit int) {
	if quotaUsedUnits == nil {
		return
	}
	quotaUsedUnits.WithLabelValues(platform).Set(float64(used))
	quotaLimitUnits.WithLabelValues(platform).Set(float64(limit))
}

// ObserveSaveFailure counts one abandoned record save.
func ObserveSaveFailure() {
	if saveFailuresTotal == nil {
		return
	}
	saveFailuresTotal.Inc()
}

// ObserveProbeOutcome counts one probe pass result.
func ObserveProbeOutcome(outcome string) {
	if probeOutcomesTotal == nil {
		return
	}
	probeOutcomesTotal.WithLabelValues(outcome).Inc()
}

// SetTrackedStreams updates the state-store size gauge.
func SetTrackedStreams(n int) {
	if trackedStreamsGauge == nil {
		return
	}
	trackedStreamsGauge.Set(float64(n))
}
