// Package metric owns the Prometheus registry and exposition server for the
// ingester. Metric names match the original dashboard contract
// (bluesky_post_languages, bluesky_total_posts, ...).
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Connection state gauge values.
const (
	StateDisconnected = 0
	StateConnecting   = 1
	StateOpen         = 2
	StateBackoff      = 3
)

// Metrics contains all counters and gauges exported by the ingester.
// All Record methods are nil-receiver safe so components can run unmetered
// in tests.
type Metrics struct {
	registry *prometheus.Registry

	PostLanguages    *prometheus.GaugeVec
	EmojiUsage       *prometheus.GaugeVec
	TotalPosts       prometheus.Counter
	PostsPerSecond   prometheus.Gauge
	ErrorsTotal      *prometheus.CounterVec
	RejectionsTotal  *prometheus.CounterVec
	UnexpectedEvents *prometheus.CounterVec
	ConnectionState  prometheus.Gauge
	ReconnectsTotal  prometheus.Counter
	Watermark        prometheus.Gauge
}

// NewMetrics creates a Metrics instance backed by a fresh registry with Go
// runtime and process collectors attached.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		PostLanguages: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bluesky_post_languages",
			Help: "Number of posts per language",
		}, []string{"language"}),

		EmojiUsage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bluesky_emoji_usage",
			Help: "Total uses per emoji",
		}, []string{"emoji"}),

		TotalPosts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bluesky_total_posts",
			Help: "Total number of posts processed",
		}),

		PostsPerSecond: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bluesky_posts_per_second",
			Help: "Number of posts processed per second",
		}),

		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bluesky_error_count",
			Help: "Total number of errors encountered",
		}, []string{"class"}),

		RejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bluesky_decode_rejections_total",
			Help: "Total wire events rejected by the decoder",
		}, []string{"reason"}),

		UnexpectedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bluesky_unexpected_event_count",
			Help: "Total number of unexpected events received",
		}, []string{"event_type", "collection"}),

		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bluesky_connection_state",
			Help: "Firehose connection state (0=disconnected, 1=connecting, 2=open, 3=backoff)",
		}),

		ReconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bluesky_reconnects_total",
			Help: "Total number of firehose reconnect attempts",
		}),

		Watermark: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bluesky_cursor_watermark",
			Help: "Highest stream cursor observed and processed",
		}),
	}

	registry.MustRegister(
		m.PostLanguages,
		m.EmojiUsage,
		m.TotalPosts,
		m.PostsPerSecond,
		m.ErrorsTotal,
		m.RejectionsTotal,
		m.UnexpectedEvents,
		m.ConnectionState,
		m.ReconnectsTotal,
		m.Watermark,
	)

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// SetLanguageCount sets the per-language post gauge.
func (m *Metrics) SetLanguageCount(language string, count int64) {
	if m == nil {
		return
	}
	m.PostLanguages.WithLabelValues(language).Set(float64(count))
}

// ResetLanguageCounts drops all per-language gauge series. Used when the
// reconciler replaces the in-memory snapshot wholesale.
func (m *Metrics) ResetLanguageCounts() {
	if m == nil {
		return
	}
	m.PostLanguages.Reset()
}

// SetEmojiCount sets the per-emoji usage gauge.
func (m *Metrics) SetEmojiCount(emoji string, count int64) {
	if m == nil {
		return
	}
	m.EmojiUsage.WithLabelValues(emoji).Set(float64(count))
}

// ResetEmojiCounts drops all per-emoji gauge series.
func (m *Metrics) ResetEmojiCounts() {
	if m == nil {
		return
	}
	m.EmojiUsage.Reset()
}

// RecordPost increments the processed post counter.
func (m *Metrics) RecordPost() {
	if m == nil {
		return
	}
	m.TotalPosts.Inc()
}

// SetPostsPerSecond sets the posts-per-second gauge.
func (m *Metrics) SetPostsPerSecond(rate float64) {
	if m == nil {
		return
	}
	m.PostsPerSecond.Set(rate)
}

// RecordError increments the error counter for an error class
// ("invalid", "transient", "fatal").
func (m *Metrics) RecordError(class string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(class).Inc()
}

// RecordRejection increments the decode rejection counter for a reason.
func (m *Metrics) RecordRejection(reason string) {
	if m == nil {
		return
	}
	m.RejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordUnexpectedEvent increments the unexpected event counter.
func (m *Metrics) RecordUnexpectedEvent(eventType, collection string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	if collection == "" {
		collection = "unknown"
	}
	m.UnexpectedEvents.WithLabelValues(eventType, collection).Inc()
}

// SetConnectionState sets the connection state gauge.
func (m *Metrics) SetConnectionState(state int) {
	if m == nil {
		return
	}
	m.ConnectionState.Set(float64(state))
}

// RecordReconnect increments the reconnect attempt counter.
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.ReconnectsTotal.Inc()
}

// SetWatermark sets the cursor watermark gauge.
func (m *Metrics) SetWatermark(cursor int64) {
	if m == nil {
		return
	}
	m.Watermark.Set(float64(cursor))
}
