package poller

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are shared by every Engine; series are labelled by class.
// A nil *Metrics records nothing.
type Metrics struct {
	ticks           *prometheus.CounterVec
	tickDuration    *prometheus.HistogramVec
	publishes       *prometheus.CounterVec
	persistFailures *prometheus.CounterVec
	interval        *prometheus.HistogramVec
	scheduled       *prometheus.GaugeVec
	discoveries     *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ticks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "livesync_ticks_total",
			Help: "Poll ticks by class and outcome (changed, unchanged, error)",
		}, []string{"class", "outcome"}),
		tickDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "livesync_tick_duration_seconds",
			Help:    "Duration of one poll tick including fetch, merge and publish",
			Buckets: prometheus.DefBuckets,
		}, []string{"class"}),
		publishes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "livesync_publishes_total",
			Help: "Events handed to the broadcaster",
		}, []string{"class", "event"}),
		persistFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "livesync_persist_failures_total",
			Help: "Merged records that failed to persist",
		}, []string{"class"}),
		interval: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "livesync_poll_interval_seconds",
			Help:    "Interval chosen after each tick",
			Buckets: []float64{2, 2.5, 3, 4, 5, 7.5, 10, 15, 20, 30},
		}, []string{"class"}),
		scheduled: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "livesync_scheduled_keys",
			Help: "Keys with a running poll loop",
		}, []string{"class"}),
		discoveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "livesync_discoveries_total",
			Help: "Discovery passes by result (ok, error)",
		}, []string{"class", "result"}),
	}
}

func (m *Metrics) tick(class, outcome string, took time.Duration, next time.Duration) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(class, outcome).Inc()
	m.tickDuration.WithLabelValues(class).Observe(took.Seconds())
	m.interval.WithLabelValues(class).Observe(next.Seconds())
}

func (m *Metrics) published(class, event string) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(class, event).Inc()
}

func (m *Metrics) persistFailed(class string) {
	if m == nil {
		return
	}
	m.persistFailures.WithLabelValues(class).Inc()
}

func (m *Metrics) discovered(class string, err error, scheduled int) {
	if m == nil {
		return
	}
	if err != nil {
		m.discoveries.WithLabelValues(class, "error").Inc()
		return
	}
	m.discoveries.WithLabelValues(class, "ok").Inc()
	m.scheduled.WithLabelValues(class).Set(float64(scheduled))
}
