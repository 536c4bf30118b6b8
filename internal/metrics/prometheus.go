package metrics

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	descSessionsActive   = prometheus.NewDesc("hostterm_sessions_active", "Live sessions currently open", nil, nil)
	descSessionsTotal    = prometheus.NewDesc("hostterm_sessions_total", "Live sessions that reached the open state", nil, nil)
	descFrames           = prometheus.NewDesc("hostterm_frames_total", "Stream frames by direction", []string{"direction"}, nil)
	descBytes            = prometheus.NewDesc("hostterm_frame_bytes_total", "Stream frame bytes by direction", []string{"direction"}, nil)
	descDecodeFallbacks  = prometheus.NewDesc("hostterm_decode_fallbacks_total", "Frames rendered as raw text", nil, nil)
	descPlaybackEvents   = prometheus.NewDesc("hostterm_playback_events_total", "Recording events written during playback", nil, nil)
	descTunnelReconnects = prometheus.NewDesc("hostterm_tunnel_reconnects_total", "Bastion reconnection attempts", nil, nil)
	descErrors           = prometheus.NewDesc("hostterm_errors_total", "Errors recorded", nil, nil)
)

// Describe implements [prometheus.Collector].
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		descSessionsActive, descSessionsTotal, descFrames, descBytes,
		descDecodeFallbacks, descPlaybackEvents, descTunnelReconnects, descErrors,
	} {
		ch <- d
	}
}

// Collect implements [prometheus.Collector] by reading the atomic
// counters at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.Snapshot()
	ch <- prometheus.MustNewConstMetric(descSessionsActive, prometheus.GaugeValue, float64(s.SessionsActive))
	ch <- prometheus.MustNewConstMetric(descSessionsTotal, prometheus.CounterValue, float64(s.SessionsTotal))
	ch <- prometheus.MustNewConstMetric(descFrames, prometheus.CounterValue, float64(s.FramesIn), "in")
	ch <- prometheus.MustNewConstMetric(descFrames, prometheus.CounterValue, float64(s.FramesOut), "out")
	ch <- prometheus.MustNewConstMetric(descBytes, prometheus.CounterValue, float64(s.BytesIn), "in")
	ch <- prometheus.MustNewConstMetric(descBytes, prometheus.CounterValue, float64(s.BytesOut), "out")
	ch <- prometheus.MustNewConstMetric(descDecodeFallbacks, prometheus.CounterValue, float64(s.DecodeFallbacks))
	ch <- prometheus.MustNewConstMetric(descPlaybackEvents, prometheus.CounterValue, float64(s.PlaybackEvents))
	ch <- prometheus.MustNewConstMetric(descTunnelReconnects, prometheus.CounterValue, float64(s.TunnelReconnects))
	ch <- prometheus.MustNewConstMetric(descErrors, prometheus.CounterValue, float64(s.ErrorsTotal))
}

// Handler returns a router serving /metrics in the Prometheus text
// format and /healthz as the JSON snapshot.
func (c *Collector) Handler() http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(c)

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(c.JSON())) //nolint:errcheck
	})
	return r
}
