// Package metrics exposes relay counters in the Prometheus text format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Message sources.
const (
	SourceSocket = "socket"
	SourceHTTP   = "http"
	SourceUpload = "upload"
)

type Metrics struct {
	registry *prometheus.Registry

	Messages      *prometheus.CounterVec
	Sockets       prometheus.Gauge
	DroppedFrames prometheus.Counter
	UploadBytes   prometheus.Counter
}

// New builds a metrics set on its own registry so several relays can live
// in one process.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat_relay",
			Name:      "messages_total",
			Help:      "Messages persisted, by source.",
		}, []string{"source"}),
		Sockets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat_relay",
			Name:      "sockets",
			Help:      "Open live sockets.",
		}),
		DroppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat_relay",
			Name:      "dropped_frames_total",
			Help:      "Inbound frames rejected as malformed.",
		}),
		UploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat_relay",
			Name:      "upload_bytes_total",
			Help:      "Bytes of uploaded files stored.",
		}),
	}
	m.registry.MustRegister(
		m.Messages,
		m.Sockets,
		m.DroppedFrames,
		m.UploadBytes,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
