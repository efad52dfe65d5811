package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/flexpipe/internal/protocol/frame"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

var (
	registerOnce sync.Once

	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flexpipe",
			Subsystem: "frames",
			Name:      "total",
			Help:      "Frames moved across the channel.",
		},
		[]string{"role", "direction", "type"},
	)
	frameBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flexpipe",
			Subsystem: "frames",
			Name:      "bytes",
			Help:      "Frame size in bytes, header included.",
			Buckets:   prometheus.LinearBuckets(16, 32, 8),
		},
		[]string{"role", "direction"},
	)
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flexpipe",
			Subsystem: "endpoint",
			Name:      "errors_total",
			Help:      "Endpoint failures by error kind.",
		},
		[]string{"role", "kind"},
	)
	exchangeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flexpipe",
			Subsystem: "endpoint",
			Name:      "exchange_duration_seconds",
			Help:      "Duration of one send/reply cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
		[]string{"role"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flexpipe",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests to the metrics listener.",
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(framesTotal, frameBytes, errorsTotal, exchangeDuration, httpRequests)
	})
}

func RecordFrame(role, direction string, t frame.Type, size int) {
	RegisterMetrics()
	framesTotal.WithLabelValues(role, direction, t.String()).Inc()
	frameBytes.WithLabelValues(role, direction).Observe(float64(size))
}

func RecordError(role string, err error) {
	if err == nil {
		return
	}
	RegisterMetrics()
	errorsTotal.WithLabelValues(role, frame.Kind(err)).Inc()
}

func ObserveExchange(role string, d time.Duration) {
	RegisterMetrics()
	exchangeDuration.WithLabelValues(role).Observe(d.Seconds())
}

func RecordHTTPRequest(method, path string, status int) {
	RegisterMetrics()
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}
