package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amoylab/pigeon/internal/common/config"
)

// Send outcome labels
const (
	OutcomeDelivered   = "delivered"
	OutcomeNotFound    = "not_found"
	OutcomeFailed      = "delivery_failed"
	OutcomeUnavailable = "unavailable"
)

// Metrics holds the Prometheus collectors of the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry    *prometheus.Registry
	namespace   string
	httpReqCnt  *prometheus.CounterVec
	httpDur     *prometheus.HistogramVec
	httpInfl    *prometheus.GaugeVec
	streamsOpen prometheus.Gauge
	supersedes  prometheus.Counter
	keepAlives  prometheus.Counter
	framesSent  prometheus.Counter
	sendCnt     *prometheus.CounterVec
	sendDur     *prometheus.HistogramVec
	idsIssued   prometheus.Counter
}

func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	httpReqCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total"}, []string{"method", "route", "status"})
	httpDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "http_request_duration_seconds", Buckets: buckets}, []string{"method", "route", "status"})
	httpInfl := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "http_requests_inflight"}, []string{"route"})
	r.MustRegister(httpReqCnt, httpDur, httpInfl)

	streamsOpen := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "streams_open", Help: "Connect streams currently open"})
	supersedes := prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "stream_supersedes_total", Help: "Connects that replaced a live registration"})
	keepAlives := prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "keepalive_frames_total"})
	framesSent := prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "message_frames_total"})
	r.MustRegister(streamsOpen, supersedes, keepAlives, framesSent)

	sendCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "send_requests_total"}, []string{"outcome"})
	sendDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "send_duration_seconds", Buckets: buckets}, []string{"outcome"})
	idsIssued := prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "session_ids_issued_total"})
	r.MustRegister(sendCnt, sendDur, idsIssued)

	return &Metrics{
		registry:    r,
		namespace:   ns,
		httpReqCnt:  httpReqCnt,
		httpDur:     httpDur,
		httpInfl:    httpInfl,
		streamsOpen: streamsOpen,
		supersedes:  supersedes,
		keepAlives:  keepAlives,
		framesSent:  framesSent,
		sendCnt:     sendCnt,
		sendDur:     sendDur,
		idsIssued:   idsIssued,
	}
}

func (m *Metrics) StreamOpened(superseded bool) {
	if m == nil {
		return
	}
	m.streamsOpen.Inc()
	if superseded {
		m.supersedes.Inc()
	}
}

func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.streamsOpen.Dec()
}

func (m *Metrics) KeepAliveSent() {
	if m == nil {
		return
	}
	m.keepAlives.Inc()
}

func (m *Metrics) FrameSent() {
	if m == nil {
		return
	}
	m.framesSent.Inc()
}

func (m *Metrics) SendDone(outcome string, since time.Time) {
	if m == nil {
		return
	}
	m.sendCnt.WithLabelValues(outcome).Inc()
	m.sendDur.WithLabelValues(outcome).Observe(time.Since(since).Seconds())
}

func (m *Metrics) SessionIDIssued() {
	if m == nil {
		return
	}
	m.idsIssued.Inc()
}

func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpInfl.WithLabelValues(route).Inc()
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		m.httpReqCnt.WithLabelValues(c.Request.Method, route, status).Inc()
		m.httpDur.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpInfl.WithLabelValues(route).Dec()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
