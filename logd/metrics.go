package logd

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// client metrics. A nil `*Metrics` records nothing.
type Metrics struct {
	framesIn     *prometheus.CounterVec
	framesOut    *prometheus.CounterVec
	errorFrames  *prometheus.CounterVec
	connects     prometheus.Counter
	disconnects  prometheus.Counter
	queueLen     prometheus.Gauge
	replyLatency prometheus.Histogram
	commandFails prometheus.Counter
	saves        prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		framesIn: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "logd_frames_received_total",
			Help: "Frames received by kind",
		}, []string{"kind"}),
		framesOut: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "logd_frames_sent_total",
			Help: "Frames sent by kind",
		}, []string{"kind"}),
		errorFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "logd_error_frames_total",
			Help: "Error frames received by error kind",
		}, []string{"error_kind"}),
		connects: factory.NewCounter(prometheus.CounterOpts{
			Name: "logd_connects_total",
			Help: "Transports opened",
		}),
		disconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "logd_disconnects_total",
			Help: "Transports closed",
		}),
		queueLen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "logd_queue_length",
			Help: "Pending requests including the one in flight",
		}),
		replyLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "logd_reply_latency_seconds",
			Help:    "Time from send to reply",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}),
		commandFails: factory.NewCounter(prometheus.CounterOpts{
			Name: "logd_command_failures_total",
			Help: "Builtin commands that failed to apply",
		}),
		saves: factory.NewCounter(prometheus.CounterOpts{
			Name: "logd_saves_total",
			Help: "State saves scheduled to storage",
		}),
	}
}

func (self *Metrics) frameIn(kind string) {
	if self == nil {
		return
	}
	self.framesIn.WithLabelValues(kind).Inc()
}

func (self *Metrics) frameOut(kind string) {
	if self == nil {
		return
	}
	self.framesOut.WithLabelValues(kind).Inc()
}

func (self *Metrics) errorFrame(errorKind string) {
	if self == nil {
		return
	}
	self.errorFrames.WithLabelValues(errorKind).Inc()
}

func (self *Metrics) connect() {
	if self == nil {
		return
	}
	self.connects.Inc()
}

func (self *Metrics) disconnect() {
	if self == nil {
		return
	}
	self.disconnects.Inc()
}

func (self *Metrics) queue(n int) {
	if self == nil {
		return
	}
	self.queueLen.Set(float64(n))
}

func (self *Metrics) reply(seconds float64) {
	if self == nil {
		return
	}
	self.replyLatency.Observe(seconds)
}

func (self *Metrics) commandFailed() {
	if self == nil {
		return
	}
	self.commandFails.Inc()
}

func (self *Metrics) save() {
	if self == nil {
		return
	}
	self.saves.Inc()
}
