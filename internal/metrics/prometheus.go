package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements the Collector interface using Prometheus metrics.
type PrometheusCollector struct {
	// Connection metrics
	connectionsTotal  prometheus.Counter
	connectionsActive prometheus.Gauge

	// Command metrics
	commandsTotal       *prometheus.CounterVec
	protocolErrorsTotal *prometheus.CounterVec

	// Message metrics
	messagesTotal         prometheus.Counter
	messagesSizeBytes     prometheus.Histogram
	attachmentsPerMessage prometheus.Histogram
	parseFailuresTotal    prometheus.Counter

	// Dispatch metrics
	dispatchesTotal  *prometheus.CounterVec
	dispatchDuration prometheus.Histogram

	eventLogErrorsTotal prometheus.Counter
}

// NewPrometheusCollector creates a new PrometheusCollector with all metrics registered.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "milter_connections_total",
			Help: "Total number of milter connections opened.",
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "milter_connections_active",
			Help: "Number of currently active milter connections.",
		}),

		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "milter_commands_total",
			Help: "Total number of milter commands processed.",
		}, []string{"command"}),
		protocolErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "milter_protocol_errors_total",
			Help: "Total number of commands that violated callback ordering or could not be decoded.",
		}, []string{"command"}),

		messagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "milter_messages_processed_total",
			Help: "Total number of messages processed at end of message.",
		}),
		messagesSizeBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "milter_messages_size_bytes",
			Help:    "Size of buffered messages in bytes.",
			Buckets: []float64{1024, 10240, 102400, 1048576, 10485760, 26214400, 52428800},
		}),
		attachmentsPerMessage: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "milter_message_attachments",
			Help:    "Number of attachments found per message.",
			Buckets: []float64{0, 1, 2, 5, 10, 25},
		}),
		parseFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "milter_parse_failures_total",
			Help: "Total number of messages that could not be parsed.",
		}),

		dispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "milter_attachment_dispatches_total",
			Help: "Total number of attachment uploads by result.",
		}, []string{"result"}),
		dispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "milter_attachment_dispatch_duration_seconds",
			Help:    "Time spent uploading a single attachment.",
			Buckets: prometheus.DefBuckets,
		}),

		eventLogErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "milter_event_log_errors_total",
			Help: "Total number of events the event log sink failed to record.",
		}),
	}

	// Register all metrics
	reg.MustRegister(
		c.connectionsTotal,
		c.connectionsActive,
		c.commandsTotal,
		c.protocolErrorsTotal,
		c.messagesTotal,
		c.messagesSizeBytes,
		c.attachmentsPerMessage,
		c.parseFailuresTotal,
		c.dispatchesTotal,
		c.dispatchDuration,
		c.eventLogErrorsTotal,
	)

	return c
}

// ConnectionOpened increments the connection counter and active gauge.
func (c *PrometheusCollector) ConnectionOpened() {
	c.connectionsTotal.Inc()
	c.connectionsActive.Inc()
}

// ConnectionClosed decrements the active connections gauge.
func (c *PrometheusCollector) ConnectionClosed() {
	c.connectionsActive.Dec()
}

// CommandProcessed increments the command counter.
func (c *PrometheusCollector) CommandProcessed(command string) {
	c.commandsTotal.WithLabelValues(command).Inc()
}

// ProtocolError increments the protocol error counter.
func (c *PrometheusCollector) ProtocolError(command string) {
	c.protocolErrorsTotal.WithLabelValues(command).Inc()
}

// MessageProcessed increments the message counter and observes its size and
// attachment count.
func (c *PrometheusCollector) MessageProcessed(sizeBytes int64, attachments int) {
	c.messagesTotal.Inc()
	c.messagesSizeBytes.Observe(float64(sizeBytes))
	c.attachmentsPerMessage.Observe(float64(attachments))
}

// ParseFailed increments the parse failure counter.
func (c *PrometheusCollector) ParseFailed() {
	c.parseFailuresTotal.Inc()
}

// AttachmentDispatched increments the dispatch counter and observes the upload duration.
func (c *PrometheusCollector) AttachmentDispatched(result string, duration time.Duration) {
	c.dispatchesTotal.WithLabelValues(result).Inc()
	c.dispatchDuration.Observe(duration.Seconds())
}

// EventLogError increments the event log error counter.
func (c *PrometheusCollector) EventLogError() {
	c.eventLogErrorsTotal.Inc()
}
