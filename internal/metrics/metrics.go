package metrics

import (
	"net/http"
	"time"

	"github.com/berfenger/energylive2mqtt/internal/core/domain"
	"github.com/berfenger/energylive2mqtt/internal/core/port"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "energylive"

var streamStates = []port.StreamState{
	port.StreamConnecting,
	port.StreamStreaming,
	port.StreamClosing,
	port.StreamCooldown,
	port.StreamStopped,
}

// StreamCollector exports the live stream loops and the last value of every
// numeric channel. It implements port.StreamMetrics.
type StreamCollector struct {
	registry *prometheus.Registry

	streamState      *prometheus.GaugeVec
	reconnects       *prometheus.CounterVec
	recordsParsed    *prometheus.CounterVec
	recordsDiscarded *prometheus.CounterVec
	channelValue     *prometheus.GaugeVec
	lastUpdate       *prometheus.GaugeVec
}

func NewStreamCollector() *StreamCollector {
	c := &StreamCollector{
		registry: prometheus.NewRegistry(),
		streamState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_state",
			Help:      "Live stream loop state per device (1 for the current state).",
		}, []string{"device", "state"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_reconnects_total",
			Help:      "Live stream reconnects per device, by kind (immediate or cooldown).",
		}, []string{"device", "kind"}),
		recordsParsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_parsed_total",
			Help:      "Live stream records applied to the device.",
		}, []string{"device"}),
		recordsDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_discarded_total",
			Help:      "Malformed live stream records dropped.",
		}, []string{"device"}),
		channelValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_value",
			Help:      "Last value of a numeric measurement channel.",
		}, []string{"device", "channel"}),
		lastUpdate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_update_timestamp_seconds",
			Help:      "Unix time of the last applied record per device.",
		}, []string{"device"}),
	}
	c.registry.MustRegister(
		c.streamState,
		c.reconnects,
		c.recordsParsed,
		c.recordsDiscarded,
		c.channelValue,
		c.lastUpdate,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *StreamCollector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *StreamCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *StreamCollector) StateChanged(deviceId string, state port.StreamState) {
	for _, s := range streamStates {
		v := 0.0
		if s == state {
			v = 1
		}
		c.streamState.WithLabelValues(deviceId, string(s)).Set(v)
	}
}

func (c *StreamCollector) RecordParsed(deviceId, channel string, value any) {
	c.recordsParsed.WithLabelValues(deviceId).Inc()
	c.lastUpdate.WithLabelValues(deviceId).Set(float64(time.Now().Unix()))
	if f, ok := domain.NumericValue(value); ok {
		c.channelValue.WithLabelValues(deviceId, channel).Set(f)
	}
}

func (c *StreamCollector) RecordDiscarded(deviceId string) {
	c.recordsDiscarded.WithLabelValues(deviceId).Inc()
}

func (c *StreamCollector) Reconnect(deviceId string, cooldown time.Duration) {
	kind := "immediate"
	if cooldown > 0 {
		kind = "cooldown"
	}
	c.reconnects.WithLabelValues(deviceId, kind).Inc()
}

var _ port.StreamMetrics = (*StreamCollector)(nil)
