// Package metrics exposes device counters through prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "totp_device"

// Collector is nil-safe: a nil *Collector records nothing.
type Collector struct {
	registry  *prometheus.Registry
	commands  *prometheus.CounterVec
	transfers *prometheus.CounterVec
	errors    *prometheus.CounterVec
	reseeds   prometheus.Counter
	records   prometheus.Gauge
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands answered, by command and status.",
		}, []string{"command", "status"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Completed or failed chunked transfers, by direction and result.",
		}, []string{"direction", "result"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors by category.",
		}, []string{"category"}),
		reseeds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generator_reseeds_total",
			Help:      "Digest re-derivations of the nonce generator.",
		}),
		records: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "records",
			Help:      "Records currently held in the store.",
		}),
	}
	c.registry.MustRegister(c.commands, c.transfers, c.errors, c.reseeds, c.records)
	return c
}

func (c *Collector) RecordCommand(command, status string) {
	if c == nil {
		return
	}
	c.commands.WithLabelValues(command, status).Inc()
}

func (c *Collector) RecordTransfer(direction, result string) {
	if c == nil {
		return
	}
	c.transfers.WithLabelValues(direction, result).Inc()
}

func (c *Collector) RecordError(category string) {
	if c == nil {
		return
	}
	c.errors.WithLabelValues(category).Inc()
}

func (c *Collector) RecordReseed() {
	if c == nil {
		return
	}
	c.reseeds.Inc()
}

func (c *Collector) SetRecords(n int) {
	if c == nil {
		return
	}
	c.records.Set(float64(n))
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the collector's registry in the prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
