// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package telemetry

import (
	"errors"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

type promImpl struct {
	mutex    sync.Mutex
	registry *prometheus.Registry
}

// NewComponent returns a Component backed by a dedicated prometheus registry
// which also carries the go runtime and process collectors
func NewComponent() Component {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &promImpl{registry: reg}
}

// NewBareComponent returns a Component without the runtime collectors
func NewBareComponent() Component {
	return &promImpl{registry: prometheus.NewRegistry()}
}

func (t *promImpl) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

func (t *promImpl) Gather() ([]*dto.MetricFamily, error) {
	return t.registry.Gather()
}

// register returns c, or the collector already registered under the same name
func (t *promImpl) register(c prometheus.Collector) prometheus.Collector {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if err := t.registry.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

func (t *promImpl) NewCounter(subsystem, name string, tags []string, help string) Counter {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, tags)
	return &promCounter{pc: t.register(c).(*prometheus.CounterVec)}
}

func (t *promImpl) NewGauge(subsystem, name string, tags []string, help string) Gauge {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, tags)
	return &promGauge{pg: t.register(g).(*prometheus.GaugeVec)}
}

func (t *promImpl) NewHistogram(subsystem, name string, tags []string, help string, buckets []float64) Histogram {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, tags)
	return &promHistogram{ph: t.register(h).(*prometheus.HistogramVec)}
}

// Counter implementation using Prometheus.
type promCounter struct {
	pc *prometheus.CounterVec
}

func (c *promCounter) Inc(tagsValue ...string) {
	c.pc.WithLabelValues(tagsValue...).Inc()
}

func (c *promCounter) Add(val float64, tagsValue ...string) {
	c.pc.WithLabelValues(tagsValue...).Add(val)
}

func (c *promCounter) Get(tagsValue ...string) float64 {
	metric := &dto.Metric{}
	_ = c.pc.WithLabelValues(tagsValue...).Write(metric)
	return metric.GetCounter().GetValue()
}

// Gauge implementation using Prometheus.
type promGauge struct {
	pg *prometheus.GaugeVec
}

func (g *promGauge) Set(val float64, tagsValue ...string) {
	g.pg.WithLabelValues(tagsValue...).Set(val)
}

func (g *promGauge) Inc(tagsValue ...string) {
	g.pg.WithLabelValues(tagsValue...).Inc()
}

func (g *promGauge) Dec(tagsValue ...string) {
	g.pg.WithLabelValues(tagsValue...).Dec()
}

func (g *promGauge) Get(tagsValue ...string) float64 {
	metric := &dto.Metric{}
	_ = g.pg.WithLabelValues(tagsValue...).Write(metric)
	return metric.GetGauge().GetValue()
}

// Histogram implementation using Prometheus.
type promHistogram struct {
	ph *prometheus.HistogramVec
}

func (h *promHistogram) Observe(val float64, tagsValue ...string) {
	h.ph.WithLabelValues(tagsValue...).Observe(val)
}
