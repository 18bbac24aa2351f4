// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package telemetry

import (
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"go.uber.org/atomic"
)

type noopImpl struct{}

// NewNoopComponent returns a Component whose metrics only keep their value
// in memory, used when telemetry is disabled
func NewNoopComponent() Component {
	return &noopImpl{}
}

type dummy struct{}

func (d *dummy) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Telemetry is not enabled")) //nolint:errcheck
}

var dummyHandler = dummy{}

func (t *noopImpl) Handler() http.Handler {
	return &dummyHandler
}

func (t *noopImpl) Gather() ([]*dto.MetricFamily, error) {
	return nil, nil
}

func (t *noopImpl) NewCounter(_, _ string, _ []string, _ string) Counter {
	return &StatCounter{}
}

func (t *noopImpl) NewGauge(_, _ string, _ []string, _ string) Gauge {
	return &StatGauge{}
}

func (t *noopImpl) NewHistogram(_, _ string, _ []string, _ string, _ []float64) Histogram {
	return noopHistogram{}
}

// StatCounter is an untagged in-memory counter, tags are ignored
type StatCounter struct {
	v atomic.Float64
}

// Inc implements Counter
func (c *StatCounter) Inc(...string) { c.v.Add(1) }

// Add implements Counter
func (c *StatCounter) Add(val float64, _ ...string) { c.v.Add(val) }

// Get implements Counter
func (c *StatCounter) Get(...string) float64 { return c.v.Load() }

// StatGauge is an untagged in-memory gauge, tags are ignored
type StatGauge struct {
	v atomic.Float64
}

// Set implements Gauge
func (g *StatGauge) Set(val float64, _ ...string) { g.v.Store(val) }

// Inc implements Gauge
func (g *StatGauge) Inc(...string) { g.v.Add(1) }

// Dec implements Gauge
func (g *StatGauge) Dec(...string) { g.v.Sub(1) }

// Get implements Gauge
func (g *StatGauge) Get(...string) float64 { return g.v.Load() }

type noopHistogram struct{}

func (noopHistogram) Observe(float64, ...string) {}
