// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package telemetry provides the internal metrics of the agent and of the
// correlation collector.
package telemetry

import (
	"net/http"

	dto "github.com/prometheus/client_model/go"
)

// Namespace prefixes every metric name
const Namespace = "connbeat"

// Counter tracks how many times something is happening.
type Counter interface {
	// Inc increments the counter for the given tags value
	Inc(tagsValue ...string)
	// Add adds val to the counter for the given tags value
	Add(val float64, tagsValue ...string)
	// Get returns the counter value for the given tags value
	Get(tagsValue ...string) float64
}

// Gauge tracks the value of one health metric.
type Gauge interface {
	Set(val float64, tagsValue ...string)
	Inc(tagsValue ...string)
	Dec(tagsValue ...string)
	Get(tagsValue ...string) float64
}

// Histogram tracks the distribution of a value.
type Histogram interface {
	Observe(val float64, tagsValue ...string)
}

// Component creates metrics and exposes them
type Component interface {
	NewCounter(subsystem, name string, tags []string, help string) Counter
	NewGauge(subsystem, name string, tags []string, help string) Gauge
	NewHistogram(subsystem, name string, tags []string, help string, buckets []float64) Histogram
	// Handler serves the metrics in the prometheus text format
	Handler() http.Handler
	// Gather returns the current value of every metric
	Gather() ([]*dto.MetricFamily, error)
}
