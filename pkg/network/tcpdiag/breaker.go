// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package tcpdiag

import (
	"go.uber.org/atomic"
)

// DefaultMaxFailures is the number of consecutive failed dumps after which a
// source stops querying netlink
const DefaultMaxFailures = 3

// CircuitBreaker trips once maxFailures consecutive failures were reported
// and remains open until Reset() is called. A success in between clears the
// failure count.
type CircuitBreaker struct {
	maxFailures int64

	failures *atomic.Int64
	isOpen   *atomic.Bool
}

// NewCircuitBreaker returns a closed breaker. A maxFailures of -1 virtually
// disables it.
func NewCircuitBreaker(maxFailures int64) *CircuitBreaker {
	if maxFailures <= 0 && maxFailures != -1 {
		maxFailures = DefaultMaxFailures
	}
	return &CircuitBreaker{
		maxFailures: maxFailures,
		failures:    atomic.NewInt64(0),
		isOpen:      atomic.NewBool(false),
	}
}

// IsOpen returns true when the circuit breaker tripped
func (c *CircuitBreaker) IsOpen() bool {
	return c.isOpen.Load()
}

// Failure records a failed attempt. It returns true only for the call that
// trips the breaker.
func (c *CircuitBreaker) Failure() bool {
	n := c.failures.Inc()
	if c.maxFailures == -1 || n < c.maxFailures {
		return false
	}
	return c.isOpen.CompareAndSwap(false, true)
}

// Success clears the consecutive failure count
func (c *CircuitBreaker) Success() {
	c.failures.Store(0)
}

// Failures returns the current count of consecutive failures
func (c *CircuitBreaker) Failures() int64 {
	return c.failures.Load()
}

// Reset closes the circuit breaker and clears its state
func (c *CircuitBreaker) Reset() {
	c.failures.Store(0)
	c.isOpen.Store(false)
}
