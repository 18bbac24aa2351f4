// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package tcpdiag

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreakerDefaultState(t *testing.T) {
	breaker := NewCircuitBreaker(2)
	assert.False(t, breaker.IsOpen())
	assert.Zero(t, breaker.Failures())
}

func TestCircuitBreakerTrips(t *testing.T) {
	breaker := NewCircuitBreaker(3)

	assert.False(t, breaker.Failure())
	assert.False(t, breaker.Failure())
	assert.False(t, breaker.IsOpen())

	// only the tripping call reports it
	assert.True(t, breaker.Failure())
	assert.True(t, breaker.IsOpen())
	assert.False(t, breaker.Failure())
	assert.True(t, breaker.IsOpen())
}

func TestCircuitBreakerSuccessClearsFailures(t *testing.T) {
	breaker := NewCircuitBreaker(2)

	for i := 0; i < 10; i++ {
		breaker.Failure()
		breaker.Success()
	}
	assert.False(t, breaker.IsOpen())
	assert.Zero(t, breaker.Failures())
}

func TestCircuitBreakerReset(t *testing.T) {
	breaker := NewCircuitBreaker(1)
	assert.True(t, breaker.Failure())
	breaker.Reset()
	assert.False(t, breaker.IsOpen())
	assert.Zero(t, breaker.Failures())
}

func TestCircuitBreakerDisabled(t *testing.T) {
	breaker := NewCircuitBreaker(-1)
	for i := 0; i < 1000; i++ {
		assert.False(t, breaker.Failure())
	}
	assert.False(t, breaker.IsOpen())
}

func TestCircuitBreakerDefaultMaxFailures(t *testing.T) {
	breaker := NewCircuitBreaker(0)
	for i := 0; i < DefaultMaxFailures-1; i++ {
		breaker.Failure()
	}
	assert.False(t, breaker.IsOpen())
	breaker.Failure()
	assert.True(t, breaker.IsOpen())
}
