// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2018 Datadog, Inc.

package forwarder

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
)

const (
	maxAttempts     = 7
	initialInterval = 1 * time.Second
	maxInterval     = 2 * time.Minute
)

// GetBackoffDuration returns how long an endpoint stays blocked after
// nbError consecutive errors
func GetBackoffDuration(nbError int) time.Duration {
	if nbError <= 0 {
		return 0
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialInterval
	b.MaxInterval = maxInterval
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	var d time.Duration
	for i := 0; i < nbError; i++ {
		d = b.NextBackOff()
	}
	return d
}

type block struct {
	nbError int
	until   time.Time
}

type blockedEndpoints struct {
	errorPerEndpoint map[string]*block
	clock            clock.Clock
	m                sync.RWMutex
}

func newBlockedEndpoints(c clock.Clock) *blockedEndpoints {
	return &blockedEndpoints{errorPerEndpoint: make(map[string]*block), clock: c}
}

func (e *blockedEndpoints) block(endpoint string) {
	e.m.Lock()
	defer e.m.Unlock()

	b, ok := e.errorPerEndpoint[endpoint]
	if !ok {
		b = &block{}
		e.errorPerEndpoint[endpoint] = b
	}
	b.nbError = min(maxAttempts, b.nbError+1)
	b.until = e.clock.Now().Add(GetBackoffDuration(b.nbError))
}

func (e *blockedEndpoints) unblock(endpoint string) {
	e.m.Lock()
	defer e.m.Unlock()

	b, ok := e.errorPerEndpoint[endpoint]
	if !ok {
		return
	}
	b.nbError = max(0, b.nbError-1)
	b.until = e.clock.Now().Add(GetBackoffDuration(b.nbError))
}

func (e *blockedEndpoints) isBlock(endpoint string) bool {
	e.m.RLock()
	defer e.m.RUnlock()

	if b, ok := e.errorPerEndpoint[endpoint]; ok && e.clock.Now().Before(b.until) {
		return true
	}
	return false
}
