// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package forwarder

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/connbeat-agent/pkg/network/encoding/marshal"
	"github.com/DataDog/connbeat-agent/pkg/telemetry"
)

type collector struct {
	mu       sync.Mutex
	events   []*marshal.Event
	requests int
	headers  []http.Header
}

func (c *collector) record(r *http.Request) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	events, err := marshal.Unmarshal(body)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.requests++
	c.events = append(c.events, events...)
	c.headers = append(c.headers, r.Header.Clone())
	c.mu.Unlock()
	return nil
}

func (c *collector) count() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests, len(c.events)
}

func testEvent(port uint16) *marshal.Event {
	return &marshal.Event{
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Type:      "opened",
		State:     "LISTEN",
		Family:    "v4",
		LocalIP:   "0.0.0.0",
		LocalPort: port,
		Process:   "nginx",
	}
}

func TestSubmitNotStarted(t *testing.T) {
	f := NewDefaultForwarder(NewOptions("http://127.0.0.1:1"))
	assert.Equal(t, Stopped, f.State())
	assert.ErrorIs(t, f.Submit(testEvent(80)), ErrNotStarted)
}

func TestStartTwice(t *testing.T) {
	f := NewDefaultForwarder(NewOptions("http://127.0.0.1:1"))
	require.NoError(t, f.Start())
	defer f.Stop()
	assert.Error(t, f.Start())
	assert.Equal(t, Started, f.State())
}

func TestForwarderSendsEvents(t *testing.T) {
	c := &collector{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := c.record(r); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	f := NewDefaultForwarder(NewOptions(srv.URL))
	require.NoError(t, f.Start())

	for _, port := range []uint16{22, 80, 443} {
		require.NoError(t, f.Submit(testEvent(port)))
	}

	assert.Eventually(t, func() bool {
		_, n := c.count()
		return n == 3
	}, 5*time.Second, 10*time.Millisecond)
	f.Stop()
	assert.Equal(t, Stopped, f.State())

	c.mu.Lock()
	defer c.mu.Unlock()
	ports := []uint16{}
	for _, e := range c.events {
		ports = append(ports, e.LocalPort)
	}
	assert.ElementsMatch(t, []uint16{22, 80, 443}, ports)
	assert.Equal(t, marshal.ContentTypeJSON, c.headers[0].Get("Content-Type"))
	assert.True(t, strings.HasPrefix(c.headers[0].Get("User-Agent"), "connbeat-agent/"))
}

func TestForwarderQueueFull(t *testing.T) {
	release := make(chan struct{})
	inFlight := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case inFlight <- struct{}{}:
		default:
		}
		<-release
	}))
	defer srv.Close()

	tm := telemetry.NewBareComponent()
	opts := NewOptions(srv.URL)
	opts.NumberOfWorkers = 1
	opts.QueueSize = 1
	opts.Telemetry = tm
	f := NewDefaultForwarder(opts)
	require.NoError(t, f.Start())

	require.NoError(t, f.Submit(testEvent(1)))
	select {
	case <-inFlight:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "request never reached the server")
	}

	// the single worker is busy, one event fits in the queue
	require.NoError(t, f.Submit(testEvent(2)))
	assert.ErrorIs(t, f.Submit(testEvent(3)), ErrQueueFull)

	dropped := tm.NewCounter("forwarder", "events_dropped", []string{"reason"}, "Events the forwarder gave up on")
	assert.Equal(t, float64(1), dropped.Get("queue_full"))

	close(release)
	f.Stop()
}

func TestForwarderRetriesFailedBatches(t *testing.T) {
	c := &collector{}
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		c.record(r) //nolint:errcheck
	}))
	defer srv.Close()

	mockClock := clock.NewMock()
	tm := telemetry.NewBareComponent()
	opts := NewOptions(srv.URL)
	opts.Clock = mockClock
	opts.Telemetry = tm
	f := NewDefaultForwarder(opts)
	require.NoError(t, f.Start())
	defer f.Stop()

	require.NoError(t, f.Submit(testEvent(80)))

	retryQueue := tm.NewGauge("forwarder", "retry_queue_size", nil, "Batches waiting for a retry")
	assert.Eventually(t, func() bool {
		return retryQueue.Get() == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, f.blocked.isBlock(srv.URL))

	mockClock.Add(opts.FlushInterval)

	assert.Eventually(t, func() bool {
		_, n := c.count()
		return n == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, f.blocked.isBlock(srv.URL))

	failed := tm.NewCounter("forwarder", "failed_requests", nil, "Requests that failed and were requeued")
	assert.Equal(t, float64(1), failed.Get())
}

func TestRetryQueueLimit(t *testing.T) {
	f := NewDefaultForwarder(Options{URL: "http://127.0.0.1:1", RetryQueueLimit: 2, Clock: clock.NewMock()})
	f.init()

	now := f.opts.Clock.Now()
	for i := 0; i < 4; i++ {
		f.retryQueue = append(f.retryQueue, &transaction{
			count:     1,
			createdAt: now.Add(time.Duration(i) * time.Second),
			nextFlush: now.Add(time.Hour),
		})
	}
	f.retryTransactions(now)

	require.Len(t, f.retryQueue, 2)
	// the newest transactions are kept
	assert.Equal(t, now.Add(3*time.Second), f.retryQueue[0].createdAt)
	assert.Equal(t, now.Add(2*time.Second), f.retryQueue[1].createdAt)
}

func TestDestinationHealth(t *testing.T) {
	healthy := true
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	mockClock := clock.NewMock()
	opts := NewOptions(srv.URL)
	opts.HealthURL = srv.URL + "/health"
	opts.Clock = mockClock
	f := NewDefaultForwarder(opts)
	assert.True(t, f.Healthy())

	mu.Lock()
	healthy = false
	mu.Unlock()

	require.NoError(t, f.Start())
	defer f.Stop()
	assert.Eventually(t, func() bool { return !f.Healthy() }, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	healthy = true
	mu.Unlock()

	assert.Eventually(t, func() bool {
		mockClock.Add(healthCheckInterval)
		return f.Healthy()
	}, 5*time.Second, 50*time.Millisecond)
}

func TestConsoleSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewConsoleSink(&buf)
	require.NoError(t, s.Start())
	require.NoError(t, s.Submit(testEvent(80)))
	require.NoError(t, s.Submit(testEvent(443)))
	s.Stop()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	events, err := marshal.Unmarshal(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, uint16(443), events[1].LocalPort)
}

func TestMemorySink(t *testing.T) {
	s := &MemorySink{}
	require.NoError(t, s.Submit(testEvent(80)))
	assert.Len(t, s.Events(), 1)
	s.Reset()
	assert.Empty(t, s.Events())
}
