// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package forwarder hands connection events to their destination
package forwarder

import (
	"errors"
	"io"
	"sync"

	"github.com/DataDog/connbeat-agent/pkg/network/encoding/marshal"
)

var (
	// ErrQueueFull is returned when an event is dropped because the
	// forwarder is not keeping up
	ErrQueueFull = errors.New("forwarder queue is full")
	// ErrNotStarted is returned when submitting to a stopped sink
	ErrNotStarted = errors.New("the forwarder is not started")
)

// Sink accepts one event at a time. Submit never blocks on delivery.
type Sink interface {
	Start() error
	Stop()
	Submit(e *marshal.Event) error
}

// ConsoleSink writes newline delimited events to a writer
type ConsoleSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleSink returns a sink writing to w
func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w}
}

// Start implements Sink
func (c *ConsoleSink) Start() error { return nil }

// Stop implements Sink
func (c *ConsoleSink) Stop() {}

// Submit implements Sink
func (c *ConsoleSink) Submit(e *marshal.Event) error {
	b, err := marshal.MarshalEvent(e)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.w.Write(append(b, '\n'))
	return err
}

// MemorySink keeps every submitted event, used by checks run once and tests
type MemorySink struct {
	mu     sync.Mutex
	events []*marshal.Event
}

// Start implements Sink
func (m *MemorySink) Start() error { return nil }

// Stop implements Sink
func (m *MemorySink) Stop() {}

// Submit implements Sink
func (m *MemorySink) Submit(e *marshal.Event) error {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
	return nil
}

// Events returns a copy of the submitted events
func (m *MemorySink) Events() []*marshal.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*marshal.Event(nil), m.events...)
}

// Reset forgets the submitted events
func (m *MemorySink) Reset() {
	m.mu.Lock()
	m.events = nil
	m.mu.Unlock()
}
