// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package log

import (
	"sync"
	"time"
)

// Limit is a utility that can be used to avoid logging noisily
type Limit struct {
	mu       sync.Mutex
	n        int
	max      int
	interval time.Duration
	reset    time.Time
}

// NewLogLimit creates a Limit where shouldLog will return
// true the first N times it is called, and will return true once every
// interval thereafter.
func NewLogLimit(n int, interval time.Duration) *Limit {
	return &Limit{
		max:      n,
		interval: interval,
	}
}

// ShouldLog returns true if the caller should log
func (l *Limit) ShouldLog() bool {
	return l.shouldLogTime(time.Now())
}

func (l *Limit) shouldLogTime(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.reset.IsZero() {
		l.reset = now.Add(l.interval)
	}
	if now.After(l.reset) {
		l.n = 0
		l.reset = now.Add(l.interval)
	}
	if l.n < l.max {
		l.n++
		return true
	}
	return false
}
