// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package runner schedules checks on their interval and stops them within
// a bounded grace period.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"

	"github.com/DataDog/connbeat-agent/pkg/process/checks"
	"github.com/DataDog/connbeat-agent/pkg/telemetry"
	"github.com/DataDog/connbeat-agent/pkg/util/log"
)

// DefaultGracePeriod is used when no grace period is configured
const DefaultGracePeriod = 5 * time.Second

// ErrGracePeriodExpired is returned by Stop when a check had to be cancelled
var ErrGracePeriodExpired = errors.New("check runner: grace period expired, in-flight runs were cancelled")

type scheduledCheck struct {
	check    checks.Check
	interval time.Duration
}

// CheckRunner runs every registered check in its own goroutine with an
// independent ticker. A check never overlaps with itself: ticks firing
// while a run is in progress are dropped.
type CheckRunner struct {
	clock       clock.Clock
	gracePeriod time.Duration

	mu     sync.Mutex
	checks []scheduledCheck

	running *atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	stop    chan struct{}
	wg      sync.WaitGroup

	runs     telemetry.Counter
	failures telemetry.Counter
	duration telemetry.Histogram

	// OnResult, when set, is called after every successful run
	OnResult func(name string, res *checks.RunResult)
}

// NewRunner returns a stopped runner
func NewRunner(clk clock.Clock, gracePeriod time.Duration, tm telemetry.Component) *CheckRunner {
	if clk == nil {
		clk = clock.New()
	}
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}
	if tm == nil {
		tm = telemetry.NewNoopComponent()
	}
	return &CheckRunner{
		clock:       clk,
		gracePeriod: gracePeriod,
		running:     atomic.NewBool(false),
		runs:        tm.NewCounter("runner", "check_runs", []string{"check"}, "Completed check runs"),
		failures:    tm.NewCounter("runner", "check_failures", []string{"check"}, "Check runs that returned an error"),
		duration: tm.NewHistogram("runner", "check_duration_seconds", []string{"check"}, "Duration of check runs",
			[]float64{.01, .05, .1, .25, .5, 1, 2.5, 5}),
	}
}

// AddCheck schedules c every interval. Checks must be added before Start.
func (r *CheckRunner) AddCheck(c checks.Check, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval %s for check %s", interval, c.Name())
	}
	if r.running.Load() {
		return fmt.Errorf("cannot add check %s to a running runner", c.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sc := range r.checks {
		if sc.check.Name() == c.Name() {
			return fmt.Errorf("check %s is already scheduled", c.Name())
		}
	}
	r.checks = append(r.checks, scheduledCheck{check: c, interval: interval})
	return nil
}

// Start launches the checks. Each check runs once immediately.
func (r *CheckRunner) Start() error {
	if !r.running.CompareAndSwap(false, true) {
		return errors.New("check runner already started")
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.stop = make(chan struct{})

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sc := range r.checks {
		r.wg.Add(1)
		go r.loop(sc)
		log.Infof("scheduled check %s every %s", sc.check.Name(), sc.interval)
	}
	return nil
}

// Stop signals every check to stop and waits for in-flight runs. Runs still
// going after the grace period get their context cancelled, which discards
// their results.
func (r *CheckRunner) Stop() error {
	if !r.running.CompareAndSwap(true, false) {
		return nil
	}
	close(r.stop)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-r.clock.After(r.gracePeriod):
		log.Warnf("checks still running after %s, cancelling them", r.gracePeriod)
		r.cancel()
		<-done
		err = ErrGracePeriodExpired
	}
	r.cancel()
	return err
}

func (r *CheckRunner) loop(sc scheduledCheck) {
	defer r.wg.Done()

	ticker := r.clock.Ticker(sc.interval)
	defer ticker.Stop()

	r.runOnce(sc.check)
	for {
		select {
		case <-ticker.C:
			select {
			case <-r.stop:
				return
			default:
			}
			r.runOnce(sc.check)
		case <-r.stop:
			return
		}
	}
}

func (r *CheckRunner) runOnce(c checks.Check) {
	name := c.Name()
	start := r.clock.Now()
	res, err := c.Run(r.ctx)
	r.duration.Observe(r.clock.Since(start).Seconds(), name)

	if err != nil {
		r.failures.Inc(name)
		if errors.Is(err, context.Canceled) {
			log.Debugf("check %s was cancelled", name)
			return
		}
		log.Errorf("error running check %s: %s", name, err)
		return
	}
	r.runs.Inc(name)
	if r.OnResult != nil && res != nil {
		r.OnResult(name, res)
	}
}
