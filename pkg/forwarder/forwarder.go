// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2017 Datadog, Inc.

package forwarder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"

	"github.com/DataDog/connbeat-agent/pkg/network/encoding/marshal"
	"github.com/DataDog/connbeat-agent/pkg/telemetry"
	"github.com/DataDog/connbeat-agent/pkg/util/log"
	"github.com/DataDog/connbeat-agent/pkg/version"
)

const (
	defaultNumberOfWorkers = 2
	defaultQueueSize       = 1024
	defaultBatchSize       = 100
	defaultTimeout         = 5 * time.Second
	defaultRetryQueueLimit = 64
	defaultFlushInterval   = 5 * time.Second

	useragentHTTPHeaderKey = "User-Agent"
)

const (
	// Stopped represent the internal state of an unstarted Forwarder.
	Stopped uint32 = iota
	// Started represent the internal state of an started Forwarder.
	Started
)

// Options configures a DefaultForwarder
type Options struct {
	// URL receives the events with POST requests
	URL string
	// NumberOfWorkers is the number of concurrent requests
	NumberOfWorkers int
	// QueueSize bounds the events waiting for a worker, extra events are dropped
	QueueSize int
	// BatchSize is the maximum number of events per request
	BatchSize int
	// Timeout bounds one request, and the time Stop waits for the queue to drain
	Timeout time.Duration
	// RetryQueueLimit bounds the failed batches kept for a retry
	RetryQueueLimit int
	// FlushInterval is how often failed batches are retried
	FlushInterval time.Duration
	// HealthURL is polled to report the health of the destination, disabled when empty
	HealthURL string

	Marshaler marshal.Marshaler
	Clock     clock.Clock
	Telemetry telemetry.Component
}

// NewOptions returns the default options for url
func NewOptions(url string) Options {
	return Options{
		URL:             url,
		NumberOfWorkers: defaultNumberOfWorkers,
		QueueSize:       defaultQueueSize,
		BatchSize:       defaultBatchSize,
		Timeout:         defaultTimeout,
		RetryQueueLimit: defaultRetryQueueLimit,
		FlushInterval:   defaultFlushInterval,
	}
}

func (o *Options) setDefaults() {
	if o.NumberOfWorkers <= 0 {
		o.NumberOfWorkers = defaultNumberOfWorkers
	}
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.RetryQueueLimit <= 0 {
		o.RetryQueueLimit = defaultRetryQueueLimit
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = defaultFlushInterval
	}
	if o.Marshaler == nil {
		o.Marshaler = marshal.GetMarshaler(marshal.ContentTypeJSON)
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Telemetry == nil {
		o.Telemetry = telemetry.NewNoopComponent()
	}
}

// transaction is one batch of events and its delivery attempts
type transaction struct {
	payload   []byte
	count     int
	createdAt time.Time
	nextFlush time.Time
	attempts  int
}

type forwarderTelemetry struct {
	submitted      telemetry.Counter
	dropped        telemetry.Counter
	sent           telemetry.Counter
	failedRequests telemetry.Counter
	retryQueueSize telemetry.Gauge
}

func newForwarderTelemetry(c telemetry.Component) forwarderTelemetry {
	return forwarderTelemetry{
		submitted:      c.NewCounter("forwarder", "events_submitted", nil, "Events accepted by the forwarder"),
		dropped:        c.NewCounter("forwarder", "events_dropped", []string{"reason"}, "Events the forwarder gave up on"),
		sent:           c.NewCounter("forwarder", "events_sent", nil, "Events delivered"),
		failedRequests: c.NewCounter("forwarder", "failed_requests", nil, "Requests that failed and were requeued"),
		retryQueueSize: c.NewGauge("forwarder", "retry_queue_size", nil, "Batches waiting for a retry"),
	}
}

// DefaultForwarder is in charge of receiving events and sending them in
// batches over HTTP. Failed batches are retried with a backoff per endpoint.
type DefaultForwarder struct {
	opts      Options
	client    *http.Client
	telemetry forwarderTelemetry
	health    *forwarderHealth

	waitingPipe         chan *marshal.Event
	retryPipe           chan *transaction
	requeuedTransaction chan *transaction
	stopRetry           chan struct{}
	retryDone           chan struct{}
	retryQueue          []*transaction
	blocked             *blockedEndpoints

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	internalState *atomic.Uint32
	m             sync.RWMutex // To control Start/Stop/Submit races
}

// NewDefaultForwarder returns a new DefaultForwarder.
func NewDefaultForwarder(opts Options) *DefaultForwarder {
	opts.setDefaults()
	f := &DefaultForwarder{
		opts:          opts,
		client:        &http.Client{Timeout: opts.Timeout},
		telemetry:     newForwarderTelemetry(opts.Telemetry),
		internalState: atomic.NewUint32(Stopped),
	}
	if opts.HealthURL != "" {
		f.health = newForwarderHealth(opts.HealthURL, f.client, opts.Clock, opts.Telemetry)
	}
	return f
}

func (f *DefaultForwarder) init() {
	f.waitingPipe = make(chan *marshal.Event, f.opts.QueueSize)
	f.retryPipe = make(chan *transaction, f.opts.RetryQueueLimit)
	f.requeuedTransaction = make(chan *transaction, f.opts.RetryQueueLimit)
	f.stopRetry = make(chan struct{})
	f.retryDone = make(chan struct{})
	f.retryQueue = []*transaction{}
	f.blocked = newBlockedEndpoints(f.opts.Clock)
	f.ctx, f.cancel = context.WithCancel(context.Background())
}

// Start starts a DefaultForwarder.
func (f *DefaultForwarder) Start() error {
	// Lock so we can't stop a DefaultForwarder while is starting
	f.m.Lock()
	defer f.m.Unlock()

	if f.internalState.Load() == Started {
		return fmt.Errorf("the forwarder is already started")
	}

	// reset internal state to purge transactions from past starts
	f.init()

	for i := 0; i < f.opts.NumberOfWorkers; i++ {
		f.wg.Add(1)
		go f.worker()
	}
	go f.handleFailedTransactions()
	if f.health != nil {
		f.health.Start()
	}
	f.internalState.Store(Started)
	log.Infof("DefaultForwarder started (%v workers), sending to %s", f.opts.NumberOfWorkers, f.opts.URL)
	return nil
}

// State returns the internal state of the DefaultForwarder (either Started or Stopped).
func (f *DefaultForwarder) State() uint32 {
	return f.internalState.Load()
}

// Healthy returns false when the destination health endpoint failed its
// last check. It is always true without a health endpoint.
func (f *DefaultForwarder) Healthy() bool {
	if f.health == nil {
		return true
	}
	return f.health.Healthy()
}

// Stop stops a DefaultForwarder. Queued events get up to Timeout to be
// delivered, anything left after that is lost.
func (f *DefaultForwarder) Stop() {
	// Lock so we can't start a DefaultForwarder while is stopping
	f.m.Lock()
	defer f.m.Unlock()

	if f.internalState.Load() == Stopped {
		log.Errorf("the forwarder is already stopped")
		return
	}
	f.internalState.Store(Stopped)

	close(f.stopRetry)
	<-f.retryDone
	close(f.waitingPipe)

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-f.opts.Clock.After(f.opts.Timeout):
		log.Warnf("forwarder queue not drained after %s, dropping the remaining events", f.opts.Timeout)
		f.cancel()
		<-done
	}
	f.cancel()

	if f.health != nil {
		f.health.Stop()
	}
	f.retryQueue = []*transaction{}
	log.Info("DefaultForwarder stopped")
}

// Submit queues an event. It never blocks: when the queue is full the event
// is dropped and ErrQueueFull returned.
func (f *DefaultForwarder) Submit(e *marshal.Event) error {
	f.m.RLock()
	defer f.m.RUnlock()

	if f.internalState.Load() == Stopped {
		return ErrNotStarted
	}

	select {
	case f.waitingPipe <- e:
		f.telemetry.submitted.Inc()
		return nil
	default:
		f.telemetry.dropped.Inc("queue_full")
		return ErrQueueFull
	}
}

func (f *DefaultForwarder) worker() {
	defer f.wg.Done()

	for {
		select {
		case e, ok := <-f.waitingPipe:
			if !ok {
				return
			}
			f.process(f.newTransaction(f.collectBatch(e)))
		case t := <-f.retryPipe:
			f.process(t)
		}
	}
}

// collectBatch completes a batch with the events already waiting
func (f *DefaultForwarder) collectBatch(first *marshal.Event) []*marshal.Event {
	batch := []*marshal.Event{first}
	for len(batch) < f.opts.BatchSize {
		select {
		case e, ok := <-f.waitingPipe:
			if !ok {
				return batch
			}
			batch = append(batch, e)
		default:
			return batch
		}
	}
	return batch
}

func (f *DefaultForwarder) newTransaction(events []*marshal.Event) *transaction {
	var buf bytes.Buffer
	if err := f.opts.Marshaler.Marshal(events, &buf); err != nil {
		log.Errorf("could not encode %d events: %s", len(events), err)
		f.telemetry.dropped.Add(float64(len(events)), "encoding")
		return nil
	}
	now := f.opts.Clock.Now()
	return &transaction{payload: buf.Bytes(), count: len(events), createdAt: now, nextFlush: now}
}

func (f *DefaultForwarder) process(t *transaction) {
	if t == nil {
		return
	}
	if f.blocked.isBlock(f.opts.URL) {
		f.requeue(t)
		return
	}

	t.attempts++
	if err := f.send(t); err != nil {
		f.blocked.block(f.opts.URL)
		f.telemetry.failedRequests.Inc()
		log.Debugf("error sending %d events to %s (attempt %d): %s", t.count, f.opts.URL, t.attempts, err)
		f.requeue(t)
		return
	}
	f.blocked.unblock(f.opts.URL)
	f.telemetry.sent.Add(float64(t.count))
}

func (f *DefaultForwarder) send(t *transaction) error {
	req, err := http.NewRequestWithContext(f.ctx, http.MethodPost, f.opts.URL, bytes.NewReader(t.payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", f.opts.Marshaler.ContentType())
	req.Header.Set(useragentHTTPHeaderKey, fmt.Sprintf("connbeat-agent/%s", version.AgentVersion))

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}
	return nil
}

func (f *DefaultForwarder) requeue(t *transaction) {
	if f.ctx.Err() != nil {
		f.telemetry.dropped.Add(float64(t.count), "shutdown")
		return
	}
	t.nextFlush = f.opts.Clock.Now().Add(GetBackoffDuration(t.attempts))
	select {
	case f.requeuedTransaction <- t:
	default:
		f.telemetry.dropped.Add(float64(t.count), "retry_queue_full")
	}
}

type byCreatedTime []*transaction

func (v byCreatedTime) Len() int           { return len(v) }
func (v byCreatedTime) Swap(i, j int)      { v[i], v[j] = v[j], v[i] }
func (v byCreatedTime) Less(i, j int) bool { return v[i].createdAt.After(v[j].createdAt) }

// retryTransactions hands due transactions back to the workers, newest first,
// and drops the oldest ones above the retry queue limit
func (f *DefaultForwarder) retryTransactions(tickTime time.Time) {
	newQueue := []*transaction{}
	dropped := 0

	sort.Sort(byCreatedTime(f.retryQueue))

	for _, t := range f.retryQueue {
		if !t.nextFlush.After(tickTime) {
			select {
			case f.retryPipe <- t:
				continue
			default:
			}
		}
		if len(newQueue) < f.opts.RetryQueueLimit {
			newQueue = append(newQueue, t)
		} else {
			f.telemetry.dropped.Add(float64(t.count), "retry_queue_full")
			dropped++
		}
	}
	f.retryQueue = newQueue
	f.telemetry.retryQueueSize.Set(float64(len(f.retryQueue)))
	if dropped != 0 {
		log.Warnf("forwarder retry queue size exceed limit (%d): dropped %d transactions (the oldest ones)", f.opts.RetryQueueLimit, dropped)
	}
}

func (f *DefaultForwarder) handleFailedTransactions() {
	defer close(f.retryDone)

	ticker := f.opts.Clock.Ticker(f.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case tickTime := <-ticker.C:
			f.retryTransactions(tickTime)
		case t := <-f.requeuedTransaction:
			f.retryQueue = append(f.retryQueue, t)
			f.telemetry.retryQueueSize.Set(float64(len(f.retryQueue)))
		case <-f.stopRetry:
			return
		}
	}
}

var _ Sink = (*DefaultForwarder)(nil)
