// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package checks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/DataDog/connbeat-agent/pkg/forwarder"
	"github.com/DataDog/connbeat-agent/pkg/network"
	"github.com/DataDog/connbeat-agent/pkg/network/encoding/marshal"
	"github.com/DataDog/connbeat-agent/pkg/network/proctcp"
	"github.com/DataDog/connbeat-agent/pkg/process/identity"
	"github.com/DataDog/connbeat-agent/pkg/telemetry"
	"github.com/DataDog/connbeat-agent/pkg/util/log"
)

const defaultProcRoot = "/proc"

// IdentityResolver attributes a socket inode
type IdentityResolver interface {
	Resolve(ctx context.Context, inode uint64) (network.Identity, error)
}

// NamespaceLister lists the network namespaces of running containers
type NamespaceLister interface {
	ContainerNamespaces(ctx context.Context) ([]identity.ContainerNamespace, error)
}

// ConnectionsConfig tunes the connections check
type ConnectionsConfig struct {
	// Hostname is copied into every event
	Hostname string
	// ProcRoot is where container network namespaces are read from
	ProcRoot string
	// EmitClosed emits an event for sockets gone since the previous poll
	EmitClosed bool
	// EnableLocalConnections emits connections whose both ends are on this host
	EnableLocalConnections bool
	// RepublishInterval emits unchanged sockets again once it elapsed, 0 disables it
	RepublishInterval time.Duration
	Marshal           marshal.Options

	// Namespaces, when set, adds the socket tables of every container
	Namespaces NamespaceLister
	Clock      clock.Clock
	Telemetry  telemetry.Component
}

type connectionsTelemetry struct {
	polls            telemetry.Counter
	failedPolls      telemetry.Counter
	parseWarnings    telemetry.Counter
	resolutionMisses telemetry.Counter
	eventsEmitted    telemetry.Counter
	eventsDropped    telemetry.Counter
	identities       telemetry.Gauge
	sources          telemetry.Gauge
	pollDuration     telemetry.Histogram
}

func newConnectionsTelemetry(c telemetry.Component) connectionsTelemetry {
	return connectionsTelemetry{
		polls:            c.NewCounter("connections", "polls", nil, "Completed polls of the socket tables"),
		failedPolls:      c.NewCounter("connections", "failed_polls", nil, "Polls aborted before emitting"),
		parseWarnings:    c.NewCounter("connections", "parse_warnings", []string{"source"}, "Malformed socket table rows"),
		resolutionMisses: c.NewCounter("connections", "resolution_misses", nil, "Sockets dropped because their owner could not be resolved"),
		eventsEmitted:    c.NewCounter("connections", "events_emitted", []string{"type"}, "Events accepted by the sink"),
		eventsDropped:    c.NewCounter("connections", "events_dropped", nil, "Events the sink refused"),
		identities:       c.NewGauge("connections", "identity_map_entries", nil, "Endpoints in the identity map"),
		sources:          c.NewGauge("connections", "sources", nil, "Socket tables read per poll"),
		pollDuration:     c.NewHistogram("connections", "poll_duration_seconds", nil, "Duration of a poll", []float64{.01, .05, .1, .5, 1, 5}),
	}
}

// trackedSource is the state carried across polls for one socket table
type trackedSource struct {
	family      network.ConnectionFamily
	tracker     *network.Tracker
	lastEmitted map[network.SocketKey]time.Time
}

// sourceResult is the outcome of reading and attributing one table
type sourceResult struct {
	name    string
	state   *trackedSource
	delta   network.Delta
	next    network.Snapshot
	current []network.AttributedSocket
	// skipped tables are left untouched: their sockets are neither opened
	// nor closed this poll
	skipped bool
	// vanished tables are dropped once their sockets are reported closed
	vanished bool
	misses   int
	warnings int
}

// ConnectionsCheck turns socket table snapshots into attributed and
// correlated connection events. Every table has its own tracker, they all
// share the correlator.
type ConnectionsCheck struct {
	cfg        ConnectionsConfig
	sources    []proctcp.Source
	resolver   IdentityResolver
	correlator *network.Correlator
	sink       forwarder.Sink
	telemetry  connectionsTelemetry

	mu      sync.Mutex
	tracked map[string]*trackedSource

	parseWarningLimit *log.Limit
	namespaceLimit    *log.Limit
	readErrorLimit    *log.Limit
	submitErrorLimit  *log.Limit
}

// NewConnectionsCheck returns an instance of the ConnectionsCheck.
func NewConnectionsCheck(cfg ConnectionsConfig, sources []proctcp.Source, resolver IdentityResolver, correlator *network.Correlator, sink forwarder.Sink) *ConnectionsCheck {
	if cfg.ProcRoot == "" {
		cfg.ProcRoot = defaultProcRoot
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.NewNoopComponent()
	}
	return &ConnectionsCheck{
		cfg:               cfg,
		sources:           sources,
		resolver:          resolver,
		correlator:        correlator,
		sink:              sink,
		telemetry:         newConnectionsTelemetry(cfg.Telemetry),
		tracked:           make(map[string]*trackedSource),
		parseWarningLimit: log.NewLogLimit(10, 10*time.Minute),
		namespaceLimit:    log.NewLogLimit(5, 10*time.Minute),
		readErrorLimit:    log.NewLogLimit(10, 10*time.Minute),
		submitErrorLimit:  log.NewLogLimit(10, 10*time.Minute),
	}
}

// Name returns the name of the ConnectionsCheck.
func (c *ConnectionsCheck) Name() string { return ConnectionsCheckName }

// Run polls every socket table once. Either every event of the poll is
// handed to the sink, or none is: a cancelled ctx aborts the poll and leaves
// the trackers as they were.
func (c *ConnectionsCheck) Run(ctx context.Context) (*RunResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := c.cfg.Clock.Now()
	sources, vanished := c.pollSources(ctx)
	c.telemetry.sources.Set(float64(len(sources)))

	for _, src := range sources {
		c.ensureTracked(src)
	}

	results := make([]*sourceResult, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		st := c.tracked[src.Name()]
		g.Go(func() error {
			res, err := c.collect(gctx, src, st, vanished[src.Name()])
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		c.telemetry.failedPolls.Inc()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		c.telemetry.failedPolls.Inc()
		return nil, err
	}

	result := &RunResult{}
	now := c.cfg.Clock.Now()
	events := c.buildEvents(results, now, result)

	// last chance to abort the poll before anything is emitted
	if err := ctx.Err(); err != nil {
		c.telemetry.failedPolls.Inc()
		return nil, err
	}
	c.commit(results, now)

	for _, e := range events {
		if err := c.sink.Submit(e); err != nil {
			result.Dropped++
			c.telemetry.eventsDropped.Inc()
			if c.submitErrorLimit.ShouldLog() {
				log.Warnf("could not submit event: %s", err)
			}
			continue
		}
		result.Submitted++
		c.telemetry.eventsEmitted.Inc(e.Type)
	}

	c.telemetry.polls.Inc()
	c.telemetry.identities.Set(float64(c.correlator.Identities().Len()))
	c.telemetry.pollDuration.Observe(c.cfg.Clock.Since(start).Seconds())
	log.Debugf("polled %d socket tables in %s: %d opened, %d closed, %d refreshed, %d unresolved",
		len(sources), c.cfg.Clock.Since(start), result.Opened, result.Closed, result.Refreshed, result.Misses)
	return result, nil
}

// pollSources lists the tables to read this poll. Tables of containers gone
// since the previous poll are read as empty so that their sockets are
// reported closed.
func (c *ConnectionsCheck) pollSources(ctx context.Context) ([]proctcp.Source, map[string]bool) {
	sources := append([]proctcp.Source(nil), c.sources...)
	vanished := map[string]bool{}

	if c.cfg.Namespaces == nil {
		return sources, vanished
	}
	namespaces, err := c.cfg.Namespaces.ContainerNamespaces(ctx)
	if err != nil {
		if ctx.Err() == nil && c.namespaceLimit.ShouldLog() {
			log.Warnf("could not list container network namespaces: %s", err)
		}
		return sources, vanished
	}
	for _, ns := range namespaces {
		name := "docker/" + network.ShortContainerID(ns.ContainerID)
		sources = append(sources, proctcp.NamespaceSources(c.cfg.ProcRoot, name, ns.Pid)...)
	}

	current := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		current[src.Name()] = struct{}{}
	}
	names := make([]string, 0, len(c.tracked))
	for name := range c.tracked {
		if _, ok := current[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		sources = append(sources, proctcp.NewStaticSource(name, c.tracked[name].family, nil))
		vanished[name] = true
	}
	return sources, vanished
}

// collect reads one table and attributes its sockets. Sockets already known
// with the same inode keep their identity, the others are resolved.
func (c *ConnectionsCheck) collect(ctx context.Context, src proctcp.Source, st *trackedSource, vanished bool) (*sourceResult, error) {
	res := &sourceResult{name: src.Name(), state: st, vanished: vanished}

	table, err := src.Read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if c.readErrorLimit.ShouldLog() {
			log.Warnf("could not read socket table %s: %s", src.Name(), err)
		}
		res.skipped = true
		return res, nil
	}

	if table.Malformed > 0 {
		res.warnings = table.Malformed
		c.telemetry.parseWarnings.Add(float64(table.Malformed), src.Name())
		if c.parseWarningLimit.ShouldLog() && len(table.Errors) > 0 {
			log.Warnf("%s: skipped %d malformed rows, first one: %s", src.Name(), table.Malformed, table.Errors[0])
		}
	}

	socks := make([]network.AttributedSocket, 0, len(table.Records))
	for _, rec := range table.Records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if prev, ok := res.state.tracker.Lookup(network.KeyOf(rec)); ok && prev.Inode == rec.Inode {
			socks = append(socks, network.AttributedSocket{SocketRecord: rec, Identity: prev.Identity})
			continue
		}

		id, err := c.resolver.Resolve(ctx, rec.Inode)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			res.misses++
			c.telemetry.resolutionMisses.Inc()
			log.Tracef("dropping %s for this poll: %s", rec, err)
			continue
		}
		socks = append(socks, network.AttributedSocket{SocketRecord: rec, Identity: id})
	}

	res.delta, res.next = res.state.tracker.Diff(socks)
	res.current = res.next.Sockets()
	return res, nil
}

func (c *ConnectionsCheck) ensureTracked(src proctcp.Source) {
	if _, ok := c.tracked[src.Name()]; !ok {
		c.tracked[src.Name()] = &trackedSource{
			family:      src.Family(),
			tracker:     network.NewTracker(),
			lastEmitted: make(map[network.SocketKey]time.Time),
		}
	}
}

// buildEvents updates the identity map with the poll and assembles the
// events to emit. Nothing is emitted from here.
func (c *ConnectionsCheck) buildEvents(results []*sourceResult, now time.Time, result *RunResult) []*marshal.Event {
	// closed sockets release their endpoints first, current sockets then
	// claim theirs back, last write wins
	for _, r := range results {
		if r.skipped {
			continue
		}
		for _, s := range r.delta.Closed {
			c.correlator.Unregister(s)
		}
	}
	var current []network.AttributedSocket
	for _, r := range results {
		current = append(current, r.current...)
	}
	peers := c.correlator.ResolveLocal(current)
	hostIPs := c.correlator.HostIPs()
	peerOf := make(map[network.SocketKey]*network.Identity, len(current))
	for i, s := range current {
		peerOf[network.KeyOf(s.SocketRecord)] = peers[i]
	}

	var filters []network.ConnectionFilterFunc
	if !c.cfg.EnableLocalConnections {
		filters = append(filters, network.NotLocal(c.correlator.IsLocalAddr))
	}
	keep := func(socks []network.AttributedSocket) []network.AttributedSocket {
		kept := network.FilterConnections(socks, filters...)
		result.Filtered += len(socks) - len(kept)
		return kept
	}

	var events []*marshal.Event
	add := func(t network.EventType, s network.AttributedSocket, peer *network.Identity) {
		e := network.NewConnectionEvent(t, s, peer, c.cfg.Hostname, now)
		e.HostIPs = hostIPs
		events = append(events, marshal.FromConnectionEvent(e, c.cfg.Marshal))
	}

	for _, r := range results {
		result.Misses += r.misses
		result.ParseWarnings += r.warnings
		if r.skipped {
			continue
		}
		for _, s := range keep(r.delta.Opened) {
			add(network.EventOpened, s, peerOf[network.KeyOf(s.SocketRecord)])
			result.Opened++
		}
		if c.cfg.RepublishInterval > 0 {
			var due []network.AttributedSocket
			for _, s := range r.delta.Unchanged {
				last, ok := r.state.lastEmitted[network.KeyOf(s.SocketRecord)]
				if !ok || now.Sub(last) >= c.cfg.RepublishInterval {
					due = append(due, s)
				}
			}
			for _, s := range keep(due) {
				add(network.EventRefreshed, s, peerOf[network.KeyOf(s.SocketRecord)])
				result.Refreshed++
			}
		}
		if c.cfg.EmitClosed {
			for _, s := range keep(r.delta.Closed) {
				add(network.EventClosed, s, c.correlator.Correlate(s.SocketRecord))
				result.Closed++
			}
		}
	}
	return events
}

// commit makes the poll the reference for the next one
func (c *ConnectionsCheck) commit(results []*sourceResult, now time.Time) {
	for _, r := range results {
		if r.skipped {
			continue
		}
		if r.vanished {
			delete(c.tracked, r.name)
			continue
		}
		r.state.tracker.Commit(r.next)

		st := r.state
		for _, s := range r.delta.Closed {
			delete(st.lastEmitted, network.KeyOf(s.SocketRecord))
		}
		for _, s := range r.delta.Opened {
			st.lastEmitted[network.KeyOf(s.SocketRecord)] = now
		}
		if c.cfg.RepublishInterval > 0 {
			for _, s := range r.delta.Unchanged {
				k := network.KeyOf(s.SocketRecord)
				if last, ok := st.lastEmitted[k]; !ok || now.Sub(last) >= c.cfg.RepublishInterval {
					st.lastEmitted[k] = now
				}
			}
		}
	}
}

var _ Check = (*ConnectionsCheck)(nil)
