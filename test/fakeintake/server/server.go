// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package server implements a fake connbeat collector, meant to be used with integration tests.
// It accepts connection events on POST / and correlates both ends of the connections it hears about.
// It implements these testing endpoints:
//   - /identities returns every endpoint registration, the payload agents pull to federate identities
//   - /collector/correlations returns the correlations found so far
//   - /collector/stats returns counts of received posts, events, warnings and correlations
//   - /collector/health returns current collector health
//   - /collector/flush clears identities and correlations
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/mux"
	"go.uber.org/atomic"

	"github.com/DataDog/connbeat-agent/pkg/network"
	"github.com/DataDog/connbeat-agent/pkg/network/encoding/marshal"
	"github.com/DataDog/connbeat-agent/pkg/telemetry"
	"github.com/DataDog/connbeat-agent/pkg/util/log"
	"github.com/DataDog/connbeat-agent/test/fakeintake/api"
)

const maxBodySize = 16 << 20

type collectorTelemetry struct {
	posts        telemetry.Counter
	events       telemetry.Counter
	warnings     telemetry.Counter
	correlations telemetry.Counter
}

func newCollectorTelemetry(tm telemetry.Component) collectorTelemetry {
	return collectorTelemetry{
		posts:        tm.NewCounter("collector", "posts", nil, "Requests received on the event route"),
		events:       tm.NewCounter("collector", "events", nil, "Events received"),
		warnings:     tm.NewCounter("collector", "warnings", nil, "Payloads or events that could not be used"),
		correlations: tm.NewCounter("collector", "correlations", nil, "Connections whose both ends were attributed"),
	}
}

// Server is a fake collector
type Server struct {
	mu     sync.RWMutex
	server http.Server
	ready  chan bool
	clock  clock.Clock
	tm     telemetry.Component

	url *atomic.String

	identities   *network.IdentityMap
	correlations []api.Correlation
	telemetry    collectorTelemetry
}

// NewServer creates a new fake collector.
// options accept WithPort, WithReadyChannel, WithClock and WithTelemetry.
// Call Server.Start() to start the server in a separate go-routine
// If the port is 0, a port number is automatically chosen
func NewServer(options ...func(*Server)) *Server {
	fi := &Server{
		clock:      clock.New(),
		url:        atomic.NewString(""),
		identities: network.NewIdentityMap(),
	}
	fi.server = http.Server{
		Handler: fi.router(),
		Addr:    ":0",
	}

	for _, opt := range options {
		opt(fi)
	}
	if fi.tm == nil {
		fi.tm = telemetry.NewNoopComponent()
	}
	fi.telemetry = newCollectorTelemetry(fi.tm)

	return fi
}

// WithPort changes the server port.
// If the port is 0, a port number is automatically chosen
func WithPort(port int) func(*Server) {
	return func(fi *Server) {
		if fi.URL() != "" {
			log.Warn("Fake collector is already running. Stop it and try again to change the port.")
			return
		}
		fi.server.Addr = fmt.Sprintf(":%d", port)
	}
}

// WithReadyChannel assign a boolean channel to get notified when the server is ready.
func WithReadyChannel(ready chan bool) func(*Server) {
	return func(fi *Server) {
		fi.ready = ready
	}
}

// WithClock changes the clock used to timestamp correlations
func WithClock(clock clock.Clock) func(*Server) {
	return func(fi *Server) {
		fi.clock = clock
	}
}

// WithTelemetry registers the collector counters on tm
func WithTelemetry(tm telemetry.Component) func(*Server) {
	return func(fi *Server) {
		fi.tm = tm
	}
}

func (fi *Server) router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", fi.handleEvents).Methods(http.MethodPost)
	r.HandleFunc("/", fi.handleFakeHealth).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/identities", fi.handleGetIdentities).Methods(http.MethodGet)
	r.HandleFunc("/collector/correlations", fi.handleGetCorrelations).Methods(http.MethodGet)
	r.HandleFunc("/collector/stats", fi.handleGetStats).Methods(http.MethodGet)
	r.HandleFunc("/collector/health", fi.handleFakeHealth).Methods(http.MethodGet)
	r.HandleFunc("/collector/flush", fi.handleFlush).Methods(http.MethodPost)
	return r
}

// Handler returns the routes of the collector, to be served by a test server
func (fi *Server) Handler() http.Handler {
	return fi.server.Handler
}

// Start starts the fake collector in a separate go-routine
// Notifies when ready to the ready channel
func (fi *Server) Start() {
	if fi.URL() != "" {
		log.Infof("Fake collector already running at %s", fi.URL())
		if fi.ready != nil {
			fi.ready <- true
		}
		return
	}
	go func() {
		// explicitly creating a listener to get the actual port
		// as http.Server.ListenAndServe hides this information
		listener, err := net.Listen("tcp", fi.server.Addr)
		if err != nil {
			log.Errorf("Error creating fake collector at %s: %v", fi.server.Addr, err)
			if fi.ready != nil {
				fi.ready <- false
			}
			return
		}
		fi.url.Store("http://" + listener.Addr().String())
		if fi.ready != nil {
			fi.ready <- true
		}
		err = fi.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Error serving fake collector at %s: %v", listener.Addr().String(), err)
		}
	}()
}

// URL returns the address the collector listens on, empty when stopped
func (fi *Server) URL() string {
	return fi.url.Load()
}

// Stop gracefully stops the http server
func (fi *Server) Stop() error {
	if fi.URL() == "" {
		return fmt.Errorf("server not running")
	}
	if err := fi.server.Shutdown(context.Background()); err != nil {
		return err
	}
	fi.url.Store("")
	return nil
}

func (fi *Server) handleEvents(w http.ResponseWriter, req *http.Request) {
	fi.telemetry.posts.Inc()

	body, err := io.ReadAll(io.LimitReader(req.Body, maxBodySize))
	if err != nil {
		fi.telemetry.warnings.Inc()
		writeHTTPResponse(w, buildErrorResponse(http.StatusBadRequest, err))
		return
	}
	events, err := marshal.Unmarshal(body)
	if err != nil {
		fi.telemetry.warnings.Inc()
		log.Warnf("dropping payload from %s: %s", req.RemoteAddr, err)
		writeHTTPResponse(w, buildErrorResponse(http.StatusBadRequest, err))
		return
	}

	fi.telemetry.events.Add(float64(len(events)))
	for _, e := range events {
		if err := fi.ingest(e); err != nil {
			fi.telemetry.warnings.Inc()
			log.Warnf("skipping event: %s", err)
		}
	}
	writeHTTPResponse(w, httpResponse{statusCode: http.StatusOK})
}

// ingest registers the local endpoints of e and looks its remote endpoint up
func (fi *Server) ingest(e *marshal.Event) error {
	local, err := netip.ParseAddr(e.LocalIP)
	if err != nil {
		return fmt.Errorf("invalid local_ip %q: %w", e.LocalIP, err)
	}
	we := marshal.IdentityPayload{
		ContainerID:       e.ContainerID,
		ContainerLocalIPs: e.ContainerLocalIPs,
		Process:           e.Process,
	}.ToIdentity()
	if we.Key() == "" {
		return fmt.Errorf("event on %s:%d has no identity", e.LocalIP, e.LocalPort)
	}

	localKey := network.NewEndpointKey(local, e.LocalPort)
	if network.IsWildcard(local) {
		localKey = network.WildcardKey(e.LocalPort)
	}
	keys := []network.EndpointKey{localKey}
	// a bare process bound to a wildcard address is reachable on every
	// address of its host
	if network.IsWildcard(local) && !we.IsContainer() {
		for _, raw := range e.HostLocalIPs {
			ip, err := netip.ParseAddr(raw)
			if err != nil {
				return fmt.Errorf("invalid host_local_ips entry %q: %w", raw, err)
			}
			keys = append(keys, network.NewEndpointKey(ip, e.LocalPort))
		}
	}
	for _, ip := range we.ContainerLocalIPs {
		keys = append(keys, network.NewEndpointKey(ip, e.LocalPort))
	}

	if e.Type == network.EventClosed.String() {
		for _, k := range keys {
			fi.identities.Unregister(k, we)
		}
		return nil
	}
	for _, k := range keys {
		fi.identities.Register(k, we)
	}

	if e.RemoteIP == nil || e.RemotePort == nil {
		return nil
	}
	remoteIP, err := netip.ParseAddr(*e.RemoteIP)
	if err != nil {
		return fmt.Errorf("invalid remote_ip %q: %w", *e.RemoteIP, err)
	}
	remote := network.NewEndpointKey(remoteIP, *e.RemotePort)
	peer, ok := fi.identities.Lookup(remote)
	if !ok {
		return nil
	}

	c := api.Correlation{
		Timestamp:      fi.clock.Now().UTC(),
		Hostname:       e.Hostname,
		Local:          localKey.String(),
		LocalIdentity:  we.Key(),
		Remote:         remote.String(),
		RemoteIdentity: peer.Key(),
	}
	log.Info(c.String())

	fi.mu.Lock()
	fi.correlations = append(fi.correlations, c)
	fi.mu.Unlock()
	fi.telemetry.correlations.Inc()
	return nil
}

func (fi *Server) handleGetIdentities(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", marshal.ContentTypeJSON)
	if err := marshal.MarshalIdentities(fi.identities.Snapshot(), w); err != nil {
		log.Errorf("encoding identities: %s", err)
	}
}

func (fi *Server) handleGetCorrelations(w http.ResponseWriter, _ *http.Request) {
	writeHTTPResponse(w, buildJSONResponse(api.APIFakeIntakeCorrelationsGETResponse{
		Correlations: fi.safeGetCorrelations(),
	}))
}

func (fi *Server) handleGetStats(w http.ResponseWriter, _ *http.Request) {
	writeHTTPResponse(w, buildJSONResponse(fi.Stats()))
}

func (fi *Server) handleFakeHealth(w http.ResponseWriter, _ *http.Request) {
	writeHTTPResponse(w, httpResponse{statusCode: http.StatusOK})
}

func (fi *Server) handleFlush(w http.ResponseWriter, _ *http.Request) {
	fi.mu.Lock()
	fi.correlations = nil
	fi.mu.Unlock()
	fi.identities.Reset()
	writeHTTPResponse(w, httpResponse{statusCode: http.StatusOK})
}

func (fi *Server) safeGetCorrelations() []api.Correlation {
	fi.mu.RLock()
	defer fi.mu.RUnlock()
	out := make([]api.Correlation, 0, len(fi.correlations))
	return append(out, fi.correlations...)
}

// Stats returns the collector counters
func (fi *Server) Stats() api.Stats {
	return api.Stats{
		Posts:        int(fi.telemetry.posts.Get()),
		Events:       int(fi.telemetry.events.Get()),
		Warnings:     int(fi.telemetry.warnings.Get()),
		Correlations: int(fi.telemetry.correlations.Get()),
		Identities:   fi.identities.Len(),
	}
}
