// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package connbeat implements the "connbeat" bundle, wiring the socket
// sources, the identity resolver, the correlator, the checks and the sink of
// the agent.
//
// Constructors are lazy: a command only builds the components it asks for.
package connbeat

import (
	"context"
	"fmt"
	"io"
	"net/netip"
	"os"
	"time"

	"go.uber.org/fx"

	"github.com/DataDog/connbeat-agent/pkg/config"
	"github.com/DataDog/connbeat-agent/pkg/forwarder"
	"github.com/DataDog/connbeat-agent/pkg/network"
	"github.com/DataDog/connbeat-agent/pkg/network/encoding/marshal"
	"github.com/DataDog/connbeat-agent/pkg/network/proctcp"
	"github.com/DataDog/connbeat-agent/pkg/network/tcpdiag"
	"github.com/DataDog/connbeat-agent/pkg/process/checks"
	"github.com/DataDog/connbeat-agent/pkg/process/identity"
	"github.com/DataDog/connbeat-agent/pkg/process/procutil"
	"github.com/DataDog/connbeat-agent/pkg/process/runner"
	"github.com/DataDog/connbeat-agent/pkg/telemetry"
	"github.com/DataDog/connbeat-agent/pkg/util/docker"
	"github.com/DataDog/connbeat-agent/pkg/util/log"
	"github.com/DataDog/connbeat-agent/pkg/util/lsof"
)

const dockerInitTimeout = 30 * time.Second

// Params are the command line inputs of the bundle
type Params struct {
	// ConfFilePath is the YAML file loaded on top of the defaults, optional
	ConfFilePath string
	// LogLevel overrides log_level when set
	LogLevel string
	// ConsoleOutput prints events on Stdout whatever output.url says
	ConsoleOutput bool
	// Stdout receives console events, os.Stdout when nil
	Stdout io.Writer
}

// Bundle defines the fx options for this bundle.
func Bundle() fx.Option {
	return fx.Options(
		fx.Provide(
			newConfig,
			newTelemetry,
			newCorrelator,
			newSocketIndex,
			newProcessProbe,
			newContainerInspector,
			newResolver,
			newNamespaceLister,
			newSources,
			newSink,
			newConnectionsCheck,
			newPeersCheck,
			newRunner,
			newTelemetryServer,
		),
	)
}

func newConfig(params Params) (*config.AgentConfig, error) {
	cfg, err := config.Load(params.ConfFilePath)
	if err != nil {
		return nil, err
	}
	if params.LogLevel != "" {
		cfg.LogLevel = params.LogLevel
	}
	if params.ConsoleOutput {
		cfg.Output.URL = ""
	}
	if err := config.SetupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newTelemetry(cfg *config.AgentConfig) telemetry.Component {
	if !cfg.Telemetry.Enabled {
		return telemetry.NewNoopComponent()
	}
	return telemetry.NewComponent()
}

func newCorrelator() *network.Correlator {
	return network.NewCorrelator(network.NewIdentityMap())
}

func newSocketIndex(cfg *config.AgentConfig) *lsof.SocketIndex {
	return lsof.NewSocketIndex(cfg.Connbeat.ProcRoot)
}

// the socket index resolves the default proc root, every other /proc reader
// follows it
func newProcessProbe(cfg *config.AgentConfig, index *lsof.SocketIndex) (*procutil.Probe, error) {
	return procutil.NewProcessProbe(index.ProcRoot(), procutil.NewDefaultDataScrubber(), cfg.Connbeat.ProcessCacheSize)
}

// newContainerInspector returns nil when containers are not attributed:
// docker is disabled or its daemon could not be reached
func newContainerInspector(lc fx.Lifecycle, cfg *config.AgentConfig, correlator *network.Correlator) identity.ContainerInspector {
	if !cfg.Connbeat.EnableDocker {
		return nil
	}

	host := docker.GetDockerHost(cfg.Connbeat.DockerHostIPs)
	for _, ip := range host.IPs {
		if addr, err := netip.ParseAddr(ip); err == nil {
			correlator.RecordHostIP(addr)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), dockerInitTimeout)
	defer cancel()
	du, err := docker.GetDockerUtil(ctx, docker.Config{
		CacheDuration: cfg.Connbeat.DockerCacheDuration,
		EnvWhitelist:  cfg.Connbeat.DockerEnvironment,
		Host:          host,
	})
	if err != nil {
		log.Errorf("container attribution is disabled, sockets are attributed to processes only: %s", err)
		return nil
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return du.Close() },
	})
	return du
}

func newResolver(cfg *config.AgentConfig, index *lsof.SocketIndex, probe *procutil.Probe, containers identity.ContainerInspector) checks.IdentityResolver {
	return identity.NewResolver(index, probe, containers, identity.Options{
		Timeout:         cfg.Connbeat.ResolveTimeout,
		ExposeCmdline:   cfg.Connbeat.ExposeCmdline,
		HideProcessInfo: !cfg.Connbeat.ExposeProcessInfo,
	})
}

// container network namespaces are only walked when containers are attributed
func newNamespaceLister(probe *procutil.Probe, containers identity.ContainerInspector) checks.NamespaceLister {
	if containers == nil {
		return nil
	}
	return identity.NewNamespaceFinder(probe)
}

func newSources(cfg *config.AgentConfig, index *lsof.SocketIndex) []proctcp.Source {
	overrides := proctcp.TablePaths{TCP: cfg.Connbeat.TCPTable, TCP6: cfg.Connbeat.TCP6Table}
	if cfg.Connbeat.EnableTCPDiag {
		return tcpdiag.HostSources(index.ProcRoot(), overrides, nil)
	}
	return proctcp.HostSources(index.ProcRoot(), overrides)
}

func newSink(lc fx.Lifecycle, params Params, cfg *config.AgentConfig, tm telemetry.Component) forwarder.Sink {
	var sink forwarder.Sink
	if cfg.Output.URL == "" {
		out := params.Stdout
		if out == nil {
			out = os.Stdout
		}
		sink = forwarder.NewConsoleSink(out)
	} else {
		opts := forwarder.NewOptions(cfg.Output.URL)
		opts.HealthURL = cfg.Output.HealthURL
		opts.NumberOfWorkers = cfg.Output.Workers
		opts.QueueSize = cfg.Output.QueueSize
		opts.BatchSize = cfg.Output.BatchSize
		opts.Timeout = cfg.Output.Timeout
		opts.Telemetry = tm
		sink = forwarder.NewDefaultForwarder(opts)
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return sink.Start() },
		OnStop: func(context.Context) error {
			sink.Stop()
			return nil
		},
	})
	return sink
}

type connectionsCheckDeps struct {
	fx.In

	Config     *config.AgentConfig
	Index      *lsof.SocketIndex
	Sources    []proctcp.Source
	Resolver   checks.IdentityResolver
	Namespaces checks.NamespaceLister
	Correlator *network.Correlator
	Sink       forwarder.Sink
	Telemetry  telemetry.Component
}

func newConnectionsCheck(deps connectionsCheckDeps) (*checks.ConnectionsCheck, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("unable to read the hostname: %w", err)
	}
	cb := deps.Config.Connbeat
	return checks.NewConnectionsCheck(checks.ConnectionsConfig{
		Hostname:               hostname,
		ProcRoot:               deps.Index.ProcRoot(),
		EmitClosed:             cb.EmitClosed,
		EnableLocalConnections: cb.EnableLocalConnections,
		RepublishInterval:      cb.RepublishInterval,
		Marshal: marshal.Options{
			ExposeProcessInfo: cb.ExposeProcessInfo,
			ExposeCmdline:     cb.ExposeCmdline,
		},
		Namespaces: deps.Namespaces,
		Telemetry:  deps.Telemetry,
	}, deps.Sources, deps.Resolver, deps.Correlator, deps.Sink), nil
}

// newPeersCheck returns nil when no collector shares identities
func newPeersCheck(cfg *config.AgentConfig, correlator *network.Correlator, tm telemetry.Component) *checks.PeersCheck {
	if cfg.Peers.URL == "" {
		return nil
	}
	return checks.NewPeersCheck(cfg.Peers.URL, cfg.Output.Timeout, correlator, tm)
}

type runnerDeps struct {
	fx.In

	Lc          fx.Lifecycle
	Config      *config.AgentConfig
	Telemetry   telemetry.Component
	Connections *checks.ConnectionsCheck
	Peers       *checks.PeersCheck
}

func newRunner(deps runnerDeps) (*runner.CheckRunner, error) {
	cb := deps.Config.Connbeat
	r := runner.NewRunner(nil, cb.ShutdownGracePeriod, deps.Telemetry)
	if err := r.AddCheck(deps.Connections, cb.PollInterval); err != nil {
		return nil, err
	}
	if deps.Peers != nil {
		if err := r.AddCheck(deps.Peers, deps.Config.Peers.SyncInterval); err != nil {
			return nil, err
		}
	}

	deps.Lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Infof("polling the socket tables every %s", cb.PollInterval)
			return r.Start()
		},
		OnStop: func(context.Context) error { return r.Stop() },
	})
	return r, nil
}

// newTelemetryServer returns nil when telemetry is disabled
func newTelemetryServer(lc fx.Lifecycle, cfg *config.AgentConfig, tm telemetry.Component) (*telemetry.Server, error) {
	if !cfg.Telemetry.Enabled {
		return nil, nil
	}
	srv, err := telemetry.NewServer(cfg.Telemetry.Address, tm)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			srv.Start()
			log.Infof("serving telemetry on http://%s/metrics", srv.Addr())
			return nil
		},
		OnStop: srv.Stop,
	})
	return srv, nil
}
