// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package docker

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/patrickmn/go-cache"
	"github.com/samber/lo"

	"github.com/DataDog/connbeat-agent/pkg/network"
	"github.com/DataDog/connbeat-agent/pkg/util/log"
)

// DefaultCacheDuration is how long an inspect result is reused
const DefaultCacheDuration = 10 * time.Second

// Client is the subset of the docker API client used to attribute sockets
type Client interface {
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	Ping(ctx context.Context) (types.Ping, error)
	Close() error
}

// Config is used when initializing the DockerUtil
type Config struct {
	// CacheDuration is the amount of time inspect results are cached
	CacheDuration time.Duration
	// EnvWhitelist are the environment variable names exposed in metadata,
	// nothing is exposed when empty
	EnvWhitelist []string
	// Host describes the machine running the daemon
	Host network.DockerHost
}

// Container is the attribution of a running container
type Container struct {
	Metadata *network.ContainerMetadata
	// LocalIPs are the addresses of the container on every network it is attached to
	LocalIPs []netip.Addr
}

// DockerUtil wraps interactions with the docker daemon
type DockerUtil struct {
	cli   Client
	cfg   Config
	cache *cache.Cache
}

// NewDockerUtil returns a DockerUtil using cli
func NewDockerUtil(cli Client, cfg Config) *DockerUtil {
	if cfg.CacheDuration <= 0 {
		cfg.CacheDuration = DefaultCacheDuration
	}
	return &DockerUtil{
		cli:   cli,
		cfg:   cfg,
		cache: cache.New(cfg.CacheDuration, 2*cfg.CacheDuration),
	}
}

// newClient connects to the daemon described by the DOCKER_* environment
func newClient() (*client.Client, error) {
	return client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
}

// Inspect returns the attribution of a container. Results are cached for
// CacheDuration.
func (d *DockerUtil) Inspect(ctx context.Context, id string) (*Container, error) {
	if cached, ok := d.cache.Get(id); ok {
		return cached.(*Container), nil
	}

	co, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, fmt.Errorf("%s: %w", network.ShortContainerID(id), ErrContainerNotFound)
		}
		return nil, fmt.Errorf("inspecting %s: %w", network.ShortContainerID(id), err)
	}

	c := d.fromInspect(co)
	d.cache.Set(id, c, cache.DefaultExpiration)
	return c, nil
}

// Invalidate drops the cached inspect result of a container
func (d *DockerUtil) Invalidate(id string) {
	d.cache.Delete(id)
}

// Close closes the daemon connection
func (d *DockerUtil) Close() error {
	return d.cli.Close()
}

func (d *DockerUtil) fromInspect(co types.ContainerJSON) *Container {
	meta := &network.ContainerMetadata{
		DockerHost: d.cfg.Host,
	}
	if co.ContainerJSONBase != nil {
		meta.ID = co.ID
		meta.Name = strings.TrimPrefix(co.Name, "/")
		if co.State != nil {
			meta.InitPID = co.State.Pid
		}
		if co.HostConfig != nil {
			meta.NetworkMode = string(co.HostConfig.NetworkMode)
		}
	}
	if co.Config != nil {
		meta.Image = co.Config.Image
		meta.Labels = co.Config.Labels
		meta.Env = filterEnv(co.Config.Env, d.cfg.EnvWhitelist)
	}

	c := &Container{Metadata: meta}
	if co.NetworkSettings == nil {
		return c
	}

	// networks are sorted by name so the IP order is stable across polls
	names := lo.Keys(co.NetworkSettings.Networks)
	sort.Strings(names)
	for _, name := range names {
		ep := co.NetworkSettings.Networks[name]
		if ep == nil {
			continue
		}
		for _, raw := range []string{ep.IPAddress, ep.GlobalIPv6Address} {
			if ip, err := netip.ParseAddr(raw); err == nil {
				c.LocalIPs = append(c.LocalIPs, ip)
			}
		}
	}
	c.LocalIPs = lo.Uniq(c.LocalIPs)
	meta.LocalIPs = lo.Map(c.LocalIPs, func(ip netip.Addr, _ int) string { return ip.String() })

	if len(co.NetworkSettings.Ports) > 0 {
		meta.Ports = make(map[string][]network.PortBinding, len(co.NetworkSettings.Ports))
		for port, bindings := range co.NetworkSettings.Ports {
			meta.Ports[string(port)] = lo.Map(bindings, func(b nat.PortBinding, _ int) network.PortBinding {
				return network.PortBinding{HostIP: b.HostIP, HostPort: b.HostPort}
			})
		}
	}

	log.Tracef("container %s (%s) has local IPs %v", meta.Name, network.ShortContainerID(meta.ID), meta.LocalIPs)
	return c
}

// filterEnv keeps the KEY=value pairs whose key is whitelisted
func filterEnv(env []string, whitelist []string) []string {
	if len(whitelist) == 0 {
		return nil
	}
	return lo.Filter(env, func(kv string, _ int) bool {
		key, _, _ := strings.Cut(kv, "=")
		return lo.Contains(whitelist, key)
	})
}
