// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package identity attributes sockets to the process, and the container,
// owning them
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/procfs"

	"github.com/DataDog/connbeat-agent/pkg/network"
	"github.com/DataDog/connbeat-agent/pkg/process/procutil"
	"github.com/DataDog/connbeat-agent/pkg/util/docker"
	"github.com/DataDog/connbeat-agent/pkg/util/log"
)

// DefaultTimeout bounds one resolution attempt
const DefaultTimeout = 500 * time.Millisecond

// ErrNotFound means the socket could not be attributed during this poll,
// because its process exited, the lookup timed out, or nothing holds it
var ErrNotFound = errors.New("identity not found")

// SocketLocator finds the process holding a socket
type SocketLocator interface {
	PidOf(ctx context.Context, inode uint64) (int, error)
}

// ProcessReader reads process metadata
type ProcessReader interface {
	Process(pid int) (*procutil.Process, error)
	Cgroups(pid int) ([]procfs.Cgroup, error)
}

// ContainerInspector returns the attribution of a container
type ContainerInspector interface {
	Inspect(ctx context.Context, id string) (*docker.Container, error)
}

// Options tunes a Resolver
type Options struct {
	// Timeout bounds one Resolve call, DefaultTimeout when zero
	Timeout time.Duration
	// ExposeCmdline copies the process cmdline into identities
	ExposeCmdline bool
	// HideProcessInfo names bare processes after the socket inode, their
	// pid and cmdline are never read into identities
	HideProcessInfo bool
}

// Resolver resolves socket inodes to identities
type Resolver struct {
	sockets    SocketLocator
	processes  ProcessReader
	containers ContainerInspector
	opts       Options

	inspectErrors *log.Limit
}

// NewResolver returns a Resolver. A nil containers disables container
// attribution, every identity is then a bare process.
func NewResolver(sockets SocketLocator, processes ProcessReader, containers ContainerInspector, opts Options) *Resolver {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Resolver{
		sockets:       sockets,
		processes:     processes,
		containers:    containers,
		opts:          opts,
		inspectErrors: log.NewLogLimit(10, 10*time.Minute),
	}
}

// ContainersEnabled tells whether container attribution is on
func (r *Resolver) ContainersEnabled() bool {
	return r.containers != nil
}

type result struct {
	id  network.Identity
	err error
}

// Resolve attributes the socket with the given inode. Any failure, including
// a timeout, wraps ErrNotFound so that the caller drops the socket for this
// poll.
func (r *Resolver) Resolve(ctx context.Context, inode uint64) (network.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	// the result channel is buffered so a lookup stuck on procfs does not
	// leak its goroutine once it returns
	done := make(chan result, 1)
	go func() {
		id, err := r.resolve(ctx, inode)
		done <- result{id: id, err: err}
	}()

	select {
	case res := <-done:
		return res.id, res.err
	case <-ctx.Done():
		return network.Identity{}, fmt.Errorf("inode %d: %w: %v", inode, ErrNotFound, ctx.Err())
	}
}

func (r *Resolver) resolve(ctx context.Context, inode uint64) (network.Identity, error) {
	pid, err := r.sockets.PidOf(ctx, inode)
	if err != nil {
		return network.Identity{}, fmt.Errorf("inode %d: %w: %v", inode, ErrNotFound, err)
	}
	id, err := r.ResolvePid(ctx, pid)
	if err != nil {
		return id, err
	}
	if r.opts.HideProcessInfo && !id.IsContainer() {
		id = network.Identity{Process: fmt.Sprintf("Process with inode %d", inode)}
	}
	return id, nil
}

// ResolvePid attributes a known process
func (r *Resolver) ResolvePid(ctx context.Context, pid int) (network.Identity, error) {
	proc, err := r.processes.Process(pid)
	if err != nil {
		return network.Identity{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	id := network.Identity{
		Process: proc.Name,
		PID:     proc.Pid,
	}
	if r.opts.ExposeCmdline {
		id.Cmdline = proc.CmdlineString()
	}

	if r.containers == nil {
		return id, nil
	}

	cgroups, err := r.processes.Cgroups(pid)
	if err != nil {
		return network.Identity{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	containerID := docker.ContainerIDFromCgroups(cgroups)
	if containerID == "" {
		return id, nil
	}

	c, err := r.containers.Inspect(ctx, containerID)
	switch {
	case errors.Is(err, docker.ErrContainerNotFound):
		// the container is gone, its sockets go with it
		return network.Identity{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	case err != nil:
		if ctx.Err() != nil {
			return network.Identity{}, fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		if r.inspectErrors.ShouldLog() {
			log.Warnf("could not inspect container %s, attributing pid %d to the host: %s", network.ShortContainerID(containerID), pid, err)
		}
		return id, nil
	}

	id.ContainerID = containerID
	id.ContainerLocalIPs = c.LocalIPs
	id.Container = c.Metadata
	return id, nil
}
