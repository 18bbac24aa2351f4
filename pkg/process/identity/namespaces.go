// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package identity

import (
	"context"
	"sort"

	"github.com/prometheus/procfs"

	"github.com/DataDog/connbeat-agent/pkg/util/docker"
	"github.com/DataDog/connbeat-agent/pkg/util/log"
)

// hostPid is the process whose network namespace is the host one
const hostPid = 1

// ContainerNamespace is a network namespace owned by a container
type ContainerNamespace struct {
	ContainerID string
	// Pid is the lowest pid of the container in that namespace
	Pid   int
	Inode uint32
}

// ProcessLister walks the process tree
type ProcessLister interface {
	Pids() ([]int, error)
	Cgroups(pid int) ([]procfs.Cgroup, error)
	NetNamespace(pid int) (uint32, error)
}

// NamespaceFinder discovers the network namespaces of running containers
type NamespaceFinder struct {
	procs ProcessLister
}

// NewNamespaceFinder returns a NamespaceFinder reading procs
func NewNamespaceFinder(procs ProcessLister) *NamespaceFinder {
	return &NamespaceFinder{procs: procs}
}

// ContainerNamespaces returns one entry per container network namespace,
// sorted by container id. Containers sharing the host namespace, or the
// namespace of another container, are skipped: their sockets are already in
// another table.
func (f *NamespaceFinder) ContainerNamespaces(ctx context.Context) ([]ContainerNamespace, error) {
	pids, err := f.procs.Pids()
	if err != nil {
		return nil, err
	}
	sort.Ints(pids)

	hostNS, err := f.procs.NetNamespace(hostPid)
	if err != nil {
		log.Debugf("could not read the host network namespace: %s", err)
	}

	byContainer := make(map[string]ContainerNamespace)
	for _, pid := range pids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cgroups, err := f.procs.Cgroups(pid)
		if err != nil {
			continue
		}
		id := docker.ContainerIDFromCgroups(cgroups)
		if id == "" {
			continue
		}
		if _, ok := byContainer[id]; ok {
			continue
		}
		ino, err := f.procs.NetNamespace(pid)
		if err != nil {
			continue
		}
		byContainer[id] = ContainerNamespace{ContainerID: id, Pid: pid, Inode: ino}
	}

	ids := make([]string, 0, len(byContainer))
	for id := range byContainer {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	seen := map[uint32]struct{}{}
	if hostNS != 0 {
		seen[hostNS] = struct{}{}
	}
	out := make([]ContainerNamespace, 0, len(ids))
	for _, id := range ids {
		ns := byContainer[id]
		if _, ok := seen[ns.Inode]; ok {
			continue
		}
		seen[ns.Inode] = struct{}{}
		out = append(out, ns)
	}
	return out, nil
}
