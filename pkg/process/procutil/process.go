// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package procutil reads the metadata of the processes owning sockets
package procutil

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/procfs"
)

// DefaultCacheSize is the number of processes kept in the metadata cache
const DefaultCacheSize = 4096

// ErrProcessNotFound is returned for a pid that does not exist anymore
var ErrProcessNotFound = errors.New("process not found")

// Process is the metadata of a process
type Process struct {
	Pid     int32
	Name    string
	Cmdline []string
	// Starttime in clock ticks since boot, tells pids apart across reuse
	Starttime uint64
}

// CmdlineString returns the cmdline joined by spaces
func (p *Process) CmdlineString() string {
	return strings.Join(p.Cmdline, " ")
}

// Probe reads process metadata from procfs
type Probe struct {
	fs       procfs.FS
	scrubber *DataScrubber
	cache    *lru.Cache[int, *Process]
}

// NewProcessProbe returns a probe over the process tree at procRoot. A nil
// scrubber exposes the cmdline as is.
func NewProcessProbe(procRoot string, scrubber *DataScrubber, cacheSize int) (*Probe, error) {
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", procRoot, err)
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[int, *Process](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Probe{fs: fs, scrubber: scrubber, cache: cache}, nil
}

// Process returns the metadata of pid. The cmdline is only read the first
// time a given process is seen.
func (p *Probe) Process(pid int) (*Process, error) {
	proc, err := p.fs.Proc(pid)
	if err != nil {
		return nil, notFound(pid, err)
	}
	stat, err := proc.Stat()
	if err != nil {
		return nil, notFound(pid, err)
	}

	if cached, ok := p.cache.Get(pid); ok && cached.Starttime == stat.Starttime {
		return cached, nil
	}

	cmdline, err := proc.CmdLine()
	if err != nil {
		return nil, notFound(pid, err)
	}
	if len(cmdline) == 0 {
		// kernel threads have no cmdline
		cmdline = []string{stat.Comm}
	}
	cmdline, _ = p.scrubber.ScrubCommand(cmdline)

	process := &Process{
		Pid:       int32(pid),
		Name:      stat.Comm,
		Cmdline:   cmdline,
		Starttime: stat.Starttime,
	}
	p.cache.Add(pid, process)
	return process, nil
}

// Cgroups returns the raw cgroup membership lines of pid
func (p *Probe) Cgroups(pid int) ([]procfs.Cgroup, error) {
	proc, err := p.fs.Proc(pid)
	if err != nil {
		return nil, notFound(pid, err)
	}
	cgroups, err := proc.Cgroups()
	if err != nil {
		return nil, notFound(pid, err)
	}
	return cgroups, nil
}

// NetNamespace returns the inode of the network namespace of pid
func (p *Probe) NetNamespace(pid int) (uint32, error) {
	proc, err := p.fs.Proc(pid)
	if err != nil {
		return 0, notFound(pid, err)
	}
	namespaces, err := proc.Namespaces()
	if err != nil {
		return 0, notFound(pid, err)
	}
	ns, ok := namespaces["net"]
	if !ok {
		return 0, fmt.Errorf("pid %d: no network namespace", pid)
	}
	return ns.Inode, nil
}

// Pids lists every process
func (p *Probe) Pids() ([]int, error) {
	procs, err := p.fs.AllProcs()
	if err != nil {
		return nil, err
	}
	pids := make([]int, 0, len(procs))
	for _, proc := range procs {
		pids = append(pids, proc.PID)
	}
	return pids, nil
}

func notFound(pid int, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("pid %d: %w", pid, ErrProcessNotFound)
	}
	return fmt.Errorf("pid %d: %w", pid, err)
}
