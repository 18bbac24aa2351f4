// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package lsof maps socket inodes to the processes holding them open
package lsof

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/procfs"
	"golang.org/x/sync/singleflight"

	"github.com/DataDog/connbeat-agent/pkg/util/log"
)

// see the documentation for /proc for more details about files and their format
// https://www.kernel.org/doc/html/latest/filesystems/proc.html

const (
	// DefaultMinRescanInterval bounds how often a lookup miss triggers a full scan
	DefaultMinRescanInterval = time.Second
	// DefaultScanTimeout bounds one full scan
	DefaultScanTimeout = time.Minute
)

const socketPrefix = "socket:["

// SocketIndex keeps a socket inode to pid index built by walking the file
// descriptor tables of every process
type SocketIndex struct {
	procRoot string
	clock    clock.Clock
	// a miss within this interval of the previous scan is not rescanned
	minRescan   time.Duration
	scanTimeout time.Duration

	// at most one scan runs at a time
	scanGroup singleflight.Group

	mu      sync.Mutex
	byInode map[uint64]int
	// start of the last scan triggered by a miss, whatever its outcome
	lastAttempt time.Time
	scanning    bool
	scans       int
}

// Option configures a SocketIndex
type Option func(*SocketIndex)

// WithClock sets the clock used to rate limit scans
func WithClock(c clock.Clock) Option {
	return func(i *SocketIndex) { i.clock = c }
}

// WithMinRescanInterval sets the minimum interval between two scans
func WithMinRescanInterval(d time.Duration) Option {
	return func(i *SocketIndex) { i.minRescan = d }
}

// WithScanTimeout sets the time a full scan may take before it is abandoned
func WithScanTimeout(d time.Duration) Option {
	return func(i *SocketIndex) { i.scanTimeout = d }
}

// NewSocketIndex returns an empty index over the process tree mounted at
// procRoot. An empty procRoot selects procPath().
func NewSocketIndex(procRoot string, opts ...Option) *SocketIndex {
	if procRoot == "" {
		procRoot = procPath()
	}
	i := &SocketIndex{
		procRoot:    procRoot,
		clock:       clock.New(),
		minRescan:   DefaultMinRescanInterval,
		scanTimeout: DefaultScanTimeout,
		byInode:     make(map[uint64]int),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// ProcRoot returns the mount point of the process tree
func (i *SocketIndex) ProcRoot() string {
	return i.procRoot
}

// PidOf returns the pid of a process holding the socket. A cached entry is
// only trusted while the process is alive.
//
// A miss starts a scan of the process tree and waits for it. Misses during
// a scan in flight are not waited on. The scan is not bound to ctx: a lookup
// giving up does not abort it, and the index it builds serves the lookups
// that follow.
func (i *SocketIndex) PidOf(ctx context.Context, inode uint64) (int, error) {
	if inode == 0 {
		return 0, ErrSocketNotFound
	}

	if pid, ok := i.cached(inode); ok {
		if i.alive(pid) {
			return pid, nil
		}
		i.forget(inode)
	}

	scan, started := i.scanIfDue()
	if !started {
		return 0, ErrSocketNotFound
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	select {
	case res := <-scan:
		if res.Err != nil {
			return 0, res.Err
		}
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	if pid, ok := i.cached(inode); ok {
		return pid, nil
	}
	return 0, ErrSocketNotFound
}

// Rescan rebuilds the index. Processes that exit during the walk are
// skipped. A cancelled context aborts the walk and keeps the previous index.
func (i *SocketIndex) Rescan(ctx context.Context) error {
	fs, err := procfs.NewFS(i.procRoot)
	if err != nil {
		return fmt.Errorf("opening %s: %w", i.procRoot, err)
	}
	procs, err := fs.AllProcs()
	if err != nil {
		return fmt.Errorf("listing processes: %w", err)
	}

	byInode := make(map[uint64]int)
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return err
		}
		targets, err := p.FileDescriptorTargets()
		if err != nil {
			// the process exited or we are not allowed to look at it
			log.Tracef("failed to read fds of pid %d: %s", p.PID, err)
			continue
		}
		for _, target := range targets {
			if inode, ok := parseSocketTarget(target); ok {
				if _, seen := byInode[inode]; !seen {
					byInode[inode] = p.PID
				}
			}
		}
	}

	i.mu.Lock()
	i.byInode = byInode
	i.scans++
	i.mu.Unlock()

	log.Tracef("indexed %d sockets over %d processes", len(byInode), len(procs))
	return nil
}

// Scans returns the number of completed scans
func (i *SocketIndex) Scans() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.scans
}

func (i *SocketIndex) cached(inode uint64) (int, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	pid, ok := i.byInode[inode]
	return pid, ok
}

func (i *SocketIndex) forget(inode uint64) {
	i.mu.Lock()
	delete(i.byInode, inode)
	i.mu.Unlock()
}

// scanIfDue starts a scan when none is in flight and the previous attempt is
// older than the rescan interval, and returns its outcome
func (i *SocketIndex) scanIfDue() (<-chan singleflight.Result, bool) {
	i.mu.Lock()
	if i.scanning || (!i.lastAttempt.IsZero() && i.clock.Since(i.lastAttempt) < i.minRescan) {
		i.mu.Unlock()
		return nil, false
	}
	i.lastAttempt = i.clock.Now()
	i.scanning = true
	i.mu.Unlock()

	return i.scanGroup.DoChan("rescan", func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), i.scanTimeout)
		defer cancel()
		err := i.Rescan(ctx)
		if err != nil {
			log.Debugf("scan of %s failed: %s", i.procRoot, err)
		}

		i.mu.Lock()
		i.scanning = false
		i.mu.Unlock()
		return nil, err
	}), true
}

func (i *SocketIndex) alive(pid int) bool {
	_, err := os.Stat(fmt.Sprintf("%s/%d", i.procRoot, pid))
	return err == nil
}

// parseSocketTarget extracts the inode of a "socket:[12345]" link target
func parseSocketTarget(target string) (uint64, bool) {
	rest, ok := strings.CutPrefix(target, socketPrefix)
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, "]")
	if !ok {
		return 0, false
	}
	inode, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return inode, true
}

func procPath() string {
	if procPath, ok := os.LookupEnv("HOST_PROC"); ok {
		return procPath
	}
	return "/proc"
}
