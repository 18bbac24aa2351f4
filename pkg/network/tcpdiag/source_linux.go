// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build linux

// Package tcpdiag reads the host socket tables over NETLINK_SOCK_DIAG,
// falling back to the /proc tables once netlink keeps failing.
package tcpdiag

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/DataDog/connbeat-agent/pkg/network"
	"github.com/DataDog/connbeat-agent/pkg/network/proctcp"
	"github.com/DataDog/connbeat-agent/pkg/util/log"
)

// Dumper lists the TCP sockets of one address family
type Dumper func(family network.ConnectionFamily) ([]*netlink.Socket, error)

// DumpTCP queries the kernel for every TCP socket of family
func DumpTCP(family network.ConnectionFamily) ([]*netlink.Socket, error) {
	af := uint8(unix.AF_INET)
	if family == network.AFINET6 {
		af = unix.AF_INET6
	}
	return netlink.SocketDiagTCP(af)
}

// Source implements proctcp.Source on top of a Dumper
type Source struct {
	dump     Dumper
	fallback proctcp.Source
	breaker  *CircuitBreaker
}

var _ proctcp.Source = (*Source)(nil)

// NewSource wraps fallback: the table is dumped over netlink until the
// breaker trips, and read from fallback from then on. The source keeps the
// name and family of fallback.
func NewSource(dump Dumper, fallback proctcp.Source, breaker *CircuitBreaker) *Source {
	if breaker == nil {
		breaker = NewCircuitBreaker(DefaultMaxFailures)
	}
	return &Source{dump: dump, fallback: fallback, breaker: breaker}
}

// Name implements proctcp.Source
func (s *Source) Name() string { return s.fallback.Name() }

// Family implements proctcp.Source
func (s *Source) Family() network.ConnectionFamily { return s.fallback.Family() }

// Read implements proctcp.Source
func (s *Source) Read(ctx context.Context) (proctcp.Table, error) {
	if err := ctx.Err(); err != nil {
		return proctcp.Table{}, err
	}
	if s.breaker.IsOpen() {
		return s.fallback.Read(ctx)
	}

	sockets, err := s.dump(s.Family())
	if err != nil {
		if s.breaker.Failure() {
			log.Warnf("sock_diag dump of %s failed %d times in a row, reading the /proc table from now on: %s", s.Name(), s.breaker.Failures(), err)
		} else {
			log.Debugf("sock_diag dump of %s failed, reading the /proc table: %s", s.Name(), err)
		}
		return s.fallback.Read(ctx)
	}
	s.breaker.Success()
	return convert(sockets, s.Family()), nil
}

// Degraded returns true once the source stopped querying netlink
func (s *Source) Degraded() bool {
	return s.breaker.IsOpen()
}

func convert(sockets []*netlink.Socket, family network.ConnectionFamily) proctcp.Table {
	var t proctcp.Table
	for _, sock := range sockets {
		if sock == nil {
			continue
		}
		local, err := addrPort(sock.ID.Source, sock.ID.SourcePort)
		if err != nil {
			t.Malformed++
			t.Errors = append(t.Errors, fmt.Errorf("inode %d: local address: %w", sock.INode, err))
			continue
		}
		remote, err := addrPort(sock.ID.Destination, sock.ID.DestinationPort)
		if err != nil {
			t.Malformed++
			t.Errors = append(t.Errors, fmt.Errorf("inode %d: remote address: %w", sock.INode, err))
			continue
		}
		t.Records = append(t.Records, network.SocketRecord{
			ConnectionTuple: network.ConnectionTuple{Local: local, Remote: remote},
			State:           network.TCPState(sock.State),
			Inode:           uint64(sock.INode),
			Family:          family,
		})
	}
	return t
}

func addrPort(ip net.IP, port uint16) (netip.AddrPort, error) {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.AddrPort{}, fmt.Errorf("%w: %q", proctcp.ErrMalformedRow, ip)
	}
	return netip.AddrPortFrom(addr.Unmap(), port), nil
}

// HostSources returns the host socket sources, dumped over netlink with the
// /proc tables as fallback. A family with a table override always reads
// that table.
func HostSources(procRoot string, overrides proctcp.TablePaths, dump Dumper) []proctcp.Source {
	if dump == nil {
		dump = DumpTCP
	}
	fallbacks := proctcp.HostSources(procRoot, overrides)
	sources := make([]proctcp.Source, 0, len(fallbacks))
	for _, fb := range fallbacks {
		if overridden(overrides, fb.Family()) {
			log.Infof("%s: reading %s, sock_diag is not used for this table", fb.Name(), overrideOf(overrides, fb.Family()))
			sources = append(sources, fb)
			continue
		}
		sources = append(sources, NewSource(dump, fb, nil))
	}
	return sources
}

func overrideOf(overrides proctcp.TablePaths, family network.ConnectionFamily) string {
	if family == network.AFINET6 {
		return overrides.TCP6
	}
	return overrides.TCP
}

func overridden(overrides proctcp.TablePaths, family network.ConnectionFamily) bool {
	return overrideOf(overrides, family) != ""
}
