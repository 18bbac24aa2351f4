// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package network

import (
	"fmt"
	"net/netip"
)

// ConnectionFamily is the address family of a socket
type ConnectionFamily uint8

const (
	// AFINET represents v4 sockets
	AFINET ConnectionFamily = iota
	// AFINET6 represents v6 sockets
	AFINET6
)

func (f ConnectionFamily) String() string {
	if f == AFINET6 {
		return "v6"
	}
	return "v4"
}

// TCPState is the kernel TCP state of a socket, see include/net/tcp_states.h
type TCPState uint8

// TCP states as exposed in the st column of /proc/net/tcp
const (
	Established TCPState = iota + 1
	SynSent
	SynRecv
	FinWait1
	FinWait2
	TimeWait
	Close
	CloseWait
	LastAck
	Listen
	Closing
	NewSynRecv
)

var stateNames = map[TCPState]string{
	Established: "ESTABLISHED",
	SynSent:     "SYN_SENT",
	SynRecv:     "SYN_RECV",
	FinWait1:    "FIN_WAIT1",
	FinWait2:    "FIN_WAIT2",
	TimeWait:    "TIME_WAIT",
	Close:       "CLOSE",
	CloseWait:   "CLOSE_WAIT",
	LastAck:     "LAST_ACK",
	Listen:      "LISTEN",
	Closing:     "CLOSING",
	NewSynRecv:  "NEW_SYN_RECV",
}

func (s TCPState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
}

// ConnectionTuple is the local and remote endpoint of a socket
type ConnectionTuple struct {
	Local  netip.AddrPort
	Remote netip.AddrPort
}

func (t ConnectionTuple) String() string {
	return fmt.Sprintf("%s->%s", t.Local, t.Remote)
}

// SocketRecord is one row of a socket table snapshot
type SocketRecord struct {
	ConnectionTuple
	State  TCPState
	Inode  uint64
	Family ConnectionFamily
}

// IsListening returns true for sockets in the LISTEN state
func (s SocketRecord) IsListening() bool {
	return s.State == Listen
}

// HasRemote returns true when the remote endpoint is concrete, i.e. not the
// 0.0.0.0:0 placeholder the kernel reports for unconnected sockets
func (s SocketRecord) HasRemote() bool {
	return s.Remote.Port() != 0 && !s.Remote.Addr().IsUnspecified()
}

func (s SocketRecord) String() string {
	return fmt.Sprintf("%s [%s] inode=%d", s.ConnectionTuple, s.State, s.Inode)
}

// IsWildcard returns true for the 0.0.0.0 and :: addresses
func IsWildcard(addr netip.Addr) bool {
	return addr.IsUnspecified()
}

// ShouldBeRecorded returns true for addresses that identify a host interface:
// neither wildcard nor loopback
func ShouldBeRecorded(addr netip.Addr) bool {
	return addr.IsValid() && !addr.IsUnspecified() && !addr.IsLoopback()
}
