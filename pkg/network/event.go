// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package network

import (
	"net/netip"
	"time"
)

// EventType distinguishes newly seen sockets from closed ones
type EventType uint8

const (
	// EventOpened is emitted for sockets that appeared since the previous poll
	EventOpened EventType = iota
	// EventClosed is emitted for sockets that disappeared since the previous poll
	EventClosed
	// EventRefreshed is emitted for unchanged sockets when the republish window elapsed
	EventRefreshed
)

func (e EventType) String() string {
	switch e {
	case EventClosed:
		return "closed"
	case EventRefreshed:
		return "refreshed"
	default:
		return "opened"
	}
}

// AttributedSocket is a socket record together with the identity owning it
type AttributedSocket struct {
	SocketRecord
	Identity Identity
}

// ConnectionEvent is the unit handed to the sink. It is never mutated once
// built. HostIPs are the known addresses of the host: a bare process
// listening on a wildcard address is reachable at each of them.
type ConnectionEvent struct {
	Type      EventType
	Socket    SocketRecord
	Identity  Identity
	Peer      *Identity
	Hostname  string
	HostIPs   []netip.Addr
	Timestamp time.Time
}

// NewConnectionEvent builds an event for an attributed socket
func NewConnectionEvent(t EventType, s AttributedSocket, peer *Identity, hostname string, now time.Time) ConnectionEvent {
	return ConnectionEvent{
		Type:      t,
		Socket:    s.SocketRecord,
		Identity:  s.Identity,
		Peer:      peer,
		Hostname:  hostname,
		Timestamp: now,
	}
}
