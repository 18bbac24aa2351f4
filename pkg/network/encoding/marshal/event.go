// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package marshal

import (
	"net/netip"
	"time"

	"github.com/DataDog/connbeat-agent/pkg/network"
)

// Event is the wire form of a connection event
type Event struct {
	Timestamp time.Time `json:"@timestamp"`
	Type      string    `json:"type"`
	State     string    `json:"state"`
	Family    string    `json:"family"`
	Hostname  string    `json:"hostname,omitempty"`

	LocalIP    string  `json:"local_ip"`
	LocalPort  uint16  `json:"local_port"`
	RemoteIP   *string `json:"remote_ip,omitempty"`
	RemotePort *uint16 `json:"remote_port,omitempty"`

	Process string `json:"process,omitempty"`
	PID     int32  `json:"pid,omitempty"`
	Cmdline string `json:"cmdline,omitempty"`

	ContainerID       string                     `json:"container_id,omitempty"`
	ContainerLocalIPs []string                   `json:"container_local_ips"`
	Container         *network.ContainerMetadata `json:"container,omitempty"`

	// HostLocalIPs are the addresses of the host the event was seen on
	HostLocalIPs []string `json:"host_local_ips,omitempty"`

	PeerIdentity *IdentityPayload `json:"peer_identity,omitempty"`
}

// IdentityPayload is the wire form of an identity
type IdentityPayload struct {
	ContainerID       string   `json:"container_id,omitempty"`
	ContainerLocalIPs []string `json:"container_local_ips,omitempty"`
	Process           string   `json:"process,omitempty"`
}

// Options controls which process details are exposed
type Options struct {
	ExposeProcessInfo bool
	ExposeCmdline     bool
}

// FromConnectionEvent converts an event to its wire form
func FromConnectionEvent(e network.ConnectionEvent, opts Options) *Event {
	s := e.Socket
	out := &Event{
		Timestamp:         e.Timestamp.UTC(),
		Type:              e.Type.String(),
		State:             s.State.String(),
		Family:            s.Family.String(),
		Hostname:          e.Hostname,
		LocalIP:           s.Local.Addr().String(),
		LocalPort:         s.Local.Port(),
		ContainerLocalIPs: e.Identity.LocalIPStrings(),
		Container:         e.Identity.Container,
	}

	for _, ip := range e.HostIPs {
		out.HostLocalIPs = append(out.HostLocalIPs, ip.String())
	}

	if s.HasRemote() {
		ip := s.Remote.Addr().String()
		port := s.Remote.Port()
		out.RemoteIP = &ip
		out.RemotePort = &port
	}

	if e.Identity.IsContainer() {
		out.ContainerID = network.ShortContainerID(e.Identity.ContainerID)
	}
	// a bare process is only known by its name
	if !e.Identity.IsContainer() || opts.ExposeProcessInfo {
		out.Process = e.Identity.Process
	}
	if opts.ExposeProcessInfo {
		out.PID = e.Identity.PID
		if opts.ExposeCmdline {
			out.Cmdline = e.Identity.Cmdline
		}
	}

	if e.Peer != nil {
		out.PeerIdentity = FromIdentity(*e.Peer)
	}
	return out
}

// FromIdentity converts an identity to its wire form
func FromIdentity(id network.Identity) *IdentityPayload {
	if id.IsContainer() {
		return &IdentityPayload{
			ContainerID:       network.ShortContainerID(id.ContainerID),
			ContainerLocalIPs: id.LocalIPStrings(),
		}
	}
	return &IdentityPayload{Process: id.Process}
}

// ToIdentity converts a wire identity back. Unparsable IPs are dropped.
func (p IdentityPayload) ToIdentity() network.Identity {
	id := network.Identity{
		ContainerID: p.ContainerID,
		Process:     p.Process,
	}
	for _, raw := range p.ContainerLocalIPs {
		if ip, err := netip.ParseAddr(raw); err == nil {
			id.ContainerLocalIPs = append(id.ContainerLocalIPs, ip)
		}
	}
	return id
}

// Key returns the comparable form of the identity
func (p IdentityPayload) Key() string {
	return p.ToIdentity().Key()
}
