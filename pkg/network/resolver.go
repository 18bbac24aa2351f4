// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package network

import (
	"net/netip"
	"sort"
	"sync"

	"github.com/DataDog/connbeat-agent/pkg/util/log"
)

// Correlator binds peer identities to the remote endpoint of connections
// using an IdentityMap shared by every socket source.
type Correlator struct {
	identities *IdentityMap

	mu sync.RWMutex
	// non-wildcard, non-loopback addresses seen on host sockets
	hostIPs map[netip.Addr]struct{}
	// every address known to be owned locally: host IPs and container IPs
	localIPs map[netip.Addr]struct{}
}

// NewCorrelator returns a Correlator writing into identities
func NewCorrelator(identities *IdentityMap) *Correlator {
	return &Correlator{
		identities: identities,
		hostIPs:    make(map[netip.Addr]struct{}),
		localIPs:   make(map[netip.Addr]struct{}),
	}
}

// Identities returns the underlying map
func (c *Correlator) Identities() *IdentityMap {
	return c.identities
}

// RecordHostIP remembers addr as one of the host addresses
func (c *Correlator) RecordHostIP(addr netip.Addr) {
	addr = addr.Unmap()
	if !ShouldBeRecorded(addr) {
		return
	}
	c.mu.Lock()
	c.hostIPs[addr] = struct{}{}
	c.localIPs[addr] = struct{}{}
	c.mu.Unlock()
}

func (c *Correlator) recordLocalIP(addr netip.Addr) {
	addr = addr.Unmap()
	if !ShouldBeRecorded(addr) {
		return
	}
	c.mu.Lock()
	c.localIPs[addr] = struct{}{}
	c.mu.Unlock()
}

// HostIPs returns the known host addresses, sorted
func (c *Correlator) HostIPs() []netip.Addr {
	c.mu.RLock()
	ips := make([]netip.Addr, 0, len(c.hostIPs))
	for ip := range c.hostIPs {
		ips = append(ips, ip)
	}
	c.mu.RUnlock()

	sort.Slice(ips, func(i, j int) bool { return ips[i].Less(ips[j]) })
	return ips
}

func (c *Correlator) isHostIP(addr netip.Addr) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.hostIPs[addr.Unmap()]
	return ok
}

// IsLocalAddr returns true for loopback addresses and addresses owned by the
// host or one of its containers
func (c *Correlator) IsLocalAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsLoopback() {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.localIPs[addr]
	return ok
}

// registrationKeys lists every local endpoint a socket is reachable at.
//
// The bind address is always used unless it is a wildcard. Listening
// sockets bound to a wildcard register (*, port), and bare processes also
// register every known host address at that port. Container sockets also
// register every container local IP at the local port.
func (c *Correlator) registrationKeys(s AttributedSocket) []EndpointKey {
	port := s.Local.Port()
	local := s.Local.Addr().Unmap()

	var keys []EndpointKey
	if IsWildcard(local) {
		if !s.IsListening() {
			return nil
		}
		keys = append(keys, WildcardKey(port))
		if !s.Identity.IsContainer() {
			for _, ip := range c.HostIPs() {
				keys = append(keys, NewEndpointKey(ip, port))
			}
		}
	} else {
		keys = append(keys, NewEndpointKey(local, port))
	}

	for _, ip := range s.Identity.ContainerLocalIPs {
		keys = append(keys, NewEndpointKey(ip, port))
	}
	return keys
}

// recordAddresses learns the local addresses s reveals
func (c *Correlator) recordAddresses(s AttributedSocket) {
	if !s.Identity.IsContainer() {
		c.RecordHostIP(s.Local.Addr())
	}
	for _, ip := range s.Identity.ContainerLocalIPs {
		c.recordLocalIP(ip)
	}
}

// Register writes the local endpoints of s into the identity map. A key
// already owned by another identity is overwritten.
func (c *Correlator) Register(s AttributedSocket) []EndpointKey {
	c.recordAddresses(s)
	return c.register(s)
}

func (c *Correlator) register(s AttributedSocket) []EndpointKey {
	keys := c.registrationKeys(s)
	for _, k := range keys {
		if prev, replaced := c.identities.Register(k, s.Identity); replaced {
			log.Debugf("endpoint %s moved from %s to %s", k, prev, s.Identity)
		}
	}
	return keys
}

// Unregister removes the registrations of a closed socket, leaving keys
// that another identity took over in the meantime
func (c *Correlator) Unregister(s AttributedSocket) {
	for _, k := range c.registrationKeys(s) {
		c.identities.Unregister(k, s.Identity)
	}
}

// Correlate returns the identity registered for the remote endpoint of s.
// A nil result means the peer is unknown, not that there is none.
func (c *Correlator) Correlate(s SocketRecord) *Identity {
	if !s.HasRemote() {
		return nil
	}

	remote := s.Remote.Addr().Unmap()
	port := s.Remote.Port()
	if id, ok := c.identities.Lookup(NewEndpointKey(remote, port)); ok {
		return &id
	}

	// a local peer bound to a wildcard address is only known as (*, port)
	if remote.IsLoopback() || c.isHostIP(remote) {
		if id, ok := c.identities.Lookup(WildcardKey(port)); ok {
			return &id
		}
	}
	return nil
}

// ResolveLocal correlates a batch of newly seen sockets.
//
// First, we learn the host and container addresses of every socket, so that
// a wildcard listener registers under host addresses revealed by any socket
// of the batch.
//
// Second, we register the local endpoints of every socket, so that both ends
// of a connection seen in the same poll can find each other.
//
// Last, we look the remote endpoint of each socket up in the identity map.
//
// The returned slice is indexed like socks.
func (c *Correlator) ResolveLocal(socks []AttributedSocket) []*Identity {
	for _, s := range socks {
		c.recordAddresses(s)
	}
	for _, s := range socks {
		c.register(s)
	}

	log.Tracef("identity map holds %d endpoints", c.identities.Len())

	peers := make([]*Identity, len(socks))
	for i, s := range socks {
		peers[i] = c.Correlate(s.SocketRecord)
		if peers[i] != nil {
			log.Debugf("%s (on %s) is connected to %s (on %s)", s.Local, s.Identity, s.Remote, peers[i])
		}
	}
	return peers
}
