// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package network

import (
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ShortIDLength is the number of characters of a container id kept in identities
const ShortIDLength = 10

// ShortContainerID truncates a full container id
func ShortContainerID(id string) string {
	if len(id) > ShortIDLength {
		return id[:ShortIDLength]
	}
	return id
}

// DockerHost describes the host a container runs on
type DockerHost struct {
	Hostname string   `json:"hostname"`
	IPs      []string `json:"ips"`
}

// PortBinding is a published container port
type PortBinding struct {
	HostIP   string `json:"HostIp"`
	HostPort string `json:"HostPort"`
}

// ContainerMetadata is the optional detail attached to a container identity
type ContainerMetadata struct {
	ID          string                   `json:"id"`
	Name        string                   `json:"name"`
	Image       string                   `json:"image"`
	Env         []string                 `json:"env,omitempty"`
	Labels      map[string]string        `json:"labels,omitempty"`
	Ports       map[string][]PortBinding `json:"ports,omitempty"`
	DockerHost  DockerHost               `json:"docker_host"`
	LocalIPs    []string                 `json:"local_ips"`
	InitPID     int                      `json:"-"`
	NetworkMode string                   `json:"-"`
}

// Identity is the attributed owner of a socket: a container, or a bare
// process when no container applies
type Identity struct {
	ContainerID       string
	ContainerLocalIPs []netip.Addr
	Process           string
	PID               int32
	Cmdline           string

	Container *ContainerMetadata
}

// IsContainer returns true for container identities
func (i Identity) IsContainer() bool {
	return i.ContainerID != ""
}

// Key is the comparable form of an identity: the short container id, or
// the process name for bare processes
func (i Identity) Key() string {
	if i.IsContainer() {
		return ShortContainerID(i.ContainerID)
	}
	return i.Process
}

func (i Identity) String() string {
	return i.Key()
}

// LocalIPStrings returns the container local IPs in order
func (i Identity) LocalIPStrings() []string {
	ips := make([]string, 0, len(i.ContainerLocalIPs))
	for _, ip := range i.ContainerLocalIPs {
		ips = append(ips, ip.String())
	}
	return ips
}

// EndpointKey is a local (ip, port) pair. The zero address stands for the
// wildcard form (*, port).
type EndpointKey struct {
	Addr netip.Addr
	Port uint16
}

// NewEndpointKey returns the key for a concrete address
func NewEndpointKey(addr netip.Addr, port uint16) EndpointKey {
	return EndpointKey{Addr: addr.Unmap(), Port: port}
}

// WildcardKey returns the (*, port) key
func WildcardKey(port uint16) EndpointKey {
	return EndpointKey{Port: port}
}

// IsWildcard returns true for (*, port) keys
func (k EndpointKey) IsWildcard() bool {
	return !k.Addr.IsValid()
}

func (k EndpointKey) String() string {
	if k.IsWildcard() {
		return fmt.Sprintf("*:%d", k.Port)
	}
	return netip.AddrPortFrom(k.Addr, k.Port).String()
}

// ParseEndpointKey parses the "ip:port" and "*:port" forms
func ParseEndpointKey(s string) (EndpointKey, error) {
	if rest, ok := strings.CutPrefix(s, "*:"); ok {
		port, err := strconv.ParseUint(rest, 10, 16)
		if err != nil {
			return EndpointKey{}, fmt.Errorf("invalid endpoint %q: %w", s, err)
		}
		return WildcardKey(uint16(port)), nil
	}
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return EndpointKey{}, fmt.Errorf("invalid endpoint %q: %w", s, err)
	}
	return NewEndpointKey(ap.Addr(), ap.Port()), nil
}

// IdentityMap maps local endpoints to the identity owning them. It is the
// process-wide correlation state: created empty at start, never persisted.
// A single mutex guards every access. Registrations for the same key
// overwrite each other, the last one wins.
type IdentityMap struct {
	mu      sync.Mutex
	entries map[EndpointKey]Identity
}

// NewIdentityMap returns an empty IdentityMap
func NewIdentityMap() *IdentityMap {
	return &IdentityMap{entries: make(map[EndpointKey]Identity)}
}

// Register stores id under key. It returns the identity that was replaced,
// if it was a different one.
func (m *IdentityMap) Register(key EndpointKey, id Identity) (Identity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.entries[key]
	m.entries[key] = id
	if ok && prev.Key() != id.Key() {
		return prev, true
	}
	return Identity{}, false
}

// Lookup returns the identity registered for key
func (m *IdentityMap) Lookup(key EndpointKey) (Identity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.entries[key]
	return id, ok
}

// Unregister removes key if it is still owned by id
func (m *IdentityMap) Unregister(key EndpointKey, id Identity) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.entries[key]; ok && cur.Key() == id.Key() {
		delete(m.entries, key)
		return true
	}
	return false
}

// Merge registers every entry of other, last write wins
func (m *IdentityMap) Merge(other map[EndpointKey]Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, v := range other {
		m.entries[k] = v
	}
}

// Reset removes every registration
func (m *IdentityMap) Reset() {
	m.mu.Lock()
	m.entries = make(map[EndpointKey]Identity)
	m.mu.Unlock()
}

// Len returns the number of registered endpoints
func (m *IdentityMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Snapshot returns a copy of the map content
func (m *IdentityMap) Snapshot() map[EndpointKey]Identity {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[EndpointKey]Identity, len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out
}

// Keys returns the registered endpoints sorted by their string form
func (m *IdentityMap) Keys() []EndpointKey {
	m.mu.Lock()
	keys := make([]EndpointKey, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}
