// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package network

import (
	"net/netip"
)

// ConnectionFilterFunc is a function type which returns whether the provided socket matches the filter
type ConnectionFilterFunc func(s AttributedSocket) bool

// NotLocal matches sockets whose two endpoints are not both on this host.
// Listening sockets always match. isLocal tells whether an address is owned
// by the host or one of its containers.
func NotLocal(isLocal func(netip.Addr) bool) ConnectionFilterFunc {
	return func(s AttributedSocket) bool {
		if !s.HasRemote() {
			return true
		}
		remote := s.Remote.Addr().Unmap()
		if remote == s.Local.Addr().Unmap() {
			return false
		}
		return !isLocal(remote)
	}
}

// FilterConnections returns sockets which match all filters
func FilterConnections(socks []AttributedSocket, filters ...ConnectionFilterFunc) []AttributedSocket {
	var results []AttributedSocket
ConnLoop:
	for _, s := range socks {
		for _, f := range filters {
			if !f(s) {
				continue ConnLoop
			}
		}
		results = append(results, s)
	}
	return results
}
