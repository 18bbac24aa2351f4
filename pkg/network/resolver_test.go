// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package network

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveLocalConnections(t *testing.T) {
	server := Identity{
		ContainerID:       "7e999c2c2349713e27cecf87ef8e0cf496aec08b06b6a8b8c988dd42a3839a98",
		ContainerLocalIPs: []netip.Addr{netip.MustParseAddr("172.29.168.124")},
	}
	client := Identity{
		ContainerID:       "6254f6bc5dc03a50440268c2c0771c476fb9a7230c510afef6114c4498b2a4f8",
		ContainerLocalIPs: []netip.Addr{netip.MustParseAddr("172.29.132.189")},
	}

	socks := []AttributedSocket{
		sock("172.29.132.189:37432", "172.29.168.124:8080", Established, 1, client),
		sock("0.0.0.0:8080", "0.0.0.0:0", Listen, 2, server),
		sock("172.29.168.124:8080", "172.29.132.189:37432", Established, 3, server),
	}

	c := NewCorrelator(NewIdentityMap())
	peers := c.ResolveLocal(socks)
	require.Len(t, peers, 3)

	require.NotNil(t, peers[0])
	assert.Equal(t, "7e999c2c23", peers[0].Key())
	assert.Nil(t, peers[1])
	require.NotNil(t, peers[2])
	assert.Equal(t, "6254f6bc5d", peers[2].Key())
}

func TestRegisterListeningContainer(t *testing.T) {
	nginx := Identity{
		ContainerID: "a27f1331f6ddf72629811aac65207949fc858ea90100c438768b531a4c540419",
		ContainerLocalIPs: []netip.Addr{
			netip.MustParseAddr("172.17.0.2"),
			netip.MustParseAddr("10.0.9.3"),
		},
	}
	c := NewCorrelator(NewIdentityMap())
	keys := c.Register(sock("0.0.0.0:80", "0.0.0.0:0", Listen, 1, nginx))

	var got []string
	for _, k := range keys {
		got = append(got, k.String())
	}
	assert.Equal(t, []string{"*:80", "172.17.0.2:80", "10.0.9.3:80"}, got)

	for _, k := range keys {
		id, ok := c.Identities().Lookup(k)
		require.True(t, ok, k.String())
		assert.Equal(t, "a27f1331f6", id.Key())
	}
	assert.True(t, c.IsLocalAddr(netip.MustParseAddr("10.0.9.3")))
	assert.Empty(t, c.HostIPs())
}

func TestRegisterBareProcessOnWildcard(t *testing.T) {
	c := NewCorrelator(NewIdentityMap())
	// an outgoing connection teaches the correlator one host address
	c.Register(sock("192.168.2.243:51000", "93.184.216.34:443", Established, 1, Identity{Process: "curl"}))

	keys := c.Register(sock("0.0.0.0:22", "0.0.0.0:0", Listen, 2, Identity{Process: "sshd"}))
	require.Len(t, keys, 2)
	assert.Equal(t, "*:22", keys[0].String())
	assert.Equal(t, "192.168.2.243:22", keys[1].String())
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("192.168.2.243")}, c.HostIPs())
}

func TestResolveLocalLearnsAddressesFirst(t *testing.T) {
	c := NewCorrelator(NewIdentityMap())
	// the listener comes before the socket revealing the host address
	c.ResolveLocal([]AttributedSocket{
		sock("0.0.0.0:80", "0.0.0.0:0", Listen, 1, Identity{Process: "nginx"}),
		sock("10.0.0.1:22", "0.0.0.0:0", Listen, 2, Identity{Process: "sshd"}),
	})

	id, ok := c.Identities().Lookup(NewEndpointKey(netip.MustParseAddr("10.0.0.1"), 80))
	require.True(t, ok)
	assert.Equal(t, "nginx", id.Process)
	assert.Equal(t, 3, c.Identities().Len())
}

func TestCorrelateWildcardFallback(t *testing.T) {
	c := NewCorrelator(NewIdentityMap())
	c.Register(sock("0.0.0.0:5432", "0.0.0.0:0", Listen, 1, Identity{Process: "postgres"}))

	peer := c.Correlate(sock("127.0.0.1:45000", "127.0.0.1:5432", Established, 2, Identity{Process: "psql"}).SocketRecord)
	require.NotNil(t, peer)
	assert.Equal(t, "postgres", peer.Process)

	// a remote host on the same port is not us
	peer = c.Correlate(sock("10.0.0.1:45000", "10.9.9.9:5432", Established, 3, Identity{Process: "psql"}).SocketRecord)
	assert.Nil(t, peer)
}

func TestCorrelateListeningHasNoPeer(t *testing.T) {
	c := NewCorrelator(NewIdentityMap())
	s := sock("0.0.0.0:80", "0.0.0.0:0", Listen, 1, Identity{Process: "nginx"})
	c.Register(s)
	assert.Nil(t, c.Correlate(s.SocketRecord))
}

func TestUnregisterKeepsTakenOverKeys(t *testing.T) {
	c := NewCorrelator(NewIdentityMap())
	a := sock("0.0.0.0:8080", "0.0.0.0:0", Listen, 1, Identity{ContainerID: "aaaaaaaaaaaaaaaa"})
	b := sock("0.0.0.0:8080", "0.0.0.0:0", Listen, 2, Identity{ContainerID: "bbbbbbbbbbbbbbbb"})

	c.Register(a)
	c.Register(b)
	c.Unregister(a)

	id, ok := c.Identities().Lookup(WildcardKey(8080))
	require.True(t, ok)
	assert.Equal(t, "bbbbbbbbbb", id.Key())

	c.Unregister(b)
	assert.Equal(t, 0, c.Identities().Len())
}
