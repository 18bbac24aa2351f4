// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package client

import (
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/connbeat-agent/pkg/forwarder"
	"github.com/DataDog/connbeat-agent/pkg/network"
	"github.com/DataDog/connbeat-agent/pkg/network/encoding/marshal"
	"github.com/DataDog/connbeat-agent/test/fakeintake/server"
)

func event(local, remote string, id network.Identity, state network.TCPState) *marshal.Event {
	s := network.SocketRecord{
		ConnectionTuple: network.ConnectionTuple{Local: netip.MustParseAddrPort(local)},
		State:           state,
		Family:          network.AFINET,
	}
	if remote != "" {
		s.Remote = netip.MustParseAddrPort(remote)
	}
	return marshal.FromConnectionEvent(
		network.NewConnectionEvent(network.EventOpened, network.AttributedSocket{SocketRecord: s, Identity: id}, nil, "host", time.Unix(0, 0)),
		marshal.Options{},
	)
}

// events go through the forwarder, the collector correlates them
func TestClientWithForwarder(t *testing.T) {
	fi := server.NewServer(server.WithClock(clock.NewMock()))
	srv := httptest.NewServer(fi.Handler())
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	require.NoError(t, c.GetServerHealth())

	opts := forwarder.NewOptions(srv.URL)
	opts.NumberOfWorkers = 1
	opts.BatchSize = 1
	fwd := forwarder.NewDefaultForwarder(opts)
	require.NoError(t, fwd.Start())

	web := network.Identity{ContainerID: "47fc31db38b4fa0f", ContainerLocalIPs: []netip.Addr{netip.MustParseAddr("10.0.0.5")}}
	curl := network.Identity{Process: "curl"}
	require.NoError(t, fwd.Submit(event("0.0.0.0:80", "", web, network.Listen)))
	require.Eventually(t, func() bool {
		stats, err := c.GetStats()
		return err == nil && stats.Events == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, fwd.Submit(event("10.0.0.9:45000", "10.0.0.5:80", curl, network.Established)))

	require.Eventually(t, func() bool {
		correlations, err := c.GetCorrelations()
		return err == nil && len(correlations) == 1
	}, 5*time.Second, 10*time.Millisecond)
	fwd.Stop()

	correlations, err := c.GetCorrelations()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.9:45000 (on curl) is connected to 10.0.0.5:80 (on 47fc31db38)", correlations[0].String())

	identities, err := c.GetIdentities()
	require.NoError(t, err)
	assert.Len(t, identities, 3)

	require.NoError(t, c.FlushServer())
	stats, err := c.GetStats()
	require.NoError(t, err)
	assert.Zero(t, stats.Identities)
	assert.Equal(t, 1, stats.Correlations)
}

func TestNDJSONPayloads(t *testing.T) {
	fi := server.NewServer(server.WithClock(clock.NewMock()))
	srv := httptest.NewServer(fi.Handler())
	defer srv.Close()

	opts := forwarder.NewOptions(srv.URL)
	opts.Marshaler = marshal.GetMarshaler(marshal.ContentTypeNDJSON)
	fwd := forwarder.NewDefaultForwarder(opts)
	require.NoError(t, fwd.Start())

	web := network.Identity{ContainerID: "47fc31db38b4fa0f", ContainerLocalIPs: []netip.Addr{netip.MustParseAddr("10.0.0.5")}}
	require.NoError(t, fwd.Submit(event("0.0.0.0:80", "", web, network.Listen)))

	c := NewClient(srv.URL)
	require.Eventually(t, func() bool {
		identities, err := c.GetIdentities()
		return err == nil && len(identities) == 2
	}, 5*time.Second, 10*time.Millisecond)
	fwd.Stop()

	stats, err := c.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Posts)
	assert.Zero(t, stats.Warnings)
}

func TestClientErrors(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	assert.Error(t, c.GetServerHealth())
	_, err := c.GetCorrelations()
	assert.Error(t, err)
	_, err = c.GetIdentities()
	assert.Error(t, err)
	assert.Error(t, c.FlushServer())
}
