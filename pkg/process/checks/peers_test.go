// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package checks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/connbeat-agent/pkg/network"
	"github.com/DataDog/connbeat-agent/pkg/network/encoding/marshal"
)

func newIdentitiesServer(t *testing.T, m *network.IdentityMap) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != IdentitiesPath {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", marshal.ContentTypeJSON)
		if err := marshal.MarshalIdentities(m.Snapshot(), w); err != nil {
			t.Errorf("encoding identities: %v", err)
		}
	}))
}

func key(s string) network.EndpointKey {
	if s[0] == '*' {
		k, _ := network.ParseEndpointKey(s)
		return k
	}
	return network.NewEndpointKey(netip.MustParseAddrPort(s).Addr(), netip.MustParseAddrPort(s).Port())
}

func TestPeersCheckMerge(t *testing.T) {
	remote := network.NewIdentityMap()
	remote.Register(key("10.0.0.5:80"), network.Identity{ContainerID: webID, ContainerLocalIPs: []netip.Addr{netip.MustParseAddr("10.0.0.5")}})
	remote.Register(key("*:5432"), network.Identity{Process: "postgres"})
	remote.Register(key("10.0.2.15:22"), network.Identity{Process: "sshd"})
	remote.Register(key("127.0.0.1:631"), network.Identity{Process: "cupsd"})

	srv := newIdentitiesServer(t, remote)
	defer srv.Close()

	local := network.NewCorrelator(network.NewIdentityMap())
	// 10.0.2.15 belongs to this host
	local.Register(network.AttributedSocket{
		SocketRecord: network.SocketRecord{
			ConnectionTuple: network.ConnectionTuple{Local: netip.MustParseAddrPort("10.0.2.15:22")},
			State:           network.Listen,
		},
		Identity: network.Identity{Process: "local-sshd"},
	})

	check := NewPeersCheck(srv.URL+"/", time.Second, local, nil)
	assert.Equal(t, PeersCheckName, check.Name())

	_, err := check.Run(context.Background())
	require.NoError(t, err)

	keys := local.Identities().Keys()
	assert.Equal(t, []network.EndpointKey{key("10.0.0.5:80"), key("10.0.2.15:22")}, keys)

	id, ok := local.Identities().Lookup(key("10.0.0.5:80"))
	require.True(t, ok)
	assert.Equal(t, "47fc31db38", id.Key())

	id, ok = local.Identities().Lookup(key("10.0.2.15:22"))
	require.True(t, ok)
	assert.Equal(t, "local-sshd", id.Process)
}

func TestPeersCheckErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		errMsg  string
	}{
		{
			name: "status",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			errMsg: "unexpected status code",
		},
		{
			name: "payload",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Write([]byte(`{"not": "a list"}`))
			},
			errMsg: "decoding identities",
		},
		{
			name: "endpoint",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Write([]byte(`[{"endpoint": "nowhere", "identity": {}}]`))
			},
			errMsg: "invalid endpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			local := network.NewCorrelator(network.NewIdentityMap())
			_, err := NewPeersCheck(srv.URL, time.Second, local, nil).Run(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
			assert.Zero(t, local.Identities().Len())
		})
	}
}
