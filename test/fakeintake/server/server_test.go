// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/connbeat-agent/pkg/network"
	"github.com/DataDog/connbeat-agent/pkg/network/encoding/marshal"
	"github.com/DataDog/connbeat-agent/pkg/telemetry"
	"github.com/DataDog/connbeat-agent/test/fakeintake/api"
)

const (
	webListening = `{"type":"opened","state":"LISTEN","family":"v4","hostname":"host-a","local_ip":"0.0.0.0","local_port":80,` +
		`"container_id":"47fc31db38","container_local_ips":["10.0.0.5"]}`
	curlConnected = `{"type":"opened","state":"ESTABLISHED","family":"v4","hostname":"host-b","local_ip":"10.0.0.9","local_port":45000,` +
		`"remote_ip":"10.0.0.5","remote_port":80,"process":"curl","container_local_ips":[]}`
	webClosed = `{"type":"closed","state":"LISTEN","family":"v4","hostname":"host-a","local_ip":"0.0.0.0","local_port":80,` +
		`"container_id":"47fc31db38","container_local_ips":["10.0.0.5"]}`
)

func post(t *testing.T, fi *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	request, err := http.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	require.NoError(t, err, "Error creating POST request")
	response := httptest.NewRecorder()
	fi.Handler().ServeHTTP(response, request)
	return response
}

func get(t *testing.T, fi *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	request, err := http.NewRequest(http.MethodGet, path, nil)
	require.NoError(t, err, "Error creating GET request")
	response := httptest.NewRecorder()
	fi.Handler().ServeHTTP(response, request)
	return response
}

func getCorrelations(t *testing.T, fi *Server) []api.Correlation {
	t.Helper()
	response := get(t, fi, "/collector/correlations")
	require.Equal(t, http.StatusOK, response.Code)
	assert.Equal(t, "application/json", response.Header().Get("Content-Type"))

	var resp api.APIFakeIntakeCorrelationsGETResponse
	require.NoError(t, json.Unmarshal(response.Body.Bytes(), &resp))
	return resp.Correlations
}

func TestServer(t *testing.T) {
	t.Run("should correlate both ends of a connection", func(t *testing.T) {
		mockClock := clock.NewMock()
		fi := NewServer(WithClock(mockClock))

		assert.Equal(t, http.StatusOK, post(t, fi, webListening).Code)
		assert.Equal(t, http.StatusOK, post(t, fi, curlConnected).Code)

		correlations := getCorrelations(t, fi)
		require.Len(t, correlations, 1)
		assert.Equal(t, api.Correlation{
			Timestamp:      mockClock.Now().UTC(),
			Hostname:       "host-b",
			Local:          "10.0.0.9:45000",
			LocalIdentity:  "curl",
			Remote:         "10.0.0.5:80",
			RemoteIdentity: "47fc31db38",
		}, correlations[0])
		assert.Equal(t, "10.0.0.9:45000 (on curl) is connected to 10.0.0.5:80 (on 47fc31db38)", correlations[0].String())
	})

	t.Run("should accept json lines and arrays", func(t *testing.T) {
		fi := NewServer(WithClock(clock.NewMock()))

		assert.Equal(t, http.StatusOK, post(t, fi, webListening+"\n"+curlConnected+"\n").Code)
		assert.Len(t, getCorrelations(t, fi), 1)

		assert.Equal(t, http.StatusOK, post(t, fi, "["+curlConnected+"]").Code)
		assert.Len(t, getCorrelations(t, fi), 2)

		indented := strings.NewReplacer(`{"`, "{\n  \"", `,"`, ",\n  \"", `}`, "\n}").Replace(curlConnected)
		assert.Equal(t, http.StatusOK, post(t, fi, indented).Code)
		assert.Len(t, getCorrelations(t, fi), 3)
	})

	t.Run("should serve the identities it learned", func(t *testing.T) {
		fi := NewServer(WithClock(clock.NewMock()))
		post(t, fi, webListening+"\n"+curlConnected)

		response := get(t, fi, "/identities")
		require.Equal(t, http.StatusOK, response.Code)
		identities, err := marshal.UnmarshalIdentities(response.Body)
		require.NoError(t, err)

		want := map[string]string{
			"*:80":           "47fc31db38",
			"10.0.0.5:80":    "47fc31db38",
			"10.0.0.9:45000": "curl",
		}
		got := make(map[string]string, len(identities))
		for k, id := range identities {
			got[k.String()] = id.Key()
		}
		assert.Equal(t, want, got)
	})

	t.Run("should unregister closed sockets", func(t *testing.T) {
		fi := NewServer(WithClock(clock.NewMock()))
		post(t, fi, webListening)
		post(t, fi, webClosed)
		post(t, fi, curlConnected)

		assert.Empty(t, getCorrelations(t, fi))
		assert.Equal(t, 1, fi.Stats().Identities)
	})

	t.Run("should reject invalid payloads", func(t *testing.T) {
		fi := NewServer(WithClock(clock.NewMock()))

		response := post(t, fi, "totoro|5|tag:valid")
		assert.Equal(t, http.StatusBadRequest, response.Code)
		assert.Equal(t, "text/plain", response.Header().Get("Content-Type"))

		// an event without identity is skipped, the payload is still accepted
		response = post(t, fi, `{"type":"opened","local_ip":"10.0.0.1","local_port":22}`)
		assert.Equal(t, http.StatusOK, response.Code)

		stats := fi.Stats()
		assert.Equal(t, 2, stats.Posts)
		assert.Equal(t, 1, stats.Events)
		assert.Equal(t, 2, stats.Warnings)
		assert.Zero(t, stats.Identities)
	})

	t.Run("should reject unknown methods", func(t *testing.T) {
		fi := NewServer(WithClock(clock.NewMock()))

		request, err := http.NewRequest(http.MethodDelete, "/", nil)
		require.NoError(t, err)
		response := httptest.NewRecorder()
		fi.Handler().ServeHTTP(response, request)
		assert.Equal(t, http.StatusMethodNotAllowed, response.Code)

		assert.Equal(t, http.StatusOK, get(t, fi, "/collector/health").Code)
	})

	t.Run("should flush identities and correlations", func(t *testing.T) {
		fi := NewServer(WithClock(clock.NewMock()))
		post(t, fi, webListening+"\n"+curlConnected)

		request, err := http.NewRequest(http.MethodPost, "/collector/flush", nil)
		require.NoError(t, err)
		response := httptest.NewRecorder()
		fi.Handler().ServeHTTP(response, request)
		assert.Equal(t, http.StatusOK, response.Code)

		assert.Empty(t, getCorrelations(t, fi))
		assert.Zero(t, fi.Stats().Identities)
	})

	t.Run("should count into the given telemetry", func(t *testing.T) {
		tm := telemetry.NewBareComponent()
		fi := NewServer(WithClock(clock.NewMock()), WithTelemetry(tm))
		post(t, fi, webListening+"\n"+curlConnected)

		response := get(t, fi, "/collector/stats")
		require.Equal(t, http.StatusOK, response.Code)
		var stats api.Stats
		require.NoError(t, json.Unmarshal(response.Body.Bytes(), &stats))
		assert.Equal(t, api.Stats{Posts: 1, Events: 2, Correlations: 1, Identities: 3}, stats)

		correlations := tm.NewCounter("collector", "correlations", nil, "Connections whose both ends were attributed")
		assert.Equal(t, 1.0, correlations.Get())
	})
}

func TestIngestWildcardListenerOnHostAddresses(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{
			name: "bare process",
			body: `{"type":"opened","state":"LISTEN","local_ip":"0.0.0.0","local_port":80,"process":"nginx",` +
				`"container_local_ips":[],"host_local_ips":["10.0.0.1","192.168.1.4"]}`,
			want: []string{"*:80", "10.0.0.1:80", "192.168.1.4:80"},
		},
		{
			// a container is only reachable on its own addresses
			name: "container",
			body: `{"type":"opened","state":"LISTEN","local_ip":"0.0.0.0","local_port":80,"container_id":"47fc31db38",` +
				`"container_local_ips":["10.0.0.5"],"host_local_ips":["10.0.0.1"]}`,
			want: []string{"*:80", "10.0.0.5:80"},
		},
		{
			name: "bound address",
			body: `{"type":"opened","state":"LISTEN","local_ip":"10.0.0.1","local_port":22,"process":"sshd",` +
				`"container_local_ips":[],"host_local_ips":["10.0.0.1","192.168.1.4"]}`,
			want: []string{"10.0.0.1:22"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fi := NewServer(WithClock(clock.NewMock()))
			require.Equal(t, http.StatusOK, post(t, fi, tt.body).Code)

			var got []string
			for _, k := range fi.identities.Keys() {
				got = append(got, k.String())
			}
			assert.ElementsMatch(t, tt.want, got)
			assert.Zero(t, fi.Stats().Warnings)
		})
	}
}

func TestStartStop(t *testing.T) {
	ready := make(chan bool, 1)
	fi := NewServer(WithReadyChannel(ready))
	fi.Start()
	require.True(t, <-ready)
	require.NotEmpty(t, fi.URL())

	resp, err := http.Get(fi.URL() + "/collector/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, fi.Stop())
	assert.Empty(t, fi.URL())
	assert.Error(t, fi.Stop())
}

func TestIngestKeepsLastWriter(t *testing.T) {
	fi := NewServer(WithClock(clock.NewMock()))
	post(t, fi, webListening)
	post(t, fi, strings.ReplaceAll(webListening, "47fc31db38", "9a8b7c6d5e"))

	id, ok := fi.identities.Lookup(network.WildcardKey(80))
	require.True(t, ok)
	assert.Equal(t, "9a8b7c6d5e", id.Key())
}
