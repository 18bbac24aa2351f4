// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package docker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTryProviders(t *testing.T) {
	failing := hostIPProvider{"failing", func() ([]string, error) { return nil, errors.New("nope") }}
	working := hostIPProvider{"working", func() ([]string, error) { return []string{"10.0.0.1"}, nil }}
	never := hostIPProvider{"never", func() ([]string, error) { panic("should not be called") }}

	assert.Equal(t, []string{"10.0.0.1"}, tryProviders([]hostIPProvider{failing, working, never}))
	assert.Nil(t, tryProviders([]hostIPProvider{failing}))
}

func TestGetDockerHostIPs(t *testing.T) {
	defer func(f func(string) ([]string, error)) { lookupHost = f }(lookupHost)
	lookupHost = func(string) ([]string, error) { return []string{"127.0.1.1", "10.1.2.3"}, nil }

	for _, tc := range []struct {
		name       string
		configured []string
		env        string
		expected   []string
	}{
		{
			name:       "config wins",
			configured: []string{"192.168.1.10"},
			env:        "10.9.9.9",
			expected:   []string{"192.168.1.10"},
		},
		{
			name:     "environment",
			env:      "10.9.9.9, 10.9.9.10",
			expected: []string{"10.9.9.9", "10.9.9.10"},
		},
		{
			name:       "invalid config falls through",
			configured: []string{"not-an-ip"},
			expected:   []string{"10.1.2.3"},
		},
		{
			name:     "hostname resolution skips loopback",
			expected: []string{"10.1.2.3"},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			hostCache.Flush()
			t.Setenv(hostIPEnv, tc.env)
			assert.Equal(t, tc.expected, GetDockerHostIPs(tc.configured, "node-1"))
		})
	}
}

func TestGetDockerHost(t *testing.T) {
	hostCache.Flush()
	t.Setenv(hostHostnameEnv, "docker-node")
	host := GetDockerHost([]string{"10.0.0.5"})
	assert.Equal(t, "docker-node", host.Hostname)
	assert.Equal(t, []string{"10.0.0.5"}, host.IPs)
}
