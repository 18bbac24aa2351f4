// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package docker

import (
	"testing"

	"github.com/prometheus/procfs"
	"github.com/stretchr/testify/assert"
)

func TestContainerIDFromCgroupPath(t *testing.T) {
	for _, tc := range []struct {
		name     string
		path     string
		expected string
	}{
		{
			name:     "cgroupfs driver",
			path:     "/docker/a27f1331f6ddf72629811aac65207949fc858ea90100c438768b531a4c540419",
			expected: "a27f1331f6ddf72629811aac65207949fc858ea90100c438768b531a4c540419",
		},
		{
			name:     "systemd driver",
			path:     "/system.slice/docker-a27f1331f6ddf72629811aac65207949fc858ea90100c438768b531a4c540419.scope",
			expected: "a27f1331f6ddf72629811aac65207949fc858ea90100c438768b531a4c540419",
		},
		{
			name:     "kubepods",
			path:     "/kubepods/besteffort/pod2baa3444-4d37-11e7-bd2f-080027d2bf10/47fc31db38b4fa0f4db44b99d0cad10e3cd4d5f142135a7721c1c95c1aadfb2e",
			expected: "47fc31db38b4fa0f4db44b99d0cad10e3cd4d5f142135a7721c1c95c1aadfb2e",
		},
		{
			name:     "podman",
			path:     "/machine.slice/libpod-3b2f9bb3c6e7a3cd0f3a9e8c0d53c9f3a7e1df1e6d3dce5f4c121d29fb0e7a36.scope/",
			expected: "3b2f9bb3c6e7a3cd0f3a9e8c0d53c9f3a7e1df1e6d3dce5f4c121d29fb0e7a36",
		},
		{
			name: "host process",
			path: "/user.slice/user-1000.slice/session-2.scope",
		},
		{
			name: "root",
			path: "/",
		},
		{
			name: "short id",
			path: "/docker/a27f1331f6dd",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ContainerIDFromCgroupPath(tc.path))
		})
	}
}

func TestContainerIDFromCgroups(t *testing.T) {
	cgroups := []procfs.Cgroup{
		{HierarchyID: 12, Controllers: []string{"pids"}, Path: "/"},
		{HierarchyID: 6, Controllers: []string{"memory"}, Path: "/docker/a27f1331f6ddf72629811aac65207949fc858ea90100c438768b531a4c540419"},
	}
	assert.Equal(t, "a27f1331f6ddf72629811aac65207949fc858ea90100c438768b531a4c540419", ContainerIDFromCgroups(cgroups))
	assert.Empty(t, ContainerIDFromCgroups(cgroups[:1]))
	assert.Empty(t, ContainerIDFromCgroups(nil))
}
