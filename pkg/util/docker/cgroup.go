// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package docker

import (
	"regexp"
	"strings"

	"github.com/prometheus/procfs"
)

// containerRe matches a 64 hex characters container id as the last element
// of a cgroup path, with the scope decorations of the systemd driver
var containerRe = regexp.MustCompile(`(?:^|[/-])([0-9a-f]{64})(?:\.scope)?$`)

// ContainerIDFromCgroupPath extracts the container id from a cgroup path, eg.
//
//	/docker/a27f1331f6dd...
//	/system.slice/docker-a27f1331f6dd....scope
//	/kubepods/besteffort/pod2baa.../47fc31db38b4...
//	/machine.slice/libpod-3b2f....scope
func ContainerIDFromCgroupPath(path string) string {
	path = strings.TrimRight(path, "/")
	if m := containerRe.FindStringSubmatch(path); m != nil {
		return m[1]
	}
	return ""
}

// ContainerIDFromCgroups returns the container id the first cgroup hierarchy
// places the process in, or "" for uncontained processes
func ContainerIDFromCgroups(cgroups []procfs.Cgroup) string {
	for _, cg := range cgroups {
		if id := ContainerIDFromCgroupPath(cg.Path); id != "" {
			return id
		}
	}
	return ""
}
