// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

//go:build !linux

// Package tcpdiag is not supported on this platform, the /proc tables are
// read directly
package tcpdiag

import (
	"github.com/DataDog/connbeat-agent/pkg/network/proctcp"
	"github.com/DataDog/connbeat-agent/pkg/util/log"
)

// HostSources returns the /proc sources of the host. The dump argument is
// ignored.
func HostSources(procRoot string, overrides proctcp.TablePaths, _ interface{}) []proctcp.Source {
	log.Info("sock_diag is only supported on linux, reading the /proc tables")
	return proctcp.HostSources(procRoot, overrides)
}
