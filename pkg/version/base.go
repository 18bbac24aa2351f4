// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package version defines the version of the agent
package version

import (
	"fmt"
	"runtime"
)

// AgentVersion contains the version of the Agent.
// It is populated at build time using build flags:
// -ldflags "-X github.com/DataDog/connbeat-agent/pkg/version.AgentVersion=x.y.z"
var AgentVersion string

// Commit is populated with the short commit hash from which the Agent was built
var Commit string

var agentVersionDefault = "0.1.0"

func init() {
	if AgentVersion == "" {
		AgentVersion = agentVersionDefault
	}
}

// String returns the version line printed by the version command
func String() string {
	commit := ""
	if Commit != "" {
		commit = fmt.Sprintf(" - Commit: %s", Commit)
	}
	return fmt.Sprintf("connbeat-agent %s%s - Go version: %s", AgentVersion, commit, runtime.Version())
}
