// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package main implements the connbeat agent binary
package main

import (
	"os"

	"github.com/DataDog/connbeat-agent/cmd/connbeat/command"
	"github.com/DataDog/connbeat-agent/cmd/connbeat/subcommands"
	"github.com/DataDog/connbeat-agent/pkg/util/log"
)

func main() {
	cmd := command.MakeCommand(subcommands.ConnbeatSubcommands())
	err := cmd.Execute()
	log.Flush()
	if err != nil {
		os.Exit(1)
	}
}
