// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package subcommands holds the subcommands for the connbeat command
package subcommands

import (
	"github.com/DataDog/connbeat-agent/cmd/connbeat/command"
	"github.com/DataDog/connbeat-agent/cmd/connbeat/subcommands/check"
	"github.com/DataDog/connbeat-agent/cmd/connbeat/subcommands/config"
	"github.com/DataDog/connbeat-agent/cmd/connbeat/subcommands/run"
	"github.com/DataDog/connbeat-agent/cmd/connbeat/subcommands/version"
)

// ConnbeatSubcommands returns all subcommands for the connbeat command
func ConnbeatSubcommands() []command.SubcommandFactory {
	return []command.SubcommandFactory{
		run.Commands,
		check.Commands,
		config.Commands,
		version.Commands,
	}
}
