// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package command holds command related files
package command

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/DataDog/connbeat-agent/comp/connbeat"
)

// GlobalParams contains the values of agent-global Cobra flags.
//
// A pointer to this type is passed to SubcommandFactory's, but its contents
// are not valid until Cobra calls the subcommand's Run or RunE function.
type GlobalParams struct {
	// ConfFilePath holds the path to the YAML configuration file, the
	// defaults and the environment are used when empty
	ConfFilePath string

	// PidFilePath is written with the agent pid while it runs
	PidFilePath string

	// LogLevel overrides the configured log level
	LogLevel string

	// NoColor is a flag to disable color output
	NoColor bool
}

// BundleParams returns the parameters of the connbeat bundle
func (g *GlobalParams) BundleParams() connbeat.Params {
	return connbeat.Params{
		ConfFilePath: g.ConfFilePath,
		LogLevel:     g.LogLevel,
	}
}

// SubcommandFactory returns a sub-command factory
type SubcommandFactory func(globalParams *GlobalParams) []*cobra.Command

// MakeCommand makes the top-level Cobra command for this command.
func MakeCommand(subcommandFactories []SubcommandFactory) *cobra.Command {
	var globalParams GlobalParams

	connbeatCmd := &cobra.Command{
		Use:   "connbeat [command]",
		Short: "Connbeat reports the TCP connections of a host.",
		Long: `
Connbeat polls the TCP socket tables of the host and of its containers,
attributes every socket to the process or container holding it and emits
an event for every connection opened or closed.`,
		SilenceUsage: true,
	}

	connbeatCmd.PersistentFlags().StringVarP(&globalParams.ConfFilePath, "cfgpath", "c", "", "path to connbeat.yaml")
	connbeatCmd.PersistentFlags().StringVarP(&globalParams.PidFilePath, "pidfile", "p", "", "path to the pidfile")
	connbeatCmd.PersistentFlags().StringVar(&globalParams.LogLevel, "log-level", "", "override the configured log level")
	connbeatCmd.PersistentFlags().BoolVarP(&globalParams.NoColor, "no-color", "n", false, "disable color output")

	connbeatCmd.PersistentPreRun = func(*cobra.Command, []string) {
		if globalParams.NoColor {
			color.NoColor = true
		}
	}
	for _, factory := range subcommandFactories {
		for _, subcmd := range factory(&globalParams) {
			connbeatCmd.AddCommand(subcmd)
		}
	}

	return connbeatCmd
}
