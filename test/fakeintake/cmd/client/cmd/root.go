// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package cmd package for the fakeintake client CLI
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/DataDog/connbeat-agent/test/fakeintake/client"
)

// NewCommand returns the root command for the fakeintakectl CLI
func NewCommand() (cmd *cobra.Command) {
	var url string
	var cl *client.Client

	cmd = &cobra.Command{
		Use:          "fakeintakectl",
		Short:        "fake collector client CLI",
		Long:         `fakeintakectl is a CLI for interacting with fake connbeat collectors.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cl = client.NewClient(url)

			return cl.GetServerHealth()
		},
	}

	cmd.AddCommand(
		NewCorrelationsCommand(&cl),
		NewIdentitiesCommand(&cl),
		NewStatsCommand(&cl),
		NewFlushCommand(&cl),
	)

	cmd.PersistentFlags().StringVar(&url, "url", "", "fake collector url")
	if err := cmd.MarkPersistentFlagRequired("url"); err != nil {
		panic(err)
	}

	return cmd
}
