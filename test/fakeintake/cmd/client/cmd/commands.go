// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DataDog/connbeat-agent/pkg/network/encoding/marshal"
	"github.com/DataDog/connbeat-agent/test/fakeintake/client"
)

// NewCorrelationsCommand returns the correlations command
func NewCorrelationsCommand(cl **client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "correlations",
		Short: "Print the connections the collector correlated",
		RunE: func(cmd *cobra.Command, _ []string) error {
			correlations, err := (*cl).GetCorrelations()
			if err != nil {
				return err
			}
			for _, c := range correlations {
				fmt.Fprintln(cmd.OutOrStdout(), c.String())
			}
			return nil
		},
	}
}

// NewIdentitiesCommand returns the identities command
func NewIdentitiesCommand(cl **client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "identities",
		Short: "Print the endpoint registrations of the collector",
		RunE: func(cmd *cobra.Command, _ []string) error {
			identities, err := (*cl).GetIdentities()
			if err != nil {
				return err
			}
			for _, e := range marshal.IdentityEntries(identities) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", e.Endpoint, e.Identity.Key())
			}
			return nil
		},
	}
}

// NewStatsCommand returns the stats command
func NewStatsCommand(cl **client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the collector counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := (*cl).GetStats()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "posts: %d\nevents: %d\nwarnings: %d\ncorrelations: %d\nidentities: %d\n",
				stats.Posts, stats.Events, stats.Warnings, stats.Correlations, stats.Identities)
			return nil
		},
	}
}

// NewFlushCommand returns the flush command
func NewFlushCommand(cl **client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Clear identities and correlations",
		RunE: func(*cobra.Command, []string) error {
			return (*cl).FlushServer()
		},
	}
}
