// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package check implements 'connbeat check'.
package check

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/DataDog/connbeat-agent/cmd/connbeat/command"
	"github.com/DataDog/connbeat-agent/comp/connbeat"
	"github.com/DataDog/connbeat-agent/pkg/config"
	"github.com/DataDog/connbeat-agent/pkg/process/checks"
	"github.com/DataDog/connbeat-agent/pkg/util/fxutil"
)

// CliParams are the command-line arguments for this subcommand
type CliParams struct {
	*command.GlobalParams

	// Polls is the number of polls to run, one poll interval apart
	Polls int
	// Summary prints the counts of every poll on stderr
	Summary bool

	stdout io.Writer
	stderr io.Writer
}

// Commands returns a slice of subcommands for the 'connbeat' command.
func Commands(globalParams *command.GlobalParams) []*cobra.Command {
	cliParams := &CliParams{
		GlobalParams: globalParams,
		stdout:       os.Stdout,
		stderr:       os.Stderr,
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Poll the socket tables and print the events on stdout",
		Long: `Poll the socket tables and print one JSON event per line on stdout, whatever
output.url says. The first poll reports every socket currently open.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			if cliParams.Polls < 1 {
				return fmt.Errorf("--polls must be at least 1, got %d", cliParams.Polls)
			}
			params := globalParams.BundleParams()
			params.ConsoleOutput = true
			params.Stdout = cliParams.stdout
			return fxutil.OneShot(RunCheckCmd,
				fx.Supply(cliParams),
				fx.Supply(params),
				connbeat.Bundle(),
			)
		},
	}
	checkCmd.Flags().IntVar(&cliParams.Polls, "polls", 1, "number of polls to run")
	checkCmd.Flags().BoolVar(&cliParams.Summary, "summary", false, "print the event counts of every poll on stderr")

	return []*cobra.Command{checkCmd}
}

// RunCheckCmd runs the connections check cliParams.Polls times
func RunCheckCmd(cliParams *CliParams, cfg *config.AgentConfig, check *checks.ConnectionsCheck) error {
	for i := 0; i < cliParams.Polls; i++ {
		if i > 0 {
			time.Sleep(cfg.Connbeat.PollInterval)
		}
		res, err := check.Run(context.Background())
		if err != nil {
			return fmt.Errorf("poll %d: %w", i+1, err)
		}
		if cliParams.Summary {
			fmt.Fprintf(cliParams.stderr, "poll %d: %d opened, %d closed, %d refreshed, %d unresolved, %d filtered\n",
				i+1, res.Opened, res.Closed, res.Refreshed, res.Misses, res.Filtered)
		}
	}
	return nil
}
