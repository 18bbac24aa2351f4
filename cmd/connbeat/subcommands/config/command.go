// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package config implements 'connbeat config'.
package config

import (
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/DataDog/connbeat-agent/cmd/connbeat/command"
	"github.com/DataDog/connbeat-agent/comp/connbeat"
	pkgconfig "github.com/DataDog/connbeat-agent/pkg/config"
	"github.com/DataDog/connbeat-agent/pkg/util/fxutil"
)

// Commands returns a slice of subcommands for the 'connbeat' command.
func Commands(globalParams *command.GlobalParams) []*cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long:  `Print the configuration connbeat would run with: the file, the environment and the defaults merged.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return fxutil.OneShot(printConfig,
				fx.Supply(globalParams.BundleParams()),
				fx.Provide(func() io.Writer { return writerOf(cmd) }),
				connbeat.Bundle(),
			)
		},
	}

	return []*cobra.Command{configCmd}
}

func writerOf(cmd *cobra.Command) io.Writer {
	if cmd == nil {
		return os.Stdout
	}
	return cmd.OutOrStdout()
}

func printConfig(w io.Writer, cfg *pkgconfig.AgentConfig) error {
	out, err := cfg.YAML()
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}
