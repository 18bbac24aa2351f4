// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package version implements 'connbeat version'.
package version

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/DataDog/connbeat-agent/cmd/connbeat/command"
	"github.com/DataDog/connbeat-agent/pkg/version"
)

// Commands returns a slice of subcommands for the 'connbeat' command.
func Commands(_ *command.GlobalParams) []*cobra.Command {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version info",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return WriteVersion(cmd.OutOrStdout())
		},
		SilenceUsage: true,
	}

	return []*cobra.Command{versionCmd}
}

// WriteVersion writes the version string to w
func WriteVersion(w io.Writer) error {
	_, err := fmt.Fprintln(w, color.CyanString(version.String()))
	return err
}
