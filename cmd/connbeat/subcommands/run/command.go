// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package run implements 'connbeat run'.
package run

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/DataDog/connbeat-agent/cmd/connbeat/command"
	"github.com/DataDog/connbeat-agent/comp/connbeat"
	"github.com/DataDog/connbeat-agent/pkg/pidfile"
	"github.com/DataDog/connbeat-agent/pkg/process/runner"
	"github.com/DataDog/connbeat-agent/pkg/telemetry"
	"github.com/DataDog/connbeat-agent/pkg/util/fxutil"
	"github.com/DataDog/connbeat-agent/pkg/util/log"
	"github.com/DataDog/connbeat-agent/pkg/version"
)

// Commands returns a slice of subcommands for the 'connbeat' command.
func Commands(globalParams *command.GlobalParams) []*cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start connbeat",
		Long:  `Poll the socket tables until SIGINT or SIGTERM, emitting a connection event for every change.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return fxutil.Run(
				fx.Supply(globalParams.BundleParams()),
				fx.Supply(globalParams),
				connbeat.Bundle(),
				fx.Invoke(start),
			)
		},
	}

	return []*cobra.Command{runCmd}
}

type dependencies struct {
	fx.In

	Lc           fx.Lifecycle
	GlobalParams *command.GlobalParams
	Runner       *runner.CheckRunner
	// nil when telemetry is disabled
	Telemetry *telemetry.Server
}

func start(deps dependencies) {
	pidFilePath := deps.GlobalParams.PidFilePath

	deps.Lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Infof("starting %s", version.String())
			if pidFilePath == "" {
				return nil
			}
			if err := pidfile.WritePID(pidFilePath); err != nil {
				return log.Errorf("error while writing PID file, exiting: %v", err)
			}
			log.Infof("pid '%d' written to pid file '%s'", os.Getpid(), pidFilePath)
			return nil
		},
		OnStop: func(context.Context) error {
			if pidFilePath != "" {
				if err := pidfile.Remove(pidFilePath); err != nil {
					log.Warnf("could not remove the pid file %s: %s", pidFilePath, err)
				}
			}
			log.Info("connbeat stopped")
			return nil
		},
	})
}
