// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package main runs a fake collector until it is interrupted
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/DataDog/connbeat-agent/pkg/config"
	"github.com/DataDog/connbeat-agent/pkg/telemetry"
	"github.com/DataDog/connbeat-agent/pkg/util/log"
	"github.com/DataDog/connbeat-agent/test/fakeintake/server"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var (
		port          int
		logLevel      string
		telemetryAddr string
	)

	cmd := &cobra.Command{
		Use:          "fakeintake",
		Short:        "fake connbeat collector",
		Long:         `fakeintake accepts connbeat events and logs the connections whose both ends it could attribute.`,
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := config.SetupLogger(logLevel, ""); err != nil {
				return err
			}
			defer log.Flush()

			tm := telemetry.NewComponent()
			if telemetryAddr != "" {
				ts, err := telemetry.NewServer(telemetryAddr, tm)
				if err != nil {
					return err
				}
				ts.Start()
			}

			ready := make(chan bool, 1)
			fi := server.NewServer(server.WithPort(port), server.WithReadyChannel(ready), server.WithTelemetry(tm))
			fi.Start()
			if ok := <-ready; !ok {
				return fmt.Errorf("could not listen on port %d", port)
			}
			log.Infof("serving at %s", fi.URL())

			signals := make(chan os.Signal, 1)
			signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
			sig := <-signals
			log.Infof("received signal '%s', shutting down...", sig)
			return fi.Stop()
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 7070, "port to listen on")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
	cmd.Flags().StringVar(&telemetryAddr, "telemetry-address", "", "serve collector metrics on this address")
	return cmd
}
