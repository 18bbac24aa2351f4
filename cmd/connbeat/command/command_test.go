// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package command

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeCommand(t *testing.T) {
	var got *GlobalParams
	factory := func(globalParams *GlobalParams) []*cobra.Command {
		return []*cobra.Command{{
			Use: "probe",
			RunE: func(*cobra.Command, []string) error {
				got = globalParams
				return nil
			},
		}}
	}

	cmd := MakeCommand([]SubcommandFactory{factory})
	cmd.SetArgs([]string{"probe", "-c", "/etc/connbeat/connbeat.yaml", "--pidfile", "/run/connbeat.pid", "--log-level", "debug"})
	require.NoError(t, cmd.Execute())

	require.NotNil(t, got)
	assert.Equal(t, "/etc/connbeat/connbeat.yaml", got.ConfFilePath)
	assert.Equal(t, "/run/connbeat.pid", got.PidFilePath)

	params := got.BundleParams()
	assert.Equal(t, "/etc/connbeat/connbeat.yaml", params.ConfFilePath)
	assert.Equal(t, "debug", params.LogLevel)
	assert.False(t, params.ConsoleOutput)
}

func TestMakeCommandUnknownSubcommand(t *testing.T) {
	cmd := MakeCommand(nil)
	cmd.SetArgs([]string{"nope"})
	cmd.SetOut(new(nopWriter))
	cmd.SetErr(new(nopWriter))
	assert.Error(t, cmd.Execute())
}

type nopWriter struct{}

func (*nopWriter) Write(p []byte) (int, error) { return len(p), nil }
