// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package check

import (
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/connbeat-agent/cmd/connbeat/command"
	"github.com/DataDog/connbeat-agent/pkg/util/fxutil"
)

func newGlobalParamsTest(t *testing.T) *command.GlobalParams {
	configPath := path.Join(t.TempDir(), "connbeat.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("log_level: warn\n"), 0644))
	return &command.GlobalParams{ConfFilePath: configPath}
}

func TestCheckCommand(t *testing.T) {
	fxutil.TestOneShot(t, func() error {
		commands := Commands(newGlobalParamsTest(t))
		return commands[0].RunE(nil, []string{"check"})
	}, RunCheckCmd)
}

func TestCheckCommandInvalidPolls(t *testing.T) {
	commands := Commands(newGlobalParamsTest(t))
	require.NoError(t, commands[0].Flags().Set("polls", "0"))
	err := commands[0].RunE(nil, []string{"check"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--polls")
}
