// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	defer func(v, c string) { AgentVersion, Commit = v, c }(AgentVersion, Commit)

	AgentVersion = "1.2.3"
	Commit = ""
	assert.Equal(t, "connbeat-agent 1.2.3 - Go version: "+runtime.Version(), String())

	Commit = "abcdef"
	assert.Contains(t, String(), "1.2.3 - Commit: abcdef")
}
