// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package checks holds the periodic work of the agent
package checks

import "context"

const (
	// ConnectionsCheckName is the name of the connections check
	ConnectionsCheckName = "connections"
	// PeersCheckName is the name of the identity federation check
	PeersCheckName = "peers"
)

// Check is an interface for Agent checks that collect data. Run is called
// on every tick, never concurrently with itself.
type Check interface {
	Name() string
	Run(ctx context.Context) (*RunResult, error)
}

// RunResult sums up one run of a check
type RunResult struct {
	Opened        int
	Closed        int
	Refreshed     int
	Filtered      int
	Misses        int
	ParseWarnings int
	Submitted     int
	Dropped       int
}

// Events returns the number of events handed to the sink
func (r *RunResult) Events() int {
	return r.Submitted + r.Dropped
}
