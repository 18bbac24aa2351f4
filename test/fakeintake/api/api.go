// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package api holds the response types of the fakeintake testing endpoints
package api

import (
	"fmt"
	"time"
)

// Correlation is a connection whose both ends were attributed
type Correlation struct {
	Timestamp time.Time `json:"timestamp"`
	Hostname  string    `json:"hostname,omitempty"`
	// Local is the endpoint seen by the reporting agent, "*:port" for wildcard binds
	Local         string `json:"local"`
	LocalIdentity string `json:"local_identity"`
	Remote        string `json:"remote"`
	// RemoteIdentity is the identity that registered Remote
	RemoteIdentity string `json:"remote_identity"`
}

func (c Correlation) String() string {
	return fmt.Sprintf("%s (on %s) is connected to %s (on %s)", c.Local, c.LocalIdentity, c.Remote, c.RemoteIdentity)
}

// APIFakeIntakeCorrelationsGETResponse is the response of /collector/correlations
type APIFakeIntakeCorrelationsGETResponse struct {
	Correlations []Correlation `json:"correlations"`
}

// Stats counts what the collector received since it started
type Stats struct {
	Posts        int `json:"posts"`
	Events       int `json:"events"`
	Warnings     int `json:"warnings"`
	Correlations int `json:"correlations"`
	Identities   int `json:"identities"`
}
