// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package checks

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/DataDog/connbeat-agent/pkg/network"
	"github.com/DataDog/connbeat-agent/pkg/network/encoding/marshal"
	"github.com/DataDog/connbeat-agent/pkg/telemetry"
	"github.com/DataDog/connbeat-agent/pkg/util/log"
	"github.com/DataDog/connbeat-agent/pkg/version"
)

// IdentitiesPath is where a collector serves the identities it knows
const IdentitiesPath = "/identities"

// PeersCheck pulls the identities registered by other hosts from a
// collector and merges them into the local identity map, so that
// connections to other hosts get a peer identity. Wildcard endpoints and
// endpoints on local addresses are left to local registrations.
type PeersCheck struct {
	url        string
	client     *http.Client
	correlator *network.Correlator

	merged telemetry.Counter
	errors telemetry.Counter
}

// NewPeersCheck returns a check pulling identities from the collector at baseURL
func NewPeersCheck(baseURL string, timeout time.Duration, correlator *network.Correlator, tm telemetry.Component) *PeersCheck {
	if tm == nil {
		tm = telemetry.NewNoopComponent()
	}
	return &PeersCheck{
		url:        strings.TrimSuffix(baseURL, "/") + IdentitiesPath,
		client:     &http.Client{Timeout: timeout},
		correlator: correlator,
		merged:     tm.NewCounter("peers", "identities_merged", nil, "Identities pulled from the collector"),
		errors:     tm.NewCounter("peers", "sync_errors", nil, "Failed pulls from the collector"),
	}
}

// Name returns the name of the PeersCheck.
func (p *PeersCheck) Name() string { return PeersCheckName }

// Run pulls the identities once
func (p *PeersCheck) Run(ctx context.Context) (*RunResult, error) {
	entries, err := p.fetch(ctx)
	if err != nil {
		p.errors.Inc()
		return nil, err
	}
	remote := make(map[network.EndpointKey]network.Identity, len(entries))
	for k, id := range entries {
		if k.IsWildcard() || p.correlator.IsLocalAddr(k.Addr) {
			continue
		}
		remote[k] = id
	}
	p.correlator.Identities().Merge(remote)
	p.merged.Add(float64(len(remote)))
	log.Debugf("merged %d of %d identities from %s", len(remote), len(entries), p.url)
	return &RunResult{}, nil
}

func (p *PeersCheck) fetch(ctx context.Context) (map[network.EndpointKey]network.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", marshal.ContentTypeJSON)
	req.Header.Set("User-Agent", fmt.Sprintf("connbeat-agent/%s", version.AgentVersion))

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code from %s: %d", p.url, resp.StatusCode)
	}
	entries, err := marshal.UnmarshalIdentities(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decoding identities from %s: %w", p.url, err)
	}
	return entries, nil
}

var _ Check = (*PeersCheck)(nil)
