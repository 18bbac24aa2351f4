// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package client queries the testing endpoints of a fake collector
package client

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/DataDog/connbeat-agent/pkg/network"
	"github.com/DataDog/connbeat-agent/pkg/network/encoding/marshal"
	"github.com/DataDog/connbeat-agent/test/fakeintake/api"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client talks to a fake collector
type Client struct {
	fakeIntakeURL string
	http          *http.Client
}

// NewClient creates a new fake collector client
// fakeIntakeURL: the base url of the fake collector
func NewClient(fakeIntakeURL string) *Client {
	return &Client{
		fakeIntakeURL: strings.TrimSuffix(fakeIntakeURL, "/"),
		http:          http.DefaultClient,
	}
}

func (c *Client) get(route string, out interface{}) error {
	resp, err := c.http.Get(c.fakeIntakeURL + route)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("error querying %s, status code %s", route, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

// GetServerHealth returns an error when the collector is not healthy
func (c *Client) GetServerHealth() error {
	resp, err := c.http.Get(c.fakeIntakeURL + "/collector/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("error code %v", resp.StatusCode)
	}
	return nil
}

// GetCorrelations returns every correlation found by the collector
func (c *Client) GetCorrelations() ([]api.Correlation, error) {
	var resp api.APIFakeIntakeCorrelationsGETResponse
	if err := c.get("/collector/correlations", &resp); err != nil {
		return nil, err
	}
	return resp.Correlations, nil
}

// GetStats returns the collector counters
func (c *Client) GetStats() (api.Stats, error) {
	var stats api.Stats
	err := c.get("/collector/stats", &stats)
	return stats, err
}

// GetIdentities returns the endpoint registrations of the collector
func (c *Client) GetIdentities() (map[network.EndpointKey]network.Identity, error) {
	resp, err := c.http.Get(c.fakeIntakeURL + "/identities")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("error querying identities, status code %s", resp.Status)
	}
	return marshal.UnmarshalIdentities(resp.Body)
}

// FlushServer clears identities and correlations on the collector
func (c *Client) FlushServer() error {
	resp, err := c.http.Post(c.fakeIntakeURL+"/collector/flush", "text/plain", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("error code %v", resp.StatusCode)
	}
	return nil
}
