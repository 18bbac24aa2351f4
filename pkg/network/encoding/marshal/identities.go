// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package marshal

import (
	"fmt"
	"io"
	"sort"

	"github.com/DataDog/connbeat-agent/pkg/network"
)

// IdentityEntry is one endpoint registration shared between peers
type IdentityEntry struct {
	Endpoint string          `json:"endpoint"`
	Identity IdentityPayload `json:"identity"`
}

// IdentityEntries converts a registration set to its wire form, sorted by endpoint
func IdentityEntries(m map[network.EndpointKey]network.Identity) []IdentityEntry {
	entries := make([]IdentityEntry, 0, len(m))
	for k, id := range m {
		entries = append(entries, IdentityEntry{Endpoint: k.String(), Identity: *FromIdentity(id)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Endpoint < entries[j].Endpoint })
	return entries
}

// MarshalIdentities writes a registration set as a JSON array
func MarshalIdentities(m map[network.EndpointKey]network.Identity, w io.Writer) error {
	return json.NewEncoder(w).Encode(IdentityEntries(m))
}

// UnmarshalIdentities reads a registration set. An entry with an invalid
// endpoint fails the whole payload.
func UnmarshalIdentities(r io.Reader) (map[network.EndpointKey]network.Identity, error) {
	var entries []IdentityEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decoding identities: %w", err)
	}

	out := make(map[network.EndpointKey]network.Identity, len(entries))
	for _, e := range entries {
		k, err := network.ParseEndpointKey(e.Endpoint)
		if err != nil {
			return nil, err
		}
		out[k] = e.Identity.ToIdentity()
	}
	return out, nil
}
