// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package docker

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/DataDog/connbeat-agent/pkg/network"
	"github.com/DataDog/connbeat-agent/pkg/util/log"
)

const (
	hostIPEnv       = "DOCKERHOST_IP"
	hostHostnameEnv = "DOCKERHOST_HOSTNAME"
	hostIPsCacheKey = "hostIPs"
)

var hostCache = cache.New(2*time.Hour, 10*time.Minute)

// lookupHost is overridden in tests
var lookupHost = net.LookupHost

// GetDockerHost describes the machine the containers run on. configured
// takes precedence over every other source of host IPs.
func GetDockerHost(configured []string) network.DockerHost {
	hostname := os.Getenv(hostHostnameEnv)
	if hostname == "" {
		hostname, _ = os.Hostname()
	}
	return network.DockerHost{
		Hostname: hostname,
		IPs:      GetDockerHostIPs(configured, hostname),
	}
}

// GetDockerHostIPs returns the IP addresses of the host
func GetDockerHostIPs(configured []string, hostname string) []string {
	if cachedIPs, found := hostCache.Get(hostIPsCacheKey); found {
		return cachedIPs.([]string)
	}

	ips := tryProviders([]hostIPProvider{
		{"config", func() ([]string, error) { return validateIPs(configured) }},
		{"environment", getHostIPsFromEnv},
		{"hostname resolution", func() ([]string, error) { return resolveHostname(hostname) }},
	})
	if len(ips) == 0 {
		log.Warnf("could not get host IP")
		ips = []string{}
	}
	hostCache.Set(hostIPsCacheKey, ips, cache.DefaultExpiration)
	return ips
}

type hostIPProvider struct {
	name     string
	provider func() ([]string, error)
}

func tryProviders(providers []hostIPProvider) []string {
	for _, attempt := range providers {
		log.Debugf("attempting to get host ip from source: %s", attempt.name)
		ips, err := attempt.provider()
		if err != nil {
			log.Infof("could not deduce host IP from source %s: %s", attempt.name, err)
		} else {
			return ips
		}
	}
	return nil
}

func getHostIPsFromEnv() ([]string, error) {
	raw := os.Getenv(hostIPEnv)
	if raw == "" {
		return nil, fmt.Errorf("%s is not set", hostIPEnv)
	}
	return validateIPs(strings.Split(raw, ","))
}

func resolveHostname(hostname string) ([]string, error) {
	if hostname == "" {
		return nil, fmt.Errorf("no hostname")
	}
	addrs, err := lookupHost(hostname)
	if err != nil {
		return nil, err
	}
	var ips []string
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && !ip.IsLoopback() {
			ips = append(ips, a)
		}
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("%s only resolves to loopback addresses", hostname)
	}
	return ips, nil
}

func validateIPs(raw []string) ([]string, error) {
	var ips []string
	for _, ipStr := range raw {
		ipStr = strings.TrimSpace(ipStr)
		if ipStr == "" {
			continue
		}
		if net.ParseIP(ipStr) == nil {
			return nil, fmt.Errorf("could not parse IP: %s", ipStr)
		}
		ips = append(ips, ipStr)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no hostIPs were configured")
	}
	return ips, nil
}
