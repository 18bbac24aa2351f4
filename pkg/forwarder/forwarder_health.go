// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-2020 Datadog, Inc.

package forwarder

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"

	"github.com/DataDog/connbeat-agent/pkg/telemetry"
	"github.com/DataDog/connbeat-agent/pkg/util/log"
	"github.com/DataDog/connbeat-agent/pkg/version"
)

var healthCheckInterval = 30 * time.Second

// forwarderHealth reports the health of the forwarder destination. The
// destination is unhealthy while its health endpoint does not answer 200.
type forwarderHealth struct {
	url      string
	client   *http.Client
	clock    clock.Clock
	interval time.Duration

	healthy      *atomic.Bool
	healthyGauge telemetry.Gauge

	stop    chan struct{}
	stopped chan struct{}
}

func newForwarderHealth(url string, client *http.Client, c clock.Clock, tm telemetry.Component) *forwarderHealth {
	return &forwarderHealth{
		url:          url,
		client:       client,
		clock:        c,
		interval:     healthCheckInterval,
		healthy:      atomic.NewBool(true),
		healthyGauge: tm.NewGauge("forwarder", "destination_healthy", nil, "1 when the destination health endpoint answers"),
	}
}

func (fh *forwarderHealth) Start() {
	fh.stop = make(chan struct{})
	fh.stopped = make(chan struct{})
	go fh.healthCheckLoop()
}

func (fh *forwarderHealth) Stop() {
	close(fh.stop)
	<-fh.stopped
}

// Healthy returns the result of the last check
func (fh *forwarderHealth) Healthy() bool {
	return fh.healthy.Load()
}

func (fh *forwarderHealth) healthCheckLoop() {
	defer close(fh.stopped)

	ticker := fh.clock.Ticker(fh.interval)
	defer ticker.Stop()

	fh.update()
	for {
		select {
		case <-fh.stop:
			return
		case <-ticker.C:
			fh.update()
		}
	}
}

func (fh *forwarderHealth) update() {
	err := fh.check()
	healthy := err == nil
	if fh.healthy.Swap(healthy) != healthy {
		if healthy {
			log.Infof("destination %s is healthy again", fh.url)
		} else {
			log.Warnf("destination %s is unhealthy: %s", fh.url, err)
		}
	}
	if healthy {
		fh.healthyGauge.Set(1)
	} else {
		fh.healthyGauge.Set(0)
	}
}

func (fh *forwarderHealth) check() error {
	ctx, cancel := context.WithTimeout(context.Background(), fh.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fh.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set(useragentHTTPHeaderKey, fmt.Sprintf("connbeat-agent/%s", version.AgentVersion))

	resp, err := fh.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected response code from the health endpoint: %v", resp.StatusCode)
	}
	return nil
}
