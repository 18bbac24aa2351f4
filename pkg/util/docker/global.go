// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package docker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/DataDog/connbeat-agent/pkg/util/log"
)

const (
	initAttempts      = 5
	initialRetryDelay = 1 * time.Second
	maxRetryDelay     = 30 * time.Second
	pingTimeout       = 5 * time.Second
)

var (
	globalDockerUtil      *DockerUtil
	globalDockerUtilMutex sync.Mutex

	// overridden in tests
	clientFactory = func() (Client, error) { return newClient() }
)

// GetDockerUtil returns a ready to use DockerUtil. It is backed by a shared
// singleton, the daemon connection is retried with a backoff until ctx is
// done or the attempts are exhausted.
func GetDockerUtil(ctx context.Context, cfg Config) (*DockerUtil, error) {
	globalDockerUtilMutex.Lock()
	defer globalDockerUtilMutex.Unlock()
	if globalDockerUtil != nil {
		return globalDockerUtil, nil
	}

	var cli Client
	err := retry.Do(
		func() error {
			c, err := clientFactory()
			if err != nil {
				return err
			}
			pctx, cancel := context.WithTimeout(ctx, pingTimeout)
			defer cancel()
			if _, err := c.Ping(pctx); err != nil {
				c.Close()
				return fmt.Errorf("%w: %v", ErrDockerNotAvailable, err)
			}
			cli = c
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(initAttempts),
		retry.Delay(initialRetryDelay),
		retry.MaxDelay(maxRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Debugf("Docker init error (attempt %d): %s", n+1, err)
		}),
	)
	if err != nil {
		return nil, err
	}

	globalDockerUtil = NewDockerUtil(cli, cfg)
	return globalDockerUtil, nil
}

// EnableTestingMode installs a DockerUtil backed by cli as the singleton
func EnableTestingMode(cli Client, cfg Config) *DockerUtil {
	globalDockerUtilMutex.Lock()
	defer globalDockerUtilMutex.Unlock()
	globalDockerUtil = NewDockerUtil(cli, cfg)
	return globalDockerUtil
}

// ResetGlobal closes and forgets the singleton
func ResetGlobal() {
	globalDockerUtilMutex.Lock()
	defer globalDockerUtilMutex.Unlock()
	if globalDockerUtil != nil {
		globalDockerUtil.Close() //nolint:errcheck
		globalDockerUtil = nil
	}
}
