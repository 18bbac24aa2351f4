// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package lsof

import "errors"

// ErrSocketNotFound is returned when no process holds a descriptor on a socket
var ErrSocketNotFound = errors.New("socket not found")
