// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package fxutil

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
)

// TestRun checks that the app f would run through Run has every dependency
// it needs. Nothing is started.
func TestRun(t testing.TB, f func() error) {
	var called bool
	fxAppTestOverride = func(_ interface{}, opts []fx.Option) error {
		called = true
		return fx.ValidateApp(opts...)
	}
	defer func() { fxAppTestOverride = nil }()

	require.NoError(t, f())
	require.True(t, called, "fxutil.Run was not called")
}

// TestOneShot checks that f calls OneShot with expected and that the app
// can supply every argument of expected. expected is not called.
func TestOneShot(t testing.TB, f func() error, expected interface{}) {
	var called bool
	fxAppTestOverride = func(fn interface{}, opts []fx.Option) error {
		called = true
		require.Equal(t,
			reflect.ValueOf(expected).Pointer(), reflect.ValueOf(fn).Pointer(),
			"OneShot was called with an unexpected function")
		return fx.ValidateApp(append(opts, newDelayedFxInvocation(fn).option())...)
	}
	defer func() { fxAppTestOverride = nil }()

	require.NoError(t, f())
	require.True(t, called, "fxutil.OneShot was not called")
}
