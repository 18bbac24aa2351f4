// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package fxutil runs fx applications for the agent commands
package fxutil

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/multierr"

	"github.com/DataDog/connbeat-agent/pkg/util/log"
)

// AppTimeout bounds the start and the stop of an app
const AppTimeout = 5 * time.Minute

// Run runs an fx.App using the supplied options until it receives SIGINT or
// SIGTERM, returning any errors.
//
// This differs from fx.App#Run in that it returns errors instead of exiting
// the process.
func Run(opts ...fx.Option) error {
	if fxAppTestOverride != nil {
		return fxAppTestOverride(func() {}, opts)
	}

	app := fx.New(append([]fx.Option{appTimeouts(), fx.NopLogger}, opts...)...)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(context.Background(), app.StartTimeout())
	defer cancel()

	if err := app.Start(startCtx); err != nil {
		return multierr.Append(err, stopApp(app))
	}

	sig := <-app.Done()
	log.Infof("received signal '%s', shutting down...", sig)

	return stopApp(app)
}

// OneShot runs fn with its arguments supplied by an fx.App built from opts.
// The app is started before fn is called and stopped once it returns.
func OneShot(fn interface{}, opts ...fx.Option) error {
	if fxAppTestOverride != nil {
		return fxAppTestOverride(fn, opts)
	}

	delayed := newDelayedFxInvocation(fn)
	opts = append([]fx.Option{appTimeouts(), fx.NopLogger}, opts...)
	app := fx.New(append(opts, delayed.option())...)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(context.Background(), app.StartTimeout())
	defer cancel()

	if err := app.Start(startCtx); err != nil {
		return multierr.Append(err, stopApp(app))
	}

	err := delayed.call()
	return multierr.Append(err, stopApp(app))
}

func appTimeouts() fx.Option {
	return fx.Options(fx.StartTimeout(AppTimeout), fx.StopTimeout(AppTimeout))
}

func stopApp(app *fx.App) error {
	stopCtx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancel()
	return app.Stop(stopCtx)
}
