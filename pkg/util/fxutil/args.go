// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package fxutil

import (
	"reflect"

	"go.uber.org/fx"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// delayedFxInvocation captures the arguments of fn from an fx.Invoke and
// calls fn later, once the app has started.
type delayedFxInvocation struct {
	fn   reflect.Value
	args []reflect.Value
}

// newDelayedFxInvocation panics when fn is not a function returning nothing or an error
func newDelayedFxInvocation(fn interface{}) *delayedFxInvocation {
	t := reflect.TypeOf(fn)
	if t == nil || t.Kind() != reflect.Func {
		panic("delayedFxInvocation requires a function")
	}
	if t.NumOut() > 1 || (t.NumOut() == 1 && t.Out(0) != errorType) {
		panic("delayedFxInvocation requires a function returning nothing or an error")
	}
	return &delayedFxInvocation{fn: reflect.ValueOf(fn)}
}

// option returns an fx.Invoke recording the arguments fx provides
func (i *delayedFxInvocation) option() fx.Option {
	t := i.fn.Type()
	in := make([]reflect.Type, t.NumIn())
	for n := range in {
		in[n] = t.In(n)
	}
	capture := reflect.MakeFunc(reflect.FuncOf(in, nil, t.IsVariadic()), func(args []reflect.Value) []reflect.Value {
		i.args = args
		return nil
	})
	return fx.Invoke(capture.Interface())
}

// call calls fn with the recorded arguments
func (i *delayedFxInvocation) call() error {
	var res []reflect.Value
	if i.fn.Type().IsVariadic() {
		res = i.fn.CallSlice(i.args)
	} else {
		res = i.fn.Call(i.args)
	}
	if len(res) == 1 && !res[0].IsNil() {
		return res[0].Interface().(error)
	}
	return nil
}
