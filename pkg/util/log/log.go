// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package log is the global leveled logger used by every connbeat component.
package log

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/cihub/seelog"
)

var (
	logger *agentLogger

	// Lines logged before SetupLogger is called are kept here and replayed
	// once the logger exists. Loading the configuration happens before the
	// logger can be built, so this buffer is short lived.
	logsBuffer           = []func(){}
	bufferLogsBeforeInit = true
	bufferMutex          sync.Mutex
	defaultStackDepth    = 3
)

type agentLogger struct {
	inner seelog.LoggerInterface
	level seelog.LogLevel
	l     sync.RWMutex
}

// SetupLogger configures the logger singleton with a seelog interface
func SetupLogger(l seelog.LoggerInterface, level string) {
	logger = &agentLogger{
		inner: l,
	}

	lvl, ok := seelog.LogLevelFromString(strings.ToLower(level))
	if !ok {
		lvl = seelog.InfoLvl
	}
	logger.level = lvl

	// The exported functions below add two frames between the caller and
	// seelog, skip them so file:line points at the caller.
	logger.inner.SetAdditionalStackDepth(defaultStackDepth) //nolint:errcheck

	bufferMutex.Lock()
	bufferLogsBeforeInit = false
	defer bufferMutex.Unlock()
	for _, logLine := range logsBuffer {
		logLine()
	}
	logsBuffer = []func(){}
}

func addLogToBuffer(logHandle func()) {
	bufferMutex.Lock()
	defer bufferMutex.Unlock()

	logsBuffer = append(logsBuffer, logHandle)
}

func (sw *agentLogger) replaceInnerLogger(l seelog.LoggerInterface) seelog.LoggerInterface {
	sw.l.Lock()
	defer sw.l.Unlock()

	old := sw.inner
	sw.inner = l

	return old
}

func (sw *agentLogger) changeLogLevel(level string) error {
	sw.l.Lock()
	defer sw.l.Unlock()

	lvl, ok := seelog.LogLevelFromString(strings.ToLower(level))
	if !ok {
		return errors.New("bad log level")
	}
	sw.level = lvl
	return nil
}

func (sw *agentLogger) shouldLog(level seelog.LogLevel) bool {
	sw.l.RLock()
	shouldLog := level >= sw.level
	sw.l.RUnlock()

	return shouldLog
}

func (sw *agentLogger) trace(s string) {
	sw.l.Lock()
	defer sw.l.Unlock()
	sw.inner.Trace(s)
}

func (sw *agentLogger) debug(s string) {
	sw.l.Lock()
	defer sw.l.Unlock()
	sw.inner.Debug(s)
}

func (sw *agentLogger) info(s string) {
	sw.l.Lock()
	defer sw.l.Unlock()
	sw.inner.Info(s)
}

func (sw *agentLogger) warn(s string) error {
	sw.l.Lock()
	defer sw.l.Unlock()
	return sw.inner.Warn(s)
}

func (sw *agentLogger) error(s string) error {
	sw.l.Lock()
	defer sw.l.Unlock()
	return sw.inner.Error(s)
}

func (sw *agentLogger) critical(s string) error {
	sw.l.Lock()
	defer sw.l.Unlock()
	return sw.inner.Critical(s)
}

func (sw *agentLogger) getLogLevel() seelog.LogLevel {
	sw.l.RLock()
	defer sw.l.RUnlock()

	return sw.level
}

func buildLogEntry(v ...interface{}) string {
	var fmtBuffer bytes.Buffer

	for i := 0; i < len(v)-1; i++ {
		fmtBuffer.WriteString("%v ")
	}
	fmtBuffer.WriteString("%v")

	return fmt.Sprintf(fmtBuffer.String(), v...)
}

func ready() bool {
	return logger != nil && logger.inner != nil
}

func log(logLevel seelog.LogLevel, bufferFunc func(), logFunc func(string), s string) {
	if ready() && logger.shouldLog(logLevel) {
		logFunc(s)
	} else if bufferLogsBeforeInit && !ready() {
		addLogToBuffer(bufferFunc)
	}
}

func logWithError(logLevel seelog.LogLevel, bufferFunc func(), logFunc func(string) error, fallbackStderr bool, s string) error {
	if ready() && logger.shouldLog(logLevel) {
		if err := logFunc(s); err != nil {
			return err
		}
		return errors.New(s)
	} else if bufferLogsBeforeInit && !ready() {
		addLogToBuffer(bufferFunc)
	}
	if fallbackStderr && !ready() {
		fmt.Fprintf(os.Stderr, "%s: %s\n", logLevel.String(), s)
	}
	return errors.New(s)
}

// Trace logs at the trace level
func Trace(v ...interface{}) {
	s := buildLogEntry(v...)
	log(seelog.TraceLvl, func() { Trace(v...) }, func(s string) { logger.trace(s) }, s)
}

// Tracef logs with format at the trace level
func Tracef(format string, params ...interface{}) {
	s := fmt.Sprintf(format, params...)
	log(seelog.TraceLvl, func() { Tracef(format, params...) }, func(s string) { logger.trace(s) }, s)
}

// Debug logs at the debug level
func Debug(v ...interface{}) {
	s := buildLogEntry(v...)
	log(seelog.DebugLvl, func() { Debug(v...) }, func(s string) { logger.debug(s) }, s)
}

// Debugf logs with format at the debug level
func Debugf(format string, params ...interface{}) {
	s := fmt.Sprintf(format, params...)
	log(seelog.DebugLvl, func() { Debugf(format, params...) }, func(s string) { logger.debug(s) }, s)
}

// Info logs at the info level
func Info(v ...interface{}) {
	s := buildLogEntry(v...)
	log(seelog.InfoLvl, func() { Info(v...) }, func(s string) { logger.info(s) }, s)
}

// Infof logs with format at the info level
func Infof(format string, params ...interface{}) {
	s := fmt.Sprintf(format, params...)
	log(seelog.InfoLvl, func() { Infof(format, params...) }, func(s string) { logger.info(s) }, s)
}

// Warn logs at the warn level and returns an error containing the formatted log message
func Warn(v ...interface{}) error {
	s := buildLogEntry(v...)
	return logWithError(seelog.WarnLvl, func() { Warn(v...) }, func(s string) error { return logger.warn(s) }, false, s)
}

// Warnf logs with format at the warn level and returns an error containing the formatted log message
func Warnf(format string, params ...interface{}) error {
	s := fmt.Sprintf(format, params...)
	return logWithError(seelog.WarnLvl, func() { Warnf(format, params...) }, func(s string) error { return logger.warn(s) }, false, s)
}

// Error logs at the error level and returns an error containing the formatted log message
func Error(v ...interface{}) error {
	s := buildLogEntry(v...)
	return logWithError(seelog.ErrorLvl, func() { Error(v...) }, func(s string) error { return logger.error(s) }, true, s)
}

// Errorf logs with format at the error level and returns an error containing the formatted log message
func Errorf(format string, params ...interface{}) error {
	s := fmt.Sprintf(format, params...)
	return logWithError(seelog.ErrorLvl, func() { Errorf(format, params...) }, func(s string) error { return logger.error(s) }, true, s)
}

// Critical logs at the critical level and returns an error containing the formatted log message
func Critical(v ...interface{}) error {
	s := buildLogEntry(v...)
	return logWithError(seelog.CriticalLvl, func() { Critical(v...) }, func(s string) error { return logger.critical(s) }, true, s)
}

// Criticalf logs with format at the critical level and returns an error containing the formatted log message
func Criticalf(format string, params ...interface{}) error {
	s := fmt.Sprintf(format, params...)
	return logWithError(seelog.CriticalLvl, func() { Criticalf(format, params...) }, func(s string) error { return logger.critical(s) }, true, s)
}

// Flush flushes the underlying inner log
func Flush() {
	if ready() {
		logger.inner.Flush()
	}
}

// ReplaceLogger allows replacing the internal logger, returns old logger
func ReplaceLogger(l seelog.LoggerInterface) seelog.LoggerInterface {
	if ready() {
		return logger.replaceInnerLogger(l)
	}

	return nil
}

// GetLogLevel returns a seelog native representation of the current log level
func GetLogLevel() (seelog.LogLevel, error) {
	if ready() {
		return logger.getLogLevel(), nil
	}

	return seelog.InfoLvl, errors.New("cannot get loglevel: logger not initialized")
}

// ChangeLogLevel changes the current log level. Valid levels are trace, debug,
// info, warn, error, critical and off.
func ChangeLogLevel(level string) error {
	if ready() {
		return logger.changeLogLevel(level)
	}
	return errors.New("cannot change loglevel: logger not initialized")
}
