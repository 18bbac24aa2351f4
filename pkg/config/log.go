// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2017 Datadog, Inc.

package config

import (
	"fmt"
	"strings"

	"github.com/cihub/seelog"

	"github.com/DataDog/connbeat-agent/pkg/util/log"
)

const logFileMaxSize = 10 * 1024 * 1024         // 10MB
const logDateFormat = "2006-01-02 15:04:05 MST" // see time.Format for format syntax

// buildLoggerConfig returns the seelog XML configuration: console output,
// plus a rolling file when logFile is set
func buildLoggerConfig(logLevel, logFile string) string {
	configTemplate := `<seelog minlevel="%s">
    <outputs formatid="common">
        <console />`
	if logFile != "" {
		configTemplate += `<rollingfile type="size" filename="%s" maxsize="%d" maxrolls="1" />`
	}
	configTemplate += `</outputs>
    <formats>
        <format id="common" format="%%Date(%s) | %%LEVEL | (%%RelFile:%%Line) | %%Msg%%n"/>
    </formats>
</seelog>`

	if logFile != "" {
		return fmt.Sprintf(configTemplate, strings.ToLower(logLevel), logFile, logFileMaxSize, logDateFormat)
	}
	return fmt.Sprintf(configTemplate, strings.ToLower(logLevel), logDateFormat)
}

// SetupLogger sets up the default logger
func SetupLogger(logLevel, logFile string) error {
	if _, ok := seelog.LogLevelFromString(strings.ToLower(logLevel)); !ok {
		return fmt.Errorf("unknown log level: %s", logLevel)
	}
	logger, err := seelog.LoggerFromConfigAsString(buildLoggerConfig(logLevel, logFile))
	if err != nil {
		return err
	}
	log.SetupLogger(logger, logLevel)
	return nil
}
