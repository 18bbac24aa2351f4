// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package procutil

import (
	"strings"
)

const redacted = "********"

var defaultSensitiveWords = []string{
	"password", "passwd", "mysql_pwd",
	"access_token", "auth_token",
	"api_key", "apikey", "pwd",
	"secret", "credentials", "stripetoken",
}

// DataScrubber hides cmdline arguments that follow a sensitive word, or
// drops every argument when StripAllArguments is set
type DataScrubber struct {
	Enabled           bool
	StripAllArguments bool
	// LiteralSensitivePatterns are lower case words matched against each argument
	LiteralSensitivePatterns []string
}

// NewDefaultDataScrubber returns an enabled scrubber matching the default
// sensitive words
func NewDefaultDataScrubber() *DataScrubber {
	return &DataScrubber{
		Enabled:                  true,
		LiteralSensitivePatterns: append([]string(nil), defaultSensitiveWords...),
	}
}

// AddCustomSensitiveWords adds words to match
func (ds *DataScrubber) AddCustomSensitiveWords(words []string) {
	for _, w := range words {
		ds.LiteralSensitivePatterns = append(ds.LiteralSensitivePatterns, strings.ToLower(w))
	}
}

// ScrubCommand returns the cmdline to expose and whether it was changed
func (ds *DataScrubber) ScrubCommand(cmdline []string) ([]string, bool) {
	if ds == nil || len(cmdline) == 0 {
		return cmdline, false
	}
	if ds.StripAllArguments {
		stripped := ds.stripArguments(cmdline)
		return stripped, len(stripped) != len(cmdline) || stripped[0] != cmdline[0]
	}
	if !ds.Enabled {
		return cmdline, false
	}
	return ds.scrubSimpleCommand(cmdline)
}

func (ds *DataScrubber) stripArguments(cmdline []string) []string {
	// the whole command line sometimes comes in the first element, splitting
	// guarantees the arguments are removed in that case too
	return []string{strings.Split(cmdline[0], " ")[0]}
}

// scrubSimpleCommand hides the value of any argument matching a sensitive
// word, either "word=value", "word:value" or "word value"
func (ds *DataScrubber) scrubSimpleCommand(cmdline []string) ([]string, bool) {
	args := strings.Split(strings.Join(cmdline, " "), " ")

	changed := false
	// the first token is the program name
	for index := 1; index < len(args); index++ {
		arg := args[index]
		lower := strings.ToLower(arg)
		for _, pattern := range ds.LiteralSensitivePatterns {
			matchIndex := strings.Index(lower, pattern)
			if matchIndex < 0 {
				continue
			}
			// paths like /etc/secret/cert.pem are not arguments
			if strings.ContainsAny(arg[:matchIndex], "/:=$") {
				break
			}

			changed = true
			if v := strings.IndexAny(arg, "=:"); v >= 0 {
				args[index] = arg[:v+1] + redacted
				break
			}
			next := index + 1
			for next < len(args) && args[next] == "" {
				next++
			}
			if next < len(args) {
				args[next] = redacted
				index = next
			}
			break
		}
	}

	if !changed {
		return cmdline, false
	}
	return args, true
}
