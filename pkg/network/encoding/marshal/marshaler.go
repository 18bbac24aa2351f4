// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package marshal implements the wire format of connection events
package marshal

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

const (
	// ContentTypeJSON holds the content-type of a JSON array of events
	ContentTypeJSON = "application/json"
	// ContentTypeNDJSON holds the content-type of newline delimited events
	ContentTypeNDJSON = "application/x-ndjson"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	jSerializer  = jsonSerializer{}
	ndSerializer = ndjsonSerializer{}
)

// Marshaler is an interface implemented by all event serializers
type Marshaler interface {
	Marshal(events []*Event, writer io.Writer) error
	ContentType() string
}

// GetMarshaler returns the appropriate Marshaler based on the given accept header
func GetMarshaler(accept string) Marshaler {
	if strings.Contains(accept, ContentTypeNDJSON) {
		return ndSerializer
	}
	return jSerializer
}

type jsonSerializer struct{}

func (jsonSerializer) Marshal(events []*Event, writer io.Writer) error {
	if events == nil {
		events = []*Event{}
	}
	return json.NewEncoder(writer).Encode(events)
}

func (jsonSerializer) ContentType() string {
	return ContentTypeJSON
}

type ndjsonSerializer struct{}

func (ndjsonSerializer) Marshal(events []*Event, writer io.Writer) error {
	enc := json.NewEncoder(writer)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

func (ndjsonSerializer) ContentType() string {
	return ContentTypeNDJSON
}

var (
	_ Marshaler = jsonSerializer{}
	_ Marshaler = ndjsonSerializer{}
)

// MarshalEvent encodes a single event
func MarshalEvent(e *Event) ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes a payload holding a JSON array of events, or a stream of
// events: a single object, whatever its layout, or newline delimited events
func Unmarshal(body []byte) ([]*Event, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}

	if body[0] == '[' {
		var events []*Event
		if err := json.Unmarshal(body, &events); err != nil {
			return nil, fmt.Errorf("decoding events: %w", err)
		}
		return events, nil
	}

	var events []*Event
	dec := json.NewDecoder(bytes.NewReader(body))
	for dec.More() {
		var e Event
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("decoding event %d: %w", len(events)+1, err)
		}
		events = append(events, &e)
	}
	return events, nil
}
