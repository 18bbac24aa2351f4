// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package server

import (
	"net/http"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type httpResponse struct {
	contentType string
	statusCode  int
	body        []byte
}

func writeHTTPResponse(w http.ResponseWriter, response httpResponse) {
	if response.contentType != "" {
		w.Header().Set("Content-Type", response.contentType)
	}
	w.WriteHeader(response.statusCode)
	if len(response.body) > 0 {
		w.Write(response.body)
	}
}

func buildErrorResponse(statusCode int, err error) httpResponse {
	return httpResponse{
		contentType: "text/plain",
		statusCode:  statusCode,
		body:        []byte(err.Error()),
	}
}

func buildJSONResponse(v interface{}) httpResponse {
	body, err := json.Marshal(v)
	if err != nil {
		return buildErrorResponse(http.StatusInternalServerError, err)
	}
	return httpResponse{
		contentType: "application/json",
		statusCode:  http.StatusOK,
		body:        body,
	}
}
