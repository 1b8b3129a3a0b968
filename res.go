// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package pnp

import (
	"github.com/tidwall/gjson"
)

// Res represents a decoded APIC-EM response
//
// APIC-EM wraps every payload in an envelope:
//
//	{"response": <payload>, "version": "1.0"}
type Res struct {
	// StatusCode is the HTTP status code
	StatusCode int

	// Body is the raw JSON body
	Body string

	// RequestID is the X-Request-Id sent with the request
	RequestID string
}

// Get retrieves a value from the response body using a gjson path.
//
// Example paths:
//   - "response.taskId" - task id of an asynchronous mutation
//   - "response.#.siteName" - all site names of a project listing
//   - "version" - API version of the envelope
//
// Returns gjson.Result which can be converted to specific types:
//   - result.String() for string values
//   - result.Int() for integer values
//   - result.Bool() for boolean values
//   - result.Array() for array values
func (r Res) Get(path string) gjson.Result {
	if r.Body == "" {
		return gjson.Result{}
	}
	return gjson.Get(r.Body, path)
}

// Response returns the payload of the response envelope
func (r Res) Response() gjson.Result {
	return r.Get("response")
}

// Version returns the API version reported in the response envelope
func (r Res) Version() string {
	return r.Get("version").String()
}

// JSON returns the raw response body.
// This is useful for debugging, logging, or custom parsing.
func (r Res) JSON() string {
	return r.Body
}
