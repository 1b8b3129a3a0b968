// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package pnp

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Body provides a fluent interface for building APIC-EM request payloads
// using sjson for path-based manipulation.
//
// Errors are tracked internally so calls can be chained; check them through
// String(), Bytes() or Err().
//
// Example:
//
//	body := pnp.Body{}.
//	    Set("siteName", "branch-42").
//	    Set("installerUserID", "installer")
//
//	res, err := client.Post(ctx, "/api/v1/pnp-project", body.Array())
type Body struct {
	// str contains the JSON document being built
	str string
	// err tracks the first error encountered during building
	err error
}

// Set sets a value at the specified JSON path and returns a new Body
//
// The path uses sjson dot notation (e.g. "deviceDetails.hostName"). Once an
// error occurs, all subsequent operations are no-ops that preserve the error.
func (b Body) Set(path string, value any) Body {
	if b.err != nil {
		return b
	}

	result, err := sjson.Set(b.str, path, value)
	if err != nil {
		return Body{str: b.str, err: fmt.Errorf("Set(%q): %w", path, err)}
	}
	return Body{str: result}
}

// SetRaw sets a raw JSON value at the specified path and returns a new Body
//
// Example:
//
//	body := pnp.Body{}.SetRaw("tags", `["lab","core"]`)
func (b Body) SetRaw(path, raw string) Body {
	if b.err != nil {
		return b
	}
	if !gjson.Valid(raw) {
		return Body{str: b.str, err: fmt.Errorf("SetRaw(%q): value is not valid JSON", path)}
	}

	result, err := rawJSONSet(b.str, path, raw)
	if err != nil {
		return Body{str: b.str, err: err}
	}
	return Body{str: result}
}

// Delete removes a value at the specified JSON path and returns a new Body
func (b Body) Delete(path string) Body {
	if b.err != nil {
		return b
	}

	result, err := sjson.Delete(b.str, path)
	if err != nil {
		return Body{str: b.str, err: fmt.Errorf("Delete(%q): %w", path, err)}
	}
	return Body{str: result}
}

// Array wraps the document into a one-element JSON array
//
// The PnP project and device endpoints take their payload as [ {...} ].
func (b Body) Array() Body {
	if b.err != nil {
		return b
	}

	doc := b.str
	if doc == "" {
		doc = "{}"
	}
	result, err := wrapArray(doc)
	if err != nil {
		return Body{str: b.str, err: fmt.Errorf("Array(): %w", err)}
	}
	return Body{str: result}
}

// String returns the JSON document and any error encountered during building
func (b Body) String() (string, error) {
	return b.str, b.err
}

// Err returns any error that occurred during the building process
func (b Body) Err() error {
	return b.err
}

// Res returns the JSON document for querying with gjson
//
// If an error occurred during building, this returns an empty string.
//
// Example:
//
//	body := pnp.Body{}.Set("siteName", "branch-42")
//	if body.Err() == nil {
//	    name := gjson.Get(body.Res(), "siteName").String()
//	}
func (b Body) Res() string {
	if b.err != nil {
		return ""
	}
	return b.str
}

// Bytes returns the JSON document as a byte slice and any error encountered during building
func (b Body) Bytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	return []byte(b.str), nil
}
