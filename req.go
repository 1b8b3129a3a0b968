// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package pnp

import (
	"net/url"
	"time"
)

// Req represents an APIC-EM request modifier
//
// This struct is used to apply request-specific options via functional modifiers.
// The method, path and body are passed directly to Client.Do and its wrappers.
//
// Example:
//
//	res, err := client.Get(ctx, "/api/v1/pnp-project",
//	    pnp.Query("offset", "1"),
//	    pnp.Timeout(30*time.Second))
type Req struct {
	// Timeout is the per-attempt timeout
	// Overrides client default timeout if set
	Timeout time.Duration

	// Query holds additional URL query parameters
	Query url.Values

	// contentType overrides the JSON content type (multipart uploads)
	contentType string

	// noAuth skips the X-Auth-Token header and the lazy login (ticket request)
	noAuth bool
}

// HTTP methods used by the APIC-EM PnP API
const (
	MethodGet    = "GET"
	MethodPost   = "POST"
	MethodPut    = "PUT"
	MethodDelete = "DELETE"
)

// API paths
const (
	ticketPath        = "/api/v1/ticket"
	taskPath          = "/api/v1/task/"
	fileNamespacePath = "/api/v1/file/namespace/"
	fileUploadPath    = "/api/v1/file/"
	pnpFilePath       = "/api/v1/pnp-file/"
	projectPath       = "/api/v1/pnp-project"
)
