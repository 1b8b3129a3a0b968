// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package pnp

import (
	"net/http"
	"net/url"
	"time"
)

// Client configuration options using the functional options pattern

// Username sets the username exchanged for a service ticket
func Username(username string) func(*Client) {
	return func(c *Client) {
		c.username = username
	}
}

// Password sets the password exchanged for a service ticket
func Password(password string) func(*Client) {
	return func(c *Client) {
		c.password = password
	}
}

// Ticket sets an already issued service ticket
//
// The client uses it instead of logging in. When the controller rejects it with 401
// and a username/password is configured, the client logs in once and retries.
func Ticket(ticket string) func(*Client) {
	return func(c *Client) {
		c.ticket = ticket
	}
}

// TLS enables or disables HTTPS (default: true)
//
// WARNING: Disabling TLS sends the service ticket in clear text. Only use this
// against lab controllers or test servers.
func TLS(enabled bool) func(*Client) {
	return func(c *Client) {
		c.UseTLS = enabled
	}
}

// VerifyCertificate enables or disables TLS certificate verification (default: true)
//
// APIC-EM ships with a self-signed certificate, so lab setups commonly disable
// verification.
//
// WARNING: Disabling certificate verification makes the connection vulnerable
// to Man-in-the-Middle attacks.
//
// Example:
//
//	client, _ := pnp.NewClient("apic-em.example.com",
//	    pnp.Username("admin"),
//	    pnp.Password("secret"),
//	    pnp.VerifyCertificate(false))  // Insecure, use only for testing
func VerifyCertificate(verify bool) func(*Client) {
	return func(c *Client) {
		c.VerifyCertificate = verify
	}
}

// RequestTimeout sets the timeout of a single HTTP request attempt (default: 30s)
func RequestTimeout(duration time.Duration) func(*Client) {
	return func(c *Client) {
		c.RequestTimeout = duration
	}
}

// MaxRetries sets the maximum number of retry attempts for transient errors (default: 3)
func MaxRetries(retries int) func(*Client) {
	return func(c *Client) {
		c.MaxRetries = retries
	}
}

// BackoffMinDelay sets the minimum backoff delay (default: 1s)
func BackoffMinDelay(duration time.Duration) func(*Client) {
	return func(c *Client) {
		c.BackoffMinDelay = duration
	}
}

// BackoffMaxDelay sets the maximum backoff delay (default: 60s)
func BackoffMaxDelay(duration time.Duration) func(*Client) {
	return func(c *Client) {
		c.BackoffMaxDelay = duration
	}
}

// BackoffDelayFactor sets the backoff multiplication factor (default: 2.0)
func BackoffDelayFactor(factor float64) func(*Client) {
	return func(c *Client) {
		c.BackoffDelayFactor = factor
	}
}

// TaskPollRetries sets how many times a pending task is re-polled before the
// wait fails with KindTaskTimeout (default: 10)
func TaskPollRetries(retries int) func(*Client) {
	return func(c *Client) {
		c.TaskPollRetries = retries
	}
}

// TaskPollInterval sets the wait between two task status polls (default: 2s)
func TaskPollInterval(duration time.Duration) func(*Client) {
	return func(c *Client) {
		c.TaskPollInterval = duration
	}
}

// TaskPollBackoffFactor multiplies the poll interval after every poll (default: 1.0, fixed interval)
//
// The interval never grows beyond TaskPollMaxInterval.
//
// Example:
//
//	// 1s, 2s, 4s, 8s, 8s, ... up to 20 polls
//	client, _ := pnp.NewClient("apic-em.example.com",
//	    pnp.TaskPollRetries(20),
//	    pnp.TaskPollInterval(time.Second),
//	    pnp.TaskPollBackoffFactor(2),
//	    pnp.TaskPollMaxInterval(8*time.Second))
func TaskPollBackoffFactor(factor float64) func(*Client) {
	return func(c *Client) {
		c.TaskPollBackoffFactor = factor
	}
}

// TaskPollMaxInterval caps the poll interval when a backoff factor is set (default: 30s)
func TaskPollMaxInterval(duration time.Duration) func(*Client) {
	return func(c *Client) {
		c.TaskPollMaxInterval = duration
	}
}

// PageLimit sets the page size used for project and device listings (default: 500)
func PageLimit(limit int) func(*Client) {
	return func(c *Client) {
		c.PageLimit = limit
	}
}

// WithHTTPClient replaces the HTTP client used for all requests
//
// TLS and VerifyCertificate are ignored when a custom client is set; configure its
// transport instead.
func WithHTTPClient(httpClient *http.Client) func(*Client) {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithLogger configures a custom logger for the client
//
// By default, the client uses NoOpLogger which discards all log messages.
//
// All JSON content logged at Debug level is automatically redacted to remove
// sensitive data (passwords, service tickets, secrets, keys, tokens).
//
// Example:
//
//	logger := pnp.NewDefaultLogger(pnp.LogLevelInfo)
//	client, _ := pnp.NewClient("apic-em.example.com",
//	    pnp.Username("admin"),
//	    pnp.Password("secret"),
//	    pnp.WithLogger(logger))
func WithLogger(logger Logger) func(*Client) {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPrettyPrintLogs enables/disables JSON pretty printing in logs
//
// Only Debug-level request and response bodies are affected.
func WithPrettyPrintLogs(enabled bool) func(*Client) {
	return func(c *Client) {
		c.prettyPrintLogs = enabled
	}
}

// Request modifiers for individual operations

// Timeout returns a request modifier that sets a custom timeout for each attempt
// of the request.
//
// The timeout priority model is:
//  1. Request-specific timeout (this modifier) - highest priority
//  2. Context deadline (if already set) - medium priority
//  3. Client.RequestTimeout - fallback default
//
// Example:
//
//	// Image uploads can take minutes
//	info, err := files.Upload(ctx, "/images/cat3k.bin", pnp.NamespaceImage,
//	    pnp.Timeout(10*time.Minute))
func Timeout(duration time.Duration) func(*Req) {
	return func(req *Req) {
		req.Timeout = duration
	}
}

// Query returns a request modifier that adds a query parameter to the request URL.
//
// Example:
//
//	res, err := client.Get(ctx, "/api/v1/pnp-project",
//	    pnp.Query("siteName", "branch-42"))
func Query(key, value string) func(*Req) {
	return func(req *Req) {
		if req.Query == nil {
			req.Query = url.Values{}
		}
		req.Query.Add(key, value)
	}
}
