// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package pnp

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Default client configuration values
const (
	DefaultMaxRetries            = 3
	DefaultBackoffMinDelay       = 1 * time.Second
	DefaultBackoffMaxDelay       = 60 * time.Second
	DefaultBackoffDelayFactor    = 2
	DefaultRequestTimeout        = 30 * time.Second
	DefaultTaskPollRetries       = 10
	DefaultTaskPollInterval      = 2 * time.Second
	DefaultTaskPollBackoffFactor = 1
	DefaultTaskPollMaxInterval   = 30 * time.Second
	DefaultPageLimit             = 500
	DefaultUseTLS                = true
	DefaultVerifyCertificate     = true
	DefaultPrettyPrintLogs       = false
)

// Security limits for JSON processing and logging
const (
	MaxJSONSizeForLogging = 1 * 1024 * 1024 // 1MB limit to prevent ReDoS attacks
	MaxSensitiveFields    = 1000            // Max redaction operations to prevent DoS
)

// Logging message constants
const (
	JSONTooLargeMessage     = "[JSON TOO LARGE FOR LOGGING]"
	JSONTooManySensitiveMsg = "[JSON CONTAINS TOO MANY SENSITIVE FIELDS]"
)

// sensitiveFields lists the JSON keys whose string values are redacted in logs
var sensitiveFields = []string{
	"password",
	"serviceTicket",
	"secret",
	"key",
	"token",
	"auth",
}

// defaultRedactionPatterns is built from sensitiveFields, one pattern per field
var defaultRedactionPatterns = func() []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(sensitiveFields))
	for _, field := range sensitiveFields {
		patterns = append(patterns, regexp.MustCompile(`"`+field+`"\s*:\s*"[^"]*"`))
	}
	return patterns
}()

// Credentials is the session state obtained from the ticket endpoint
type Credentials struct {
	// Ticket is the service ticket sent as X-Auth-Token
	Ticket string

	// Server is the controller the ticket was issued by
	Server string
}

// Client represents a session with an APIC-EM controller
//
// The Client holds the service ticket and every setting of the session. It is
// safe for concurrent use; the ticket is obtained lazily on the first request.
type Client struct {
	// Server is the controller host (host, host:port or a full base URL)
	Server string

	// Base URL derived from Server and UseTLS
	baseURL string

	httpClient *http.Client

	// RWMutex to synchronize access to the ticket
	mu sync.RWMutex

	username string // unexported for security
	password string // unexported for security
	ticket   string // unexported for security

	// TLS options
	UseTLS            bool
	VerifyCertificate bool

	// Timeout configuration
	RequestTimeout time.Duration

	// Retry configuration (transient HTTP failures)
	MaxRetries         int
	BackoffMinDelay    time.Duration
	BackoffMaxDelay    time.Duration
	BackoffDelayFactor float64

	// Task polling configuration
	TaskPollRetries       int
	TaskPollInterval      time.Duration
	TaskPollBackoffFactor float64
	TaskPollMaxInterval   time.Duration

	// PageLimit is the page size of project and device listings
	PageLimit int

	poller *TaskPoller

	// Logging configuration
	logger            Logger
	prettyPrintLogs   bool
	redactionPatterns []*regexp.Regexp
}

// NewClient creates a new APIC-EM PnP client for the specified controller
//
// No request is sent by NewClient. The service ticket is requested on the first
// API call, or explicitly with Login.
//
// Example:
//
//	client, err := pnp.NewClient(
//	    "apic-em.example.com",
//	    pnp.Username("admin"),
//	    pnp.Password("secret"),
//	    pnp.VerifyCertificate(false),
//	)
//	if err != nil {
//	    log.Fatal(err)  // Configuration error
//	}
//
//	project, err := client.CreateProject(ctx, pnp.Project{SiteName: "branch-42"})
//
// Returns a configured Client or an error if configuration validation fails.
func NewClient(server string, opts ...func(*Client)) (*Client, error) {
	client := &Client{
		Server:                server,
		UseTLS:                DefaultUseTLS,
		VerifyCertificate:     DefaultVerifyCertificate,
		RequestTimeout:        DefaultRequestTimeout,
		MaxRetries:            DefaultMaxRetries,
		BackoffMinDelay:       DefaultBackoffMinDelay,
		BackoffMaxDelay:       DefaultBackoffMaxDelay,
		BackoffDelayFactor:    DefaultBackoffDelayFactor,
		TaskPollRetries:       DefaultTaskPollRetries,
		TaskPollInterval:      DefaultTaskPollInterval,
		TaskPollBackoffFactor: DefaultTaskPollBackoffFactor,
		TaskPollMaxInterval:   DefaultTaskPollMaxInterval,
		PageLimit:             DefaultPageLimit,
		logger:                &NoOpLogger{},
		prettyPrintLogs:       DefaultPrettyPrintLogs,
		redactionPatterns:     defaultRedactionPatterns,
	}

	for _, opt := range opts {
		opt(client)
	}

	if err := client.validateConfig(); err != nil {
		return nil, err
	}

	if client.httpClient == nil {
		client.httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				//nolint:gosec // G402: verification is only disabled on explicit request
				TLSClientConfig: &tls.Config{InsecureSkipVerify: !client.VerifyCertificate},
			},
		}
	}

	client.poller = NewTaskPoller(client,
		PollRetries(client.TaskPollRetries),
		PollInterval(client.TaskPollInterval),
		PollBackoffFactor(client.TaskPollBackoffFactor),
		PollMaxInterval(client.TaskPollMaxInterval),
		PollLogger(client.logger))

	client.logger.Info(context.Background(), "APIC-EM PnP client created",
		"server", client.baseURL,
		"login", "lazy")

	return client, nil
}

// BaseURL returns the scheme and host every API path is appended to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Login exchanges the configured username and password for a service ticket
//
// Calling Login is optional; every API call logs in lazily. Use it to verify
// credentials up front.
//
// Example:
//
//	creds, err := client.Login(ctx)
//	if err != nil {
//	    log.Fatal(err)  // bad credentials or controller unreachable
//	}
//	fmt.Println("logged in to", creds.Server)
func (c *Client) Login(ctx context.Context) (Credentials, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.login(ctx)
}

// Credentials returns the current session credentials
//
// Ticket is empty until the first successful login.
func (c *Client) Credentials() Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Credentials{Ticket: c.ticket, Server: c.Server}
}

// HasCredentials returns true if a username/password pair or a ticket is configured
func (c *Client) HasCredentials() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.canLogin() || c.ticket != ""
}

// canLogin reports whether a username/password pair is configured
func (c *Client) canLogin() bool {
	return c.username != "" && c.password != ""
}

// login requests a new service ticket.
//
// PRECONDITION: Caller must hold c.mu.Lock() (write lock).
func (c *Client) login(ctx context.Context) (Credentials, error) {
	if !c.canLogin() {
		return Credentials{}, &PnpError{
			Operation: "Login",
			Kind:      KindValidation,
			Message:   "no username/password configured",
		}
	}

	body, err := Body{}.
		Set("username", c.username).
		Set("password", c.password).
		Bytes()
	if err != nil {
		return Credentials{}, &PnpError{Operation: "Login", Kind: KindValidation, Message: "invalid credentials payload", Err: err}
	}

	res, err := c.do(ctx, "Login", MethodPost, ticketPath, body, &Req{noAuth: true})
	if err != nil {
		c.logger.Error(ctx, "APIC-EM login failed",
			"server", c.baseURL,
			"error", err.Error())
		return Credentials{}, err
	}

	ticket := res.Response().Get("serviceTicket").String()
	if ticket == "" {
		return Credentials{}, &PnpError{
			Operation:  "Login",
			Kind:       KindDecode,
			StatusCode: res.StatusCode,
			Message:    "response has no service ticket",
		}
	}
	c.ticket = ticket

	c.logger.Info(ctx, "APIC-EM login succeeded",
		"server", c.baseURL,
		"user", c.username)

	return Credentials{Ticket: ticket, Server: c.Server}, nil
}

// ensureTicket returns the current ticket, logging in first if there is none
func (c *Client) ensureTicket(ctx context.Context) (string, error) {
	c.mu.RLock()
	ticket := c.ticket
	c.mu.RUnlock()
	if ticket != "" {
		return ticket, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ticket != "" {
		return c.ticket, nil
	}
	creds, err := c.login(ctx)
	if err != nil {
		return "", err
	}
	return creds.Ticket, nil
}

// renewTicket replaces a ticket the controller rejected
//
// If another goroutine already renewed it, the newer ticket is returned without
// a second login.
func (c *Client) renewTicket(ctx context.Context, stale string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ticket != "" && c.ticket != stale {
		return c.ticket, nil
	}

	c.logger.Warn(ctx, "APIC-EM service ticket rejected, logging in again",
		"server", c.baseURL)

	c.ticket = ""
	creds, err := c.login(ctx)
	if err != nil {
		return "", err
	}
	return creds.Ticket, nil
}

// Backoff calculates the backoff delay for retry attempt using exponential backoff with jitter
//
// The formula is: delay = min(minDelay * (factor ^ attempt), maxDelay) + jitter
// where jitter is a cryptographically secure random value in [0, delay * 0.1).
//
// Parameters:
//   - attempt: The retry attempt number (0-indexed)
//
// Returns the duration to wait before retrying.
func (c *Client) Backoff(attempt int) time.Duration {
	delay := float64(c.BackoffMinDelay) * math.Pow(c.BackoffDelayFactor, float64(attempt))
	if math.IsInf(delay, 1) || delay > float64(c.BackoffMaxDelay) {
		delay = float64(c.BackoffMaxDelay)
	}

	jitterVal := jitter(int64(delay * 0.1))
	finalDelay := time.Duration(delay) + time.Duration(jitterVal)

	c.logger.Debug(context.Background(), "Backoff calculated",
		"attempt", attempt,
		"base_delay_ms", time.Duration(delay).Milliseconds(),
		"jitter_ms", time.Duration(jitterVal).Milliseconds(),
		"final_delay_ms", finalDelay.Milliseconds())

	return finalDelay
}

// jitter returns a random value in [0, limit)
//
// crypto/rand keeps concurrent clients from retrying in lockstep; if it fails the
// wall clock is used instead.
func jitter(limit int64) int64 {
	if limit <= 0 {
		return 0
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return (time.Now().UnixNano()%limit + limit) % limit
	}
	//nolint:gosec // G115: sign bit masked off before conversion
	return int64(binary.BigEndian.Uint64(buf[:])&0x7FFFFFFFFFFFFFFF) % limit
}

// prepareJSONForLogging redacts sensitive data and formats JSON for logging
//
// Inputs larger than MaxJSONSizeForLogging or with more than MaxSensitiveFields
// sensitive keys are replaced by a marker instead of being run through the
// redaction regexps.
func (c *Client) prepareJSONForLogging(jsonStr string) string {
	if len(jsonStr) > MaxJSONSizeForLogging {
		return JSONTooLargeMessage
	}

	sensitiveCount := 0
	for _, field := range sensitiveFields {
		sensitiveCount += strings.Count(jsonStr, `"`+field+`"`)
	}
	if sensitiveCount > MaxSensitiveFields {
		c.logger.Warn(context.Background(), "Too many sensitive fields detected",
			"count", sensitiveCount,
			"max", MaxSensitiveFields)
		return JSONTooManySensitiveMsg
	}

	redacted := c.redactSensitiveData(jsonStr)

	if c.prettyPrintLogs {
		var buf bytes.Buffer
		if err := json.Indent(&buf, []byte(redacted), "", "  "); err == nil {
			return buf.String()
		}
	}

	return redacted
}

// redactSensitiveData replaces the values of sensitive JSON fields with [REDACTED]
//
// Handles flexible whitespace around colons (RFC 8259 compliant).
func (c *Client) redactSensitiveData(jsonStr string) string {
	result := jsonStr
	for i, pattern := range c.redactionPatterns {
		if i >= len(sensitiveFields) {
			break
		}
		result = pattern.ReplaceAllString(result, `"`+sensitiveFields[i]+`":"[REDACTED]"`)
	}
	return result
}

// validateConfig validates client configuration and derives the base URL
//
// Validates:
//   - Server is set and parses as host[:port] or scheme://host[:port]
//   - Positive request timeout
//   - Retry params (MaxRetries >= 0, BackoffMinDelay > 0, BackoffMaxDelay > BackoffMinDelay, factor >= 1)
//   - Task polling params (retries >= 0, interval > 0, factor >= 1, max interval >= interval)
//   - PageLimit > 0
//
// Returns an error if validation fails.
func (c *Client) validateConfig() error {
	if strings.TrimSpace(c.Server) == "" {
		return fmt.Errorf("server address cannot be empty")
	}

	base, err := buildBaseURL(c.Server, c.UseTLS)
	if err != nil {
		return err
	}
	c.baseURL = base

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got: %v", c.RequestTimeout)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative, got: %d", c.MaxRetries)
	}
	if c.BackoffMinDelay <= 0 {
		return fmt.Errorf("backoff min delay must be positive, got: %v", c.BackoffMinDelay)
	}
	if c.BackoffMaxDelay <= c.BackoffMinDelay {
		return fmt.Errorf("backoff max delay (%v) must be greater than min delay (%v)",
			c.BackoffMaxDelay, c.BackoffMinDelay)
	}
	if c.BackoffDelayFactor < 1.0 {
		return fmt.Errorf("backoff delay factor must be >= 1.0, got: %f", c.BackoffDelayFactor)
	}

	if c.TaskPollRetries < 0 {
		return fmt.Errorf("task poll retries must be non-negative, got: %d", c.TaskPollRetries)
	}
	if c.TaskPollInterval <= 0 {
		return fmt.Errorf("task poll interval must be positive, got: %v", c.TaskPollInterval)
	}
	if c.TaskPollBackoffFactor < 1.0 {
		return fmt.Errorf("task poll backoff factor must be >= 1.0, got: %f", c.TaskPollBackoffFactor)
	}
	if c.TaskPollMaxInterval < c.TaskPollInterval {
		return fmt.Errorf("task poll max interval (%v) must not be less than poll interval (%v)",
			c.TaskPollMaxInterval, c.TaskPollInterval)
	}

	if c.PageLimit <= 0 {
		return fmt.Errorf("page limit must be positive, got: %d", c.PageLimit)
	}

	if c.UseTLS && !c.VerifyCertificate {
		c.logger.Warn(context.Background(), "TLS certificate verification disabled",
			"server", c.baseURL,
			"security_risk", "Man-in-the-Middle attacks possible",
			"recommendation", "Use only in testing environments")
	}
	if !c.UseTLS {
		c.logger.Warn(context.Background(), "TLS disabled - connection is not encrypted",
			"server", c.baseURL,
			"security_risk", "Credentials and service ticket transmitted in clear text",
			"recommendation", "Enable TLS for production use")
	}

	if !c.canLogin() && c.ticket == "" {
		c.logger.Warn(context.Background(), "No credentials configured",
			"server", c.baseURL,
			"message", "controller will reject requests")
	}

	return nil
}

// buildBaseURL turns a server address into scheme://host[:port]
func buildBaseURL(server string, useTLS bool) (string, error) {
	server = strings.TrimSpace(server)
	if !strings.Contains(server, "://") {
		scheme := "https"
		if !useTLS {
			scheme = "http"
		}
		server = scheme + "://" + server
	}

	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server address: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid server scheme: %q (must be http or https)", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server address: missing host")
	}
	if u.Path != "" && u.Path != "/" {
		return "", fmt.Errorf("invalid server address: unexpected path %q", u.Path)
	}
	return u.Scheme + "://" + u.Host, nil
}

// rawJSONSet is sjson.SetRaw with the error annotated like Body.Set
func rawJSONSet(doc, path, raw string) (string, error) {
	out, err := sjson.SetRaw(doc, path, raw)
	if err != nil {
		return doc, fmt.Errorf("SetRaw(%q): %w", path, err)
	}
	return out, nil
}

// wrapArray wraps a JSON object into a one-element array, the shape the PnP
// project and device endpoints expect
func wrapArray(object string) (string, error) {
	if !gjson.Valid(object) {
		return "", fmt.Errorf("payload is not valid JSON")
	}
	return rawJSONSet("[]", "-1", object)
}
