// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package pnp

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/netascode/go-pnp/internal/apicemtest"
)

// newTestClient returns a client logged in lazily against the fake controller,
// with retry and poll delays shortened to milliseconds
func newTestClient(t *testing.T, srv *apicemtest.Server, opts ...func(*Client)) *Client {
	t.Helper()

	base := []func(*Client){
		Username(apicemtest.DefaultUsername),
		Password(apicemtest.DefaultPassword),
		BackoffMinDelay(time.Millisecond),
		BackoffMaxDelay(10 * time.Millisecond),
		TaskPollInterval(time.Millisecond),
	}
	client, err := NewClient(srv.URL, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}
	return client
}

// newTestServer starts a fake controller closed at the end of the test
func newTestServer(t *testing.T) *apicemtest.Server {
	t.Helper()
	srv := apicemtest.NewServer()
	t.Cleanup(srv.Close)
	return srv
}

// TestNewClientValidation tests client configuration validation
func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name       string
		server     string
		opts       []func(*Client)
		wantErrMsg string
	}{
		{
			name:       "empty server",
			server:     "",
			wantErrMsg: "server address cannot be empty",
		},
		{
			name:       "whitespace server",
			server:     "   ",
			wantErrMsg: "server address cannot be empty",
		},
		{
			name:       "unsupported scheme",
			server:     "ftp://apic-em.example.com",
			wantErrMsg: "invalid server scheme",
		},
		{
			name:       "path in server",
			server:     "https://apic-em.example.com/api/v1",
			wantErrMsg: "unexpected path",
		},
		{
			name:       "zero request timeout",
			server:     "apic-em.example.com",
			opts:       []func(*Client){RequestTimeout(0)},
			wantErrMsg: "request timeout must be positive",
		},
		{
			name:       "negative max retries",
			server:     "apic-em.example.com",
			opts:       []func(*Client){MaxRetries(-1)},
			wantErrMsg: "max retries must be non-negative",
		},
		{
			name:       "zero backoff min delay",
			server:     "apic-em.example.com",
			opts:       []func(*Client){BackoffMinDelay(0)},
			wantErrMsg: "backoff min delay must be positive",
		},
		{
			name:   "max delay less than min delay",
			server: "apic-em.example.com",
			opts: []func(*Client){
				BackoffMinDelay(10 * time.Second),
				BackoffMaxDelay(5 * time.Second),
			},
			wantErrMsg: "backoff max delay (5s) must be greater than min delay (10s)",
		},
		{
			name:       "backoff factor below one",
			server:     "apic-em.example.com",
			opts:       []func(*Client){BackoffDelayFactor(0.5)},
			wantErrMsg: "backoff delay factor must be >= 1.0",
		},
		{
			name:       "negative task poll retries",
			server:     "apic-em.example.com",
			opts:       []func(*Client){TaskPollRetries(-1)},
			wantErrMsg: "task poll retries must be non-negative",
		},
		{
			name:       "zero task poll interval",
			server:     "apic-em.example.com",
			opts:       []func(*Client){TaskPollInterval(0)},
			wantErrMsg: "task poll interval must be positive",
		},
		{
			name:       "task poll backoff factor below one",
			server:     "apic-em.example.com",
			opts:       []func(*Client){TaskPollBackoffFactor(0.9)},
			wantErrMsg: "task poll backoff factor must be >= 1.0",
		},
		{
			name:   "task poll max interval below interval",
			server: "apic-em.example.com",
			opts: []func(*Client){
				TaskPollInterval(10 * time.Second),
				TaskPollMaxInterval(time.Second),
			},
			wantErrMsg: "task poll max interval (1s) must not be less than poll interval (10s)",
		},
		{
			name:       "zero page limit",
			server:     "apic-em.example.com",
			opts:       []func(*Client){PageLimit(0)},
			wantErrMsg: "page limit must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.server, tt.opts...)
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErrMsg)
			}
			if !strings.Contains(err.Error(), tt.wantErrMsg) {
				t.Errorf("expected error containing %q, got %q", tt.wantErrMsg, err.Error())
			}
		})
	}
}

// TestNewClientDefaults verifies the default configuration
func TestNewClientDefaults(t *testing.T) {
	client, err := NewClient("apic-em.example.com", Username("admin"), Password("secret"))
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}

	if client.BaseURL() != "https://apic-em.example.com" {
		t.Errorf("BaseURL() = %q", client.BaseURL())
	}
	if client.MaxRetries != DefaultMaxRetries {
		t.Errorf("MaxRetries = %d", client.MaxRetries)
	}
	if client.RequestTimeout != DefaultRequestTimeout {
		t.Errorf("RequestTimeout = %v", client.RequestTimeout)
	}
	if client.TaskPollRetries != 10 || client.TaskPollInterval != 2*time.Second {
		t.Errorf("task polling = %d x %v, want 10 x 2s", client.TaskPollRetries, client.TaskPollInterval)
	}
	if client.poller.Retries != 10 || client.poller.Interval != 2*time.Second {
		t.Errorf("poller = %d x %v, want 10 x 2s", client.poller.Retries, client.poller.Interval)
	}
	if client.PageLimit != 500 {
		t.Errorf("PageLimit = %d", client.PageLimit)
	}
	if !client.UseTLS || !client.VerifyCertificate {
		t.Error("expected TLS with certificate verification by default")
	}
	if _, ok := client.logger.(*NoOpLogger); !ok {
		t.Errorf("expected NoOpLogger by default, got %T", client.logger)
	}
	if client.Credentials().Ticket != "" {
		t.Error("expected no ticket before the first request")
	}
	if !client.HasCredentials() {
		t.Error("expected HasCredentials() with username and password")
	}
}

// TestBuildBaseURL tests server address normalization
func TestBuildBaseURL(t *testing.T) {
	tests := []struct {
		server string
		useTLS bool
		want   string
	}{
		{"apic-em.example.com", true, "https://apic-em.example.com"},
		{"apic-em.example.com", false, "http://apic-em.example.com"},
		{"10.0.0.1:8443", true, "https://10.0.0.1:8443"},
		{"http://127.0.0.1:1234", true, "http://127.0.0.1:1234"},
		{"https://apic-em.example.com/", false, "https://apic-em.example.com"},
		{"  apic-em.example.com  ", true, "https://apic-em.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.server, func(t *testing.T) {
			got, err := buildBaseURL(tt.server, tt.useTLS)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("buildBaseURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestLogin verifies the ticket exchange
func TestLogin(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv)

	creds, err := client.Login(context.Background())
	if err != nil {
		t.Fatalf("Login() failed: %v", err)
	}
	if !strings.HasPrefix(creds.Ticket, "ST-") {
		t.Errorf("unexpected ticket %q", creds.Ticket)
	}
	if creds.Server != srv.URL {
		t.Errorf("Server = %q, want %q", creds.Server, srv.URL)
	}
	if client.Credentials().Ticket != creds.Ticket {
		t.Error("ticket not stored in the client")
	}
}

// TestLogin_InvalidCredentials verifies a rejected login surfaces the controller error
func TestLogin_InvalidCredentials(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv, Password("wrong"))

	_, err := client.Login(context.Background())
	if !IsKind(err, KindServer) {
		t.Fatalf("expected KindServer, got %v", err)
	}
	pe := err.(*PnpError)
	if pe.StatusCode != 401 {
		t.Errorf("StatusCode = %d, want 401", pe.StatusCode)
	}
	if len(pe.Errors) != 1 || pe.Errors[0].Code != "INVALID_CREDENTIALS" {
		t.Errorf("unexpected error models: %+v", pe.Errors)
	}
	if client.Credentials().Ticket != "" {
		t.Error("no ticket expected after failed login")
	}
}

// TestLogin_NoCredentials verifies local validation
func TestLogin_NoCredentials(t *testing.T) {
	client, err := NewClient("apic-em.example.com")
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}
	if client.HasCredentials() {
		t.Error("expected HasCredentials() = false")
	}
	_, err = client.Login(context.Background())
	if !IsKind(err, KindValidation) {
		t.Errorf("expected KindValidation, got %v", err)
	}
}

// TestLazyLogin verifies the first request obtains a ticket once
func TestLazyLogin(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := client.ListProjects(ctx); err != nil {
			t.Fatalf("ListProjects() failed: %v", err)
		}
	}
	if srv.Logins() != 1 {
		t.Errorf("expected 1 login, got %d", srv.Logins())
	}
}

// TestTicketRenewal verifies a rejected ticket triggers exactly one new login
func TestTicketRenewal(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv)
	ctx := context.Background()

	if _, err := client.Login(ctx); err != nil {
		t.Fatalf("Login() failed: %v", err)
	}
	stale := client.Credentials().Ticket
	srv.ExpireTicket()

	if _, err := client.ListProjects(ctx); err != nil {
		t.Fatalf("ListProjects() after expiry failed: %v", err)
	}
	if srv.Logins() != 2 {
		t.Errorf("expected 2 logins, got %d", srv.Logins())
	}
	if client.Credentials().Ticket == stale {
		t.Error("expected a new ticket")
	}
}

// TestTicketRenewal_WithoutPassword verifies a static ticket is not renewed
func TestTicketRenewal_WithoutPassword(t *testing.T) {
	srv := newTestServer(t)
	client, err := NewClient(srv.URL, Ticket("ST-static"), BackoffMinDelay(time.Millisecond), BackoffMaxDelay(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}

	_, err = client.ListProjects(context.Background())
	if err == nil {
		t.Fatal("expected rejected ticket error")
	}
	var pe *PnpError
	if !errors.As(err, &pe) || pe.StatusCode != 401 {
		t.Errorf("expected 401 error, got %v", err)
	}
	if srv.Logins() != 0 {
		t.Errorf("expected no login, got %d", srv.Logins())
	}
}

// TestBackoff tests exponential backoff with jitter
func TestBackoff(t *testing.T) {
	client, err := NewClient("apic-em.example.com",
		BackoffMinDelay(time.Second),
		BackoffMaxDelay(10*time.Second),
		BackoffDelayFactor(2))
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}

	tests := []struct {
		attempt int
		base    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{50, 10 * time.Second},
	}

	for _, tt := range tests {
		got := client.Backoff(tt.attempt)
		maxWithJitter := tt.base + tt.base/10
		if got < tt.base || got > maxWithJitter {
			t.Errorf("Backoff(%d) = %v, want in [%v, %v]", tt.attempt, got, tt.base, maxWithJitter)
		}
	}
}

// TestJitter verifies the jitter range
func TestJitter(t *testing.T) {
	if jitter(0) != 0 || jitter(-5) != 0 {
		t.Error("expected zero jitter for non-positive limits")
	}
	for i := 0; i < 1000; i++ {
		if v := jitter(100); v < 0 || v >= 100 {
			t.Fatalf("jitter(100) = %d out of range", v)
		}
	}
}

// TestRedactSensitiveData verifies secrets never reach the logs
func TestRedactSensitiveData(t *testing.T) {
	client, err := NewClient("apic-em.example.com")
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}

	tests := []struct {
		name    string
		input   string
		secret  string
		keepsIn string
	}{
		{
			name:    "login payload",
			input:   `{"username":"admin","password":"s3cr3t"}`,
			secret:  "s3cr3t",
			keepsIn: `"username":"admin"`,
		},
		{
			name:    "service ticket",
			input:   `{"response":{"serviceTicket":"ST-123","idleTimeout":1800},"version":"1.0"}`,
			secret:  "ST-123",
			keepsIn: `"idleTimeout":1800`,
		},
		{
			name:    "whitespace around colon",
			input:   `{"password" :  "s3cr3t"}`,
			secret:  "s3cr3t",
			keepsIn: "[REDACTED]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := client.prepareJSONForLogging(tt.input)
			if strings.Contains(got, tt.secret) {
				t.Errorf("secret leaked: %s", got)
			}
			if !strings.Contains(got, tt.keepsIn) {
				t.Errorf("expected %q to be kept in %s", tt.keepsIn, got)
			}
		})
	}
}

// TestPrepareJSONForLogging_Limits verifies oversized inputs are replaced
func TestPrepareJSONForLogging_Limits(t *testing.T) {
	client, err := NewClient("apic-em.example.com")
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}

	large := `{"note":"` + strings.Repeat("a", MaxJSONSizeForLogging) + `"}`
	if got := client.prepareJSONForLogging(large); got != JSONTooLargeMessage {
		t.Errorf("expected %q, got %d bytes", JSONTooLargeMessage, len(got))
	}

	many := "[" + strings.Repeat(`{"password":"x"},`, MaxSensitiveFields) + `{"password":"x"}]`
	if got := client.prepareJSONForLogging(many); got != JSONTooManySensitiveMsg {
		t.Errorf("expected %q, got %q", JSONTooManySensitiveMsg, got)
	}
}

// TestPrepareJSONForLogging_PrettyPrint verifies indentation when enabled
func TestPrepareJSONForLogging_PrettyPrint(t *testing.T) {
	client, err := NewClient("apic-em.example.com", WithPrettyPrintLogs(true))
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}

	got := client.prepareJSONForLogging(`{"siteName":"branch-42","password":"x"}`)
	want := "{\n  \"siteName\": \"branch-42\",\n  \"password\": \"[REDACTED]\"\n}"
	if got != want {
		t.Errorf("prepareJSONForLogging() =\n%s\nwant\n%s", got, want)
	}

	if got := client.prepareJSONForLogging("not json"); got != "not json" {
		t.Errorf("invalid JSON should pass through, got %q", got)
	}
}

// TestWrapArray tests the one-element array payload shape
func TestWrapArray(t *testing.T) {
	got, err := wrapArray(`{"siteName":"branch-42"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `[{"siteName":"branch-42"}]` {
		t.Errorf("wrapArray() = %s", got)
	}

	if _, err := wrapArray(`{"siteName":`); err == nil {
		t.Error("expected error for invalid JSON")
	}
}
