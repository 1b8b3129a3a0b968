// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package pnp

import (
	"context"
	"net/http"
	"testing"
	"time"
)

// TestClientOptions verifies each option reaches the client and its poller
func TestClientOptions(t *testing.T) {
	httpClient := &http.Client{Timeout: 5 * time.Second}
	logger := NewDefaultLogger(LogLevelWarn)

	client, err := NewClient("apic-em.example.com",
		Username("admin"),
		Password("secret"),
		Ticket("ST-1"),
		TLS(false),
		VerifyCertificate(false),
		RequestTimeout(10*time.Second),
		MaxRetries(5),
		BackoffMinDelay(2*time.Second),
		BackoffMaxDelay(20*time.Second),
		BackoffDelayFactor(3),
		TaskPollRetries(4),
		TaskPollInterval(500*time.Millisecond),
		TaskPollBackoffFactor(2),
		TaskPollMaxInterval(4*time.Second),
		PageLimit(50),
		WithHTTPClient(httpClient),
		WithLogger(logger),
		WithPrettyPrintLogs(true),
	)
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}

	if client.username != "admin" || client.password != "secret" || client.ticket != "ST-1" {
		t.Error("credentials not applied")
	}
	if client.UseTLS || client.VerifyCertificate {
		t.Error("TLS options not applied")
	}
	if client.RequestTimeout != 10*time.Second || client.MaxRetries != 5 {
		t.Errorf("RequestTimeout = %v, MaxRetries = %d", client.RequestTimeout, client.MaxRetries)
	}
	if client.BackoffMinDelay != 2*time.Second || client.BackoffMaxDelay != 20*time.Second || client.BackoffDelayFactor != 3 {
		t.Error("backoff options not applied")
	}
	if client.PageLimit != 50 {
		t.Errorf("PageLimit = %d", client.PageLimit)
	}
	if client.httpClient != httpClient {
		t.Error("custom HTTP client not applied")
	}
	if client.logger != Logger(logger) || !client.prettyPrintLogs {
		t.Error("logging options not applied")
	}

	p := client.poller
	if p.Retries != 4 || p.Interval != 500*time.Millisecond || p.BackoffFactor != 2 || p.MaxInterval != 4*time.Second {
		t.Errorf("poller = retries %d interval %v factor %v max %v", p.Retries, p.Interval, p.BackoffFactor, p.MaxInterval)
	}
	if client.BaseURL() != "http://apic-em.example.com" {
		t.Errorf("BaseURL() = %q", client.BaseURL())
	}
}

// TestClientOptions_NilIgnored verifies nil HTTP clients and loggers keep the defaults
func TestClientOptions_NilIgnored(t *testing.T) {
	client, err := NewClient("apic-em.example.com", WithHTTPClient(nil), WithLogger(nil))
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}
	if client.httpClient == nil {
		t.Error("expected the default HTTP client")
	}
	if _, ok := client.logger.(*NoOpLogger); !ok {
		t.Errorf("expected NoOpLogger, got %T", client.logger)
	}
}

// TestRequestModifiers tests Query and Timeout
func TestRequestModifiers(t *testing.T) {
	req := &Req{}
	for _, mod := range []func(*Req){
		Query("offset", "1"),
		Query("limit", "500"),
		Query("limit", "10"),
		Timeout(time.Minute),
	} {
		mod(req)
	}

	if req.Timeout != time.Minute {
		t.Errorf("Timeout = %v", req.Timeout)
	}
	if got := req.Query.Get("offset"); got != "1" {
		t.Errorf("offset = %q", got)
	}
	if got := req.Query["limit"]; len(got) != 2 {
		t.Errorf("limit = %v, want both values", got)
	}
	if got := req.Query.Encode(); got != "limit=500&limit=10&offset=1" {
		t.Errorf("Encode() = %q", got)
	}
}

// TestRequestModifiers_Query verifies query parameters reach the controller
func TestRequestModifiers_Query(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv)

	for _, name := range []string{"a", "b", "c"} {
		if _, err := client.CreateProject(context.Background(), Project{SiteName: name}); err != nil {
			t.Fatalf("CreateProject() failed: %v", err)
		}
	}

	res, err := client.Get(context.Background(), projectPath, Query("offset", "2"), Query("limit", "1"))
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	page := res.Response().Array()
	if len(page) != 1 || page[0].Get("siteName").String() != "b" {
		t.Errorf("unexpected page: %s", res.Response().Raw)
	}
}
