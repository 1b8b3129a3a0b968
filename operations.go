// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package pnp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// MaxResponseSize is the maximum size of a response body read from the controller (64MB)
const MaxResponseSize = 64 * 1024 * 1024

// Do sends a request to the controller and returns the decoded response
//
// The body may be nil, a JSON string, a []byte holding JSON, a Body, or any value
// encoding/json can marshal. The service ticket is attached automatically and the
// request is retried on transient failures (no response, HTTP 429/502/503/504) with
// exponential backoff. A rejected ticket (HTTP 401) triggers one new login.
//
// Errors are *PnpError values classified by Kind:
//   - KindTransport: no response received
//   - KindStatus: HTTP error status without an APIC-EM error document
//   - KindDecode: the body is not JSON
//   - KindServer: the body carries an errorCode/message/detail document
//
// Example:
//
//	res, err := client.Do(ctx, pnp.MethodGet, "/api/v1/pnp-project",
//	    nil, pnp.Query("offset", "1"), pnp.Query("limit", "10"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, p := range res.Response().Array() {
//	    fmt.Println(p.Get("siteName").String())
//	}
func (c *Client) Do(ctx context.Context, method, path string, body any, mods ...func(*Req)) (Res, error) {
	op := method + " " + path

	payload, err := encodeBody(body)
	if err != nil {
		return Res{}, &PnpError{Operation: op, Kind: KindValidation, Message: "invalid request body", Err: err}
	}

	req := &Req{}
	for _, mod := range mods {
		mod(req)
	}

	return c.do(ctx, op, method, path, payload, req)
}

// Get sends a GET request to the controller
func (c *Client) Get(ctx context.Context, path string, mods ...func(*Req)) (Res, error) {
	return c.Do(ctx, MethodGet, path, nil, mods...)
}

// Post sends a POST request with a JSON body to the controller
func (c *Client) Post(ctx context.Context, path string, body any, mods ...func(*Req)) (Res, error) {
	return c.Do(ctx, MethodPost, path, body, mods...)
}

// Put sends a PUT request with a JSON body to the controller
func (c *Client) Put(ctx context.Context, path string, body any, mods ...func(*Req)) (Res, error) {
	return c.Do(ctx, MethodPut, path, body, mods...)
}

// Delete sends a DELETE request to the controller
func (c *Client) Delete(ctx context.Context, path string, mods ...func(*Req)) (Res, error) {
	return c.Do(ctx, MethodDelete, path, nil, mods...)
}

// encodeBody converts the supported body types to JSON bytes
func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(b), nil
	case []byte:
		return b, nil
	case Body:
		return b.Bytes()
	default:
		return json.Marshal(b)
	}
}

// do executes a request with retry logic
//
// Retries cover transport errors and TransientStatusCodes. Everything else is
// returned after the first attempt.
//
//nolint:gocyclo // Retry logic naturally has high complexity
func (c *Client) do(ctx context.Context, op, method, path string, payload []byte, req *Req) (Res, error) {
	if err := checkContextCancellation(ctx); err != nil {
		return Res{}, &PnpError{Operation: op, Kind: KindTransport, Message: "context canceled", Err: err}
	}

	requestID := uuid.NewString()
	ctx = withRequestID(ctx, requestID)

	var ticket string
	if !req.noAuth {
		t, err := c.ensureTicket(ctx)
		if err != nil {
			return Res{}, err
		}
		ticket = t
	}

	target := c.baseURL + path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	contentType := req.contentType
	if contentType == "" {
		contentType = "application/json"
	}

	c.logger.Debug(ctx, "APIC-EM request",
		"operation", op,
		"url", target)
	if len(payload) > 0 && contentType == "application/json" {
		c.logger.Debug(ctx, "APIC-EM request body",
			"operation", op,
			"body", c.prepareJSONForLogging(string(payload)))
	}

	var (
		statusCode int
		respBody   []byte
		lastErr    error
		retries    int
		reauthed   bool
	)

	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if err := checkContextCancellation(ctx); err != nil {
			return Res{}, &PnpError{Operation: op, Kind: KindTransport, Message: "context canceled", Retries: retries, Err: err}
		}

		attemptCtx, attemptCancel := c.createAttemptContext(ctx, req)
		httpReq, err := http.NewRequestWithContext(attemptCtx, method, target, bytes.NewReader(payload))
		if err != nil {
			attemptCancel()
			return Res{}, &PnpError{Operation: op, Kind: KindValidation, Message: "failed to create request", Err: err}
		}
		httpReq.Header.Set("Content-Type", contentType)
		httpReq.Header.Set("Accept", "application/json")
		httpReq.Header.Set("X-Request-Id", requestID)
		if ticket != "" {
			httpReq.Header.Set("X-Auth-Token", ticket)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err == nil {
			respBody, err = io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
			resp.Body.Close() //nolint:errcheck // Body fully read
			statusCode = resp.StatusCode
		}
		attemptCancel()

		transient := false
		switch {
		case err != nil:
			lastErr = err
			statusCode = 0
			transient = true
		case statusCode == http.StatusUnauthorized && !req.noAuth && !reauthed && c.canLogin():
			reauthed = true
			renewed, renewErr := c.renewTicket(ctx, ticket)
			if renewErr != nil {
				return Res{}, renewErr
			}
			ticket = renewed
			attempt-- // a rejected ticket does not consume the retry budget
			continue
		case isTransientStatus(statusCode):
			lastErr = fmt.Errorf("HTTP %d", statusCode)
			transient = true
		default:
			lastErr = nil
		}

		if !transient || attempt >= c.MaxRetries {
			break
		}

		retries++
		backoff := c.Backoff(attempt)
		c.logger.Warn(ctx, "transient error, retrying",
			"operation", op,
			"attempt", attempt+1,
			"max_retries", c.MaxRetries,
			"backoff", backoff,
			"error", lastErr.Error())

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return Res{}, &PnpError{
				Operation: op,
				Kind:      KindTransport,
				Message:   "context canceled during backoff",
				Retries:   retries,
				Err:       ctx.Err(),
			}
		}
	}

	if statusCode == 0 {
		c.logger.Error(ctx, "APIC-EM request failed",
			"operation", op,
			"error", lastErr.Error())
		return Res{}, &PnpError{
			Operation:   op,
			Kind:        KindTransport,
			Message:     "no response from controller",
			InternalMsg: lastErr.Error(),
			Retries:     retries,
			Err:         lastErr,
		}
	}

	res := Res{StatusCode: statusCode, Body: string(respBody), RequestID: requestID}

	if len(respBody) > 0 {
		c.logger.Debug(ctx, "APIC-EM response",
			"operation", op,
			"status", statusCode,
			"body", c.prepareJSONForLogging(res.Body))
	}

	if err := c.checkResponse(ctx, op, res, retries); err != nil {
		return res, err
	}
	return res, nil
}

// checkResponse classifies a received response into status, server and decode errors
func (c *Client) checkResponse(ctx context.Context, op string, res Res, retries int) error {
	valid := res.Body != "" && gjson.Valid(res.Body)

	if valid {
		if models := extractErrorModels(res.Body); len(models) > 0 {
			c.logger.Error(ctx, "APIC-EM reported an error",
				"operation", op,
				"status", res.StatusCode,
				"error_code", models[0].Code,
				"message", models[0].Message)
			return &PnpError{
				Operation:  op,
				Kind:       KindServer,
				StatusCode: res.StatusCode,
				Errors:     models,
				Message:    models[0].String(),
				Retries:    retries,
			}
		}
	}

	if res.StatusCode >= 400 {
		c.logger.Error(ctx, "APIC-EM request failed",
			"operation", op,
			"status", res.StatusCode)
		return &PnpError{
			Operation:   op,
			Kind:        KindStatus,
			StatusCode:  res.StatusCode,
			Message:     fmt.Sprintf("HTTP %d %s", res.StatusCode, http.StatusText(res.StatusCode)),
			InternalMsg: truncateBody(res.Body),
			Retries:     retries,
		}
	}

	if res.Body != "" && !valid {
		return &PnpError{
			Operation:   op,
			Kind:        KindDecode,
			StatusCode:  res.StatusCode,
			Message:     "response is not valid JSON",
			InternalMsg: truncateBody(res.Body),
			Retries:     retries,
		}
	}
	return nil
}

// extractErrorModels reads an APIC-EM error document
//
// The controller places it either in the response member or at the top level:
//
//	{"response": {"errorCode": "...", "message": "...", "detail": "..."}, "version": "1.0"}
//
// Task documents carry their own errorCode next to isError; those are left to the
// task poller.
func extractErrorModels(body string) []ErrorModel {
	for _, path := range []string{"response", "@this"} {
		doc := gjson.Get(body, path)
		if !doc.IsObject() || doc.Get("isError").Exists() {
			continue
		}
		code := doc.Get("errorCode")
		if !code.Exists() {
			continue
		}
		return []ErrorModel{{
			Code:    code.String(),
			Message: doc.Get("message").String(),
			Detail:  doc.Get("detail").String(),
		}}
	}
	return nil
}

// truncateBody shortens a response body for error messages
func truncateBody(body string) string {
	if len(body) <= 256 {
		return body
	}
	return body[:256] + "..."
}

// submitTask sends a mutating request and returns the task id the controller
// hands back for it
func (c *Client) submitTask(ctx context.Context, op, method, path string, body any) (string, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return "", &PnpError{Operation: op, Kind: KindValidation, Message: "invalid request body", Err: err}
	}

	res, err := c.do(ctx, op, method, path, payload, &Req{})
	if err != nil {
		return "", err
	}

	taskID := res.Response().Get("taskId").String()
	if taskID == "" {
		return "", &PnpError{
			Operation:   op,
			Kind:        KindDecode,
			StatusCode:  res.StatusCode,
			Message:     "response has no task id",
			InternalMsg: truncateBody(res.Body),
		}
	}

	c.logger.Debug(ctx, "APIC-EM task submitted",
		"operation", op,
		"task_id", taskID)
	return taskID, nil
}

// runTask submits a mutating request and waits for its task to complete
func (c *Client) runTask(ctx context.Context, op, method, path string, body any) (TaskStatus, error) {
	taskID, err := c.submitTask(ctx, op, method, path, body)
	if err != nil {
		return TaskStatus{}, err
	}

	res, err := c.WaitForTask(ctx, taskID)
	if err != nil {
		return res.Status, withOperation(op, err)
	}
	return res.Status, nil
}

// list fetches every page of a listing endpoint
//
// APIC-EM pages with a 1-based offset. Pages are requested until one comes back
// shorter than PageLimit, or until a page starts with an id already collected,
// which happens when the offset is ignored somewhere along the way.
func (c *Client) list(ctx context.Context, op, path string) ([]gjson.Result, error) {
	var items []gjson.Result
	seen := make(map[string]bool)
	offset := 1
	for {
		res, err := c.Get(ctx, path,
			Query("offset", strconv.Itoa(offset)),
			Query("limit", strconv.Itoa(c.PageLimit)))
		if err != nil {
			return nil, withOperation(op, err)
		}

		page := res.Response()
		if !page.IsArray() {
			return nil, &PnpError{
				Operation:   op,
				Kind:        KindDecode,
				StatusCode:  res.StatusCode,
				Message:     "response is not a list",
				InternalMsg: truncateBody(res.Body),
			}
		}

		entries := page.Array()
		if len(entries) > 0 {
			if first := entries[0].Get("id").String(); first != "" && seen[first] {
				c.logger.Warn(ctx, "APIC-EM listing repeated a page, stopping",
					"operation", op,
					"path", path,
					"offset", offset)
				return items, nil
			}
		}
		for _, e := range entries {
			if id := e.Get("id").String(); id != "" {
				seen[id] = true
			}
		}
		items = append(items, entries...)
		if len(entries) < c.PageLimit {
			return items, nil
		}
		offset += len(entries)
	}
}

// checkContextCancellation checks if context is canceled or deadline exceeded
//
// This is a non-blocking check used before every attempt to avoid wasted work.
func checkContextCancellation(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// createAttemptContext creates a new context for a single attempt with timeout
//
// Timeout priority model:
//  1. Request-specific timeout (req.Timeout > 0) - highest priority
//  2. Existing context deadline (ctx.Deadline() set) - medium priority
//  3. Client default timeout (c.RequestTimeout) - fallback
//
// Caller MUST call the returned cancel function once the attempt is done.
func (c *Client) createAttemptContext(ctx context.Context, req *Req) (context.Context, context.CancelFunc) {
	if req.Timeout > 0 {
		if req.Timeout < time.Second {
			c.logger.Warn(ctx, "request timeout is very short (may not complete)",
				"timeout", req.Timeout.String(),
				"server", c.baseURL)
		}
		return context.WithTimeout(ctx, req.Timeout)
	}

	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.RequestTimeout)
}
