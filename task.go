// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package pnp

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Task failure reasons reported in TaskRes.FailureReason
const (
	ReasonTaskUnavailable = "unable to retrieve task"
	ReasonTaskTimeout     = "task did not complete in time"
	ReasonTaskCanceled    = "task wait canceled"
	ReasonTaskFailed      = "task failed"
)

// TaskFetcher retrieves the current status of an asynchronous controller task
//
// Client implements TaskFetcher against /api/v1/task/{id}. Other implementations
// can be plugged into NewTaskPoller, e.g. to replay recorded task documents.
type TaskFetcher interface {
	FetchTaskStatus(ctx context.Context, taskID string) (TaskStatus, error)
}

// TaskStatus is the status document of an asynchronous controller task
//
// A task is complete once its document carries an endTime key. The progress
// string of a completed project or device mutation embeds a JSON object holding
// the id of the created entity; see ResultID.
type TaskStatus struct {
	ID            string
	ServiceType   string
	Progress      string
	IsError       bool
	FailureReason string
	ErrorCode     string
	StartTime     int64
	EndTime       int64

	raw string
}

// NewTaskStatus builds a TaskStatus from the JSON object of a task document
func NewTaskStatus(raw string) TaskStatus {
	doc := gjson.Parse(raw)
	return TaskStatus{
		ID:            doc.Get("id").String(),
		ServiceType:   doc.Get("serviceType").String(),
		Progress:      doc.Get("progress").String(),
		IsError:       doc.Get("isError").Bool(),
		FailureReason: doc.Get("failureReason").String(),
		ErrorCode:     doc.Get("errorCode").String(),
		StartTime:     doc.Get("startTime").Int(),
		EndTime:       doc.Get("endTime").Int(),
		raw:           raw,
	}
}

// Completed reports whether the task document carries an end time
func (s TaskStatus) Completed() bool {
	return s.raw != "" && gjson.Get(s.raw, "endTime").Exists()
}

// Get retrieves a value from the raw task document using a gjson path
func (s TaskStatus) Get(path string) gjson.Result {
	if s.raw == "" {
		return gjson.Result{}
	}
	return gjson.Get(s.raw, path)
}

// JSON returns the raw task document
func (s TaskStatus) JSON() string {
	return s.raw
}

// ResultID extracts the id of the entity created by the task from its progress
//
// The progress must be a JSON object holding key as a non-empty string or number,
// e.g. {"message":"Success creating new site","siteId":"9a1b..."}. Any other
// progress is a KindDecode error; nothing is guessed from partial matches.
//
// Example:
//
//	res, err := client.WaitForTask(ctx, taskID)
//	if err != nil {
//	    return err
//	}
//	siteID, err := res.Status.ResultID("siteId")
func (s TaskStatus) ResultID(key string) (string, error) {
	fail := func(msg string) (string, error) {
		return "", &PnpError{
			Operation:   "ResultID",
			Kind:        KindDecode,
			Message:     msg,
			InternalMsg: fmt.Sprintf("task_id=%s progress=%s", s.ID, truncateBody(s.Progress)),
		}
	}

	progress := strings.TrimSpace(s.Progress)
	if progress == "" {
		return fail("task progress is empty")
	}
	if !gjson.Valid(progress) {
		return fail("task progress is not valid JSON")
	}
	doc := gjson.Parse(progress)
	if !doc.IsObject() {
		return fail("task progress is not a JSON object")
	}

	value := doc.Get(gjson.Escape(key))
	if !value.Exists() {
		return fail(fmt.Sprintf("task progress has no %q", key))
	}
	if value.Type != gjson.String && value.Type != gjson.Number {
		return fail(fmt.Sprintf("task progress %q is not a string or number", key))
	}
	id := value.String()
	if id == "" {
		return fail(fmt.Sprintf("task progress %q is empty", key))
	}
	return id, nil
}

// TaskRes is the terminal outcome of waiting for a task
type TaskRes struct {
	// Status is the last task document fetched (zero if none could be fetched)
	Status TaskStatus

	// OK indicates the task completed without error
	OK bool

	// FailureReason describes why the wait failed (empty when OK)
	FailureReason string

	// Polls is the number of status fetches performed
	Polls int
}

// TaskPoller waits for asynchronous controller tasks to complete
//
// The status is fetched once, then re-polled up to Retries times while it has no
// end time, waiting Interval between polls. With a BackoffFactor above 1 the
// interval grows after every poll up to MaxInterval. The defaults (10 retries,
// 2s fixed interval) bound a wait to about 20 seconds.
type TaskPoller struct {
	fetcher TaskFetcher

	Retries       int
	Interval      time.Duration
	BackoffFactor float64
	MaxInterval   time.Duration

	logger Logger

	// sleep waits between polls; replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// PollRetries sets how many times a pending task is re-polled (default: 10)
func PollRetries(retries int) func(*TaskPoller) {
	return func(p *TaskPoller) {
		p.Retries = retries
	}
}

// PollInterval sets the wait between polls (default: 2s)
func PollInterval(interval time.Duration) func(*TaskPoller) {
	return func(p *TaskPoller) {
		p.Interval = interval
	}
}

// PollBackoffFactor sets the interval multiplication factor (default: 1.0)
func PollBackoffFactor(factor float64) func(*TaskPoller) {
	return func(p *TaskPoller) {
		p.BackoffFactor = factor
	}
}

// PollMaxInterval caps the interval growth (default: 30s)
func PollMaxInterval(interval time.Duration) func(*TaskPoller) {
	return func(p *TaskPoller) {
		p.MaxInterval = interval
	}
}

// PollLogger sets the poller logger (default: NoOpLogger)
func PollLogger(logger Logger) func(*TaskPoller) {
	return func(p *TaskPoller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewTaskPoller creates a TaskPoller that fetches task status through fetcher
//
// Example:
//
//	poller := pnp.NewTaskPoller(client,
//	    pnp.PollRetries(30),
//	    pnp.PollInterval(time.Second))
//	res, err := poller.Wait(ctx, taskID)
func NewTaskPoller(fetcher TaskFetcher, opts ...func(*TaskPoller)) *TaskPoller {
	p := &TaskPoller{
		fetcher:       fetcher,
		Retries:       DefaultTaskPollRetries,
		Interval:      DefaultTaskPollInterval,
		BackoffFactor: DefaultTaskPollBackoffFactor,
		MaxInterval:   DefaultTaskPollMaxInterval,
		logger:        &NoOpLogger{},
		sleep:         sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Wait blocks until the task completes, the retry budget is spent or ctx is done
//
// The outcome is always terminal. On failure TaskRes.OK is false,
// TaskRes.FailureReason holds the reason and the returned *PnpError has one of
// these kinds:
//   - KindTaskUnavailable: a status fetch failed ("unable to retrieve task"); the
//     first fetch failing means no retry is attempted
//   - KindTaskTimeout: no end time after Retries re-polls ("task did not complete in time")
//   - KindTaskFailed: the task completed with isError set
//
// Canceling ctx ends the wait with KindTaskUnavailable wrapping ctx.Err().
func (p *TaskPoller) Wait(ctx context.Context, taskID string) (TaskRes, error) {
	res := TaskRes{}

	if strings.TrimSpace(taskID) == "" {
		res.FailureReason = "task id cannot be empty"
		return res, &PnpError{Operation: "WaitForTask", Kind: KindValidation, Message: res.FailureReason}
	}

	status, err := p.fetcher.FetchTaskStatus(ctx, taskID)
	res.Polls++
	if err != nil {
		return p.fail(ctx, res, taskID, KindTaskUnavailable, ReasonTaskUnavailable, err)
	}
	res.Status = status

	interval := p.Interval
	for retry := 0; !status.Completed() && retry < p.Retries; retry++ {
		p.logger.Debug(ctx, "APIC-EM task pending",
			"task_id", taskID,
			"poll", res.Polls,
			"next_poll_in", interval.String())

		if err := p.sleep(ctx, interval); err != nil {
			return p.fail(ctx, res, taskID, KindTaskUnavailable, ReasonTaskCanceled, err)
		}

		status, err = p.fetcher.FetchTaskStatus(ctx, taskID)
		res.Polls++
		if err != nil {
			return p.fail(ctx, res, taskID, KindTaskUnavailable, ReasonTaskUnavailable, err)
		}
		res.Status = status
		interval = p.nextInterval(interval)
	}

	if !status.Completed() {
		return p.fail(ctx, res, taskID, KindTaskTimeout, ReasonTaskTimeout, nil)
	}

	if status.IsError {
		reason := status.FailureReason
		if reason == "" {
			reason = ReasonTaskFailed
		}
		return p.fail(ctx, res, taskID, KindTaskFailed, reason, nil)
	}

	p.logger.Debug(ctx, "APIC-EM task completed",
		"task_id", taskID,
		"polls", res.Polls,
		"progress", status.Progress)

	res.OK = true
	return res, nil
}

// fail terminates a wait with a tagged result and a typed error
func (p *TaskPoller) fail(ctx context.Context, res TaskRes, taskID string, kind ErrorKind, reason string, cause error) (TaskRes, error) {
	res.OK = false
	res.FailureReason = reason

	internal := fmt.Sprintf("task_id=%s polls=%d", taskID, res.Polls)
	if cause != nil {
		internal += " cause=" + cause.Error()
	}

	p.logger.Warn(ctx, "APIC-EM task wait failed",
		"task_id", taskID,
		"kind", kind.String(),
		"reason", reason,
		"polls", res.Polls)

	return res, &PnpError{
		Operation:   "WaitForTask",
		Kind:        kind,
		Message:     reason,
		InternalMsg: internal,
		Retries:     res.Polls - 1,
		Err:         cause,
	}
}

// nextInterval applies the backoff factor, capped at MaxInterval
func (p *TaskPoller) nextInterval(current time.Duration) time.Duration {
	if p.BackoffFactor <= 1 {
		return current
	}
	next := float64(current) * p.BackoffFactor
	if math.IsInf(next, 1) || next > float64(p.MaxInterval) {
		return p.MaxInterval
	}
	return time.Duration(next)
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FetchTaskStatus retrieves the status document of an asynchronous task
//
// Implements TaskFetcher. A response without a task object in its response
// member is a KindDecode error.
func (c *Client) FetchTaskStatus(ctx context.Context, taskID string) (TaskStatus, error) {
	if strings.TrimSpace(taskID) == "" {
		return TaskStatus{}, &PnpError{Operation: "FetchTaskStatus", Kind: KindValidation, Message: "task id cannot be empty"}
	}

	res, err := c.Get(ctx, taskPath+url.PathEscape(taskID))
	if err != nil {
		return TaskStatus{}, err
	}

	doc := res.Response()
	if !doc.IsObject() {
		return TaskStatus{}, &PnpError{
			Operation:   "FetchTaskStatus",
			Kind:        KindDecode,
			StatusCode:  res.StatusCode,
			Message:     "response has no task status",
			InternalMsg: truncateBody(res.Body),
		}
	}
	return NewTaskStatus(doc.Raw), nil
}

// WaitForTask waits for an asynchronous task using the client's polling settings
//
// See TaskPoller.Wait for the failure semantics.
//
// Example:
//
//	res, err := client.WaitForTask(ctx, taskID)
//	if err != nil {
//	    fmt.Println("task failed:", res.FailureReason)
//	    return err
//	}
//	fmt.Println("task progress:", res.Status.Progress)
func (c *Client) WaitForTask(ctx context.Context, taskID string) (TaskRes, error) {
	return c.poller.Wait(ctx, taskID)
}
