// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package adlsfile

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/grailbio/adlsfs/errors"
	"github.com/grailbio/adlsfs/log"
	"github.com/grailbio/adlsfs/retry"
)

var (
	// BackoffPolicy defines backoff timing parameters. It is exposed publicly
	// only for unittests; Options.InitialDelay and Options.MaxDelay override it.
	BackoffPolicy = retry.Jitter(retry.Backoff(500*time.Millisecond, 30*time.Second, 2), 0.2)

	// MaxRetryDuration defines the max amount of time a single request step
	// can spend retrying on errors.
	MaxRetryDuration = 10 * time.Minute
)

var defaultRetryCodes = []int{
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// Substrings of transport errors that are worth retrying. Compared
// case-insensitively.
var transientMarkers = []string{
	"connection timed out",
	"operation timed out",
	"connection reset by peer",
	"connection was reset",
	"ssl connection timeout",
	"unexpected eof",
}

type outcome int

const (
	success outcome = iota
	retryable
	terminal
)

// response is a fully read HTTP response.
type response struct {
	status int
	header http.Header
	body   []byte
}

func (r *response) requestID() string {
	if r == nil {
		return "(no HTTP response)"
	}
	return r.header.Get("x-ms-request-id")
}

func (r *response) continuation() string {
	return r.header.Get("x-ms-continuation")
}

// retrier drives the attempts of one logical request step.
type retrier struct {
	policy        retry.Policy
	codes         map[int]bool
	retryAll      bool
	op, path      string
	startTime     time.Time // the time the step started.
	retryDeadline time.Time // when to give up retrying.
	maxDuration   time.Duration
	retries       int
	attempts      int   // HTTP exchanges issued by the current step.
	waitErr       error // error happened during wait, typically deadline or too many tries.
	metric        *metricOpProgress
}

func (impl *Impl) newRetrier(op, path string) *retrier {
	now := time.Now()
	return &retrier{
		policy:        impl.policy,
		codes:         impl.retryCodes,
		retryAll:      impl.opts.RetryAll,
		op:            op,
		path:          path,
		startTime:     now,
		retryDeadline: now.Add(impl.opts.MaxRetryDuration),
		maxDuration:   impl.opts.MaxRetryDuration,
		metric:        impl.metrics.Op(op).Start(),
	}
}

// reset prepares r for a logically new step, such as the next page of a
// paginated mutation. It is not a retry.
func (r *retrier) reset() {
	now := time.Now()
	r.startTime = now
	r.retryDeadline = now.Add(r.maxDuration)
	r.retries = 0
	r.attempts = 0
	r.waitErr = nil
}

func (r *retrier) done() { r.metric.Done() }

// wait sleeps before the next attempt. It returns false when the retry
// budget is exhausted or ctx is done.
func (r *retrier) wait(ctx context.Context) bool {
	if r.policy == nil {
		r.waitErr = errors.E(errors.TooManyTries, "retries disabled")
		return false
	}
	ctx2, cancel := context.WithDeadline(ctx, r.retryDeadline)
	r.waitErr = retry.Wait(ctx2, r.policy, r.retries)
	cancel()
	if r.waitErr != nil {
		return false
	}
	r.retries++
	r.metric.Retry()
	return true
}

func (r *retrier) classify(ctx context.Context, resp *response, err error) outcome {
	if err != nil {
		if ctx.Err() != nil {
			return terminal
		}
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return retryable
		}
		msg := strings.ToLower(err.Error())
		for _, m := range transientMarkers {
			if strings.Contains(msg, m) {
				return retryable
			}
		}
		return terminal
	}
	switch {
	case resp.status >= 200 && resp.status < 300:
		return success
	case r.retryAll || r.codes[resp.status]:
		return retryable
	case resp.status == http.StatusBadRequest && bytes.Contains(resp.body, []byte("RequestTimeout")):
		return retryable
	}
	return terminal
}

// execute runs the request built by build until it succeeds, fails
// terminally, or exhausts the retry budget. Build is called once per
// attempt and must return a request with a fresh body. Errors are annotated
// with args.
func (impl *Impl) execute(ctx context.Context, r *retrier, build func() (*http.Request, error), args ...interface{}) (*response, error) {
	for {
		req, err := build()
		if err != nil {
			return nil, errors.E(append([]interface{}{errors.Invalid, err}, args...)...)
		}
		req = req.WithContext(ctx)
		req.Header.Set("x-ms-version", apiVersion)
		req.Header.Set("x-ms-date", time.Now().UTC().Format(http.TimeFormat))
		if err := impl.helper.Authorize(ctx, req); err != nil {
			return nil, errors.E(append([]interface{}{errors.NotAllowed, "authorize", err}, args...)...)
		}
		r.attempts++
		resp, err := impl.do(req)
		switch r.classify(ctx, resp, err) {
		case success:
			return resp, nil
		case retryable:
			log.Printf("retry %s %s: %s", r.op, r.path, describe(resp, err))
			if r.wait(ctx) {
				continue
			}
			return resp, annotate(resp, err, r, append([]interface{}{errors.Temporary, errors.Unavailable}, args...)...)
		default:
			return resp, annotate(resp, err, r, args...)
		}
	}
}

func (impl *Impl) do(req *http.Request) (*response, error) {
	resp, err := impl.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() // nolint: errcheck
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &response{status: resp.StatusCode, header: resp.Header, body: body}, nil
}

func describe(resp *response, err error) string {
	if err != nil {
		return err.Error()
	}
	return newRemoteError(resp).Error()
}
