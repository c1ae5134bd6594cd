// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package adlsfile

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/grailbio/adlsfs/errors"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func newTestRetrier(t *testing.T, opts Options) *retrier {
	impl, err := NewImplementation(&SASHelper{token: map[string][]string{"sig": {"x"}}}, opts)
	assert.NoError(t, err)
	return impl.newRetrier("test", "adls://fs/a")
}

func resp(status int, body string) *response {
	return &response{status: status, header: http.Header{}, body: []byte(body)}
}

func TestClassify(t *testing.T) {
	ctx := context.Background()
	r := newTestRetrier(t, Options{})
	for _, test := range []struct {
		resp *response
		err  error
		want outcome
	}{
		{resp(200, ""), nil, success},
		{resp(201, ""), nil, success},
		{resp(206, ""), nil, success},
		{resp(429, ""), nil, retryable},
		{resp(500, ""), nil, retryable},
		{resp(503, ""), nil, retryable},
		{resp(504, ""), nil, retryable},
		{resp(400, `{"error":{"code":"RequestTimeout"}}`), nil, retryable},
		{resp(400, `{"error":{"code":"InvalidInput"}}`), nil, terminal},
		{resp(404, ""), nil, terminal},
		{resp(409, ""), nil, terminal},
		{nil, timeoutError{}, retryable},
		{nil, fmt.Errorf("read tcp: connection reset by peer"), retryable},
		{nil, fmt.Errorf("Unexpected EOF"), retryable},
		{nil, fmt.Errorf("x509: certificate signed by unknown authority"), terminal},
	} {
		expect.EQ(t, test.want, r.classify(ctx, test.resp, test.err), "resp %+v err %v", test.resp, test.err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	expect.EQ(t, terminal, r.classify(cancelled, nil, timeoutError{}))

	r = newTestRetrier(t, Options{RetryCodes: []int{404}})
	expect.EQ(t, retryable, r.classify(ctx, resp(404, ""), nil))
	expect.EQ(t, terminal, r.classify(ctx, resp(503, ""), nil))

	r = newTestRetrier(t, Options{RetryAll: true})
	expect.EQ(t, retryable, r.classify(ctx, resp(403, ""), nil))
	expect.EQ(t, success, r.classify(ctx, resp(200, ""), nil))
}

func TestWaitBudget(t *testing.T) {
	ctx := context.Background()
	r := newTestRetrier(t, Options{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond})
	expect.True(t, r.wait(ctx))
	expect.True(t, r.wait(ctx))
	expect.False(t, r.wait(ctx))
	expect.True(t, errors.Is(errors.TooManyTries, r.waitErr), "waitErr: %v", r.waitErr)
	expect.EQ(t, 2, r.retries)

	r.reset()
	expect.EQ(t, 0, r.retries)
	expect.Nil(t, r.waitErr)
	expect.True(t, r.wait(ctx))

	r = newTestRetrier(t, Options{MaxRetries: -1})
	expect.False(t, r.wait(ctx))
	expect.True(t, errors.Is(errors.TooManyTries, r.waitErr))

	r = newTestRetrier(t, Options{InitialDelay: time.Hour, MaxRetryDuration: 10 * time.Millisecond})
	start := time.Now()
	expect.False(t, r.wait(ctx))
	expect.True(t, time.Since(start) < time.Minute)
}

func TestAnnotate(t *testing.T) {
	r := newTestRetrier(t, Options{})
	for _, test := range []struct {
		status int
		code   string
		kind   errors.Kind
	}{
		{404, "PathNotFound", errors.NotExist},
		{404, "", errors.NotExist},
		{409, "PathAlreadyExists", errors.Exists},
		{409, "DirectoryNotEmpty", errors.NotEmpty},
		{409, "LeaseIdMissing", errors.Exists},
		{403, "AuthorizationPermissionMismatch", errors.NotAllowed},
		{401, "", errors.NotAllowed},
		{412, "ConditionNotMet", errors.Precondition},
		{400, "InvalidQueryParameterValue", errors.Invalid},
		{500, "InternalError", errors.Remote},
	} {
		rsp := resp(test.status, "")
		rsp.header.Set("x-ms-error-code", test.code)
		rsp.header.Set("x-ms-request-id", "req-7")
		err := annotate(rsp, nil, r, "stat", "adls://fs/a")
		expect.True(t, errors.Is(test.kind, err), "%d %s: %v", test.status, test.code, err)
		expect.True(t, strings.Contains(err.Error(), "x-ms-request-id: req-7"), "err: %v", err)
		expect.True(t, strings.Contains(err.Error(), "[retries=0"), "err: %v", err)
		var remote *RemoteError
		expect.True(t, errors.As(err, &remote))
		expect.EQ(t, test.status, remote.StatusCode)
	}

	// The error body supplies the code when the header does not.
	err := annotate(resp(404, `{"error":{"code":"FilesystemNotFound","message":"gone"}}`), nil, r)
	var remote *RemoteError
	assert.True(t, errors.As(err, &remote))
	expect.EQ(t, "FilesystemNotFound", remote.Code)
	expect.EQ(t, "gone", remote.Message)

	// Explicit kinds win.
	err = annotate(resp(503, ""), nil, r, errors.Temporary, errors.Unavailable)
	expect.True(t, errors.Is(errors.Unavailable, err))
	expect.True(t, errors.IsTemporary(err))

	err = annotate(nil, timeoutError{}, r)
	expect.True(t, strings.Contains(err.Error(), "(no HTTP response)"), "err: %v", err)
}
