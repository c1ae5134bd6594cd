// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package adlsfile

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/grailbio/adlsfs/errors"
)

// RemoteError describes a non-2xx response of the storage service. It is
// the cause of the *errors.Error values returned by this package and can be
// retrieved with errors.As.
type RemoteError struct {
	StatusCode int
	// Code is the service error code, e.g. "PathNotFound".
	Code      string
	Message   string
	RequestID string
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func newRemoteError(resp *response) *RemoteError {
	e := &RemoteError{
		StatusCode: resp.status,
		Code:       resp.header.Get("x-ms-error-code"),
		RequestID:  resp.requestID(),
	}
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if len(resp.body) > 0 && json.Unmarshal(resp.body, &body) == nil {
		if e.Code == "" {
			e.Code = body.Error.Code
		}
		e.Message = body.Error.Message
	}
	return e
}

// kindOf classifies a terminal service error.
func kindOf(e *RemoteError) errors.Kind {
	switch e.Code {
	case "PathNotFound", "FilesystemNotFound", "ContainerNotFound", "BlobNotFound", "SourcePathNotFound":
		return errors.NotExist
	case "PathAlreadyExists", "FilesystemAlreadyExists", "ContainerAlreadyExists", "BlobAlreadyExists":
		return errors.Exists
	case "DirectoryNotEmpty":
		return errors.NotEmpty
	}
	switch s := e.StatusCode; {
	case s == http.StatusNotFound:
		return errors.NotExist
	case s == http.StatusUnauthorized, s == http.StatusForbidden:
		return errors.NotAllowed
	case s == http.StatusPreconditionFailed:
		return errors.Precondition
	case s == http.StatusConflict:
		return errors.Exists
	case s >= 400 && s < 500:
		return errors.Invalid
	}
	return errors.Remote
}

// annotate interprets a failed exchange and returns an *errors.Error
// carrying its kind, the request ID and retry bookkeeping. A Kind among args
// overrides the classification.
func annotate(resp *response, err error, r *retrier, args ...interface{}) error {
	var msgs []interface{}
	if resp != nil && err == nil {
		remote := newRemoteError(resp)
		msgs = append(msgs, kindOf(remote), remote)
	} else {
		msgs = append(msgs, err)
	}
	msgs = append(msgs, args...)
	msgs = append(msgs, "x-ms-request-id:", resp.requestID())
	if r.waitErr != nil {
		msgs = append(msgs, fmt.Sprintf("[waitErr=%v]", r.waitErr))
	}
	msgs = append(msgs, fmt.Sprintf("[retries=%d, start=%v]", r.retries, r.startTime))
	return errors.E(msgs...)
}
