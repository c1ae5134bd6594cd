// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package adlsfile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/grailbio/adlsfs/errors"
	"github.com/grailbio/adlsfs/file"
	"github.com/grailbio/adlsfs/log"
)

// Metadata domains. Names are matched case-insensitively.
const (
	// DomainStatus holds the system properties of a path (read only).
	DomainStatus = "STATUS"
	// DomainProperties holds the HTTP properties of a path (write only;
	// read them through DomainStatus).
	DomainProperties = "PROPERTIES"
	// DomainACL holds the owner, group, permissions and ACL of a path.
	DomainACL = "ACL"
)

var (
	propertiesHeaders = allowList(
		"x-ms-lease-id", "x-ms-cache-control", "x-ms-content-type",
		"x-ms-content-disposition", "x-ms-content-encoding", "x-ms-content-language",
		"x-ms-content-md5", "x-ms-properties", "x-ms-client-request-id")
	aclHeaders = allowList(
		"x-ms-lease-id", "x-ms-owner", "x-ms-group", "x-ms-permissions",
		"x-ms-acl", "x-ms-client-request-id")
	aclRecursiveHeaders = allowList("x-ms-lease-id", "x-ms-acl", "x-ms-client-request-id")
)

func allowList(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// GetFileMetadata implements file.Metadata. It returns the response headers
// of the domain's HEAD request, except Server and Date, keyed by lowercase
// header name. Domains other than STATUS and ACL fail with an error of kind
// errors.Invalid.
func (impl *Impl) GetFileMetadata(ctx context.Context, path, domain string) (map[string]string, error) {
	var action string
	switch {
	case strings.EqualFold(domain, DomainStatus):
		action = "getStatus"
	case strings.EqualFold(domain, DomainACL):
		action = "getAccessControl"
	default:
		return nil, errors.E(errors.Invalid, "adlsfile.getmetadata", path, fmt.Sprintf("unsupported domain %q", domain))
	}
	p, err := parse(path)
	if err != nil {
		return nil, err
	}
	if p.key == "" {
		return nil, errors.E(errors.Invalid, "adlsfile.getmetadata", path, "is not a path within a filesystem")
	}
	r := impl.newRetrier("getmetadata", p.String())
	defer r.done()
	resp, err := impl.execute(ctx, r, func() (*http.Request, error) {
		return http.NewRequest(http.MethodHead, impl.helper.URL(DFS, p.fs, p.key, url.Values{"action": {action}}), nil)
	}, "adlsfile.getmetadata", path)
	if err != nil {
		return nil, err
	}
	md := make(map[string]string, len(resp.header))
	for k, v := range resp.header {
		if k == "Server" || k == "Date" {
			continue
		}
		md[strings.ToLower(k)] = strings.Join(v, ",")
	}
	return md, nil
}

// SetFileMetadata implements file.Metadata for the PROPERTIES and ACL
// domains. Keys outside the domain's allow-list are dropped, except
// conditional headers ("If-*"). A recursive ACL update requires opts.Mode
// ("set", "modify" or "remove") and is paginated by the service; if a
// later page fails, earlier pages stay applied.
func (impl *Impl) SetFileMetadata(ctx context.Context, path, domain string, md map[string]string, opts file.MetadataOpts) error {
	var (
		action  string
		allowed map[string]bool
		mode    string
	)
	switch {
	case strings.EqualFold(domain, DomainProperties):
		action, allowed = "setProperties", propertiesHeaders
	case strings.EqualFold(domain, DomainACL) && opts.Recursive:
		action, allowed = "setAccessControlRecursive", aclRecursiveHeaders
		mode = strings.ToLower(opts.Mode)
		if mode != "set" && mode != "modify" && mode != "remove" {
			return errors.E(errors.Invalid, "adlsfile.setmetadata", path, fmt.Sprintf("recursive ACL update needs mode set, modify or remove; got %q", opts.Mode))
		}
	case strings.EqualFold(domain, DomainACL):
		action, allowed = "setAccessControl", aclHeaders
	default:
		return errors.E(errors.Invalid, "adlsfile.setmetadata", path, fmt.Sprintf("unsupported domain %q", domain))
	}
	p, err := parse(path)
	if err != nil {
		return err
	}
	if p.key == "" {
		return errors.E(errors.Invalid, "adlsfile.setmetadata", path, "is not a path within a filesystem")
	}
	headers := make(http.Header)
	for k, v := range md {
		lower := strings.ToLower(k)
		if allowed[lower] || strings.HasPrefix(lower, "if-") {
			headers.Set(k, v)
		} else {
			log.Debug.Printf("adlsfile.setmetadata %s: dropping header %s", path, k)
		}
	}
	r := impl.newRetrier("setmetadata", p.String())
	defer r.done()
	var marker string
	for page := 0; ; page++ {
		resp, err := impl.execute(ctx, r, func() (*http.Request, error) {
			q := url.Values{"action": {action}}
			if mode != "" {
				q.Set("mode", mode)
			}
			if marker != "" {
				q.Set("continuation", marker)
			}
			req, err := http.NewRequest(http.MethodPatch, impl.helper.URL(DFS, p.fs, p.key, q), nil)
			if err != nil {
				return nil, err
			}
			for k, v := range headers {
				req.Header[k] = v
			}
			return req, nil
		}, "adlsfile.setmetadata", path)
		if err == nil && mode != "" {
			err = recursiveFailures(resp, path)
		}
		if err != nil {
			if page > 0 {
				log.Error.Printf("adlsfile.setmetadata %s: failed after %d pages; the update was applied partially: %v", p, page, err)
			}
			impl.invalidateMetadata(p, mode != "")
			return err
		}
		if marker = resp.continuation(); marker == "" || mode == "" {
			break
		}
		r.reset()
	}
	impl.invalidateMetadata(p, mode != "")
	return nil
}

func (impl *Impl) invalidateMetadata(p adlsPath, recursive bool) {
	if recursive {
		impl.cache.InvalidatePrefix(p.String())
	}
	impl.invalidate(p)
}

// recursiveFailures reports the entries a recursive ACL page could not
// update.
func recursiveFailures(resp *response, path string) error {
	var body struct {
		FailureCount  int `json:"failureCount"`
		FailedEntries []struct {
			Name         string `json:"name"`
			ErrorMessage string `json:"errorMessage"`
		} `json:"failedEntries"`
	}
	if len(resp.body) == 0 || json.Unmarshal(resp.body, &body) != nil || body.FailureCount == 0 {
		return nil
	}
	msg := fmt.Sprintf("%d entries failed", body.FailureCount)
	if len(body.FailedEntries) > 0 {
		msg += fmt.Sprintf(", e.g. %s: %s", body.FailedEntries[0].Name, body.FailedEntries[0].ErrorMessage)
	}
	return errors.E(errors.Remote, "adlsfile.setmetadata", path, msg)
}
