// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package adlsfile

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
	"github.com/grailbio/adlsfs/errors"
	"golang.org/x/oauth2"
)

// apiVersion is the storage REST API version sent with every request.
const apiVersion = "2021-06-08"

// storageScope is the OAuth scope of Azure Storage.
const storageScope = "https://storage.azure.com/.default"

// Endpoint selects one of the two REST surfaces of a storage account.
type Endpoint int

const (
	// DFS is the Data Lake (hierarchical namespace) endpoint.
	DFS Endpoint = iota
	// Blob is the blob endpoint, used for copies and signed URLs.
	Blob
)

// Endpoints holds the base URLs of an account, without a trailing slash.
type Endpoints struct {
	DFS, Blob string
}

// DefaultEndpoints returns the public-cloud endpoints of account.
func DefaultEndpoints(account string) Endpoints {
	return Endpoints{
		DFS:  "https://" + account + ".dfs.core.windows.net",
		Blob: "https://" + account + ".blob.core.windows.net",
	}
}

// URL returns the URL of fs/key on the given endpoint. An empty fs names the
// account root.
func (e Endpoints) URL(ep Endpoint, fs, key string, query url.Values) string {
	base := e.DFS
	if ep == Blob {
		base = e.Blob
	}
	u := base + pathSeparator
	if fs != "" {
		u += escapePath(fs)
		if key != "" {
			u += pathSeparator + escapePath(key)
		}
	}
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func escapePath(p string) string {
	parts := strings.Split(p, pathSeparator)
	for i := range parts {
		parts[i] = url.PathEscape(parts[i])
	}
	return strings.Join(parts, pathSeparator)
}

// SignOpts configures a signed URL.
type SignOpts struct {
	// Expiry is the lifetime of the URL. Zero means one hour.
	Expiry time.Duration
	// StartTime is when the URL becomes valid. Zero means immediately.
	StartTime time.Time
	// Permissions is a combination of "r" (read), "c" (create),
	// "w" (write) and "d" (delete). Empty means "r".
	Permissions string
}

// HandleHelper builds request URLs and authorizes requests for one storage
// account. Implementations must be safe for concurrent use.
type HandleHelper interface {
	// URL returns the URL of fs/key on the given endpoint with the given
	// query parameters. An empty fs names the account root.
	URL(ep Endpoint, fs, key string, query url.Values) string
	// Authorize adds credentials to req. It is called once per attempt,
	// after every other header has been set.
	Authorize(ctx context.Context, req *http.Request) error
	// SignURL returns a blob-endpoint URL of fs/key that carries its own
	// authorization. Helpers that cannot sign return an error of kind
	// errors.NotSupported.
	SignURL(fs, key string, opts SignOpts) (string, error)
}

// SharedKeyHelper authorizes requests with the account key.
type SharedKeyHelper struct {
	Endpoints
	account string
	key     []byte
	cred    *azblob.SharedKeyCredential
}

// NewSharedKeyHelper creates a helper for account using its base64-encoded
// access key.
func NewSharedKeyHelper(ep Endpoints, account, accessKey string) (*SharedKeyHelper, error) {
	key, err := base64.StdEncoding.DecodeString(accessKey)
	if err != nil {
		return nil, errors.E(errors.Invalid, "adlsfile: access key is not base64", err)
	}
	cred, err := azblob.NewSharedKeyCredential(account, accessKey)
	if err != nil {
		return nil, errors.E(errors.Invalid, "adlsfile: shared key", err)
	}
	return &SharedKeyHelper{Endpoints: ep, account: account, key: key, cred: cred}, nil
}

// Authorize implements HandleHelper.
func (h *SharedKeyHelper) Authorize(ctx context.Context, req *http.Request) error {
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(StringToSign(h.account, req))) // nolint: errcheck
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	req.Header.Set("Authorization", "SharedKey "+h.account+":"+sig)
	return nil
}

// StringToSign returns the canonical form of req that shared-key
// authorization signs.
func StringToSign(account string, req *http.Request) string {
	length := ""
	if req.ContentLength > 0 {
		length = strconv.FormatInt(req.ContentLength, 10)
	}
	h := req.Header
	var b strings.Builder
	for _, s := range []string{
		req.Method,
		h.Get("Content-Encoding"),
		h.Get("Content-Language"),
		length,
		h.Get("Content-MD5"),
		h.Get("Content-Type"),
		"", // Date; x-ms-date is always set.
		h.Get("If-Modified-Since"),
		h.Get("If-Match"),
		h.Get("If-None-Match"),
		h.Get("If-Unmodified-Since"),
		h.Get("Range"),
	} {
		b.WriteString(s)
		b.WriteByte('\n')
	}
	var names []string
	for name := range h {
		if lower := strings.ToLower(name); strings.HasPrefix(lower, "x-ms-") {
			names = append(names, lower)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "%s:%s\n", name, strings.TrimSpace(h.Get(name)))
	}
	b.WriteString("/" + account + req.URL.EscapedPath())
	query := req.URL.Query()
	var params []string
	for name := range query {
		params = append(params, name)
	}
	sort.Strings(params)
	for _, name := range params {
		values := query[name]
		sort.Strings(values)
		fmt.Fprintf(&b, "\n%s:%s", strings.ToLower(name), strings.Join(values, ","))
	}
	return b.String()
}

// SignURL implements HandleHelper with a blob service SAS.
func (h *SharedKeyHelper) SignURL(fs, key string, opts SignOpts) (string, error) {
	if fs == "" || key == "" {
		return "", errors.E(errors.Invalid, "adlsfile: only objects can be signed")
	}
	perms, err := parsePermissions(opts.Permissions)
	if err != nil {
		return "", err
	}
	expiry := opts.Expiry
	if expiry <= 0 {
		expiry = time.Hour
	}
	protocol := sas.ProtocolHTTPS
	if strings.HasPrefix(h.Blob, "http:") {
		protocol = sas.ProtocolHTTPSandHTTP
	}
	values := sas.BlobSignatureValues{
		Protocol:      protocol,
		StartTime:     opts.StartTime.UTC(),
		ExpiryTime:    time.Now().UTC().Add(expiry),
		Permissions:   perms.String(),
		ContainerName: fs,
		BlobName:      key,
	}
	qp, err := values.SignWithSharedKey(h.cred)
	if err != nil {
		return "", errors.E(errors.Invalid, "adlsfile: sign", fs, key, err)
	}
	return h.URL(Blob, fs, key, nil) + "?" + qp.Encode(), nil
}

func parsePermissions(s string) (*sas.BlobPermissions, error) {
	if s == "" {
		s = "r"
	}
	perms := new(sas.BlobPermissions)
	for _, c := range s {
		switch c {
		case 'r':
			perms.Read = true
		case 'c':
			perms.Create = true
		case 'w':
			perms.Write = true
		case 'd':
			perms.Delete = true
		default:
			return nil, errors.E(errors.Invalid, fmt.Sprintf("adlsfile: unknown permission %q in %q", c, s))
		}
	}
	return perms, nil
}

// SASHelper authorizes requests with a shared access signature that is
// appended to every URL.
type SASHelper struct {
	Endpoints
	token url.Values
}

// NewSASHelper creates a helper from a SAS token, with or without its
// leading '?'.
func NewSASHelper(ep Endpoints, token string) (*SASHelper, error) {
	values, err := url.ParseQuery(strings.TrimPrefix(token, "?"))
	if err != nil || values.Get("sig") == "" {
		return nil, errors.E(errors.Invalid, "adlsfile: malformed SAS token", err)
	}
	return &SASHelper{Endpoints: ep, token: values}, nil
}

// URL implements HandleHelper.
func (h *SASHelper) URL(ep Endpoint, fs, key string, query url.Values) string {
	q := make(url.Values, len(query)+len(h.token))
	for k, v := range h.token {
		q[k] = v
	}
	for k, v := range query {
		q[k] = v
	}
	return h.Endpoints.URL(ep, fs, key, q)
}

// Authorize implements HandleHelper. The signature is already in the URL.
func (h *SASHelper) Authorize(ctx context.Context, req *http.Request) error { return nil }

// SignURL implements HandleHelper by returning the URL with the token the
// helper was created with; opts cannot widen it.
func (h *SASHelper) SignURL(fs, key string, opts SignOpts) (string, error) {
	if fs == "" || key == "" {
		return "", errors.E(errors.Invalid, "adlsfile: only objects can be signed")
	}
	return h.URL(Blob, fs, key, nil), nil
}

// TokenHelper authorizes requests with an OAuth bearer token.
type TokenHelper struct {
	Endpoints
	token func(ctx context.Context) (string, error)
}

// NewTokenCredentialHelper creates a helper that obtains tokens from an
// Azure credential, such as one from azidentity.
func NewTokenCredentialHelper(ep Endpoints, cred azcore.TokenCredential) *TokenHelper {
	return &TokenHelper{Endpoints: ep, token: func(ctx context.Context) (string, error) {
		tok, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{storageScope}})
		return tok.Token, err
	}}
}

// NewTokenSourceHelper creates a helper that obtains tokens from an oauth2
// token source.
func NewTokenSourceHelper(ep Endpoints, ts oauth2.TokenSource) *TokenHelper {
	ts = oauth2.ReuseTokenSource(nil, ts)
	return &TokenHelper{Endpoints: ep, token: func(ctx context.Context) (string, error) {
		tok, err := ts.Token()
		if err != nil {
			return "", err
		}
		return tok.AccessToken, nil
	}}
}

// Authorize implements HandleHelper.
func (h *TokenHelper) Authorize(ctx context.Context, req *http.Request) error {
	tok, err := h.token(ctx)
	if err != nil {
		return errors.E(errors.NotAllowed, "adlsfile: fetch token", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	return nil
}

// SignURL implements HandleHelper. Bearer tokens cannot sign URLs.
func (h *TokenHelper) SignURL(fs, key string, opts SignOpts) (string, error) {
	return "", errors.E(errors.NotSupported, "adlsfile: signed URLs need an account key")
}

// ConnectionString holds the fields of an Azure storage connection string.
type ConnectionString struct {
	Protocol       string
	AccountName    string
	AccountKey     string
	SAS            string
	EndpointSuffix string
	BlobEndpoint   string
	DFSEndpoint    string
}

// ParseConnectionString parses strings of the form
// "DefaultEndpointsProtocol=https;AccountName=a;AccountKey=k;EndpointSuffix=core.windows.net".
func ParseConnectionString(s string) (ConnectionString, error) {
	cs := ConnectionString{Protocol: "https", EndpointSuffix: "core.windows.net"}
	for _, field := range strings.Split(s, ";") {
		if field == "" {
			continue
		}
		i := strings.IndexByte(field, '=')
		if i < 0 {
			return cs, errors.E(errors.Invalid, "adlsfile: malformed connection string field", field)
		}
		name, value := field[:i], field[i+1:]
		switch strings.ToLower(name) {
		case "defaultendpointsprotocol":
			cs.Protocol = value
		case "accountname":
			cs.AccountName = value
		case "accountkey":
			cs.AccountKey = value
		case "sharedaccesssignature":
			cs.SAS = value
		case "endpointsuffix":
			cs.EndpointSuffix = value
		case "blobendpoint":
			cs.BlobEndpoint = strings.TrimSuffix(value, pathSeparator)
		case "dfsendpoint":
			cs.DFSEndpoint = strings.TrimSuffix(value, pathSeparator)
		}
	}
	if cs.AccountName == "" && cs.BlobEndpoint == "" {
		return cs, errors.E(errors.Invalid, "adlsfile: connection string names no account")
	}
	if cs.AccountKey == "" && cs.SAS == "" {
		return cs, errors.E(errors.Invalid, "adlsfile: connection string has no AccountKey or SharedAccessSignature")
	}
	return cs, nil
}

// Endpoints returns the account endpoints the connection string describes.
func (cs ConnectionString) Endpoints() Endpoints {
	ep := Endpoints{
		DFS:  fmt.Sprintf("%s://%s.dfs.%s", cs.Protocol, cs.AccountName, cs.EndpointSuffix),
		Blob: fmt.Sprintf("%s://%s.blob.%s", cs.Protocol, cs.AccountName, cs.EndpointSuffix),
	}
	if cs.BlobEndpoint != "" {
		ep.Blob = cs.BlobEndpoint
		ep.DFS = strings.Replace(cs.BlobEndpoint, ".blob.", ".dfs.", 1)
	}
	if cs.DFSEndpoint != "" {
		ep.DFS = cs.DFSEndpoint
	}
	return ep
}

// Helper returns the helper the connection string's credentials select.
func (cs ConnectionString) Helper() (HandleHelper, error) {
	if cs.AccountKey != "" {
		return NewSharedKeyHelper(cs.Endpoints(), cs.AccountName, cs.AccountKey)
	}
	return NewSASHelper(cs.Endpoints(), cs.SAS)
}
