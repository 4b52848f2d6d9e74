// Package wahoo implements the Wahoo Cloud API connector: a low-level REST
// client with OAuth token exchange, transparent refresh, and rate limiting,
// plus a service facade that keeps a stored token valid across calls.
package wahoo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.wahooligan.com"
	apiBasePath    = "/v1"
	authorizePath  = "/oauth/authorize"
	tokenPath      = "/oauth/token"
	userAgent      = "gravly/1.0"
)

// Credentials holds the OAuth application registration for the Wahoo Cloud
// API. Immutable for the process lifetime.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// Client talks to the Wahoo Cloud API. It owns wire-format concerns only:
// URL building, header construction, body encoding, JSON decoding, and
// error classification. It never persists tokens; rotated tokens from a
// transparent refresh are handed to the OnTokenRefresh callback.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	limiter    Limiter
	creds      Credentials
	baseURL    string // overridable in tests

	accessToken  string
	refreshToken string
	expiresAt    int64

	onTokenRefresh func(TokenRecord)

	now func() time.Time
}

// NewClient creates an API client. A nil httpClient gets a 30s-timeout
// default; a nil limiter disables pacing.
func NewClient(creds Credentials, httpClient *http.Client, logger *slog.Logger, limiter Limiter) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	if limiter == nil {
		limiter = NoopLimiter{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		httpClient: httpClient,
		logger:     logger,
		limiter:    limiter,
		creds:      creds,
		baseURL:    defaultBaseURL,
		now:        time.Now,
	}
}

// SetToken installs the current token set on the client. The refresh token
// and expiry enable the transparent pre-request refresh.
func (c *Client) SetToken(rec TokenRecord) {
	c.accessToken = rec.AccessToken
	c.refreshToken = rec.RefreshToken
	c.expiresAt = rec.ExpiresAt
}

// SetOnTokenRefresh registers a callback invoked with the new record after
// every transparent refresh, so the composing layer can persist it.
func (c *Client) SetOnTokenRefresh(fn func(TokenRecord)) {
	c.onTokenRefresh = fn
}

// AuthorizationURL builds the URL a user visits to grant access.
// approvalPrompt may be "auto" or "force"; empty means the API default.
func (c *Client) AuthorizationURL(state, approvalPrompt string) string {
	params := url.Values{
		"client_id":     {c.creds.ClientID},
		"redirect_uri":  {c.creds.RedirectURL},
		"response_type": {"code"},
		"scope":         {strings.Join(c.creds.Scopes, " ")},
	}

	if state != "" {
		params.Set("state", state)
	}

	if approvalPrompt != "" {
		params.Set("approval_prompt", approvalPrompt)
	}

	return c.baseURL + authorizePath + "?" + params.Encode()
}

// ExchangeCode trades an authorization code for a token record.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenRecord, error) {
	data := url.Values{
		"client_id":     {c.creds.ClientID},
		"client_secret": {c.creds.ClientSecret},
		"redirect_uri":  {c.creds.RedirectURL},
		"code":          {code},
		"grant_type":    {"authorization_code"},
	}

	return c.requestToken(ctx, data)
}

// RefreshToken trades a refresh token for a new token record. The caller
// keeps responsibility for persisting the result.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenRecord, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh token is required")
	}

	data := url.Values{
		"client_id":     {c.creds.ClientID},
		"client_secret": {c.creds.ClientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}

	return c.requestToken(ctx, data)
}

// requestToken posts to the OAuth token endpoint and normalizes the
// response. Token requests skip the auth header and the expiry pre-check;
// the latter would recurse.
func (c *Client) requestToken(ctx context.Context, data url.Values) (*TokenRecord, error) {
	_, body, err := c.do(ctx, request{
		method:    http.MethodPost,
		path:      c.baseURL + tokenPath,
		form:      data,
		noAuth:    true,
		noRefresh: true,
	})
	if err != nil {
		return nil, err
	}

	rec, err := decodeTokenResponse(body)
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// RequestOption adjusts how a single call is issued.
type RequestOption func(*request)

// WithQueryAuth sends the access token as an access_token query parameter
// instead of a bearer header. Some legacy endpoints only accept this form.
func WithQueryAuth() RequestOption {
	return func(r *request) { r.authInQuery = true }
}

// Generic verbs. A path without a scheme resolves against the API origin
// and base path; an absolute URL passes through unchanged, so callers can
// hand over full callback URLs.

// Get issues an authenticated GET and decodes the JSON object response.
func (c *Client) Get(ctx context.Context, path string, params url.Values, opts ...RequestOption) (map[string]any, error) {
	return c.doJSON(ctx, newRequest(request{method: http.MethodGet, path: path, query: params}, opts))
}

// Post issues an authenticated POST with form fields and optional file
// uploads (multipart when files are present, urlencoded otherwise).
func (c *Client) Post(ctx context.Context, path string, data url.Values, files []FileUpload, opts ...RequestOption) (map[string]any, error) {
	return c.doJSON(ctx, newRequest(request{method: http.MethodPost, path: path, form: data, files: files}, opts))
}

// Put issues an authenticated PUT with form fields.
func (c *Client) Put(ctx context.Context, path string, data url.Values, opts ...RequestOption) (map[string]any, error) {
	return c.doJSON(ctx, newRequest(request{method: http.MethodPut, path: path, form: data}, opts))
}

// Delete issues an authenticated DELETE.
func (c *Client) Delete(ctx context.Context, path string, params url.Values, opts ...RequestOption) (map[string]any, error) {
	return c.doJSON(ctx, newRequest(request{method: http.MethodDelete, path: path, query: params}, opts))
}

func newRequest(r request, opts []RequestOption) request {
	for _, opt := range opts {
		opt(&r)
	}

	return r
}

// Do issues a request without error classification and returns the raw
// status and body. The escape hatch for callers that want to inspect
// non-2xx responses themselves.
func (c *Client) Do(ctx context.Context, method, path string, params, data url.Values) (int, []byte, error) {
	return c.do(ctx, request{method: method, path: path, query: params, form: data, noCheck: true})
}

// FileUpload is one part of a multipart request body.
type FileUpload struct {
	Field  string
	Name   string
	Reader io.Reader
}

// request describes a single outbound call. Transient, one per call.
type request struct {
	method string
	path   string // short resource path or absolute URL
	query  url.Values
	form   url.Values
	json   any
	files  []FileUpload

	noAuth      bool // no token required, no Authorization header
	authInQuery bool // legacy endpoints take access_token as a query param
	noRefresh   bool // OAuth endpoints skip the expiry pre-check
	noCheck     bool // skip error classification, caller gets the raw body
}

// do executes one call: refresh pre-check, credential check, limiter gate,
// HTTP round trip, limiter observation, then classification.
func (c *Client) do(ctx context.Context, r request) (int, []byte, error) {
	if !r.noRefresh {
		if err := c.maybeRefresh(ctx); err != nil {
			return 0, nil, fmt.Errorf("refreshing expired token: %w", err)
		}
	}

	if !r.noAuth && c.accessToken == "" {
		return 0, nil, fmt.Errorf("%s %s: %w", r.method, r.path, ErrCredentialsMissing)
	}

	req, err := c.buildRequest(ctx, r)
	if err != nil {
		return 0, nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("sending request to %s: %w", r.path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("reading response from %s: %w", r.path, err)
	}

	c.limiter.Observe(resp.Header)

	if !r.noCheck && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		return resp.StatusCode, body, newAPIError(resp.StatusCode, body)
	}

	return resp.StatusCode, body, nil
}

// doJSON runs do and decodes the body into a map. 204 No Content and empty
// bodies decode to an empty map regardless of Content-Type.
func (c *Client) doJSON(ctx context.Context, r request) (map[string]any, error) {
	status, body, err := c.do(ctx, r)
	if err != nil {
		return nil, err
	}

	if status == http.StatusNoContent || len(body) == 0 {
		return map[string]any{}, nil
	}

	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decoding response from %s: %w", r.path, err)
	}

	return out, nil
}

// doJSONList is doJSON for endpoints that return a top-level array.
func (c *Client) doJSONList(ctx context.Context, r request) ([]map[string]any, error) {
	status, body, err := c.do(ctx, r)
	if err != nil {
		return nil, err
	}

	if status == http.StatusNoContent || len(body) == 0 {
		return []map[string]any{}, nil
	}

	var out []map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decoding response from %s: %w", r.path, err)
	}

	return out, nil
}

// maybeRefresh refreshes the access token before a request when the client
// knows it has expired and has what it needs to refresh. Rotated tokens are
// reported through OnTokenRefresh; the client itself persists nothing.
func (c *Client) maybeRefresh(ctx context.Context) error {
	if c.creds.ClientID == "" || c.creds.ClientSecret == "" {
		return nil
	}

	if c.refreshToken == "" || c.expiresAt == 0 {
		return nil
	}

	if c.now().Unix() < c.expiresAt {
		return nil
	}

	c.logger.Debug("access token expired, refreshing before request")

	rec, err := c.RefreshToken(ctx, c.refreshToken)
	if err != nil {
		return err
	}

	c.SetToken(*rec)

	if c.onTokenRefresh != nil {
		c.onTokenRefresh(*rec)
	}

	return nil
}

// buildRequest assembles the http.Request: URL resolution, body encoding,
// and auth placement (bearer header by default, access_token query param
// for legacy endpoints).
func (c *Client) buildRequest(ctx context.Context, r request) (*http.Request, error) {
	if r.json != nil && (len(r.form) > 0 || len(r.files) > 0) {
		return nil, fmt.Errorf("json and form bodies are mutually exclusive")
	}

	var (
		body        io.Reader
		contentType string
	)

	switch {
	case len(r.files) > 0:
		buf, ct, err := encodeMultipart(r.form, r.files)
		if err != nil {
			return nil, err
		}

		body, contentType = buf, ct
	case len(r.form) > 0:
		body = strings.NewReader(r.form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case r.json != nil:
		payload, err := json.Marshal(r.json)
		if err != nil {
			return nil, fmt.Errorf("marshalling request body: %w", err)
		}

		body, contentType = bytes.NewReader(payload), "application/json"
	}

	target := c.resolveURL(r.path)

	query := url.Values{}
	for k, vs := range r.query {
		query[k] = vs
	}

	if !r.noAuth && r.authInQuery {
		query.Set("access_token", c.accessToken)
	}

	if len(query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}

		target += sep + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if !r.noAuth && !r.authInQuery {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	return req, nil
}

// resolveURL resolves a scheme-less path against the API origin and base
// path. Absolute URLs pass through unchanged.
func (c *Client) resolveURL(path string) string {
	if strings.Contains(path, "://") {
		return path
	}

	return c.baseURL + apiBasePath + path
}

// encodeMultipart writes form fields and file parts into a multipart body.
func encodeMultipart(form url.Values, files []FileUpload) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	for field, values := range form {
		for _, v := range values {
			if err := w.WriteField(field, v); err != nil {
				return nil, "", fmt.Errorf("writing form field %s: %w", field, err)
			}
		}
	}

	for _, f := range files {
		part, err := w.CreateFormFile(f.Field, f.Name)
		if err != nil {
			return nil, "", fmt.Errorf("creating file part %s: %w", f.Field, err)
		}

		if _, err := io.Copy(part, f.Reader); err != nil {
			return nil, "", fmt.Errorf("copying file %s: %w", f.Name, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("finalizing multipart body: %w", err)
	}

	return buf, w.FormDataContentType(), nil
}
