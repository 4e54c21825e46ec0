package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
)

// Content types an AuthClient can be fixed to
const (
	ContentTypeJSON      = "application/json"
	ContentTypeMultipart = "multipart/form-data"
)

// ErrWrongContentType is returned when a body cannot be sent by a client of the given content type
var ErrWrongContentType = errors.New("body not supported by this client's content type")

// AuthClient is an HTTP client with automatic token management. Its content
// type is fixed when it is created.
type AuthClient struct {
	auth          *Authenticator
	baseURL       string
	contentType   string
	userAgent     string
	httpClient    *http.Client
	baseTransport http.RoundTripper
}

// ClientOption configures an AuthClient
type ClientOption func(*AuthClient)

// WithHTTPClient sets a custom base HTTP client (for timeouts, TLS config, etc.)
// The transport from this client will be wrapped with auth handling.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *AuthClient) {
		if client == nil {
			return
		}
		if client.Transport != nil {
			c.baseTransport = client.Transport
		}
		c.httpClient.Timeout = client.Timeout
		c.httpClient.CheckRedirect = client.CheckRedirect
		c.httpClient.Jar = client.Jar
	}
}

// WithTransport sets a custom base transport (for connection pooling, proxies, etc.)
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *AuthClient) {
		if transport != nil {
			c.baseTransport = transport
		}
	}
}

// WithContentType fixes the content type of the client
func WithContentType(contentType string) ClientOption {
	return func(c *AuthClient) {
		c.contentType = contentType
	}
}

// WithUserAgent sets the User-Agent sent on every request
func WithUserAgent(ua string) ClientOption {
	return func(c *AuthClient) {
		c.userAgent = ua
	}
}

// New creates an authenticated client for the API at baseURL. It sends JSON
// unless WithContentType says otherwise.
func New(baseURL string, auth *Authenticator, opts ...ClientOption) *AuthClient {
	c := &AuthClient{
		auth:          auth,
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		contentType:   ContentTypeJSON,
		httpClient:    &http.Client{},
		baseTransport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(c)
	}

	// Wrap the base transport with auth handling
	c.httpClient.Transport = &refreshTransport{
		auth: auth,
		base: c.baseTransport,
	}
	return c
}

// NewJSON creates a client sending application/json bodies
func NewJSON(baseURL string, auth *Authenticator, opts ...ClientOption) *AuthClient {
	return New(baseURL, auth, append(opts, WithContentType(ContentTypeJSON))...)
}

// NewMultipart creates a client sending multipart/form-data bodies
func NewMultipart(baseURL string, auth *Authenticator, opts ...ClientOption) *AuthClient {
	return New(baseURL, auth, append(opts, WithContentType(ContentTypeMultipart))...)
}

// Clients is the JSON and multipart client pair of one application. Both share
// the Authenticator, so a refresh started by one covers requests of the other.
type Clients struct {
	JSON *AuthClient
	Form *AuthClient
	Auth *Authenticator
}

// NewPair creates the JSON and multipart clients over one Authenticator
func NewPair(baseURL string, auth *Authenticator, opts ...ClientOption) Clients {
	return Clients{
		JSON: NewJSON(baseURL, auth, opts...),
		Form: NewMultipart(baseURL, auth, opts...),
		Auth: auth,
	}
}

// HTTPClient returns the underlying HTTP client with auth handling. Responses
// are not classified and no notifications are emitted for them.
func (c *AuthClient) HTTPClient() *http.Client {
	return c.httpClient
}

// BaseURL returns the API base URL
func (c *AuthClient) BaseURL() string {
	return c.baseURL
}

// ContentType returns the content type the client is fixed to
func (c *AuthClient) ContentType() string {
	return c.contentType
}

// Authenticator returns the shared authenticator
func (c *AuthClient) Authenticator() *Authenticator {
	return c.auth
}

// Request describes one API call. Path is relative to the base URL.
//
// Body is encoded by the client's content type: JSON clients marshal it
// (a []byte or io.Reader is sent as is), multipart clients expect a *Form.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   any
}

// FormFile is a file part of a multipart body
type FormFile struct {
	Field       string
	Name        string
	ContentType string
	Data        []byte
}

// Form is a multipart body
type Form struct {
	Fields map[string]string
	Files  []FormFile
}

// Do sends req. Responses with status 400 and above are returned as a
// *StatusError after a notification was emitted; the caller closes the body
// of successful responses.
func (c *AuthClient) Do(ctx context.Context, req *Request) (*http.Response, error) {
	hreq, err := c.newRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(hreq)
	if err != nil {
		return nil, c.transportError(ctx, hreq, err)
	}
	if resp.StatusCode >= 400 {
		se := newStatusError(resp, hreq)
		c.auth.Notify(Notification{
			Kind:       se.Kind,
			Message:    se.Kind.Message(),
			StatusCode: se.StatusCode,
			Method:     se.Method,
			URL:        se.URL,
		})
		return nil, se
	}
	return resp, nil
}

// transportError maps a failed round trip. Session errors were already
// reported when the session ended.
func (c *AuthClient) transportError(ctx context.Context, req *http.Request, err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		err = uerr.Err
	}
	switch {
	case errors.Is(err, ErrSessionTerminated):
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, ErrStorage):
		c.auth.Notify(Notification{
			Kind:    KindOther,
			Message: KindOther.Message(),
			Method:  req.Method,
			URL:     req.URL.Redacted(),
		})
		return err
	}

	ue := &UnreachableError{Method: req.Method, URL: req.URL.Redacted(), Err: err}
	c.auth.logger.Warn("api unreachable", "method", ue.Method, "url", ue.URL, "err", err)
	c.auth.Notify(Notification{
		Kind:    KindUnreachable,
		Message: KindUnreachable.Message(),
		Method:  ue.Method,
		URL:     ue.URL,
	})
	return ue
}

func (c *AuthClient) newRequest(ctx context.Context, req *Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	u := c.baseURL + "/" + strings.TrimPrefix(req.Path, "/")
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	body, contentType, err := c.encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	var hreq *http.Request
	if body == nil {
		hreq, err = http.NewRequestWithContext(ctx, method, u, nil)
	} else {
		hreq, err = http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	}
	if err != nil {
		return nil, err
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	if contentType != "" {
		hreq.Header.Set("Content-Type", contentType)
	}
	if hreq.Header.Get("Accept") == "" {
		hreq.Header.Set("Accept", ContentTypeJSON)
	}
	if c.userAgent != "" {
		hreq.Header.Set("User-Agent", c.userAgent)
	}
	return hreq, nil
}

// encodeBody buffers the body so a request can be resubmitted after a refresh
func (c *AuthClient) encodeBody(body any) ([]byte, string, error) {
	if body == nil {
		return nil, "", nil
	}

	if c.contentType == ContentTypeMultipart {
		form, ok := body.(*Form)
		if !ok {
			return nil, "", fmt.Errorf("%w: multipart client needs a *Form, got %T", ErrWrongContentType, body)
		}
		return encodeForm(form)
	}

	switch b := body.(type) {
	case *Form:
		return nil, "", fmt.Errorf("%w: %s client cannot send a form", ErrWrongContentType, c.contentType)
	case []byte:
		return b, c.contentType, nil
	case io.Reader:
		data, err := io.ReadAll(b)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read request body: %w", err)
		}
		return data, c.contentType, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode request: %w", err)
		}
		return data, c.contentType, nil
	}
}

func encodeForm(form *Form) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range form.Fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	for _, f := range form.Files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, escapeQuotes(f.Field), escapeQuotes(f.Name)))
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// DoJSON sends req and decodes a JSON response into out (if not nil)
func (c *AuthClient) DoJSON(ctx context.Context, req *Request, out any) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// GetJSON issues a GET and decodes the response into out
func (c *AuthClient) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	return c.DoJSON(ctx, &Request{Method: http.MethodGet, Path: path, Query: query}, out)
}

// PostJSON issues a POST with in as the body
func (c *AuthClient) PostJSON(ctx context.Context, path string, in, out any) error {
	return c.DoJSON(ctx, &Request{Method: http.MethodPost, Path: path, Body: in}, out)
}

// PutJSON issues a PUT with in as the body
func (c *AuthClient) PutJSON(ctx context.Context, path string, in, out any) error {
	return c.DoJSON(ctx, &Request{Method: http.MethodPut, Path: path, Body: in}, out)
}

// PatchJSON issues a PATCH with in as the body
func (c *AuthClient) PatchJSON(ctx context.Context, path string, in, out any) error {
	return c.DoJSON(ctx, &Request{Method: http.MethodPatch, Path: path, Body: in}, out)
}

// Delete issues a DELETE
func (c *AuthClient) Delete(ctx context.Context, path string) error {
	return c.DoJSON(ctx, &Request{Method: http.MethodDelete, Path: path}, nil)
}

// Upload posts a multipart form. The client must be a multipart client.
func (c *AuthClient) Upload(ctx context.Context, path string, form *Form, out any) error {
	if c.contentType != ContentTypeMultipart {
		return fmt.Errorf("%w: upload needs a multipart client", ErrWrongContentType)
	}
	return c.DoJSON(ctx, &Request{Method: http.MethodPost, Path: path, Body: form}, out)
}
