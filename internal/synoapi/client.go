package synoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Caller issues a single backend call and returns its success payload.
type Caller interface {
	Call(ctx context.Context, d Descriptor) (json.RawMessage, error)
}

// Client is an authenticated handle on one endpoint. It is safe for
// concurrent use; the token never changes for the lifetime of a Client.
type Client struct {
	endpoint      string
	sid           string
	httpClient    *http.Client
	logger        *slog.Logger
	onSessionGone func(sid string, code int)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used for every call.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger for call tracing.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSessionGoneHook registers fn to run when a call reports that the
// client's token has expired or was superseded.
func WithSessionGoneHook(fn func(sid string, code int)) ClientOption {
	return func(c *Client) {
		c.onSessionGone = fn
	}
}

// NewClient creates a client for endpoint authenticated with sid. An empty
// sid produces an anonymous client, used for login.
func NewClient(endpoint, sid string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		sid:        sid,
		httpClient: http.DefaultClient,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the base address this client talks to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Token returns the session token sent with every call.
func (c *Client) Token() string {
	return c.sid
}

// envelope is the wire shape shared by every DSM API.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code   int             `json:"code"`
		Errors json.RawMessage `json:"errors"`
	} `json:"error"`
}

// Call submits d and returns the data member of a successful envelope. A
// missing data member yields "{}".
func (c *Client) Call(ctx context.Context, d Descriptor) (json.RawMessage, error) {
	req, err := c.newRequest(ctx, d)
	if err != nil {
		return nil, TransportErr(d.Op(), err)
	}

	c.logger.Debug("synology api call",
		slog.String("api", d.API),
		slog.String("method", d.Method),
		slog.Int("version", d.Version),
		slog.String("verb", d.Verb.String()),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, TransportErr(d.Op(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, TransportErr(d.Op(), fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, TransportErr(d.Op(), fmt.Errorf("unexpected HTTP status %s", resp.Status))
	}
	return c.decode(d, body)
}

// CallInto is Call followed by decoding the payload into out.
func (c *Client) CallInto(ctx context.Context, d Descriptor, out any) error {
	return CallInto(ctx, c, d, out)
}

// CallInto issues d through caller and decodes the payload into out.
func CallInto(ctx context.Context, caller Caller, d Descriptor, out any) error {
	data, err := caller.Call(ctx, d)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return TransportErr(d.Op(), fmt.Errorf("decode payload: %w", err))
	}
	return nil
}

// Download submits d and returns the raw response body, reading at most
// limit bytes. truncated reports whether the body was longer than limit. A
// JSON response is an error envelope and is decoded as one.
func (c *Client) Download(ctx context.Context, d Descriptor, limit int64) (data []byte, truncated bool, err error) {
	req, err := c.newRequest(ctx, d)
	if err != nil {
		return nil, false, TransportErr(d.Op(), err)
	}

	c.logger.Debug("synology api download",
		slog.String("api", d.API),
		slog.String("method", d.Method),
		slog.Int64("limit", limit),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, TransportErr(d.Op(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, false, TransportErr(d.Op(), fmt.Errorf("unexpected HTTP status %s", resp.Status))
	}

	if mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mediaType == "application/json" {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, false, TransportErr(d.Op(), fmt.Errorf("read response: %w", err))
		}
		if _, err := c.decode(d, body); err != nil {
			return nil, false, err
		}
		// A successful envelope from a download endpoint carries no file.
		return nil, false, &Error{Kind: KindBackend, Op: d.Op(), Detail: "download returned no content"}
	}

	// One byte past limit detects truncation.
	if limit >= math.MaxInt64 {
		limit = math.MaxInt64 - 1
	}
	data, err = io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, false, TransportErr(d.Op(), fmt.Errorf("read response: %w", err))
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}

func (c *Client) decode(d Descriptor, body []byte) (json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, TransportErr(d.Op(), fmt.Errorf("decode envelope: %w", err))
	}
	if !env.Success {
		apiErr := &Error{Kind: KindBackend, Op: d.Op()}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Items = decodeItems(env.Error.Errors)
		}
		if apiErr.Code == 0 {
			apiErr.Code = 100
		}
		c.logger.Debug("synology api error",
			slog.String("op", d.Op()),
			slog.Int("code", apiErr.Code),
		)
		if c.sid != "" && IsSessionExpiredCode(apiErr.Code) && c.onSessionGone != nil {
			c.onSessionGone(c.sid, apiErr.Code)
		}
		return nil, apiErr
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return json.RawMessage("{}"), nil
	}
	return env.Data, nil
}

// decodeItems accepts the per-item list in either of the shapes DSM emits:
// an array of {code, path} or a single such object.
func decodeItems(raw json.RawMessage) []ItemError {
	if len(raw) == 0 {
		return nil
	}
	var items []ItemError
	if err := json.Unmarshal(raw, &items); err == nil {
		return items
	}
	var single ItemError
	if err := json.Unmarshal(raw, &single); err == nil && single.Code != 0 {
		return []ItemError{single}
	}
	return nil
}

func (c *Client) scriptURL(d Descriptor) string {
	cgi := d.CGI
	if cgi == "" {
		cgi = "entry.cgi"
	}
	return c.endpoint + "/webapi/" + cgi
}

func (c *Client) baseValues(d Descriptor) url.Values {
	v := url.Values{}
	v.Set("api", d.API)
	v.Set("version", strconv.Itoa(d.Version))
	v.Set("method", d.Method)
	if c.sid != "" {
		v.Set("_sid", c.sid)
	}
	return v
}

func (c *Client) newRequest(ctx context.Context, d Descriptor) (*http.Request, error) {
	target := c.scriptURL(d)
	values := c.baseValues(d)

	switch d.Verb {
	case VerbQuery:
		for k, val := range d.Params {
			values.Set(k, val)
		}
		return http.NewRequestWithContext(ctx, http.MethodGet, target+"?"+values.Encode(), nil)

	case VerbForm:
		for k, val := range d.Params {
			values.Set(k, val)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(values.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
		return req, nil

	case VerbMultipart:
		if d.Upload == nil {
			return nil, fmt.Errorf("multipart call %s has no file part", d.Op())
		}
		body, contentType, err := multipartBody(d)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target+"?"+values.Encode(), body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil

	default:
		return nil, fmt.Errorf("unsupported verb %d", d.Verb)
	}
}

// multipartBody writes the form fields in sorted order followed by the file
// part; DSM requires the file to be the last part.
func multipartBody(d Descriptor) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(d.Params))
	for k := range d.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := w.WriteField(k, d.Params[k]); err != nil {
			return nil, "", err
		}
	}

	field := d.Upload.Field
	if field == "" {
		field = "file"
	}
	contentType := d.Upload.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header := make(map[string][]string)
	header["Content-Disposition"] = []string{
		fmt.Sprintf(`form-data; name=%q; filename=%q`, field, d.Upload.Filename),
	}
	header["Content-Type"] = []string{contentType}
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if d.Upload.Body != nil {
		if _, err := io.Copy(part, d.Upload.Body); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
