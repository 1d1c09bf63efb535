// Package httpstore talks to a `todo serve` instance. Its tables satisfy
// gateway.Table over HTTP, with push notifications on a websocket.
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/Makepad-fr/tada/internal/errs"
	"github.com/Makepad-fr/tada/internal/gateway"
	"github.com/Makepad-fr/tada/internal/model"
)

// TokenSource supplies the bearer token for each request. An empty token
// sends the request unauthenticated.
type TokenSource interface {
	Token() string
}

// StaticToken is a fixed TokenSource.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

type Client struct {
	base   *url.URL
	tokens TokenSource
	http   *http.Client
	dialer *websocket.Dialer
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

func New(baseURL string, tokens TokenSource, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: scheme must be http or https", baseURL)
	}
	if tokens == nil {
		tokens = StaticToken("")
	}
	c := &Client{
		base:   base,
		tokens: tokens,
		http:   &http.Client{Timeout: 15 * time.Second},
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Tasks() *Table[model.Task, model.TaskPatch] {
	return &Table[model.Task, model.TaskPatch]{c: c, kind: gateway.KindTasks}
}

func (c *Client) Profiles() *Table[model.Profile, model.ProfilePatch] {
	return &Table[model.Profile, model.ProfilePatch]{c: c, kind: gateway.KindProfiles}
}

func (c *Client) endpoint(query url.Values, parts ...string) string {
	u := *c.base
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	u.Path = c.base.Path + "/v1/" + strings.Join(escaped, "/")
	u.RawPath = ""
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) header() http.Header {
	h := http.Header{}
	if token := c.tokens.Token(); token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

// errorBody is what the server sends with every non-2xx response.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header = c.header()
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	glog.V(2).Infof("[http]%s %s", method, endpoint)
	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Wrap(errs.Network, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return responseErr(op, resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Wrap(errs.Network, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func responseErr(op string, resp *http.Response) error {
	var eb errorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &eb); err != nil || eb.Message == "" {
		eb.Message = strings.TrimSpace(string(raw))
		if eb.Message == "" {
			eb.Message = resp.Status
		}
	}
	code := errs.Code(eb.Code)
	if code == errs.Unknown {
		code = codeForStatus(resp.StatusCode)
	}
	return errs.E(code, op, eb.Message)
}

func codeForStatus(status int) errs.Code {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusConflict:
		return errs.Validation
	case http.StatusUnauthorized:
		return errs.Authentication
	case http.StatusForbidden:
		return errs.Authorization
	case http.StatusNotFound:
		return errs.NotFound
	default:
		return errs.Network
	}
}
