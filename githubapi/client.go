// Package githubapi is a thin GitHub REST client: one HTTP attempt per call,
// rate limit telemetry on every response, typed errors for every failure.
package githubapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const (
	DefaultBaseURL = "https://api.github.com"
	MediaType      = "application/vnd.github+json"

	defaultUserAgent = "repoexplorer"
	maxErrorBody     = 1 << 20
)

type Client struct {
	http    *http.Client
	raw     *http.Client // unauthenticated, for download URLs
	baseURL *url.URL

	token     string
	userAgent string
	logger    zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRawHTTPClient sets the client used by Download.
func WithRawHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.raw = h }
}

func WithBaseURL(raw string) Option {
	return func(c *Client) {
		if raw == "" {
			return
		}
		if u, err := url.Parse(raw); err == nil {
			c.baseURL = u
		}
	}
}

// WithToken authenticates API requests with a bearer token.
// Download requests never carry it.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func New(opts ...Option) *Client {
	u, _ := url.Parse(DefaultBaseURL)
	c := &Client{
		http:      http.DefaultClient,
		raw:       http.DefaultClient,
		baseURL:   u,
		userAgent: defaultUserAgent,
		logger:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.token != "" {
		c.http = withToken(c.http, c.token)
	}
	return c
}

func withToken(base *http.Client, token string) *http.Client {
	hc := *base
	hc.Transport = &oauth2.Transport{
		Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
		Base:   base.Transport,
	}
	return &hc
}

// Endpoint builds an API URL from path segments, escaping each one.
func (c *Client) Endpoint(query url.Values, segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}

	u := strings.TrimRight(c.baseURL.String(), "/") + "/" + strings.Join(escaped, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// RequestOptions carries caller-supplied headers. An Accept value is added
// next to MediaType rather than replacing it; other headers replace defaults.
type RequestOptions struct {
	Header http.Header
}

// Response pairs decoded data with the rate limit snapshot of the response.
type Response[T any] struct {
	Data      T
	RateLimit RateLimit
}

// Fetch GETs rawURL and decodes the JSON body into T. Non-2xx responses and
// transport failures are returned as *APIError. There is no retry.
func Fetch[T any](ctx context.Context, c *Client, rawURL string, opts *RequestOptions) (*Response[T], error) {
	body, rl, err := c.get(ctx, rawURL, opts)
	if err != nil {
		return nil, err
	}

	var data T
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("decode %s: %w", rawURL, err)
	}
	return &Response[T]{Data: data, RateLimit: rl}, nil
}

func (c *Client) get(ctx context.Context, rawURL string, opts *RequestOptions) ([]byte, RateLimit, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, RateLimit{}, fmt.Errorf("build request %s: %w", rawURL, err)
	}
	req.Header.Set("Accept", MediaType)
	req.Header.Set("User-Agent", c.userAgent)
	if opts != nil {
		for k, vs := range opts.Header {
			if http.CanonicalHeaderKey(k) != "Accept" {
				req.Header.Del(k)
			}
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("url", rawURL).Msg("github request failed")
		return nil, RateLimit{}, &APIError{
			Message: fmt.Sprintf("GitHub request failed: %v", err),
			URL:     rawURL,
			Err:     err,
		}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	rl := ParseRateLimit(resp.Header)
	ev := c.logger.Debug().
		Str("url", rawURL).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start))
	if rl.Remaining != nil {
		ev = ev.Int("ratelimit_remaining", *rl.Remaining)
	}
	ev.Msg("github request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := newAPIError(resp, rawURL, rl)
		c.logger.Warn().
			Str("url", rawURL).
			Int("status", resp.StatusCode).
			Str("kind", string(apiErr.Kind())).
			Msg(apiErr.Message)
		return nil, rl, apiErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, rl, fmt.Errorf("read %s: %w", rawURL, err)
	}
	return body, rl, nil
}

func newAPIError(resp *http.Response, rawURL string, rl RateLimit) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		URL:        rawURL,
		RateLimit:  rl,
	}

	if payload, ok := errorPayload(resp); ok {
		apiErr.Payload = payload
		var body struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(payload, &body) == nil {
			apiErr.Message = body.Message
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = fmt.Sprintf("GitHub request failed (%d)", resp.StatusCode)
	}
	return apiErr
}

// errorPayload reads a JSON error body. Anything else, including a body that
// fails to parse, yields no payload so the HTTP status stays the reported error.
func errorPayload(resp *http.Response) (json.RawMessage, bool) {
	mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || (mt != "application/json" && !strings.HasSuffix(mt, "+json")) {
		return nil, false
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || !json.Valid(b) {
		return nil, false
	}
	return json.RawMessage(b), true
}

// Download GETs rawURL without credentials and returns the body as text.
// A failed request or non-2xx status yields ok == false; only context
// cancellation is returned as an error.
func (c *Client) Download(ctx context.Context, rawURL string) (body string, ok bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		c.logger.Warn().Err(err).Str("url", rawURL).Msg("invalid download url")
		return "", false, nil
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.raw.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", false, ctxErr
		}
		c.logger.Warn().Err(err).Str("url", rawURL).Msg("download failed")
		return "", false, nil
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn().Str("url", rawURL).Int("status", resp.StatusCode).Msg("download returned non-success status")
		return "", false, nil
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", false, ctxErr
		}
		c.logger.Warn().Err(err).Str("url", rawURL).Msg("download body read failed")
		return "", false, nil
	}
	return string(b), true, nil
}
