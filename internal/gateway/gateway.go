// Package gateway is the single chokepoint for outbound backend requests.
// It attaches the session token and locale to every request and reports
// every 401-equivalent response to a session-expiry handler.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/raine/walletfront/internal/locale"
	"github.com/rs/zerolog/log"
)

const (
	// LocaleHeader carries the backend form of the active UI locale.
	LocaleHeader = "Accept-Language"
	// DeviceHeader identifies the local profile across sessions.
	DeviceHeader = "X-Device-Id"

	defaultTimeout = 30 * time.Second
)

// TokenSource yields the current bearer token, "" when logged out.
type TokenSource interface {
	Token() string
}

// TokenFunc adapts a function to a TokenSource.
type TokenFunc func() string

func (f TokenFunc) Token() string { return f() }

// LocaleSource yields the active UI locale, e.g. "zh-CN".
type LocaleSource interface {
	Locale() string
}

type Options struct {
	BaseURL string
	Session TokenSource
	Locale  LocaleSource
	// OnUnauthorized is called once for every response that signals an
	// invalid session. It must be safe to call repeatedly and concurrently.
	OnUnauthorized func()
	DeviceID       string
	UserAgent      string
	Timeout        time.Duration
}

type Gateway struct {
	httpClient *resty.Client
	opts       Options
}

func New(opts Options) *Gateway {
	if opts.Timeout == 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "walletfront/1.0"
	}

	g := &Gateway{opts: opts}
	g.httpClient = resty.New().
		SetDebug(false).
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetHeaders(
			map[string]string{
				"Accept":     "application/json",
				"User-Agent": opts.UserAgent,
			},
		).
		OnBeforeRequest(g.decorate).
		OnAfterResponse(g.inspect).
		OnError(func(req *resty.Request, err error) {
			log.Warn().Err(err).Str("method", req.Method).Str("url", req.URL).Msg("request failed")
		})

	return g
}

// decorate attaches credentials and locale before a request is sent.
func (g *Gateway) decorate(_ *resty.Client, req *resty.Request) error {
	if g.opts.Session != nil {
		if token := g.opts.Session.Token(); token != "" {
			req.SetAuthToken(token)
		}
	}
	loc := locale.Default
	if g.opts.Locale != nil {
		loc = g.opts.Locale.Locale()
	}
	req.SetHeader(LocaleHeader, locale.HeaderValue(loc))
	if g.opts.DeviceID != "" {
		req.SetHeader(DeviceHeader, g.opts.DeviceID)
	}
	return nil
}

// inspect runs once per received response, successful or not. It never
// alters the response; callers still see the original failure.
func (g *Gateway) inspect(_ *resty.Client, res *resty.Response) error {
	if !IsUnauthorized(res) {
		return nil
	}
	log.Info().
		Str("method", res.Request.Method).
		Str("url", res.Request.URL).
		Int("status", res.StatusCode()).
		Msg("session rejected by backend")
	if g.opts.OnUnauthorized != nil {
		g.opts.OnUnauthorized()
	}
	return nil
}

// IsUnauthorized reports whether res signals an invalid session, either by
// transport status or by an envelope code of 401 inside any response.
func IsUnauthorized(res *resty.Response) bool {
	if res == nil {
		return false
	}
	if res.StatusCode() == http.StatusUnauthorized {
		return true
	}
	code, ok := embeddedCode(res.Body())
	return ok && code == http.StatusUnauthorized
}

// R starts a request bound to ctx.
func (g *Gateway) R(ctx context.Context) *resty.Request {
	return g.httpClient.NewRequest().SetContext(ctx)
}

// Do sends a raw request and returns the response. Transport failures
// (>399) are returned as *APIError alongside the response.
func (g *Gateway) Do(ctx context.Context, method, path string, body any) (*resty.Response, error) {
	req := g.R(ctx)
	if body != nil {
		req.SetBody(body)
	}
	return handleError(req.Execute(method, path))
}

// Get performs a GET and unwraps the envelope into T.
func Get[T any](ctx context.Context, g *Gateway, path string, query map[string]string) (T, error) {
	req := g.R(ctx)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	return decode[T](req.Get(path))
}

// Post performs a JSON POST and unwraps the envelope into T.
func Post[T any](ctx context.Context, g *Gateway, path string, body any) (T, error) {
	req := g.R(ctx).SetHeader("Content-Type", "application/json")
	if body != nil {
		req.SetBody(body)
	}
	return decode[T](req.Post(path))
}
