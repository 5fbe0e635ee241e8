// Package expiry reacts to session invalidation. It clears the session and
// sends the user to re-authenticate: a full-page auth route on narrow
// viewports, the login modal in place on wide ones.
package expiry

import (
	"sync"

	"github.com/raine/walletfront/internal/session"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultBreakpoint is the viewport width below which the mobile layout
	// is used.
	DefaultBreakpoint = 768
	// AuthRoute is the full-page auth route, relative to the locale prefix.
	AuthRoute = "/auth"
)

type SessionClearer interface {
	ClearAuth() error
}

// SessionWatcher is implemented by the session store.
type SessionWatcher interface {
	Watch(fn func(session.State)) (cancel func())
}

type Viewport interface {
	Width() int
}

type Navigator interface {
	Navigate(path string)
}

type Modal interface {
	IsOpen() bool
	Open()
}

// PrefixSource yields the active locale route prefix, e.g. "/zh-CN".
type PrefixSource interface {
	Prefix() string
}

type Options struct {
	Session    SessionClearer
	Locale     PrefixSource
	Viewport   Viewport
	Navigator  Navigator
	Modal      Modal
	Breakpoint int
}

type Coordinator struct {
	opts Options

	mu sync.Mutex
	// navigated is set once the auth route has been opened for the current
	// expiry episode
	navigated bool
}

func New(opts Options) *Coordinator {
	if opts.Breakpoint <= 0 {
		opts.Breakpoint = DefaultBreakpoint
	}
	return &Coordinator{opts: opts}
}

// HandleExpired is the gateway's unauthorized handler. It is safe to call
// repeatedly and concurrently: the session is cleared every time, but the
// user is routed to login at most once per expiry episode.
func (c *Coordinator) HandleExpired() {
	if err := c.opts.Session.ClearAuth(); err != nil {
		log.Warn().Err(err).Msg("failed to persist cleared session")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mobile() {
		if c.navigated {
			return
		}
		c.navigated = true
		target := c.authRoute()
		log.Info().Str("route", target).Msg("session expired, opening auth page")
		c.opts.Navigator.Navigate(target)
		return
	}

	if c.opts.Modal.IsOpen() {
		return
	}
	log.Info().Msg("session expired, opening login modal")
	c.opts.Modal.Open()
}

// Reset starts a new expiry episode.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.navigated = false
	c.mu.Unlock()
}

// ResetOnLogin resets the episode whenever the session gains a token.
func (c *Coordinator) ResetOnLogin(w SessionWatcher) (cancel func()) {
	return w.Watch(func(st session.State) {
		if st.Token != "" {
			c.Reset()
		}
	})
}

func (c *Coordinator) mobile() bool {
	return c.opts.Viewport != nil && c.opts.Viewport.Width() < c.opts.Breakpoint
}

func (c *Coordinator) authRoute() string {
	prefix := ""
	if c.opts.Locale != nil {
		prefix = c.opts.Locale.Prefix()
	}
	return prefix + AuthRoute
}
