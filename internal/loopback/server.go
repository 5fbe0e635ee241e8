// Package loopback hosts the OAuth callback routes on a local address so a
// system browser can complete a provider login for the CLI.
package loopback

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/raine/walletfront/internal/oauth"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	bridge *oauth.Bridge
	router chi.Router

	mu       sync.Mutex
	opener   *oauth.ChannelOpener
	state    string
	outcomes chan oauth.Outcome
}

func New(bridge *oauth.Bridge) *Server {
	s := &Server{
		bridge:   bridge,
		outcomes: make(chan oauth.Outcome, 4),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/", s.handleLanding)
	r.Get("/callback/{provider}", s.handleCallback)
	r.Get("/callback/{provider}/relay", s.handleRelay)
	r.NotFound(s.handleLanding)

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Attach makes op the opener of callback pages until the returned func is
// called. Without an attached opener callbacks are relayed through the
// mailbox.
func (s *Server) Attach(op *oauth.ChannelOpener) (detach func()) {
	s.mu.Lock()
	s.opener = op
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		if s.opener == op {
			s.opener = nil
		}
		s.mu.Unlock()
	}
}

// ExpectState makes Google and Facebook callbacks whose state differs from
// state fail without being relayed. The Telegram widget does not echo a
// state and is not checked. An empty state disables the check.
func (s *Server) ExpectState(state string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Outcomes reports every handled callback. Reports are dropped when nobody
// is reading.
func (s *Server) Outcomes() <-chan oauth.Outcome {
	return s.outcomes
}

// Serve listens on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("callback server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	landingPage.Execute(w, pageData{Message: "You can return to the terminal."})
}

// handleCallback is the provider's redirect URI. Telegram and the
// authorization-code flows put everything in the query; implicit flows put
// the token in the fragment, which never reaches the server, so the page
// forwards it to the relay route.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	p, err := oauth.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	if p == oauth.Telegram || q.Get("code") != "" || q.Get("error") != "" || q.Get("access_token") != "" {
		s.runBridge(w, r, p, callbackURL(r, p, r.URL.RawQuery, ""))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	forwardPage.Execute(w, pageData{RelayPath: "/callback/" + string(p) + "/relay"})
}

// handleRelay receives the forwarded fragment as its query.
func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	p, err := oauth.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	s.runBridge(w, r, p, callbackURL(r, p, "", r.URL.RawQuery))
}

func (s *Server) runBridge(w http.ResponseWriter, r *http.Request, p oauth.Provider, loc *url.URL) {
	s.mu.Lock()
	opener, state := s.opener, s.state
	s.mu.Unlock()

	if state != "" && p != oauth.Telegram && callbackState(loc) != state {
		log.Warn().Str("provider", string(p)).Msg("rejecting callback with unexpected state")
		http.Error(w, "state mismatch", http.StatusBadRequest)
		return
	}

	win := newRequestWindow(loc, opener)
	out, err := s.bridge.Run(r.Context(), p, win)
	if err != nil {
		log.Warn().Err(err).Str("provider", string(p)).Msg("callback relay failed")
	}
	s.report(out)

	closed, target := win.result()
	w.Header().Set("Cache-Control", "no-store")
	switch {
	case target != "":
		http.Redirect(w, r, target, http.StatusFound)
	case closed:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		closePage.Execute(w, pageData{Title: "Signed in", Message: closeMessage(out, err)})
	default:
		http.Error(w, "callback was not handled", http.StatusInternalServerError)
	}
}

func (s *Server) report(out oauth.Outcome) {
	select {
	case s.outcomes <- out:
	default:
		log.Debug().Str("provider", string(out.Provider)).Msg("dropping unread callback outcome")
	}
}

func closeMessage(out oauth.Outcome, err error) string {
	if err != nil {
		return "Sign-in could not be completed. You can close this window."
	}
	switch out.Kind {
	case oauth.Success:
		return "Signed in. You can close this window."
	case oauth.Error:
		return "Sign-in was declined. You can close this window."
	}
	return "Sign-in was cancelled. You can close this window."
}

// callbackURL rebuilds the URL the browser is on, as seen from the page.
// rawQuery and fragment are taken as already escaped.
func callbackURL(r *http.Request, p oauth.Provider, rawQuery, fragment string) *url.URL {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	u := &url.URL{
		Scheme:   scheme,
		Host:     r.Host,
		Path:     "/callback/" + string(p),
		RawQuery: rawQuery,
	}
	if fragment = strings.TrimPrefix(fragment, "#"); fragment != "" {
		if parsed, err := url.Parse(u.String() + "#" + fragment); err == nil {
			return parsed
		}
	}
	return u
}

// callbackState returns the state echoed by the provider, from the fragment
// or the query.
func callbackState(u *url.URL) string {
	if fragment, err := url.ParseQuery(u.EscapedFragment()); err == nil {
		if v := fragment.Get("state"); v != "" {
			return v
		}
	}
	return u.Query().Get("state")
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("callback request")
	})
}
