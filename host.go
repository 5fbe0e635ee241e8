package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/huh"
	"github.com/raine/walletfront/internal/api"
	"github.com/raine/walletfront/internal/oauth"
	"github.com/raine/walletfront/internal/session"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// cliViewport reports the configured layout width.
type cliViewport int

func (v cliViewport) Width() int { return int(v) }

// cliNavigator stands in for full-page navigation. The CLI has no pages, so
// the route is remembered and the user is told where to go.
type cliNavigator struct {
	mu    sync.Mutex
	route string
}

func (n *cliNavigator) Navigate(path string) {
	n.mu.Lock()
	n.route = path
	n.mu.Unlock()
	fmt.Fprintln(os.Stderr, formatText(`
		Your session has expired (%s).
		Sign in again with: walletfront login
	`, path))
}

func (n *cliNavigator) Route() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.route
}

// loginModal is the in-place login prompt. Opening it only marks it open;
// the prompt runs once the failing command has returned.
type loginModal struct {
	mu   sync.Mutex
	open bool
}

func (m *loginModal) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

func (m *loginModal) Open() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = true
}

func (m *loginModal) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
}

// Prompt asks for credentials and signs in. It is a no-op unless the modal
// is open.
func (m *loginModal) Prompt(ctx context.Context, a *app) error {
	if !m.IsOpen() {
		return nil
	}
	defer m.close()

	if !isInteractiveTerminal() {
		fmt.Fprintln(os.Stderr, "Your session has expired. Sign in again with: walletfront login")
		return nil
	}

	var email, password string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Session expired").
				Description("Sign in to continue where you left off."),
			emailInput(&email),
			passwordInput("Password", &password),
		),
	).WithTheme(huh.ThemeBase16())

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil
		}
		return err
	}
	return a.completeLogin(ctx, func(ctx context.Context) (session.Credential, error) {
		return a.api.Login(ctx, api.LoginRequest{Email: email, Password: password})
	})
}

// pastedWindow is a callback page reached by full-page redirect whose URL
// was pasted into the terminal. It has no opener.
type pastedWindow struct {
	loc    *url.URL
	target string
}

func (w *pastedWindow) Location() *url.URL   { return w.loc }
func (w *pastedWindow) Opener() oauth.Opener { return nil }
func (w *pastedWindow) Close()               {}

func (w *pastedWindow) Navigate(target string) {
	w.target = target
	log.Debug().Str("target", target).Msg("callback returned to app")
}

func isInteractiveTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

func emailInput(value *string) *huh.Input {
	return huh.NewInput().
		Title("Email").
		Value(value).
		Validate(func(s string) error {
			if !strings.Contains(s, "@") {
				return errors.New("enter a valid email")
			}
			return nil
		})
}

func passwordInput(title string, value *string) *huh.Input {
	return huh.NewInput().
		Title(title).
		EchoMode(huh.EchoModePassword).
		Value(value).
		Validate(func(s string) error {
			if s == "" {
				return errors.New("password is required")
			}
			return nil
		})
}
