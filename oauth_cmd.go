package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/raine/walletfront/internal/loopback"
	"github.com/raine/walletfront/internal/oauth"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// errLoginCancelled is returned when the provider page was left without a
// credential.
var errLoginCancelled = errors.New("sign-in was cancelled")

// runOAuth signs in with a provider through the local callback server.
// By default the callback page acts as a popup and posts the handshake
// straight back; with --redirect it relays it through the mailbox and the
// login is resumed from there, as after a full-page redirect.
func runOAuth(ctx context.Context, a *app, args []string) error {
	p, err := oauth.ParseProvider(arg(args, 0))
	if err != nil {
		return err
	}
	redirect := arg(args, 1) == "--redirect"

	state, err := oauth.NewState()
	if err != nil {
		return err
	}
	authURL, err := oauth.AuthorizeURL(p, a.providerConfig(p), a.redirectURI(p), state)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.OAuthTimeout)
	defer cancel()

	srv := loopback.New(a.bridge)
	srv.ExpectState(state)
	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServer := context.WithCancel(gctx)
	g.Go(func() error {
		return srv.Serve(serveCtx, a.cfg.CallbackAddr)
	})

	g.Go(func() error {
		defer stopServer()

		fmt.Printf("Open this URL in your browser to sign in with %s:\n\n  %s\n\n", p, authURL)
		if redirect {
			return a.awaitRedirect(gctx, srv, p)
		}
		return a.awaitPopup(gctx, srv, p)
	})

	err = g.Wait()
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("timed out after %s waiting for %s", a.cfg.OAuthTimeout, p)
	}
	if errors.Is(err, errLoginCancelled) {
		fmt.Println("Sign-in was cancelled.")
		return nil
	}
	return err
}

// awaitPopup waits for the handshake posted to the opener.
func (a *app) awaitPopup(ctx context.Context, srv *loopback.Server, p oauth.Provider) error {
	op := oauth.NewChannelOpener(a.cfg.AppOrigin)
	detach := srv.Attach(op)
	defer detach()

	awaitCtx, stop := context.WithCancelCause(ctx)
	defer stop(nil)
	go func() {
		for {
			select {
			case <-awaitCtx.Done():
				return
			case out := <-srv.Outcomes():
				if out.Kind == oauth.NoCredential {
					stop(errLoginCancelled)
					return
				}
			}
		}
	}()

	msg, err := a.initiator.Await(awaitCtx, op)
	if err != nil {
		if cause := context.Cause(awaitCtx); errors.Is(cause, errLoginCancelled) {
			return errLoginCancelled
		}
		return err
	}
	if msg.Provider() != p {
		log.Warn().Str("expected", string(p)).Str("got", string(msg.Provider())).Msg("handshake from another provider")
	}

	if _, err := a.initiator.Complete(ctx, msg); err != nil {
		return err
	}
	printSignedIn(a.session.State())
	return nil
}

// awaitRedirect waits for the callback page to relay through the mailbox,
// then resumes the login from it.
func (a *app) awaitRedirect(ctx context.Context, srv *loopback.Server, p oauth.Provider) error {
	if err := a.initiator.Begin(a.locale.Prefix() + "/"); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out := <-srv.Outcomes():
			if out.Provider != p {
				continue
			}
			if out.Kind == oauth.NoCredential {
				return errLoginCancelled
			}
			return runResume(ctx, a, []string{string(p)})
		}
	}
}

func parseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q: scheme and host are required", raw)
	}
	return u, nil
}
