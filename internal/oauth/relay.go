package oauth

import (
	"context"
	"errors"
	"net/url"

	"github.com/rs/zerolog/log"
)

var (
	// ErrOriginMismatch is returned when a message is posted to an origin
	// other than the receiver's own. Wildcard origins are always rejected.
	ErrOriginMismatch = errors.New("oauth: target origin mismatch")
	// ErrOpenerClosed is returned when posting to a closed opener.
	ErrOpenerClosed = errors.New("oauth: opener is closed")
)

// Window is the callback page's view of its host window.
type Window interface {
	// Location is the full callback URL, fragment included.
	Location() *url.URL
	// Opener returns the window that opened this one, or nil when the page
	// was reached by a full-page redirect. Implementations must return an
	// untyped nil in that case.
	Opener() Opener
	Close()
	Navigate(target string)
}

// Opener is a message target in another window.
type Opener interface {
	Closed() bool
	PostMessage(msg WireMessage, targetOrigin string) error
}

// ReadyWindow is implemented by hosts that can tell when navigation has
// settled. The bridge waits on Ready instead of a fixed delay.
type ReadyWindow interface {
	Ready() <-chan struct{}
}

// Relay delivers a parsed callback outcome to the window that initiated the
// login.
type Relay interface {
	Deliver(ctx context.Context, w Window, out Outcome) error
}

// Origin returns scheme://host of u.
func Origin(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// OpenerRelay posts the outcome to the opener window and closes the popup.
type OpenerRelay struct {
	opener Opener
	delays Delays
	sleep  sleepFunc
}

func (r *OpenerRelay) Deliver(ctx context.Context, w Window, out Outcome) error {
	if out.Kind == NoCredential {
		log.Info().Str("provider", string(out.Provider)).Msg("no credential in callback, closing popup")
		err := r.sleep(ctx, r.delays.CancelClose)
		w.Close()
		return err
	}

	origin := Origin(w.Location())
	postErr := r.opener.PostMessage(ToWire(out.Message), origin)
	if postErr != nil {
		log.Warn().Err(postErr).Str("provider", string(out.Provider)).Msg("failed to post message to opener")
	} else {
		log.Info().Str("provider", string(out.Provider)).Str("outcome", out.Kind.String()).Msg("posted handshake to opener")
	}

	// let the message flush before the window goes away
	sleepErr := r.sleep(ctx, r.delays.MessageFlush)
	w.Close()
	if postErr != nil {
		return postErr
	}
	return sleepErr
}

// MailboxRelay stores the outcome in durable storage and navigates back to
// the page that started the login.
type MailboxRelay struct {
	mailbox *Mailbox
}

func (r *MailboxRelay) Deliver(ctx context.Context, w Window, out Outcome) error {
	returnURL, err := r.mailbox.ReturnURL()
	if err != nil {
		log.Warn().Err(err).Msg("could not read return url, using /")
	}

	var deliverErr error
	switch out.Kind {
	case Success:
		deliverErr = r.mailbox.Put(out.Message)
	case Error:
		if e, ok := out.Message.(AuthError); ok {
			deliverErr = r.mailbox.PutError(e)
		}
	}

	if err := r.mailbox.ClearReturnURL(); err != nil {
		log.Warn().Err(err).Msg("failed to clear return url")
	}

	log.Info().
		Str("provider", string(out.Provider)).
		Str("outcome", out.Kind.String()).
		Str("returnURL", returnURL).
		Msg("relayed handshake through mailbox")

	// navigate even when storing failed; the page must never hang
	w.Navigate(returnURL)
	return deliverErr
}

var (
	_ Relay = (*OpenerRelay)(nil)
	_ Relay = (*MailboxRelay)(nil)
)
