package oauth

import (
	"context"
	"fmt"

	"github.com/raine/walletfront/internal/session"
	"github.com/rs/zerolog/log"
)

// Exchanger trades a provider credential for a backend session credential.
type Exchanger interface {
	ExchangeOAuth(ctx context.Context, msg Message) (session.Credential, error)
}

// SessionWriter is the part of the session store the initiator needs.
type SessionWriter interface {
	SetAuth(patch session.AuthPatch) error
	RefreshUserInfo(ctx context.Context)
}

// Initiator is the side of the handshake that started the login.
type Initiator struct {
	exchanger Exchanger
	session   SessionWriter
	mailbox   *Mailbox
}

func NewInitiator(exchanger Exchanger, sess SessionWriter, mailbox *Mailbox) *Initiator {
	return &Initiator{
		exchanger: exchanger,
		session:   sess,
		mailbox:   mailbox,
	}
}

// Begin records where to return to before leaving for the provider.
func (i *Initiator) Begin(returnURL string) error {
	if returnURL == "" {
		returnURL = "/"
	}
	return i.mailbox.SaveReturnURL(returnURL)
}

// Await waits for one message from a popup. It returns when a message
// arrives or ctx is done; the opener is closed either way so a late popup
// cannot deliver twice. Timeout policy belongs to the caller's ctx.
func (i *Initiator) Await(ctx context.Context, op *ChannelOpener) (Message, error) {
	defer op.Close()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case w := <-op.Messages():
		return FromWire(w)
	}
}

// ResumePending completes a login relayed through the mailbox, if any.
// Returns ErrNoPending when nothing is waiting.
func (i *Initiator) ResumePending(ctx context.Context, p Provider) (session.Credential, error) {
	if code, err := i.mailbox.TakeError(p); err == nil && code != "" {
		return session.Credential{}, AuthError{From: p, Code: code}
	}

	msg, err := i.mailbox.Take(p)
	if err != nil {
		return session.Credential{}, err
	}
	return i.Complete(ctx, msg)
}

// Complete exchanges the handshake for a session and stores it.
// Provider errors are returned as AuthError and never retried.
func (i *Initiator) Complete(ctx context.Context, msg Message) (session.Credential, error) {
	if e, ok := msg.(AuthError); ok {
		return session.Credential{}, e
	}

	cred, err := i.exchanger.ExchangeOAuth(ctx, msg)
	if err != nil {
		return session.Credential{}, fmt.Errorf("%s credential exchange failed: %w", msg.Provider(), err)
	}
	if cred.Token == "" {
		return session.Credential{}, fmt.Errorf("%s credential exchange returned no token", msg.Provider())
	}

	if err := i.session.SetAuth(cred.Patch()); err != nil {
		return session.Credential{}, fmt.Errorf("failed to store session: %w", err)
	}
	log.Info().Str("provider", string(msg.Provider())).Str("userId", cred.UserID).Msg("oauth login complete")

	i.session.RefreshUserInfo(ctx)
	return cred, nil
}
