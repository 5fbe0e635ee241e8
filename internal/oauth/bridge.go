// Package oauth implements the third-party login bridge: parsing provider
// callbacks, relaying the resulting handshake to the initiating window
// (by message or through a durable mailbox) and completing the login there.
package oauth

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// NavigationSettleDelay lets the browser finish navigating before the
	// callback URL is read.
	NavigationSettleDelay = 100 * time.Millisecond
	// MessageFlushDelay lets a posted message reach the opener before the
	// popup closes.
	MessageFlushDelay = 300 * time.Millisecond
	// CancelCloseDelay is how long a popup with nothing to relay stays open.
	CancelCloseDelay = 1 * time.Second
)

// Delays groups the bridge's fixed waits.
type Delays struct {
	NavigationSettle time.Duration
	MessageFlush     time.Duration
	CancelClose      time.Duration
}

// DefaultDelays returns the production delays.
func DefaultDelays() Delays {
	return Delays{
		NavigationSettle: NavigationSettleDelay,
		MessageFlush:     MessageFlushDelay,
		CancelClose:      CancelCloseDelay,
	}
}

type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Bridge runs on the callback route of each provider.
type Bridge struct {
	mailbox *Mailbox
	delays  Delays
	sleep   sleepFunc
}

type BridgeOption func(*Bridge)

// WithDelays overrides the fixed waits.
func WithDelays(d Delays) BridgeOption {
	return func(b *Bridge) { b.delays = d }
}

func NewBridge(mailbox *Mailbox, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		mailbox: mailbox,
		delays:  DefaultDelays(),
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run parses the callback in w and relays the outcome: to the opener when
// one is present and open, otherwise through the mailbox.
func (b *Bridge) Run(ctx context.Context, p Provider, w Window) (Outcome, error) {
	if err := b.settle(ctx, w); err != nil {
		return Outcome{Provider: p}, err
	}

	out := ParseCallback(p, w.Location())
	log.Debug().Str("provider", string(p)).Str("outcome", out.Kind.String()).Msg("parsed oauth callback")

	return out, b.relayFor(w).Deliver(ctx, w, out)
}

func (b *Bridge) settle(ctx context.Context, w Window) error {
	if rw, ok := w.(ReadyWindow); ok {
		select {
		case <-rw.Ready():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return b.sleep(ctx, b.delays.NavigationSettle)
}

func (b *Bridge) relayFor(w Window) Relay {
	if op := w.Opener(); op != nil && !op.Closed() {
		return &OpenerRelay{opener: op, delays: b.delays, sleep: b.sleep}
	}
	return &MailboxRelay{mailbox: b.mailbox}
}
