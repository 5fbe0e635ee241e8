package oauth

import (
	"errors"
	"sync"
)

// ChannelOpener is an in-process opener window. The initiating side reads
// from Messages; the callback side posts through the Opener interface.
// Messages are only accepted for the opener's own origin.
type ChannelOpener struct {
	origin string
	ch     chan WireMessage

	mu     sync.Mutex
	closed bool
}

// NewChannelOpener creates an opener for origin (scheme://host).
func NewChannelOpener(origin string) *ChannelOpener {
	return &ChannelOpener{
		origin: origin,
		ch:     make(chan WireMessage, 1),
	}
}

func (o *ChannelOpener) Origin() string {
	return o.origin
}

// PostMessage delivers msg if targetOrigin is exactly the opener's origin.
func (o *ChannelOpener) PostMessage(msg WireMessage, targetOrigin string) error {
	if targetOrigin == "*" || targetOrigin != o.origin {
		return ErrOriginMismatch
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrOpenerClosed
	}
	select {
	case o.ch <- msg:
		return nil
	default:
		return errors.New("oauth: opener already has an unread message")
	}
}

// Messages yields posted messages.
func (o *ChannelOpener) Messages() <-chan WireMessage {
	return o.ch
}

func (o *ChannelOpener) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Close stops accepting messages.
func (o *ChannelOpener) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
}

var _ Opener = (*ChannelOpener)(nil)
