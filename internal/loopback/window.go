package loopback

import (
	"net/url"
	"sync"

	"github.com/raine/walletfront/internal/oauth"
)

// requestWindow is the callback page as seen by the bridge while one
// callback request is being served. The HTTP response is decided by what
// the bridge did with it: closed, navigated or neither.
type requestWindow struct {
	loc    *url.URL
	opener *oauth.ChannelOpener
	ready  chan struct{}

	mu        sync.Mutex
	closed    bool
	navigated string
}

func newRequestWindow(loc *url.URL, opener *oauth.ChannelOpener) *requestWindow {
	ready := make(chan struct{})
	// the request is fully received, there is no navigation left to settle
	close(ready)
	return &requestWindow{loc: loc, opener: opener, ready: ready}
}

func (w *requestWindow) Location() *url.URL { return w.loc }

func (w *requestWindow) Opener() oauth.Opener {
	if w.opener == nil {
		return nil
	}
	return w.opener
}

func (w *requestWindow) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
}

func (w *requestWindow) Navigate(target string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.navigated = target
}

func (w *requestWindow) Ready() <-chan struct{} { return w.ready }

func (w *requestWindow) result() (closed bool, navigated string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed, w.navigated
}

var (
	_ oauth.Window      = (*requestWindow)(nil)
	_ oauth.ReadyWindow = (*requestWindow)(nil)
)
