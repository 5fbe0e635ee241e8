package oauth

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/raine/walletfront/internal/storage"
	"github.com/stretchr/testify/assert"
)

type fakeWindow struct {
	loc    *url.URL
	opener Opener

	mu        sync.Mutex
	closed    int
	navigated []string
}

func newFakeWindow(t *testing.T, rawURL string, opener Opener) *fakeWindow {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("bad url: %v", err)
	}
	return &fakeWindow{loc: u, opener: opener}
}

func (w *fakeWindow) Location() *url.URL { return w.loc }
func (w *fakeWindow) Opener() Opener     { return w.opener }

func (w *fakeWindow) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed++
}

func (w *fakeWindow) Navigate(target string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.navigated = append(w.navigated, target)
}

// recordingOpener records posted messages
type recordingOpener struct {
	mu      sync.Mutex
	closed  bool
	posts   []WireMessage
	origins []string
}

func (o *recordingOpener) Closed() bool { return o.closed }

func (o *recordingOpener) PostMessage(msg WireMessage, targetOrigin string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.posts = append(o.posts, msg)
	o.origins = append(o.origins, targetOrigin)
	return nil
}

// newTestBridge returns a bridge whose waits are recorded instead of slept
func newTestBridge(kv storage.KV) (*Bridge, *[]time.Duration) {
	var slept []time.Duration
	b := NewBridge(NewMailbox(kv))
	b.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return b, &slept
}

func TestBridge_PopupSuccessPostsOnceAndCloses(t *testing.T) {
	opener := &recordingOpener{}
	w := newFakeWindow(t, "https://shop.example.com/auth/google/callback#access_token=abc123&token_type=Bearer", opener)
	b, slept := newTestBridge(storage.NewMemoryStore())

	out, err := b.Run(context.Background(), Google, w)
	assert.NoError(t, err)
	assert.Equal(t, Success, out.Kind)

	assert.Equal(t, []WireMessage{{Type: "google-auth", Token: "abc123", TokenType: TokenTypeAccess}}, opener.posts)
	assert.Equal(t, []string{"https://shop.example.com"}, opener.origins)
	assert.Equal(t, 1, w.closed)
	assert.Empty(t, w.navigated)
	assert.Equal(t, []time.Duration{NavigationSettleDelay, MessageFlushDelay}, *slept)
}

func TestBridge_PopupIDToken(t *testing.T) {
	opener := &recordingOpener{}
	w := newFakeWindow(t, "https://shop.example.com/cb#id_token=eyJ.x.y", opener)
	b, _ := newTestBridge(storage.NewMemoryStore())

	_, err := b.Run(context.Background(), Google, w)
	assert.NoError(t, err)
	assert.Equal(t, []WireMessage{{Type: "google-auth", Token: "eyJ.x.y", TokenType: TokenTypeID}}, opener.posts)
}

func TestBridge_PopupErrorRelaysErrorMessage(t *testing.T) {
	opener := &recordingOpener{}
	w := newFakeWindow(t, "https://shop.example.com/cb#error=access_denied", opener)
	b, _ := newTestBridge(storage.NewMemoryStore())

	out, err := b.Run(context.Background(), Facebook, w)
	assert.NoError(t, err)
	assert.Equal(t, Error, out.Kind)
	assert.Equal(t, []WireMessage{{Type: "facebook-auth-error", Error: "access_denied"}}, opener.posts)
	assert.Equal(t, 1, w.closed)
}

func TestBridge_PopupNoCredentialClosesWithoutPosting(t *testing.T) {
	opener := &recordingOpener{}
	w := newFakeWindow(t, "https://shop.example.com/cb", opener)
	b, slept := newTestBridge(storage.NewMemoryStore())

	out, err := b.Run(context.Background(), Google, w)
	assert.NoError(t, err)
	assert.Equal(t, NoCredential, out.Kind)
	assert.Empty(t, opener.posts)
	assert.Equal(t, 1, w.closed)
	assert.Equal(t, []time.Duration{NavigationSettleDelay, CancelCloseDelay}, *slept)
}

func TestBridge_RedirectErrorNavigatesToStoredReturnURL(t *testing.T) {
	kv := storage.NewMemoryStore()
	kv.Set(ReturnURLKey, "/zh-CN/wallet")
	w := newFakeWindow(t, "https://shop.example.com/cb#error=access_denied", nil)
	b, _ := newTestBridge(kv)

	out, err := b.Run(context.Background(), Google, w)
	assert.NoError(t, err)
	assert.Equal(t, Error, out.Kind)

	assert.Equal(t, []string{"/zh-CN/wallet"}, w.navigated)
	assert.Equal(t, 0, w.closed)
	_, ok, _ := kv.Get(ReturnURLKey)
	assert.False(t, ok)
	code, _, _ := kv.Get(ErrorKey(Google))
	assert.Equal(t, "access_denied", code)
}

func TestBridge_RedirectErrorDefaultsToRoot(t *testing.T) {
	w := newFakeWindow(t, "https://shop.example.com/cb#error=access_denied", nil)
	b, _ := newTestBridge(storage.NewMemoryStore())

	_, err := b.Run(context.Background(), Google, w)
	assert.NoError(t, err)
	assert.Equal(t, []string{"/"}, w.navigated)
}

func TestBridge_RedirectSuccessFillsMailbox(t *testing.T) {
	kv := storage.NewMemoryStore()
	kv.Set(ReturnURLKey, "/orders")
	w := newFakeWindow(t, "https://shop.example.com/cb#access_token=tok", nil)
	b, _ := newTestBridge(kv)

	_, err := b.Run(context.Background(), Google, w)
	assert.NoError(t, err)

	assert.Equal(t, []string{"/orders"}, w.navigated)
	pending, err := b.mailbox.Pending(Google)
	assert.NoError(t, err)
	assert.True(t, pending)
	raw, ok, _ := kv.Get("google_auth_token")
	assert.True(t, ok)
	assert.JSONEq(t, `{"type":"google-auth","token":"tok","tokenType":"access_token"}`, raw)
	_, ok, _ = kv.Get(ReturnURLKey)
	assert.False(t, ok)
}

func TestBridge_RedirectNoCredentialNavigatesBack(t *testing.T) {
	kv := storage.NewMemoryStore()
	kv.Set(ReturnURLKey, "/lottery")
	w := newFakeWindow(t, "https://shop.example.com/cb?state=x", nil)
	b, _ := newTestBridge(kv)

	out, err := b.Run(context.Background(), Facebook, w)
	assert.NoError(t, err)
	assert.Equal(t, NoCredential, out.Kind)
	assert.Equal(t, []string{"/lottery"}, w.navigated)
	pending, _ := b.mailbox.Pending(Facebook)
	assert.False(t, pending)
}

func TestBridge_ClosedOpenerFallsBackToMailbox(t *testing.T) {
	opener := &recordingOpener{closed: true}
	w := newFakeWindow(t, "https://shop.example.com/cb?id=7&first_name=Ann&auth_date=1700000000&hash=deadbeef", opener)
	b, _ := newTestBridge(storage.NewMemoryStore())

	out, err := b.Run(context.Background(), Telegram, w)
	assert.NoError(t, err)
	assert.Equal(t, Success, out.Kind)
	assert.Empty(t, opener.posts)
	assert.Equal(t, []string{"/"}, w.navigated)

	pending, _ := b.mailbox.Pending(Telegram)
	assert.True(t, pending)
}

type readyWindow struct {
	*fakeWindow
	ready chan struct{}
}

func (w readyWindow) Ready() <-chan struct{} { return w.ready }

func TestBridge_ReadyWindowSkipsSettleDelay(t *testing.T) {
	opener := &recordingOpener{}
	ready := make(chan struct{})
	close(ready)
	w := readyWindow{newFakeWindow(t, "https://a.example/cb#access_token=x", opener), ready}
	b, slept := newTestBridge(storage.NewMemoryStore())

	_, err := b.Run(context.Background(), Google, w)
	assert.NoError(t, err)
	assert.Equal(t, []time.Duration{MessageFlushDelay}, *slept)
}

func TestBridge_WithChannelOpener(t *testing.T) {
	op := NewChannelOpener("http://127.0.0.1:8787")
	w := newFakeWindow(t, "http://127.0.0.1:8787/callback/google/relay#access_token=abc123", op)
	b := NewBridge(NewMailbox(storage.NewMemoryStore()), WithDelays(Delays{}))

	_, err := b.Run(context.Background(), Google, w)
	assert.NoError(t, err)

	select {
	case msg := <-op.Messages():
		assert.Equal(t, "google-auth", msg.Type)
		assert.Equal(t, "abc123", msg.Token)
	default:
		t.Fatal("no message delivered")
	}
}

func TestChannelOpener_RejectsOtherOrigins(t *testing.T) {
	op := NewChannelOpener("https://shop.example.com")

	assert.ErrorIs(t, op.PostMessage(WireMessage{Type: TypeGoogleAuth}, "*"), ErrOriginMismatch)
	assert.ErrorIs(t, op.PostMessage(WireMessage{Type: TypeGoogleAuth}, "https://evil.example.com"), ErrOriginMismatch)
	assert.NoError(t, op.PostMessage(WireMessage{Type: TypeGoogleAuth}, "https://shop.example.com"))
	assert.Error(t, op.PostMessage(WireMessage{Type: TypeGoogleAuth}, "https://shop.example.com"))

	op.Close()
	assert.True(t, op.Closed())
	<-op.Messages()
	assert.ErrorIs(t, op.PostMessage(WireMessage{Type: TypeGoogleAuth}, "https://shop.example.com"), ErrOpenerClosed)
}
