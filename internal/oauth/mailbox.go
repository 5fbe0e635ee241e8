package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/raine/walletfront/internal/storage"
)

// ReturnURLKey holds the page to come back to after a full-page login.
const ReturnURLKey = "auth_return_url"

// PendingTTL bounds how long a pending flag is honoured. A flag left behind
// by an abandoned redirect must not log the user in much later.
const PendingTTL = 5 * time.Minute

// ErrNoPending is returned by Take when no fresh credential is waiting.
var ErrNoPending = errors.New("oauth: no pending credential")

// TokenKey returns the durable key of a provider's pending credential.
func TokenKey(p Provider) string {
	if p == Telegram {
		return "telegram_auth_data"
	}
	return string(p) + "_auth_token"
}

// PendingKey returns the durable key of a provider's pending flag.
func PendingKey(p Provider) string {
	return string(p) + "_auth_pending"
}

// ErrorKey returns the durable key of a provider's last relayed error.
func ErrorKey(p Provider) string {
	return string(p) + "_auth_error"
}

// Mailbox relays handshake messages through durable storage when there is
// no opener window to post to. Storage is shared by all windows of the
// profile and is last-write-wins.
type Mailbox struct {
	kv  storage.KV
	now func() time.Time
}

func NewMailbox(kv storage.KV) *Mailbox {
	return &Mailbox{kv: kv, now: time.Now}
}

// SetNow overrides the time function (for testing).
func (m *Mailbox) SetNow(fn func() time.Time) {
	m.now = fn
}

// SaveReturnURL records where to come back to. Called by the initiating page
// before it navigates away to the provider.
func (m *Mailbox) SaveReturnURL(u string) error {
	if err := m.kv.Set(ReturnURLKey, u); err != nil {
		return fmt.Errorf("failed to save return url: %w", err)
	}
	return nil
}

// ReturnURL returns the stored return URL, or "/" when none is stored.
func (m *Mailbox) ReturnURL() (string, error) {
	u, ok, err := m.kv.Get(ReturnURLKey)
	if err != nil {
		return "/", fmt.Errorf("failed to read return url: %w", err)
	}
	if !ok || u == "" {
		return "/", nil
	}
	return u, nil
}

// ClearReturnURL removes the stored return URL.
func (m *Mailbox) ClearReturnURL() error {
	return m.kv.Delete(ReturnURLKey)
}

// Put stores a credential and raises the provider's pending flag. The flag
// is written last so a reader never sees it without the credential.
func (m *Mailbox) Put(msg Message) error {
	p := msg.Provider()
	b, err := json.Marshal(ToWire(msg))
	if err != nil {
		return fmt.Errorf("failed to marshal %s credential: %w", p, err)
	}
	if err := m.kv.Set(TokenKey(p), string(b)); err != nil {
		return fmt.Errorf("failed to store %s credential: %w", p, err)
	}
	if err := m.kv.Set(PendingKey(p), m.now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to set %s pending flag: %w", p, err)
	}
	return nil
}

// PutError records the provider's error code for the destination page.
func (m *Mailbox) PutError(e AuthError) error {
	if err := m.kv.Set(ErrorKey(e.From), e.Code); err != nil {
		return fmt.Errorf("failed to store %s error: %w", e.From, err)
	}
	return nil
}

// TakeError returns and removes the provider's recorded error, if any.
func (m *Mailbox) TakeError(p Provider) (string, error) {
	code, ok, err := m.kv.Get(ErrorKey(p))
	if err != nil || !ok {
		return "", err
	}
	return code, m.kv.Delete(ErrorKey(p))
}

// Pending reports whether a fresh credential is waiting for p.
func (m *Mailbox) Pending(p Provider) (bool, error) {
	raw, ok, err := m.kv.Get(PendingKey(p))
	if err != nil || !ok {
		return false, err
	}
	return m.fresh(raw), nil
}

// Take consumes the pending credential of p. The credential, flag and any
// recorded error are removed whether or not the flag was still fresh, so a
// credential is consumed at most once.
func (m *Mailbox) Take(p Provider) (Message, error) {
	flag, flagOK, err := m.kv.Get(PendingKey(p))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s pending flag: %w", p, err)
	}
	raw, rawOK, err := m.kv.Get(TokenKey(p))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s credential: %w", p, err)
	}
	if err := m.kv.Delete(PendingKey(p), TokenKey(p)); err != nil {
		return nil, fmt.Errorf("failed to clear %s mailbox: %w", p, err)
	}

	if !flagOK || !rawOK || !m.fresh(flag) {
		return nil, ErrNoPending
	}

	var w WireMessage
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, fmt.Errorf("failed to decode %s credential: %w", p, err)
	}
	return FromWire(w)
}

func (m *Mailbox) fresh(flag string) bool {
	at, err := time.Parse(time.RFC3339, flag)
	if err != nil {
		return false
	}
	return m.now().Sub(at) <= PendingTTL
}
