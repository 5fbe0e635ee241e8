package oauth

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthorizeURL_Google(t *testing.T) {
	raw, err := AuthorizeURL(Google, ProviderConfig{ClientID: "cid"}, "http://127.0.0.1:8787/callback/google", "st")
	assert.NoError(t, err)

	u, err := url.Parse(raw)
	assert.NoError(t, err)
	assert.Equal(t, "accounts.google.com", u.Host)
	q := u.Query()
	assert.Equal(t, "cid", q.Get("client_id"))
	assert.Equal(t, "token", q.Get("response_type"))
	assert.Equal(t, "st", q.Get("state"))
	assert.Equal(t, "select_account", q.Get("prompt"))
	assert.Equal(t, "http://127.0.0.1:8787/callback/google", q.Get("redirect_uri"))
	assert.Equal(t, "openid email profile", q.Get("scope"))
}

func TestAuthorizeURL_Facebook(t *testing.T) {
	raw, err := AuthorizeURL(Facebook, ProviderConfig{ClientID: "fb", Scopes: []string{"email"}}, "http://x/cb", "st")
	assert.NoError(t, err)

	u, _ := url.Parse(raw)
	assert.Contains(t, u.Host, "facebook.com")
	assert.Equal(t, "token", u.Query().Get("response_type"))
	assert.Equal(t, "email", u.Query().Get("scope"))
}

func TestAuthorizeURL_Telegram(t *testing.T) {
	raw, err := AuthorizeURL(Telegram, ProviderConfig{BotID: "123", Origin: "http://127.0.0.1:8787"}, "http://127.0.0.1:8787/callback/telegram", "")
	assert.NoError(t, err)

	u, _ := url.Parse(raw)
	assert.Equal(t, "oauth.telegram.org", u.Host)
	assert.Equal(t, "123", u.Query().Get("bot_id"))
	assert.Equal(t, "http://127.0.0.1:8787/callback/telegram", u.Query().Get("return_to"))
}

func TestAuthorizeURL_Unconfigured(t *testing.T) {
	_, err := AuthorizeURL(Google, ProviderConfig{}, "http://x/cb", "st")
	assert.Error(t, err)
	_, err = AuthorizeURL(Telegram, ProviderConfig{}, "http://x/cb", "")
	assert.Error(t, err)
	_, err = AuthorizeURL(Provider("apple"), ProviderConfig{ClientID: "x"}, "http://x/cb", "")
	assert.Error(t, err)
}

func TestNewState(t *testing.T) {
	a, err := NewState()
	assert.NoError(t, err)
	b, _ := NewState()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
