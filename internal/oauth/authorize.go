package oauth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// TelegramAuthURL is the Telegram login widget endpoint.
const TelegramAuthURL = "https://oauth.telegram.org/auth"

// ProviderConfig identifies this application to a provider.
type ProviderConfig struct {
	ClientID string // google, facebook
	BotID    string // telegram
	Origin   string // telegram: origin the widget reports to
	Scopes   []string
}

// NewState returns a random opaque OAuth state value.
func NewState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// AuthorizeURL builds the URL that starts a login with p. Google and
// Facebook use the implicit flow so the token comes back in the fragment;
// Telegram redirects back with its claim set in the query.
func AuthorizeURL(p Provider, cfg ProviderConfig, redirectURI, state string) (string, error) {
	switch p {
	case Google, Facebook:
		if cfg.ClientID == "" {
			return "", fmt.Errorf("%s client id is not configured", p)
		}
		oc := oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: redirectURI,
			Scopes:      cfg.Scopes,
		}
		opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("response_type", "token")}
		if p == Google {
			oc.Endpoint = endpoints.Google
			if len(oc.Scopes) == 0 {
				oc.Scopes = []string{"openid", "email", "profile"}
			}
			opts = append(opts, oauth2.SetAuthURLParam("prompt", "select_account"))
		} else {
			oc.Endpoint = endpoints.Facebook
			if len(oc.Scopes) == 0 {
				oc.Scopes = []string{"email", "public_profile"}
			}
		}
		return oc.AuthCodeURL(state, opts...), nil

	case Telegram:
		if cfg.BotID == "" {
			return "", errors.New("telegram bot id is not configured")
		}
		q := url.Values{}
		q.Set("bot_id", cfg.BotID)
		q.Set("origin", cfg.Origin)
		q.Set("request_access", "write")
		q.Set("return_to", redirectURI)
		return TelegramAuthURL + "?" + q.Encode(), nil
	}
	return "", fmt.Errorf("unknown provider %q", p)
}
