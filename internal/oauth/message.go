package oauth

import (
	"errors"
	"fmt"
	"strconv"
)

// Provider is a third-party identity provider.
type Provider string

const (
	Google   Provider = "google"
	Facebook Provider = "facebook"
	Telegram Provider = "telegram"
)

// Providers lists every supported provider.
var Providers = []Provider{Google, Facebook, Telegram}

// ParseProvider validates a provider name.
func ParseProvider(s string) (Provider, error) {
	for _, p := range Providers {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// Message is the handshake relayed from a callback page to the window that
// started the login. It is one of GoogleAuth, FacebookAuth, TelegramAuth or
// AuthError.
type Message interface {
	Provider() Provider
	isMessage()
}

// GoogleAuth carries exactly one of an access token, an ID token or an
// authorization code.
type GoogleAuth struct {
	AccessToken string
	IDToken     string
	Code        string
}

// FacebookAuth carries exactly one of an access token, an ID token or an
// authorization code.
type FacebookAuth struct {
	AccessToken string
	IDToken     string
	Code        string
}

// TelegramAuth carries the signed claim set from the Telegram login widget
// (id, first_name, username, photo_url, auth_date, hash, ...).
type TelegramAuth struct {
	Claims map[string]string
}

// AuthError is an explicit error reported by the provider, e.g.
// "access_denied". It is relayed as-is and never retried.
type AuthError struct {
	From        Provider
	Code        string
	Description string
}

func (GoogleAuth) Provider() Provider   { return Google }
func (FacebookAuth) Provider() Provider { return Facebook }
func (TelegramAuth) Provider() Provider { return Telegram }
func (e AuthError) Provider() Provider  { return e.From }

func (GoogleAuth) isMessage()   {}
func (FacebookAuth) isMessage() {}
func (TelegramAuth) isMessage() {}
func (AuthError) isMessage()    {}

func (e AuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s login failed: %s (%s)", e.From, e.Code, e.Description)
	}
	return fmt.Sprintf("%s login failed: %s", e.From, e.Code)
}

// TelegramUser is the typed view of the Telegram claim set.
type TelegramUser struct {
	ID        int64
	FirstName string
	LastName  string
	Username  string
	PhotoURL  string
	AuthDate  int64
	Hash      string
}

// User decodes the claim set. id, auth_date and hash are required.
func (t TelegramAuth) User() (TelegramUser, error) {
	u := TelegramUser{
		FirstName: t.Claims["first_name"],
		LastName:  t.Claims["last_name"],
		Username:  t.Claims["username"],
		PhotoURL:  t.Claims["photo_url"],
		Hash:      t.Claims["hash"],
	}
	if u.Hash == "" {
		return u, errors.New("telegram claims: missing hash")
	}
	var err error
	if u.ID, err = strconv.ParseInt(t.Claims["id"], 10, 64); err != nil {
		return u, fmt.Errorf("telegram claims: bad id: %w", err)
	}
	if u.AuthDate, err = strconv.ParseInt(t.Claims["auth_date"], 10, 64); err != nil {
		return u, fmt.Errorf("telegram claims: bad auth_date: %w", err)
	}
	return u, nil
}

// Wire message types, as posted between windows.
const (
	TypeGoogleAuth        = "google-auth"
	TypeGoogleAuthError   = "google-auth-error"
	TypeFacebookAuth      = "facebook-auth"
	TypeFacebookAuthError = "facebook-auth-error"
	TypeTelegramAuth      = "telegram-auth"
)

// Token kinds carried in WireMessage.TokenType.
const (
	TokenTypeAccess = "access_token"
	TokenTypeID     = "id_token"
)

// WireMessage is the serialized handshake. Telegram errors use the
// telegram-auth type with Error set.
type WireMessage struct {
	Type      string            `json:"type"`
	Token     string            `json:"token,omitempty"`
	TokenType string            `json:"tokenType,omitempty"`
	Code      string            `json:"code,omitempty"`
	Error     string            `json:"error,omitempty"`
	Claims    map[string]string `json:"claims,omitempty"`
}

// ToWire encodes a message.
func ToWire(msg Message) WireMessage {
	switch m := msg.(type) {
	case GoogleAuth:
		w := WireMessage{Type: TypeGoogleAuth, Code: m.Code}
		switch {
		case m.AccessToken != "":
			w.Token, w.TokenType = m.AccessToken, TokenTypeAccess
		case m.IDToken != "":
			w.Token, w.TokenType = m.IDToken, TokenTypeID
		}
		return w
	case FacebookAuth:
		w := WireMessage{Type: TypeFacebookAuth, Code: m.Code}
		switch {
		case m.AccessToken != "":
			w.Token, w.TokenType = m.AccessToken, TokenTypeAccess
		case m.IDToken != "":
			w.Token, w.TokenType = m.IDToken, TokenTypeID
		}
		return w
	case TelegramAuth:
		return WireMessage{Type: TypeTelegramAuth, Claims: m.Claims}
	case AuthError:
		w := WireMessage{Error: m.Code}
		switch m.From {
		case Google:
			w.Type = TypeGoogleAuthError
		case Facebook:
			w.Type = TypeFacebookAuthError
		default:
			w.Type = TypeTelegramAuth
		}
		return w
	}
	return WireMessage{}
}

// FromWire decodes a message received from another window.
func FromWire(w WireMessage) (Message, error) {
	switch w.Type {
	case TypeGoogleAuth:
		if w.Error != "" {
			return AuthError{From: Google, Code: w.Error}, nil
		}
		m := GoogleAuth{Code: w.Code}
		if w.TokenType == TokenTypeID {
			m.IDToken = w.Token
		} else {
			m.AccessToken = w.Token
		}
		return m, nil
	case TypeGoogleAuthError:
		return AuthError{From: Google, Code: w.Error}, nil
	case TypeFacebookAuth:
		if w.Error != "" {
			return AuthError{From: Facebook, Code: w.Error}, nil
		}
		m := FacebookAuth{Code: w.Code}
		if w.TokenType == TokenTypeID {
			m.IDToken = w.Token
		} else {
			m.AccessToken = w.Token
		}
		return m, nil
	case TypeFacebookAuthError:
		return AuthError{From: Facebook, Code: w.Error}, nil
	case TypeTelegramAuth:
		if w.Error != "" {
			return AuthError{From: Telegram, Code: w.Error}, nil
		}
		return TelegramAuth{Claims: w.Claims}, nil
	}
	return nil, fmt.Errorf("unknown message type %q", w.Type)
}
